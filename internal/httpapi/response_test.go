package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omr-eval/pipeline/internal/apperrors"
)

func TestWriteJSONEncodesBody(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, 201, map[string]string{"id": "s1"})

	require.Equal(t, 201, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "s1", body["id"])
}

func TestWriteJSONNilBodyWritesNoContent(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, 204, nil)

	require.Equal(t, 204, rr.Code)
	require.Empty(t, rr.Body.Bytes())
}

func TestWriteErrMapsKindToStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	err := apperrors.Newf(apperrors.KindNotFound, "sheet not found")
	writeErr(rr, err)

	require.Equal(t, apperrors.KindNotFound.HTTPStatus(), rr.Code)
}

func TestDecodeBodyRejectsUnknownFields(t *testing.T) {
	type dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest("POST", "/x", bytes.NewBufferString(`{"name":"a","bogus":1}`))

	var d dst
	err := decodeBody(req, &d)
	require.Error(t, err)
	require.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestDecodeBodyAcceptsKnownFields(t *testing.T) {
	type dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest("POST", "/x", bytes.NewBufferString(`{"name":"a"}`))

	var d dst
	require.NoError(t, decodeBody(req, &d))
	require.Equal(t, "a", d.Name)
}
