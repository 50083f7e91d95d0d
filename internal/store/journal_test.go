package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omr-eval/pipeline/internal/models"
)

func TestDecodePendingPayload(t *testing.T) {
	row := models.PendingLedgerAppend{
		PayloadJSON: `{"sheet_id":"s1","stage":"INGESTED"}`,
	}
	m, err := DecodePendingPayload(row)
	require.NoError(t, err)
	require.Equal(t, "s1", m["sheet_id"])
	require.Equal(t, "INGESTED", m["stage"])
}

func TestDecodePendingPayloadInvalid(t *testing.T) {
	row := models.PendingLedgerAppend{PayloadJSON: `not json`}
	_, err := DecodePendingPayload(row)
	require.Error(t, err)
}
