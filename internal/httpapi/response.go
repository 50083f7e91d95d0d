package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/omr-eval/pipeline/internal/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string, extra interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"code":    code,
		"message": message,
		"details": extra,
	})
}

// writeErr renders err (typically from an apperrors-kinded failure or a
// StageOutcome.ToError()) at its mapped HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	status := apperrors.KindOf(err).HTTPStatus()
	writeJSON(w, status, apperrors.ToDetails(err, nil))
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.KindValidation, err, "httpapi: malformed request body")
	}
	return nil
}
