package api

import (
	"encoding/json"
	"net/http"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes, one per status the API returns.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeUnavailable = "unavailable"
)

var errorCodes = map[int]string{
	http.StatusBadRequest:          ErrCodeBadRequest,
	http.StatusNotFound:            ErrCodeNotFound,
	http.StatusInternalServerError: ErrCodeInternal,
	http.StatusServiceUnavailable:  ErrCodeUnavailable,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
}

// writeError writes an Error for status, tagged with the request id.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	code, ok := errorCodes[status]
	if !ok {
		code = ErrCodeInternal
	}
	writeJSON(w, status, Error{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: requestID(r),
	})
}
