// Package httpapi provides the small set of JSON response helpers every
// handler in internal/api shares, trimmed from the teacher's httputil of
// the auth/TLS helpers that belong to a full gateway rather than the job
// submission API described in spec §6.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON envelope returned for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error envelope.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

func BadRequest(w http.ResponseWriter, message string) { WriteError(w, http.StatusBadRequest, message) }
func NotFound(w http.ResponseWriter, message string)   { WriteError(w, http.StatusNotFound, message) }
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// DecodeJSON decodes a JSON request body into v. On failure it writes a 400
// response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "invalid request body")
		return false
	}
	return true
}
