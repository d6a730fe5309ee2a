package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorBody is the JSON error shape shared by the API and admin handlers.
type ErrorBody struct {
	Error  string `json:"error"`
	RunID  string `json:"run_id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// WriteJSONError writes {"error": msg} with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorBody{Error: msg}); err != nil {
		log.Printf("failed to encode json error response: %v", err)
	}
}

// InternalServerError writes a 500 Internal Server Error response.
func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}
