package api

import (
	"encoding/json"
	"net/http"
)

// apiError is the body of every non-2xx response the REST surface sends.
type apiError struct {
	Error string `json:"error"`
}

// writeJSON encodes data as the response body. A nil payload or a 204
// writes the status line only.
func writeJSON(w http.ResponseWriter, status int, data any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if data == nil || status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Error: message})
}
