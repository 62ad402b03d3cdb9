// Package handler provides the HTTP handlers for the work admission API.
package handler

import (
	"encoding/json"
	"net/http"
)

// RespondJSON writes v as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RespondError writes a JSON error body with the given status code.
func RespondError(w http.ResponseWriter, status int, detail string) {
	RespondJSON(w, status, map[string]string{"detail": detail})
}
