package middleware

import (
	"encoding/json"
	"net/http"
)

type errorEnvelope struct {
	Success bool          `json:"success"`
	Error   *errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes the standard {success:false, error:{code, message}}
// envelope. Shared by Auth, RoleGate, and Validate so every pipeline-stage
// rejection looks identical to a handler-level one.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Success: false, Error: &errorPayload{Code: code, Message: message}})
}
