package httpx

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes payload; the status is committed before encoding, so
// encode failures cannot change it.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends the uniform {"error": msg} body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
