package httpx

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform response shape: success flag, data or error,
// and the internal transaction id whenever one exists so callers can
// always re-poll regardless of how the call went.
type Envelope struct {
	Success       bool   `json:"success"`
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
	Code          string `json:"code,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteData(w http.ResponseWriter, status int, data any, transactionID string) {
	WriteJSON(w, status, Envelope{Success: true, Data: data, TransactionID: transactionID})
}

func WriteError(w http.ResponseWriter, status int, code, msg string, transactionID any) {
	env := Envelope{Success: false, Error: msg, Code: code}
	if id, ok := transactionID.(string); ok {
		env.TransactionID = id
	}
	WriteJSON(w, status, env)
}
