package response

import (
	"encoding/json"
	"net/http"
)

type APIResponse struct {
	Status    string      `json:"status"`
	Message   string      `json:"message,omitempty"`
	Retriable *bool       `json:"retriable,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Status: "success",
		Data:   data,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func Error(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Status:  "error",
		Message: msg,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// ErrorRetriable is Error with an explicit retry hint for clients.
func ErrorRetriable(w http.ResponseWriter, status int, msg string, retriable bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := APIResponse{
		Status:    "error",
		Message:   msg,
		Retriable: &retriable,
	}
	_ = json.NewEncoder(w).Encode(resp)
}
