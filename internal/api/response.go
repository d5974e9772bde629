package api

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

type envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type validationEnvelope struct {
	Message string      `json:"message"`
	Errors  FieldErrors `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("Failed to write response body")
	}
}

func writeMessage(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Message: message, Data: data})
}

func writeValidationError(w http.ResponseWriter, errs FieldErrors) {
	writeJSON(w, http.StatusBadRequest, validationEnvelope{Message: "Error validation", Errors: errs})
}
