package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"gitlab.com/encodefarm.net/internal/static/errs"
)

func ResponseWithJson(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func ResponseError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// StatusFor maps service errors onto HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrJobNotFound),
		errors.Is(err, errs.ErrTaskNotFound),
		errors.Is(err, errs.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidJob),
		errors.Is(err, errs.ErrUnknownCodec):
		return http.StatusBadRequest
	case errors.Is(err, errs.InvalidCredentials):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
