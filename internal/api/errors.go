package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/worker"
)

// statusFor is the single mapping from errors to HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrPoolClosed):
		return http.StatusServiceUnavailable
	}

	t, ok := domain.TypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch t {
	case domain.ErrorTypeValidation, domain.ErrorTypeParse:
		return http.StatusBadRequest
	case domain.ErrorTypeSizeExceeded:
		return http.StatusRequestEntityTooLarge
	case domain.ErrorTypePageLimitExceeded:
		return http.StatusUnprocessableEntity
	case domain.ErrorTypeNotFound:
		return http.StatusNotFound
	case domain.ErrorTypeConflict:
		return http.StatusConflict
	case domain.ErrorTypeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides internal details of 5xx errors from clients.
func errorMessage(status int, err error) string {
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		return http.StatusText(status)
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}
