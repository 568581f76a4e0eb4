package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/talesofai/nietest-orchestrator/pkg/services"
)

// mapServiceError maps a services-layer error to an HTTP status and an
// error Envelope.
func mapServiceError(err error) (int, *Envelope) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, errEnvelope(http.StatusBadRequest, validErr.Error(), "validation_error")
	}
	if errors.Is(err, services.ErrNotFound) {
		return http.StatusNotFound, errEnvelope(http.StatusNotFound, "resource not found", "not_found")
	}
	if errors.Is(err, services.ErrNotCancellable) {
		return http.StatusConflict, errEnvelope(http.StatusConflict, "task is not cancellable", "conflict")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return http.StatusConflict, errEnvelope(http.StatusConflict, "resource already exists", "conflict")
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return http.StatusBadRequest, errEnvelope(http.StatusBadRequest, err.Error(), "invalid_input")
	}

	slog.Error("unexpected service error", "err", err)
	return http.StatusInternalServerError, errEnvelope(http.StatusInternalServerError, "internal server error", "internal_error")
}

func errEnvelope(code int, message, errType string) *Envelope {
	return &Envelope{Code: code, Message: message, Data: ErrorData{Error: message, Type: errType}}
}

// respondErr writes err as a mapped Envelope response.
func respondErr(c *echo.Context, err error) error {
	status, env := mapServiceError(err)
	return c.JSON(status, env)
}
