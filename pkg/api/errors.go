package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sekai-app/sekai-memobase/pkg/flush"
	"github.com/sekai-app/sekai-memobase/pkg/llm"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

// statusFor maps service-layer errors to an HTTP status and a message
// safe to surface to callers.
func statusFor(err error) (int, string) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, validErr.Error()
	}
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, services.ErrQuotaExceeded):
		return http.StatusForbidden, "token quota exceeded"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "resource not found"
	case errors.Is(err, services.ErrAlreadyExists):
		return http.StatusConflict, "resource already exists"
	case errors.Is(err, services.ErrConflict), errors.Is(err, flush.ErrFlushInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, services.ErrParseFailure):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, services.ErrServiceUnavailable), errors.Is(err, llm.ErrUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	}

	slog.Error("Unexpected service error", "error", err)
	return http.StatusInternalServerError, "internal server error"
}
