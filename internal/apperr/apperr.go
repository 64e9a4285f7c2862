// Package apperr holds the error taxonomy shared by the dispatch pipeline.
// Call sites wrap these sentinels with context; callers test with errors.Is.
package apperr

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound means a referenced order, charge or subscription is absent. Not retried.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized means an inbound signature was missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTransientDelivery marks a non-2xx answer or network error on an outbound send.
	ErrTransientDelivery = errors.New("transient delivery failure")
	// ErrNotConfigured means a destination lacks credentials; only that destination is skipped.
	ErrNotConfigured = errors.New("destination not configured")
	// ErrValidation rejects malformed input before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition means the requested order status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// HTTPStatus maps an error chain onto the status code handlers answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTransientDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
