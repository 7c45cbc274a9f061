package handler

import (
	"net/http"

	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
)

// StatusFromError maps an application error to its HTTP status.
func StatusFromError(err error) int {
	switch {
	case apperrors.IsCode(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case apperrors.IsCode(err, apperrors.ErrBadRequest):
		return http.StatusBadRequest
	case apperrors.IsCode(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case apperrors.IsCode(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case apperrors.IsCode(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case apperrors.IsCode(err, apperrors.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case apperrors.IsCode(err, apperrors.ErrDeliveryFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
