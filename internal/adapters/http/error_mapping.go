package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrSessionNotFound),
		domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrResultNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrResultNotReady):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrNotAccepting),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "INVALID_INPUT"
	case domain.IsKind(err, domain.ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return "DOCUMENT_NOT_FOUND"
	case domain.IsKind(err, domain.ErrResultNotFound):
		return "RESULT_NOT_FOUND"
	case domain.IsKind(err, domain.ErrResultNotReady):
		return "RESULT_NOT_READY"
	case errors.Is(err, domain.ErrNotAccepting):
		return "QUEUE_UNAVAILABLE"
	case domain.IsKind(err, domain.ErrTemporary):
		return "TEMPORARY_FAILURE"
	default:
		return "INTERNAL_ERROR"
	}
}
