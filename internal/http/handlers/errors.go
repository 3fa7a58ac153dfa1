package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/postgate/internal/http/middleware"
	"github.com/tbourn/postgate/internal/services"
)

// Stable, machine-readable error codes. Clients branch on these, not on
// messages.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation"

	ErrCodeAlreadyHandled    = "already_handled"
	ErrCodeQuotaExceeded     = "quota_exceeded"
	ErrCodePublicationFailed = "publication_failed"
	ErrCodeOwnerImmutable    = "owner_immutable"
	ErrCodeCorruptRecord     = "corrupt_record"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
	ErrCodeInProgress        = "idempotency_in_progress"
	ErrCodeAlreadyPublic     = "already_public"
)

// failService maps a service error onto the error envelope.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrStaleOperation):
		fail(c, http.StatusConflict, ErrCodeAlreadyHandled, err.Error())
	case errors.Is(err, services.ErrQuotaExceeded):
		fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, err.Error())
	case errors.Is(err, services.ErrPublishedNotRecorded):
		fail(c, http.StatusInternalServerError, ErrCodeAlreadyPublic, services.ErrPublishedNotRecorded.Error())
	case errors.Is(err, services.ErrSubmissionInProgress):
		fail(c, http.StatusConflict, ErrCodeInProgress, err.Error())
	case errors.Is(err, services.ErrPublicationFailed):
		fail(c, http.StatusBadGateway, ErrCodePublicationFailed, err.Error())
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrOwnerImmutable):
		fail(c, http.StatusConflict, ErrCodeOwnerImmutable, err.Error())
	case errors.Is(err, services.ErrCorruptRecord):
		fail(c, http.StatusInternalServerError, ErrCodeCorruptRecord, err.Error())
	case errors.Is(err, services.ErrInvalidTier),
		errors.Is(err, services.ErrInvalidDuration),
		errors.Is(err, services.ErrEmptyContent),
		errors.Is(err, services.ErrInvalidContentType),
		errors.Is(err, services.ErrInvalidTrust),
		errors.Is(err, services.ErrInvalidChannel):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled service error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
