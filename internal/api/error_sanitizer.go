package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ignite/learner-crm/internal/automation"
	"github.com/ignite/learner-crm/internal/mailing"
	"github.com/ignite/learner-crm/internal/pkg/logger"
	"github.com/ignite/learner-crm/internal/segmentation"
	"github.com/ignite/learner-crm/internal/service/campaign"
)

// =============================================================================
// ERROR SANITIZER
// Maps service errors onto HTTP status codes. Internal errors (database
// details, connection strings) never reach API consumers; 5xx responses
// carry a generic message and the full error is logged server-side.
// =============================================================================

// statusFor maps a service error to the HTTP status it should produce.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, automation.ErrSequenceNotFound),
		errors.Is(err, mailing.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrInvalidState),
		errors.Is(err, campaign.ErrAlreadySending),
		errors.Is(err, automation.ErrSequenceInactive),
		errors.Is(err, automation.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrInvalidInput),
		errors.Is(err, segmentation.ErrInvalidRule),
		errors.Is(err, automation.ErrInvalidSequence),
		errors.As(err, &verrs):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// respondServiceError writes err with the status statusFor picks.
func respondServiceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	respondError(w, code, safeErrorMessage(code, err))
}

// safeErrorMessage returns a public-safe message for err. 4xx messages
// describe the caller's input and pass through; 5xx messages are generic.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}

	if internalErr == nil {
		return "An internal error occurred"
	}
	logger.Error("request failed", "status", code, "error", internalErr.Error())

	errStr := strings.ToLower(internalErr.Error())
	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"
	case strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"
	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "database"):
		return "A database error occurred"
	}
	return "An internal error occurred"
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
