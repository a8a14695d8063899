package handler

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-integrity/internal/autosave"
	"github.com/stemsi/exstem-integrity/internal/draftstore"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
	"github.com/stemsi/exstem-integrity/internal/session"
	"github.com/stemsi/exstem-integrity/internal/submission"
)

// statusFor maps a domain error to its HTTP status and error code. Unknown
// errors are internal.
func statusFor(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, session.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, autosave.ErrExamMode):
		return http.StatusConflict, response.ErrExamMode
	case errors.Is(err, autosave.ErrContentTooShort), errors.Is(err, submission.ErrNothingToSubmit):
		return http.StatusUnprocessableEntity, response.ErrContentTooShort
	case errors.Is(err, submission.ErrAlreadySubmitted), errors.Is(err, autosave.ErrSealed):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, submission.ErrSubmissionInFlight), errors.Is(err, autosave.ErrSuspended),
		errors.Is(err, submission.ErrHandedOff), errors.Is(err, submission.ErrForcePending):
		return http.StatusConflict, response.ErrSubmissionPending
	case errors.Is(err, draftstore.ErrPersistence):
		return http.StatusServiceUnavailable, response.ErrDraftUnavailable
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
