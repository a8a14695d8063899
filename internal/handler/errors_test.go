package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exstem-integrity/internal/autosave"
	"github.com/stemsi/exstem-integrity/internal/draftstore"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
	"github.com/stemsi/exstem-integrity/internal/session"
	"github.com/stemsi/exstem-integrity/internal/submission"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrAssignmentNotFound, http.StatusNotFound, response.ErrNotFound},
		{fmt.Errorf("load: %w", service.ErrNoQuestions), http.StatusUnprocessableEntity, response.ErrNoQuestions},
		{session.ErrUnknownQuestion, http.StatusBadRequest, response.ErrValidation},
		{autosave.ErrExamMode, http.StatusConflict, response.ErrExamMode},
		{autosave.ErrContentTooShort, http.StatusUnprocessableEntity, response.ErrContentTooShort},
		{submission.ErrNothingToSubmit, http.StatusUnprocessableEntity, response.ErrContentTooShort},
		{submission.ErrAlreadySubmitted, http.StatusConflict, response.ErrAlreadySubmitted},
		{autosave.ErrSealed, http.StatusConflict, response.ErrAlreadySubmitted},
		{submission.ErrSubmissionInFlight, http.StatusConflict, response.ErrSubmissionPending},
		{autosave.ErrSuspended, http.StatusConflict, response.ErrSubmissionPending},
		{submission.ErrHandedOff, http.StatusConflict, response.ErrSubmissionPending},
		{fmt.Errorf("save: %w", draftstore.ErrPersistence), http.StatusServiceUnavailable, response.ErrDraftUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}

	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			status, code := statusFor(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}
