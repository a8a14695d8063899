package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/middleware"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/validator"
)

// PaperSource returns the student-facing projection of an assignment.
type PaperSource interface {
	AssignmentLoader
	Paper(ctx context.Context, id uuid.UUID) (*model.AssignmentPaper, error)
}

// SessionStateService answers portal questions about an attempt outside
// the live socket.
type SessionStateService interface {
	State(ctx context.Context, sess model.ExamSession) (*model.SessionState, error)
	SaveDraft(ctx context.Context, sess model.ExamSession, attempt model.Attempt) (time.Time, error)
}

// StudentPortalHandler handles student-facing HTTP endpoints around an attempt.
type StudentPortalHandler struct {
	assignments PaperSource
	sessions    SessionStateService
	log         zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(assignments PaperSource, sessions SessionStateService, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		assignments: assignments,
		sessions:    sessions,
		log:         log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// GetPaper godoc
// GET /api/v1/student/assignments/:assignment_id/paper
// Returns the questions without correct answers.
func (h *StudentPortalHandler) GetPaper(c *gin.Context) {
	assignmentID, ok := parseAssignmentID(c)
	if !ok {
		return
	}

	paper, err := h.assignments.Paper(c.Request.Context(), assignmentID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// GetState godoc
// GET /api/v1/student/assignments/:assignment_id/state
// Returns the resumable state: remaining time, draft (practice only) and
// submission status.
func (h *StudentPortalHandler) GetState(c *gin.Context) {
	sess, ok := h.loadSession(c)
	if !ok {
		return
	}

	state, err := h.sessions.State(c.Request.Context(), sess)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// SaveDraft godoc
// PUT /api/v1/student/assignments/:assignment_id/draft
// Manual save outside the live session. Rejected in exam mode.
func (h *StudentPortalHandler) SaveDraft(c *gin.Context) {
	sess, ok := h.loadSession(c)
	if !ok {
		return
	}

	var req model.SaveDraftRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	savedAt, err := h.sessions.SaveDraft(c.Request.Context(), sess, req.Attempt())
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved_at": savedAt.UTC()})
}

func (h *StudentPortalHandler) loadSession(c *gin.Context) (model.ExamSession, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return model.ExamSession{}, false
	}

	assignmentID, ok := parseAssignmentID(c)
	if !ok {
		return model.ExamSession{}, false
	}

	sess, err := h.assignments.Load(c.Request.Context(), assignmentID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return model.ExamSession{}, false
	}
	return sess, true
}

func (h *StudentPortalHandler) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Portal request failed")
	}
	response.Fail(c, status, code)
}

func parseAssignmentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("assignment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
