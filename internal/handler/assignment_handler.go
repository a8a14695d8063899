package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/response"
)

// AssignmentCache is the instructor view of the assignment payload cache.
type AssignmentCache interface {
	AssignmentGetter
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// AssignmentHandler handles instructor maintenance of assignments.
type AssignmentHandler struct {
	assignments AssignmentCache
	log         zerolog.Logger
}

func NewAssignmentHandler(assignments AssignmentCache, log zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		assignments: assignments,
		log:         log.With().Str("component", "assignment_handler").Logger(),
	}
}

// RefreshCache godoc
// POST /api/v1/instructor/assignments/:assignment_id/cache/refresh
// Drops the cached payload and reloads it from PostgreSQL. Call after
// editing questions of a published assignment.
func (h *AssignmentHandler) RefreshCache(c *gin.Context) {
	assignmentID, ok := parseAssignmentID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.assignments.Invalidate(ctx, assignmentID); err != nil {
		h.log.Error().Err(err).Str("assignment_id", assignmentID.String()).Msg("Failed to invalidate assignment cache")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	a, err := h.assignments.Get(ctx, assignmentID)
	if err != nil {
		status, code := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Str("assignment_id", assignmentID.String()).Msg("Failed to reload assignment")
		}
		response.Fail(c, status, code)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"assignment_id":   a.ID,
		"total_questions": len(a.Questions),
		"is_exam":         a.IsExam,
	})
}

