package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/response"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// AssignmentGetter returns an assignment by ID.
type AssignmentGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Assignment, error)
}

// ProgressSource returns the live aggregates of an assignment.
type ProgressSource interface {
	GetProgress(ctx context.Context, assignmentID uuid.UUID) (*model.AssignmentProgress, error)
}

// MonitorHandler streams violations and submissions of one assignment to
// instructors over SSE.
type MonitorHandler struct {
	rdb         *redis.Client
	assignments AssignmentGetter
	progress    ProgressSource
	log         zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, assignments AssignmentGetter, progress ProgressSource, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:         rdb,
		assignments: assignments,
		progress:    progress,
		log:         log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorAssignmentSSE godoc
// GET /api/v1/instructor/assignments/:assignment_id/monitor
func (h *MonitorHandler) MonitorAssignmentSSE(c *gin.Context) {
	assignmentID, ok := parseAssignmentID(c)
	if !ok {
		return
	}

	assignment, err := h.assignments.Get(c.Request.Context(), assignmentID)
	if err != nil {
		status, code := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Str("assignment_id", assignmentID.String()).Msg("Failed to load assignment for monitor")
		}
		response.Fail(c, status, code)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Subscribe before the snapshot so nothing published in between is lost.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.AssignmentMonitorChannel(assignmentID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	h.sendSnapshot(c, reqCtx, assignment)

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Refreshes are skipped until some activity proves anyone is working.
	active := false

	log := h.log.With().Str("assignment_id", assignmentID.String()).Logger()
	log.Info().Msg("Instructor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Instructor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				log.Warn().Msg("Monitor channel closed")
				return
			}
			// Events are already JSON; forward without decoding.
			writeSSEData(c, []byte(msg.Payload))
			active = true

		case <-refreshTicker.C:
			if !active {
				continue
			}
			h.sendRefresh(c, reqCtx, assignmentID)

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

func writeSSEData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

// sendSnapshot writes the first SSE event.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, a *model.Assignment) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.progress.GetProgress(ctx, a.ID)
	if err != nil {
		h.log.Warn().Err(err).Str("assignment_id", a.ID.String()).Msg("Failed to fetch progress for snapshot")
		progress = &model.AssignmentProgress{
			ViolationCounts: map[int]int64{},
			Submissions:     map[int]model.SubmissionStatus{},
		}
	}

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"assignment": gin.H{
				"id":              a.ID.String(),
				"title":           a.Title,
				"is_exam":         a.IsExam,
				"timer_seconds":   a.TimerSeconds,
				"total_questions": len(a.Questions),
			},
			"stats": gin.H{
				"total_submitted":  len(progress.Submissions),
				"total_violations": progress.TotalViolations,
			},
			"students": progressRows(progress),
		},
	})
	c.Writer.Flush()
}

// sendRefresh polls current progress and sends a compact refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, assignmentID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.progress.GetProgress(ctx, assignmentID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch progress for refresh")
		return
	}

	c.SSEvent("message", gin.H{
		"type":             "refresh",
		"total_submitted":  len(progress.Submissions),
		"total_violations": progress.TotalViolations,
		"students":         progressRows(progress),
	})
	c.Writer.Flush()
}

// progressRows merges violation counts and submission statuses into one
// row per user.
func progressRows(p *model.AssignmentProgress) []gin.H {
	rows := make([]gin.H, 0, len(p.ViolationCounts)+len(p.Submissions))
	seen := make(map[int]bool, len(p.Submissions))

	for uid, status := range p.Submissions {
		rows = append(rows, gin.H{
			"user_id":         uid,
			"status":          status,
			"violation_count": p.ViolationCounts[uid],
		})
		seen[uid] = true
	}
	for uid, count := range p.ViolationCounts {
		if seen[uid] {
			continue
		}
		rows = append(rows, gin.H{
			"user_id":         uid,
			"status":          "",
			"violation_count": count,
		})
	}
	return rows
}
