package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
)

const statusInterval = 7 * time.Second

// SystemHandler streams Go runtime stats and worker queue depths via SSE.
type SystemHandler struct {
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type systemStatus struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`

	// Worker queues. -1 when Redis could not be read.
	QueueViolations  int64 `json:"queue_violations"`
	QueueRetries     int64 `json:"queue_retries"`
	QueueDeadLetters int64 `json:"queue_dead_letters"`
}

// SystemStatusSSE godoc
// GET /api/v1/instructor/system/status
func (h *SystemHandler) SystemStatusSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Instructor connected to system status SSE")

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	h.writeStatus(c, reqCtx)

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Instructor disconnected from system status SSE")
			return
		case <-ticker.C:
			h.writeStatus(c, reqCtx)
		}
	}
}

func (h *SystemHandler) writeStatus(c *gin.Context, ctx context.Context) {
	data, err := json.Marshal(h.collect(ctx))
	if err != nil {
		return
	}
	writeSSEData(c, data)
}

func (h *SystemHandler) collect(ctx context.Context) systemStatus {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := systemStatus{
		Timestamp:        time.Now().Unix(),
		Uptime:           formatDuration(time.Since(h.startTime)),
		Goroutines:       runtime.NumGoroutine(),
		HeapAlloc:        ms.HeapAlloc,
		HeapSys:          ms.Sys,
		NumGC:            ms.NumGC,
		GoVersion:        runtime.Version(),
		NumCPU:           runtime.NumCPU(),
		QueueViolations:  -1,
		QueueRetries:     -1,
		QueueDeadLetters: -1,
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	pipe := h.rdb.Pipeline()
	violationsCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	retriesCmd := pipe.LLen(ctx, config.WorkerKey.RetrySubmissionsQueue)
	deadCmd := pipe.LLen(ctx, config.WorkerKey.DeadSubmissionsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read queue depths")
		return s
	}
	s.QueueViolations = violationsCmd.Val()
	s.QueueRetries = retriesCmd.Val()
	s.QueueDeadLetters = deadCmd.Val()
	return s
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
