package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ViolationWriter is the audit-trail sink.
type ViolationWriter interface {
	CopyMany(ctx context.Context, reports []model.ViolationReport) error
	Insert(ctx context.Context, report model.ViolationReport) error
}

// ViolationWorker drains persist_violations_queue into exam_violations in
// batches.
type ViolationWorker struct {
	repo ViolationWriter
	rdb  *redis.Client
	log  zerolog.Logger

	requeueBackoff time.Duration
}

func NewViolationWorker(repo ViolationWriter, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		repo:           repo,
		rdb:            rdb,
		log:            log.With().Str("component", "violation_worker").Logger(),
		requeueBackoff: 2 * time.Second,
	}
}

// Start runs until ctx is cancelled, then flushes what it buffered.
func (w *ViolationWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]model.ViolationReport, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return nil
		default:
		}

		// BLPop blocks for PollTimeout and returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // Queue empty, loop back to check the flush timer
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var report model.ViolationReport
		if err := json.Unmarshal([]byte(result[1]), &report); err != nil {
			// Malformed JSON can never succeed. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed violation")
			continue
		}

		buffer = append(buffer, report)
	}
}

// flushSafe tries a bulk COPY, then row-by-row, then requeues.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []model.ViolationReport) {
	if err := w.repo.CopyMany(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Violations persisted")
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []model.ViolationReport) {
	var requeueList []model.ViolationReport

	for _, v := range batch {
		if _, err := uuid.Parse(v.AssignmentID); err != nil {
			w.log.Error().Str("assignment_id", v.AssignmentID).Msg("Dropping violation with invalid UUID")
			continue
		}
		if err := w.repo.Insert(ctx, v); err != nil {
			w.log.Error().Err(err).Int("user_id", v.UserID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, v)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []model.ViolationReport) {
	pipe := w.rdb.Pipeline()
	for _, v := range items {
		data, _ := json.Marshal(v)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue violations. Audit entries lost.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violations")
	// Avoid thrashing while the database is down.
	sleep(ctx, w.requeueBackoff)
}

func (w *ViolationWorker) shutdown(buffer []model.ViolationReport) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
