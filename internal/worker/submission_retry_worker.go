package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/metrics"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// MaxSubmitAttempts bounds retries before a record moves to the dead queue.
const MaxSubmitAttempts = 5

// Submitter is the submission API the worker retries against.
type Submitter interface {
	Submit(ctx context.Context, rec model.SubmissionRecord) (string, error)
}

// SubmissionRetryWorker consumes retry_submissions_queue: forced submissions
// whose first attempt failed after the exam surface was already left.
type SubmissionRetryWorker struct {
	api Submitter
	rdb *redis.Client
	log zerolog.Logger

	backoff time.Duration
}

// NewSubmissionRetryWorker creates a new SubmissionRetryWorker.
func NewSubmissionRetryWorker(api Submitter, rdb *redis.Client, log zerolog.Logger) *SubmissionRetryWorker {
	return &SubmissionRetryWorker{
		api:     api,
		rdb:     rdb,
		log:     log.With().Str("component", "submission_retry_worker").Logger(),
		backoff: 5 * time.Second,
	}
}

// Start begins the worker loop and returns when ctx is cancelled.
func (w *SubmissionRetryWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return nil
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SubmissionRetryWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.RetrySubmissionsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			sleep(ctx, time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if !w.retry(ctx, result[1]) {
		sleep(ctx, w.backoff)
	}
}

// retry makes one attempt on a queued item and reports whether the queue is
// healthy enough to continue without backing off.
func (w *SubmissionRetryWorker) retry(ctx context.Context, raw string) bool {
	var item model.SubmissionRetry
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed retry item")
		return true
	}

	itemLog := w.log.With().
		Str("assignment_id", item.Record.AssignmentID.String()).
		Int("user_id", item.Record.UserID).
		Int("attempt", item.Attempts+1).
		Logger()

	id, err := w.api.Submit(ctx, item.Record)
	if err == nil {
		metrics.SubmissionsTotal.WithLabelValues(string(item.Record.Status), "retried").Inc()
		itemLog.Info().Str("submission_id", id).Msg("Queued submission stored")
		return true
	}

	item.Attempts++
	item.Cause = err.Error()
	data, _ := json.Marshal(item)

	queue := config.WorkerKey.RetrySubmissionsQueue
	if item.Attempts >= MaxSubmitAttempts {
		queue = config.WorkerKey.DeadSubmissionsQueue
		itemLog.Error().Err(err).Msg("Retries exhausted, moving to dead queue")
	} else {
		itemLog.Warn().Err(err).Msg("Retry failed, requeueing")
	}

	if err := w.rdb.RPush(context.WithoutCancel(ctx), queue, data).Err(); err != nil {
		itemLog.Error().Err(err).Msg("CRITICAL: Failed to requeue submission. Data loss occurred.")
	}
	return false
}

// drain makes one attempt on every queued item before shutdown.
func (w *SubmissionRetryWorker) drain(ctx context.Context) {
	n, err := w.rdb.LLen(ctx, config.WorkerKey.RetrySubmissionsQueue).Result()
	if err != nil || n == 0 {
		return
	}

	drained := 0
	for i := int64(0); i < n; i++ {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.RetrySubmissionsQueue).Result()
		if err != nil {
			break
		}
		if w.retry(ctx, raw) {
			drained++
		}
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
