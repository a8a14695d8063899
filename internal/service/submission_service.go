package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// SubmissionRepository is the persistent submission store.
type SubmissionRepository interface {
	Upsert(ctx context.Context, rec model.SubmissionRecord) (uuid.UUID, error)
	GetByAssignmentAndUser(ctx context.Context, assignmentID uuid.UUID, userID int) (*model.Submission, error)
}

// SubmissionService is the submission API used by the exam runtime and the
// retry worker.
type SubmissionService struct {
	repo SubmissionRepository
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(repo SubmissionRepository, rdb *redis.Client, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "submission_service").Logger(),
	}
}

// Submit persists rec and returns the submission ID.
func (s *SubmissionService) Submit(ctx context.Context, rec model.SubmissionRecord) (string, error) {
	id, err := s.repo.Upsert(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("store submission: %w", err)
	}

	grade := rec.Grade
	publishMonitorEvent(ctx, s.rdb, s.log, rec.AssignmentID.String(), model.MonitorEvent{
		Type:       model.MonitorEventSubmitted,
		UserID:     rec.UserID,
		Status:     rec.Status,
		Grade:      &grade,
		OccurredAt: rec.SubmittedAt,
	})

	s.log.Info().
		Str("submission_id", id.String()).
		Str("assignment_id", rec.AssignmentID.String()).
		Int("user_id", rec.UserID).
		Str("status", string(rec.Status)).
		Msg("Submission stored")
	return id.String(), nil
}

// Find returns the user's submission, or nil when there is none.
func (s *SubmissionService) Find(ctx context.Context, assignmentID uuid.UUID, userID int) (*model.Submission, error) {
	sub, err := s.repo.GetByAssignmentAndUser(ctx, assignmentID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// RetryQueue hands failed forced submissions to the retry worker.
type RetryQueue struct {
	rdb *redis.Client
	now func() time.Time
	log zerolog.Logger
}

// NewRetryQueue creates a new RetryQueue.
func NewRetryQueue(rdb *redis.Client, log zerolog.Logger) *RetryQueue {
	return &RetryQueue{
		rdb: rdb,
		now: time.Now,
		log: log.With().Str("component", "retry_queue").Logger(),
	}
}

// Recover queues rec for another attempt.
func (q *RetryQueue) Recover(ctx context.Context, rec model.SubmissionRecord, cause error) error {
	item := model.SubmissionRetry{Record: rec, QueuedAt: q.now().UTC()}
	if cause != nil {
		item.Cause = cause.Error()
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal retry: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.RetrySubmissionsQueue, data).Err(); err != nil {
		return fmt.Errorf("queue retry: %w", err)
	}

	q.log.Warn().
		Str("assignment_id", rec.AssignmentID.String()).
		Int("user_id", rec.UserID).
		Str("cause", item.Cause).
		Msg("Forced submission queued for retry")
	return nil
}

// publishMonitorEvent is best-effort: monitor subscribers are optional.
func publishMonitorEvent(ctx context.Context, rdb *redis.Client, log zerolog.Logger, assignmentID string, ev model.MonitorEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	channel := config.CacheKey.AssignmentMonitorChannel(assignmentID)
	if err := rdb.Publish(ctx, channel, data).Err(); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("Monitor publish failed")
	}
}
