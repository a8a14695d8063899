package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// Domain Errors
var (
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrNoQuestions        = errors.New("assignment has no questions")
)

// AssignmentRepository is the persistent source of assignments.
type AssignmentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Assignment, error)
	ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error)
}

// AssignmentService loads assignments through a Redis cache. The cached
// payload includes correct indices and is only ever handed to the grader;
// students get Paper.
type AssignmentService struct {
	repo AssignmentRepository
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAssignmentService creates a new AssignmentService.
func NewAssignmentService(repo AssignmentRepository, rdb *redis.Client, log zerolog.Logger) *AssignmentService {
	return &AssignmentService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "assignment_service").Logger(),
	}
}

// Get returns the assignment, reading the cache first and warming it on a miss.
func (s *AssignmentService) Get(ctx context.Context, id uuid.UUID) (*model.Assignment, error) {
	key := config.CacheKey.AssignmentPayloadKey(id.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var a model.Assignment
		if err := json.Unmarshal(data, &a); err == nil {
			return &a, nil
		}
		s.log.Warn().Str("assignment_id", id.String()).Msg("Unreadable cached payload, reloading")
	case !errors.Is(err, redis.Nil):
		// Cache trouble must not block exams; fall through to PostgreSQL.
		s.log.Warn().Err(err).Str("assignment_id", id.String()).Msg("Payload cache read failed")
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	if err := s.WarmCache(ctx, a); err != nil {
		s.log.Warn().Err(err).Str("assignment_id", id.String()).Msg("Failed to warm payload cache")
	}
	return a, nil
}

// Load builds the immutable session context for userID.
func (s *AssignmentService) Load(ctx context.Context, id uuid.UUID, userID int) (model.ExamSession, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return model.ExamSession{}, err
	}
	if len(a.Questions) == 0 {
		return model.ExamSession{}, ErrNoQuestions
	}
	return model.NewExamSession(a, userID), nil
}

// Paper returns the student-facing projection, without correct answers.
func (s *AssignmentService) Paper(ctx context.Context, id uuid.UUID) (*model.AssignmentPaper, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	paper := a.Paper()
	return &paper, nil
}

// WarmCache stores a's payload in Redis.
func (s *AssignmentService) WarmCache(ctx context.Context, a *model.Assignment) error {
	if len(a.Questions) == 0 {
		return ErrNoQuestions
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	key := config.CacheKey.AssignmentPayloadKey(a.ID.String())
	if err := s.rdb.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("assignment_id", a.ID.String()).
		Int("questions", len(a.Questions)).
		Msg("Cache warmed")
	return nil
}

// Invalidate drops the cached payload so the next Get reloads it.
func (s *AssignmentService) Invalidate(ctx context.Context, id uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.AssignmentPayloadKey(id.String())).Err()
}

// PrewarmAll loads every published assignment into Redis before traffic is
// accepted.
func (s *AssignmentService) PrewarmAll(ctx context.Context) error {
	ids, err := s.repo.ListPublishedIDs(ctx)
	if err != nil {
		return fmt.Errorf("list published assignments: %w", err)
	}

	if len(ids) == 0 {
		s.log.Info().Msg("No published assignments to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(ids)).Msg("Prewarming published assignments...")

	warmed := 0
	for _, id := range ids {
		a, err := s.repo.GetByID(ctx, id)
		if err == nil {
			err = s.WarmCache(ctx, a)
		}
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("assignment_id", id.String()).
				Msg("Failed to warm assignment, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}
