package service

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-integrity/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type fakeAssignmentRepo struct {
	mu          sync.Mutex
	assignments map[uuid.UUID]*model.Assignment
	published   []uuid.UUID
	gets        int
}

func (r *fakeAssignmentRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	a, ok := r.assignments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return a, nil
}

func (r *fakeAssignmentRepo) ListPublishedIDs(context.Context) ([]uuid.UUID, error) {
	return r.published, nil
}

func (r *fakeAssignmentRepo) getCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

type fakeSubmissionRepo struct {
	mu       sync.Mutex
	records  []model.SubmissionRecord
	existing map[uuid.UUID]*model.Submission
	err      error
}

func (r *fakeSubmissionRepo) Upsert(_ context.Context, rec model.SubmissionRecord) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return uuid.Nil, r.err
	}
	r.records = append(r.records, rec)
	return uuid.MustParse("00000000-0000-0000-0000-0000000000aa"), nil
}

func (r *fakeSubmissionRepo) GetByAssignmentAndUser(_ context.Context, assignmentID uuid.UUID, _ int) (*model.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if sub, ok := r.existing[assignmentID]; ok {
		return sub, nil
	}
	return nil, pgx.ErrNoRows
}

func sampleAssignment(isExam bool) *model.Assignment {
	secs := 600
	return &model.Assignment{
		ID:           uuid.New(),
		Title:        "Kinematics quiz",
		IsExam:       isExam,
		TimerSeconds: &secs,
		MaxPoints:    100,
		Questions: []model.Question{
			{ID: "q1", Text: "Pick two", Type: model.QuestionTypeMultipleChoice, Points: 10, CorrectOptionIndices: []int{0, 1}},
			{ID: "q2", Text: "Explain", Type: model.QuestionTypeEssay, Points: 10},
		},
	}
}
