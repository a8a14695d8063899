package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-integrity/internal/model"
	"golang.org/x/sync/errgroup"
)

// MonitorRepository provides monitor aggregates.
type MonitorRepository interface {
	GetViolationCounts(ctx context.Context, assignmentID uuid.UUID) (map[int]int64, error)
	GetSubmissionStatuses(ctx context.Context, assignmentID uuid.UUID) (map[int]model.SubmissionStatus, error)
}

// MonitorService orchestrates live assignment monitoring.
type MonitorService struct {
	monitorRepo MonitorRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo MonitorRepository) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// GetProgress fetches violation counts and submission statuses in parallel.
// Submission statuses are critical; violation counts are best-effort.
func (s *MonitorService) GetProgress(ctx context.Context, assignmentID uuid.UUID) (*model.AssignmentProgress, error) {
	var (
		counts   map[int]int64
		statuses map[int]model.SubmissionStatus
		countErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, countErr = s.monitorRepo.GetViolationCounts(gctx, assignmentID)
		return nil
	})
	g.Go(func() error {
		var err error
		statuses, err = s.monitorRepo.GetSubmissionStatuses(gctx, assignmentID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	progress := &model.AssignmentProgress{
		ViolationCounts: map[int]int64{},
		Submissions:     map[int]model.SubmissionStatus{},
	}
	if statuses != nil {
		progress.Submissions = statuses
	}
	if countErr == nil && counts != nil {
		progress.ViolationCounts = counts
		for _, c := range counts {
			progress.TotalViolations += c
		}
	}
	return progress, nil
}
