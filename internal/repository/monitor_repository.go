package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// MonitorRepository provides the aggregates behind the instructor live monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// GetViolationCounts returns the number of recorded violations per user.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, assignmentID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, COUNT(*)
		 FROM exam_violations
		 WHERE assignment_id = $1
		 GROUP BY user_id`,
		assignmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var uid int
		var count int64
		if err := rows.Scan(&uid, &count); err != nil {
			return nil, err
		}
		counts[uid] = count
	}
	return counts, rows.Err()
}

// GetSubmissionStatuses returns the submission status of every user who has
// submitted.
func (r *MonitorRepository) GetSubmissionStatuses(ctx context.Context, assignmentID uuid.UUID) (map[int]model.SubmissionStatus, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, status FROM submissions WHERE assignment_id = $1`,
		assignmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statuses := make(map[int]model.SubmissionStatus)
	for rows.Next() {
		var uid int
		var status model.SubmissionStatus
		if err := rows.Scan(&uid, &status); err != nil {
			return nil, err
		}
		statuses[uid] = status
	}
	return statuses, rows.Err()
}
