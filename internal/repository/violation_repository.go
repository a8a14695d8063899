package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// ViolationRepository writes the integrity audit trail.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// CopyMany bulk-inserts reports with COPY. Any malformed assignment ID fails
// the whole batch.
func (r *ViolationRepository) CopyMany(ctx context.Context, reports []model.ViolationReport) error {
	rows := make([][]interface{}, 0, len(reports))
	for _, v := range reports {
		assignmentID, err := uuid.Parse(v.AssignmentID)
		if err != nil {
			return err
		}
		rows = append(rows, []interface{}{
			assignmentID, v.UserID, string(v.Cause), v.Detail, time.Unix(v.Timestamp, 0),
		})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"exam_violations"},
		[]string{"assignment_id", "user_id", "cause", "detail", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Insert writes a single report.
func (r *ViolationRepository) Insert(ctx context.Context, v model.ViolationReport) error {
	assignmentID, err := uuid.Parse(v.AssignmentID)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO exam_violations (assignment_id, user_id, cause, detail, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		assignmentID, v.UserID, string(v.Cause), v.Detail, time.Unix(v.Timestamp, 0),
	)
	return err
}
