package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// SubmissionRepository handles submission data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Upsert stores rec and returns the submission ID. One row exists per
// assignment and user, so a retried record overwrites instead of duplicating.
func (r *SubmissionRepository) Upsert(ctx context.Context, rec model.SubmissionRecord) (uuid.UUID, error) {
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal answers: %w", err)
	}

	var id uuid.UUID
	err = r.pool.QueryRow(ctx,
		`INSERT INTO submissions (assignment_id, user_id, status, grade, feedback, answers, text_content, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
		 ON CONFLICT (assignment_id, user_id) DO UPDATE
		 SET status = EXCLUDED.status,
		     grade = EXCLUDED.grade,
		     feedback = EXCLUDED.feedback,
		     answers = EXCLUDED.answers,
		     text_content = EXCLUDED.text_content,
		     submitted_at = EXCLUDED.submitted_at
		 RETURNING id`,
		rec.AssignmentID, rec.UserID, rec.Status, rec.Grade, rec.Feedback, answers, rec.TextContent, rec.SubmittedAt,
	).Scan(&id)
	return id, err
}

// GetByAssignmentAndUser retrieves the submission of a user, if any.
func (r *SubmissionRepository) GetByAssignmentAndUser(ctx context.Context, assignmentID uuid.UUID, userID int) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, assignment_id, user_id, status, grade, feedback, submitted_at
		 FROM submissions WHERE assignment_id = $1 AND user_id = $2`,
		assignmentID, userID,
	).Scan(&s.ID, &s.AssignmentID, &s.UserID, &s.Status, &s.Grade, &s.Feedback, &s.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}
