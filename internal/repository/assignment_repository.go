package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// AssignmentRepository handles assignment and question data access.
type AssignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// GetByID retrieves an assignment with its questions, ordered by order_num.
func (r *AssignmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Assignment, error) {
	a := &model.Assignment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, is_exam, timer_seconds, max_points, due_at
		 FROM assignments WHERE id = $1`, id,
	).Scan(&a.ID, &a.Title, &a.IsExam, &a.TimerSeconds, &a.MaxPoints, &a.DueAt)
	if err != nil {
		return nil, err
	}

	questions, err := r.listQuestions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	a.Questions = questions
	return a, nil
}

// ListPublishedIDs returns every published assignment ID, used to prewarm
// the payload cache.
func (r *AssignmentRepository) ListPublishedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM assignments WHERE published = TRUE ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *AssignmentRepository) listQuestions(ctx context.Context, assignmentID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, question_text, question_type, options, points,
		        correct_option_indices, order_num
		 FROM questions WHERE assignment_id = $1
		 ORDER BY order_num`, assignmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var correct []int32
		if err := rows.Scan(&q.ID, &q.Text, &q.Type, &q.Options, &q.Points, &correct, &q.OrderNum); err != nil {
			return nil, err
		}
		q.CorrectOptionIndices = make([]int, len(correct))
		for i, c := range correct {
			q.CorrectOptionIndices[i] = int(c)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
