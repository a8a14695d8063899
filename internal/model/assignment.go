package model

import (
	"time"

	"github.com/google/uuid"
)

// Assignment is the payload the assignment loader supplies before a session
// activates. It is cached in Redis with correct answers included and must
// never be sent to students as is.
type Assignment struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	IsExam       bool       `json:"is_exam"`
	TimerSeconds *int       `json:"timer_seconds,omitempty"`
	MaxPoints    float64    `json:"max_points"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	Questions    []Question `json:"questions"`
}

// AssignmentPaper is the student-facing projection of an assignment.
type AssignmentPaper struct {
	AssignmentID uuid.UUID            `json:"assignment_id"`
	Title        string               `json:"title"`
	IsExam       bool                 `json:"is_exam"`
	TimerSeconds *int                 `json:"timer_seconds,omitempty"`
	MaxPoints    float64              `json:"max_points"`
	Questions    []QuestionForStudent `json:"questions"`
}

// Paper builds the student-facing projection.
func (a *Assignment) Paper() AssignmentPaper {
	qs := make([]QuestionForStudent, len(a.Questions))
	for i, q := range a.Questions {
		qs[i] = q.ForStudent()
	}
	return AssignmentPaper{
		AssignmentID: a.ID,
		Title:        a.Title,
		IsExam:       a.IsExam,
		TimerSeconds: a.TimerSeconds,
		MaxPoints:    a.MaxPoints,
		Questions:    qs,
	}
}
