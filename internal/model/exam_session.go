package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ExamSession is the immutable context of one user taking one assignment.
// It is supplied by the assignment loader and never changes while the
// session is live.
type ExamSession struct {
	AssignmentID uuid.UUID `json:"assignment_id"`
	UserID       int       `json:"user_id"`
	IsExam       bool      `json:"is_exam"`
	TimerSeconds *int      `json:"timer_seconds,omitempty"`
	MaxPoints    float64   `json:"max_points"`
	// PagePath is the exam surface path; it scopes the persisted timer.
	// It is always derived by ExamPagePath, never taken from the client.
	PagePath  string     `json:"page_path"`
	Questions []Question `json:"-"`
}

// ExamPagePath returns the surface path of userID taking an assignment. The
// timer key is derived from it, so it must be unique per user.
func ExamPagePath(assignmentID uuid.UUID, userID int) string {
	return fmt.Sprintf("/assignments/%s/take/%d", assignmentID, userID)
}

// NewExamSession builds an ExamSession from a loaded assignment.
// The question slice is copied so callers cannot mutate the session afterwards.
func NewExamSession(a *Assignment, userID int) ExamSession {
	qs := make([]Question, len(a.Questions))
	for i, q := range a.Questions {
		qs[i] = q.clone()
	}

	var timer *int
	if a.TimerSeconds != nil {
		v := *a.TimerSeconds
		timer = &v
	}

	return ExamSession{
		AssignmentID: a.ID,
		UserID:       userID,
		IsExam:       a.IsExam,
		TimerSeconds: timer,
		MaxPoints:    a.MaxPoints,
		PagePath:     ExamPagePath(a.ID, userID),
		Questions:    qs,
	}
}

// HasTimer reports whether the session runs a countdown.
func (s ExamSession) HasTimer() bool {
	return s.TimerSeconds != nil && *s.TimerSeconds > 0
}

// HasEssay reports whether any question needs manual grading.
func (s ExamSession) HasEssay() bool {
	for _, q := range s.Questions {
		if q.Type == QuestionTypeEssay {
			return true
		}
	}
	return false
}
