package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus enumerates the statuses accepted by the submission API.
type SubmissionStatus string

const (
	SubmissionStatusSubmitted          SubmissionStatus = "Submitted"
	SubmissionStatusGraded             SubmissionStatus = "Graded"
	SubmissionStatusStoppedWithCaution SubmissionStatus = "Stopped with caution"
)

// GradingResult is derived at submission time and never persisted on its own.
type GradingResult struct {
	Grade                 float64 `json:"grade"`
	FullyCorrectCount     int     `json:"fully_correct_count"`
	PartiallyCorrectCount int     `json:"partially_correct_count"`
	EarnedPoints          float64 `json:"earned_points"`
	TotalPoints           float64 `json:"total_points"`
}

// SubmissionRecord is the outbound payload for the submission API. Build it
// with NewSubmissionRecord and treat it as a value; it is not modified after
// construction.
type SubmissionRecord struct {
	AssignmentID uuid.UUID        `json:"assignment_id"`
	UserID       int              `json:"user_id"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	Status       SubmissionStatus `json:"status"`
	Grade        float64          `json:"grade"`
	Feedback     string           `json:"feedback"`
	Answers      AnswerMap        `json:"answers"`
	TextContent  string           `json:"text_content"`
}

// NewSubmissionRecord copies answers so later edits to the live map do not
// leak into the record.
func NewSubmissionRecord(
	s ExamSession,
	at time.Time,
	status SubmissionStatus,
	grade float64,
	feedback string,
	answers AnswerMap,
	text string,
) SubmissionRecord {
	return SubmissionRecord{
		AssignmentID: s.AssignmentID,
		UserID:       s.UserID,
		SubmittedAt:  at.UTC(),
		Status:       status,
		Grade:        grade,
		Feedback:     feedback,
		Answers:      answers.Clone(),
		TextContent:  text,
	}
}

// Submission is a persisted submission row.
type Submission struct {
	ID           uuid.UUID        `json:"id"`
	AssignmentID uuid.UUID        `json:"assignment_id"`
	UserID       int              `json:"user_id"`
	Status       SubmissionStatus `json:"status"`
	Grade        float64          `json:"grade"`
	Feedback     string           `json:"feedback"`
	SubmittedAt  time.Time        `json:"submitted_at"`
}

// SubmissionRetry is a forced submission queued after the submission API
// rejected it.
type SubmissionRetry struct {
	Record   SubmissionRecord `json:"record"`
	Cause    string           `json:"cause"`
	Attempts int              `json:"attempts"`
	QueuedAt time.Time        `json:"queued_at"`
}
