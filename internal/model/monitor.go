package model

import (
	"time"
)

// MonitorEventType names an event on the instructor live monitor channel.
type MonitorEventType string

const (
	MonitorEventViolation MonitorEventType = "violation"
	MonitorEventSubmitted MonitorEventType = "submitted"
)

// MonitorEvent is published on an assignment's monitor channel and forwarded
// verbatim to connected instructors.
type MonitorEvent struct {
	Type       MonitorEventType `json:"type"`
	UserID     int              `json:"user_id"`
	Cause      ViolationCause   `json:"cause,omitempty"`
	Status     SubmissionStatus `json:"status,omitempty"`
	Grade      *float64         `json:"grade,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// AssignmentProgress is the aggregate shown in monitor refreshes.
type AssignmentProgress struct {
	ViolationCounts map[int]int64            `json:"violation_counts"`
	Submissions     map[int]SubmissionStatus `json:"submissions"`
	TotalViolations int64                    `json:"total_violations"`
}

// SessionState is what a reloaded surface needs to resume: the countdown,
// the draft (practice mode only) and whether the attempt is already closed.
type SessionState struct {
	AssignmentID     string           `json:"assignment_id"`
	IsExam           bool             `json:"is_exam"`
	RemainingSeconds *int             `json:"remaining_seconds,omitempty"`
	Draft            *DraftRecord     `json:"draft,omitempty"`
	Submitted        bool             `json:"submitted"`
	Status           SubmissionStatus `json:"status,omitempty"`
}
