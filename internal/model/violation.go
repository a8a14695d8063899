package model

import (
	"time"
)

// ViolationCause classifies an integrity violation.
type ViolationCause string

const (
	ViolationForbiddenShortcut ViolationCause = "forbidden-shortcut"
	ViolationContextMenu       ViolationCause = "context-menu"
	ViolationCopyPaste         ViolationCause = "copy-paste"
	ViolationTextSelection     ViolationCause = "text-selection"
	ViolationVisibilityChange  ViolationCause = "visibility-change"
	ViolationFullscreenExit    ViolationCause = "fullscreen-exit"
)

// ViolationEvent is a detected integrity violation. It is transient on the
// session and only reaches storage through the audit queue.
type ViolationEvent struct {
	Cause      ViolationCause `json:"cause"`
	Detail     string         `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// ViolationReport is the audit-trail entry queued for persistence.
type ViolationReport struct {
	AssignmentID string         `json:"assignment_id"`
	UserID       int            `json:"user_id"`
	Cause        ViolationCause `json:"cause"`
	Detail       string         `json:"detail,omitempty"`
	Timestamp    int64          `json:"timestamp"`
}
