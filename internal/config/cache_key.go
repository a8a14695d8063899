package config

import (
	"fmt"
	"strings"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// DraftKey returns the store key for a user's in-progress draft of an assignment.
func (r *CacheKeyStruct) DraftKey(namespace, assignmentID string, userID int) string {
	return fmt.Sprintf("%s_%s_%d", namespace, assignmentID, userID)
}

// HandOffKey marks an attempt whose forced submission was handed to the
// retry queue. While it exists the attempt cannot be restarted.
func (r *CacheKeyStruct) HandOffKey(namespace, assignmentID string, userID int) string {
	return r.DraftKey(namespace, assignmentID, userID) + "_handed_off"
}

// TimerKey returns the store key holding an exam deadline. The exam timer and
// the submission cleanup step must both derive it here.
func (r *CacheKeyStruct) TimerKey(timerSeconds int, pagePath string) string {
	return fmt.Sprintf("exam_timer_%d_%s", timerSeconds, normalizePagePath(pagePath))
}

// AssignmentPayloadKey returns the cache key for an assignment's loaded payload
// (questions with correct indices, timer and max points).
func (r *CacheKeyStruct) AssignmentPayloadKey(assignmentID string) string {
	return fmt.Sprintf("assignment:%s:payload", assignmentID)
}

// AssignmentMonitorChannel returns the Redis PubSub channel name for an assignment monitor
func (r *CacheKeyStruct) AssignmentMonitorChannel(assignmentID string) string {
	return fmt.Sprintf("assignment:%s:monitor", assignmentID)
}

// normalizePagePath strips query strings and trailing slashes so "/a/b/" and
// "/a/b?x=1" resolve to the same timer.
func normalizePagePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		p = "/"
	}
	return p
}

var CacheKey = NewCacheKeyStruct()
