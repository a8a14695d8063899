package draftstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/metrics"
	"github.com/stemsi/exstem-integrity/internal/model"
)

var (
	// ErrPersistence matches every *PersistenceError via errors.Is.
	ErrPersistence = errors.New("persistence failure")
	// ErrDraftForbidden is returned when a draft is requested for an exam session.
	ErrDraftForbidden = errors.New("draft recovery is disabled in exam mode")
)

// PersistenceError reports a failed store operation. Callers treat it as a
// warning: the in-memory session keeps going.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func persistenceError(op, key string, err error) error {
	metrics.PersistenceFailuresTotal.WithLabelValues(op).Inc()
	return &PersistenceError{Op: op, Key: key, Err: err}
}

// Store is the typed draft/deadline store used by the exam runtime.
type Store struct {
	backend   Backend
	namespace string
	log       zerolog.Logger
}

// NewStore creates a new Store.
func NewStore(backend Backend, namespace string, log zerolog.Logger) *Store {
	return &Store{
		backend:   backend,
		namespace: namespace,
		log:       log.With().Str("component", "draft_store").Logger(),
	}
}

// DraftKey derives the draft key for a session.
func (s *Store) DraftKey(sess model.ExamSession) string {
	return config.CacheKey.DraftKey(s.namespace, sess.AssignmentID.String(), sess.UserID)
}

// HandOffKey derives the hand-off marker key for a session.
func (s *Store) HandOffKey(sess model.ExamSession) string {
	return config.CacheKey.HandOffKey(s.namespace, sess.AssignmentID.String(), sess.UserID)
}

// TimerKey derives the deadline key for a session, or "" when it has no timer.
func (s *Store) TimerKey(sess model.ExamSession) string {
	if !sess.HasTimer() {
		return ""
	}
	return config.CacheKey.TimerKey(*sess.TimerSeconds, sess.PagePath)
}

// LoadDraft returns the saved draft of a non-exam session, or nil when there
// is none. Exam sessions always get ErrDraftForbidden.
func (s *Store) LoadDraft(ctx context.Context, sess model.ExamSession) (*model.DraftRecord, error) {
	if sess.IsExam {
		return nil, ErrDraftForbidden
	}

	key := s.DraftKey(sess)
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, persistenceError("load_draft", key, err)
	}

	var rec model.DraftRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt draft is not worth failing the session over.
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding unreadable draft")
		return nil, nil
	}
	if rec.Answers == nil {
		rec.Answers = model.AnswerMap{}
	}
	return &rec, nil
}

// SaveDraft overwrites the draft stored under key.
func (s *Store) SaveDraft(ctx context.Context, key string, rec model.DraftRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.backend.Set(ctx, key, data); err != nil {
		return persistenceError("save_draft", key, err)
	}
	return nil
}

// LoadOrCreateDeadline returns the deadline persisted under key. When none
// exists, candidate is stored and returned with created=true. On a store
// failure the candidate is returned together with a PersistenceError so the
// caller can keep an in-memory countdown.
func (s *Store) LoadOrCreateDeadline(ctx context.Context, key string, candidate time.Time) (deadline time.Time, created bool, err error) {
	existing, err := s.loadDeadline(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return candidate, false, err
	}

	data, err := json.Marshal(model.TimerRecord{Deadline: candidate.UTC()})
	if err != nil {
		return candidate, false, fmt.Errorf("marshal deadline: %w", err)
	}

	ok, err := s.backend.SetNX(ctx, key, data)
	if err != nil {
		return candidate, false, persistenceError("create_deadline", key, err)
	}
	if ok {
		return candidate, true, nil
	}

	// Another tab created it between our read and write.
	existing, err = s.loadDeadline(ctx, key)
	if err != nil {
		return candidate, false, err
	}
	return existing, false, nil
}

func (s *Store) loadDeadline(ctx context.Context, key string) (time.Time, error) {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, persistenceError("load_deadline", key, err)
	}

	deadline, err := decodeDeadline(data)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Unreadable deadline, treating as absent")
		return time.Time{}, ErrNotFound
	}
	return deadline, nil
}

// decodeDeadline accepts a TimerRecord JSON object, a bare RFC 3339 string
// or epoch milliseconds.
func decodeDeadline(data []byte) (time.Time, error) {
	var rec model.TimerRecord
	if err := json.Unmarshal(data, &rec); err == nil && !rec.Deadline.IsZero() {
		return rec.Deadline, nil
	}

	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised deadline %q", raw)
}

// Purge deletes the given keys. Empty keys are ignored.
func (s *Store) Purge(ctx context.Context, keys ...string) error {
	filtered := keys[:0:0]
	for _, k := range keys {
		if k != "" {
			filtered = append(filtered, k)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if err := s.backend.Delete(ctx, filtered...); err != nil {
		return persistenceError("purge", strings.Join(filtered, ","), err)
	}
	return nil
}

// PeekDeadline returns the deadline under key without creating one.
func (s *Store) PeekDeadline(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	deadline, err := s.loadDeadline(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return deadline, true, nil
}

type handOffRecord struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"handed_off_at"`
}

// MarkHandedOff records that the attempt behind key was passed to the retry
// queue. The marker is never purged with the draft and timer.
func (s *Store) MarkHandedOff(ctx context.Context, key, reason string) error {
	data, err := json.Marshal(handOffRecord{Reason: reason, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal hand-off: %w", err)
	}
	if err := s.backend.Set(ctx, key, data); err != nil {
		return persistenceError("mark_handed_off", key, err)
	}
	return nil
}

// HandedOff reports whether the session's attempt was handed off.
func (s *Store) HandedOff(ctx context.Context, sess model.ExamSession) (bool, error) {
	key := s.HandOffKey(sess)
	if _, err := s.backend.Get(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, persistenceError("load_hand_off", key, err)
	}
	return true, nil
}
