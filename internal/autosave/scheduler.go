// Package autosave periodically persists in-progress answers of practice
// sessions. Exam sessions never write a draft.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/metrics"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// DefaultInterval is the auto-save period.
const DefaultInterval = 10 * time.Second

// DefaultMinContentLength is the shortest text a manual save accepts.
const DefaultMinContentLength = 10

var (
	ErrExamMode        = errors.New("drafts are not saved in exam mode")
	ErrContentTooShort = errors.New("nothing meaningful to save yet")
	ErrSuspended       = errors.New("saving is paused while submitting")
	ErrSealed          = errors.New("attempt already submitted")
)

// DraftWriter is the part of the draft store the scheduler writes through.
type DraftWriter interface {
	SaveDraft(ctx context.Context, key string, rec model.DraftRecord) error
}

// Options configures a Scheduler.
type Options struct {
	IsExam           bool
	Interval         time.Duration
	MinContentLength int
	Now              func() time.Time
	Logger           zerolog.Logger

	// OnSaved receives the timestamp of every successful write.
	OnSaved func(at time.Time)
	// OnWarning receives write failures. The session continues in memory.
	OnWarning func(err error)
}

// Scheduler flushes the attempt snapshot to the draft store. Auto-save and
// manual save share one write path under one mutex, so they never interleave.
type Scheduler struct {
	store    DraftWriter
	key      string
	snapshot func() model.Attempt
	opts     Options
	log      zerolog.Logger

	mu          sync.Mutex
	suspended   bool
	sealed      bool
	fingerprint string
	lastSavedAt time.Time
	cancel      context.CancelFunc
}

// New creates a scheduler writing snapshot() to key.
func New(store DraftWriter, key string, snapshot func() model.Attempt, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = DefaultMinContentLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		store:    store,
		key:      key,
		snapshot: snapshot,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "autosave").Str("key", key).Logger(),
	}
}

// Start runs the interval until ctx is cancelled or Stop is called. It is a
// no-op in exam mode.
func (s *Scheduler) Start(ctx context.Context) {
	if s.opts.IsExam {
		return
	}

	s.mu.Lock()
	if s.cancel != nil || s.sealed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Flush(ctx)
			}
		}
	}()
}

// Stop cancels the interval.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Prime marks snap as already persisted, so a restored draft is not written
// back unchanged.
func (s *Scheduler) Prime(snap model.Attempt, savedAt time.Time) {
	fp, err := fingerprint(snap)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.fingerprint = fp
	s.lastSavedAt = savedAt
	s.mu.Unlock()
}

// Flush writes the snapshot if it changed since the last write.
func (s *Scheduler) Flush(ctx context.Context) error {
	if s.opts.IsExam {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended || s.sealed || ctx.Err() != nil {
		return nil
	}

	snap := s.snapshot()
	fp, err := fingerprint(snap)
	if err != nil {
		return err
	}
	if fp == s.fingerprint {
		return nil
	}
	if s.fingerprint == "" && !snap.Meaningful(1) {
		// Nothing typed yet; the draft is created on the first real edit.
		return nil
	}

	_, err = s.write(ctx, snap, fp)
	return err
}

// SaveNow is the manual save. It writes even when nothing changed and
// rejects near-empty attempts.
func (s *Scheduler) SaveNow(ctx context.Context) (time.Time, error) {
	if s.opts.IsExam {
		return time.Time{}, ErrExamMode
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.sealed:
		return time.Time{}, ErrSealed
	case s.suspended:
		return time.Time{}, ErrSuspended
	}

	snap := s.snapshot()
	if !snap.Meaningful(s.opts.MinContentLength) {
		return time.Time{}, ErrContentTooShort
	}
	fp, err := fingerprint(snap)
	if err != nil {
		return time.Time{}, err
	}
	return s.write(ctx, snap, fp)
}

// write must be called with s.mu held.
func (s *Scheduler) write(ctx context.Context, snap model.Attempt, fp string) (time.Time, error) {
	at := s.opts.Now()
	rec := model.DraftRecord{
		Answers:     snap.Answers.Clone(),
		TextContent: snap.TextContent,
		SavedAt:     at.UTC(),
	}

	if err := s.store.SaveDraft(ctx, s.key, rec); err != nil {
		s.log.Warn().Err(err).Msg("Draft write failed")
		if s.opts.OnWarning != nil {
			s.opts.OnWarning(err)
		}
		return time.Time{}, err
	}

	s.fingerprint = fp
	s.lastSavedAt = at
	metrics.AutosaveWritesTotal.Inc()
	s.log.Debug().Time("saved_at", at).Msg("Draft saved")

	if s.opts.OnSaved != nil {
		s.opts.OnSaved(at)
	}
	return at, nil
}

// LastSavedAt returns the time of the last successful write.
func (s *Scheduler) LastSavedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSavedAt
}

// Suspend blocks further writes. It returns once any in-flight write has
// finished.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
	s.suspended = true
	s.mu.Unlock()
}

// Resume lifts Suspend. It has no effect after Seal.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.suspended = false
	s.mu.Unlock()
}

// Seal permanently disables writes and stops the interval.
func (s *Scheduler) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.suspended = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (s *Scheduler) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

func fingerprint(a model.Attempt) (string, error) {
	// Maps marshal with sorted keys, so equal attempts encode equally.
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("fingerprint attempt: %w", err)
	}
	return string(b), nil
}
