// Package examtimer implements a reload-safe exam countdown. Remaining time is
// always derived from a persisted absolute deadline and the wall clock, so a
// reload or a suspended process never gains time.
package examtimer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/draftstore"
)

// DefaultTickInterval is how often Run recomputes the remaining time.
const DefaultTickInterval = time.Second

// DeadlineStore is the part of the draft store the timer needs.
type DeadlineStore interface {
	LoadOrCreateDeadline(ctx context.Context, key string, candidate time.Time) (time.Time, bool, error)
}

// Option configures a Timer.
type Option func(*Timer)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(t *Timer) { t.now = now } }

// WithTickInterval overrides how often Run polls.
func WithTickInterval(d time.Duration) Option { return func(t *Timer) { t.tick = d } }

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Timer) { t.log = log.With().Str("component", "exam_timer").Logger() }
}

// OnExpire registers the expiry callback. It runs at most once.
func OnExpire(fn func()) Option { return func(t *Timer) { t.onExpire = fn } }

// OnTick registers a callback receiving the remaining time on every Run tick.
func OnTick(fn func(time.Duration)) Option { return func(t *Timer) { t.onTick = fn } }

// Timer is a countdown bound to one persisted deadline.
type Timer struct {
	key      string
	deadline time.Time
	now      func() time.Time
	tick     time.Duration
	log      zerolog.Logger
	onExpire func()
	onTick   func(time.Duration)

	mu    sync.Mutex
	fired bool
}

// New loads the deadline for {seconds, pagePath} or creates it as now+seconds.
// If the store cannot be written the timer still runs from an in-memory
// deadline and the persistence error is logged.
func New(ctx context.Context, store DeadlineStore, seconds int, pagePath string, opts ...Option) (*Timer, error) {
	if seconds <= 0 {
		return nil, fmt.Errorf("timer seconds must be positive, got %d", seconds)
	}

	t := &Timer{
		key:  config.CacheKey.TimerKey(seconds, pagePath),
		now:  time.Now,
		tick: DefaultTickInterval,
		log:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(t)
	}

	candidate := t.now().Add(time.Duration(seconds) * time.Second)
	deadline, created, err := store.LoadOrCreateDeadline(ctx, t.key, candidate)
	if err != nil {
		if !errors.Is(err, draftstore.ErrPersistence) {
			return nil, fmt.Errorf("load deadline: %w", err)
		}
		t.log.Warn().Err(err).Str("key", t.key).Msg("Deadline not persisted, countdown is in-memory only")
	}
	t.deadline = deadline

	t.log.Debug().
		Str("key", t.key).
		Time("deadline", deadline).
		Bool("created", created).
		Msg("Exam timer ready")

	return t, nil
}

// Key returns the store key of the persisted deadline.
func (t *Timer) Key() string { return t.key }

// Deadline returns the absolute deadline.
func (t *Timer) Deadline() time.Time { return t.deadline }

// Remaining returns max(0, deadline - now).
func (t *Timer) Remaining() time.Duration {
	r := t.deadline.Sub(t.now())
	if r < 0 {
		return 0
	}
	return r
}

// RemainingSeconds rounds the remaining time up to whole seconds.
func (t *Timer) RemainingSeconds() int {
	return int(math.Ceil(t.Remaining().Seconds()))
}

// Expired reports whether the deadline has passed.
func (t *Timer) Expired() bool {
	return t.Remaining() == 0
}

// Check fires the expiry callback if the deadline has passed and it has not
// fired before. It reports whether this call fired it.
func (t *Timer) Check() bool {
	if !t.Expired() {
		return false
	}

	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	t.mu.Unlock()

	t.log.Info().Str("key", t.key).Msg("Exam time expired")
	if t.onExpire != nil {
		t.onExpire()
	}
	return true
}

// Run polls until ctx is cancelled or the timer expires.
func (t *Timer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		if t.onTick != nil {
			t.onTick(t.Remaining())
		}
		if t.Check() || t.hasFired() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Timer) hasFired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
