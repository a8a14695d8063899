// Package integrity enforces the locked-down exam presentation: it keeps the
// surface in exclusive fullscreen, classifies input that would compromise the
// exam and reports violations to the host. It never decides punishment.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/metrics"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// DefaultPollInterval is the fullscreen re-check period.
const DefaultPollInterval = 2 * time.Second

// State is the monitor's presentation state.
type State string

const (
	StateSetup              State = "SETUP"
	StateAwaitingPermission State = "AWAITING_PERMISSION"
	StateActiveFullscreen   State = "ACTIVE_FULLSCREEN"
	StateDegraded           State = "DEGRADED"
	StateInert              State = "INERT"
)

// InputKind is the type of a raw input signal from the surface.
type InputKind string

const (
	InputFocus       InputKind = "focus"
	InputKeyDown     InputKind = "keydown"
	InputContextMenu InputKind = "contextmenu"
	InputSelectStart InputKind = "selectstart"
	InputCopy        InputKind = "copy"
	InputCut         InputKind = "cut"
	InputPaste       InputKind = "paste"
	InputVisibility  InputKind = "visibility"
	InputBlur        InputKind = "blur"
)

// InputEvent is one raw input signal. Target is nil when the surface did not
// report an element; the last focus decides editability then.
type InputEvent struct {
	Kind   InputKind
	Key    KeyCombo
	Target *Node
	Hidden bool
}

// Verdict tells the surface what to do with an input event.
type Verdict struct {
	// Prevent asks the surface to cancel the default action.
	Prevent bool
	// Cause is set when the event was a violation.
	Cause model.ViolationCause
}

// Violation reports whether the verdict recorded a violation.
func (v Verdict) Violation() bool { return v.Cause != "" }

// Options configures a Monitor.
type Options struct {
	IsExam         bool
	PollInterval   time.Duration
	ThrottleWindow time.Duration
	Editables      *EditableRegistry

	// OnViolation receives every violation, throttled or not.
	OnViolation func(model.ViolationEvent)
	// OnAlert receives the violations that should be shown to the user.
	OnAlert       func(model.ViolationEvent)
	OnStateChange func(from, to State)
	// OnError receives recovered panics and detector failures.
	OnError func(error)

	Now    func() time.Time
	Logger zerolog.Logger
}

// Monitor is the integrity state object. The sticky permission-denied flag
// and the editing flag live here and change only through its methods.
type Monitor struct {
	surface  Surface
	opts     Options
	throttle *AlertThrottle
	log      zerolog.Logger

	mu               sync.Mutex
	state            State
	permissionDenied bool
	editing          bool
	pollCancel       context.CancelFunc
}

// NewMonitor creates a monitor over surface. Non-exam sessions get an inert
// monitor whose operations are no-ops.
func NewMonitor(surface Surface, opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Editables == nil {
		opts.Editables = DefaultEditableRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	state := StateSetup
	if !opts.IsExam {
		state = StateInert
	}

	return &Monitor{
		surface:  surface,
		opts:     opts,
		throttle: NewAlertThrottle(opts.ThrottleWindow),
		log:      opts.Logger.With().Str("component", "integrity_monitor").Logger(),
		state:    state,
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PermissionDenied reports whether the host refused fullscreen. The flag is
// only cleared by RetryFullscreen.
func (m *Monitor) PermissionDenied() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permissionDenied
}

// Editing reports whether the last focused element was editable.
func (m *Monitor) Editing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.editing
}

// ─── Fullscreen ─────────────────────────────────────────────────────

// EnterFullscreen asks the surface for exclusive presentation. After a denial
// it returns ErrPermissionDenied without asking again.
func (m *Monitor) EnterFullscreen(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateInert {
		m.mu.Unlock()
		return nil
	}
	if m.permissionDenied {
		m.mu.Unlock()
		return ErrPermissionDenied
	}
	if m.state == StateActiveFullscreen {
		m.mu.Unlock()
		return nil
	}
	from := m.state
	if m.state == StateSetup && m.surface.RequiresPermission() {
		m.state = StateAwaitingPermission
	}
	awaiting := m.state
	m.mu.Unlock()
	m.notifyState(from, awaiting)

	err := m.surface.RequestFullscreen(ctx)

	m.mu.Lock()
	if m.state == StateInert {
		// Released while the prompt was open.
		m.mu.Unlock()
		return nil
	}
	if errors.Is(err, ErrRequestPending) {
		// The first prompt settles the state.
		m.mu.Unlock()
		return err
	}
	from = m.state
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			m.permissionDenied = true
		}
		m.state = StateDegraded
	} else {
		m.state = StateActiveFullscreen
	}
	to := m.state
	m.mu.Unlock()
	m.notifyState(from, to)

	if err != nil {
		m.log.Warn().Err(err).Msg("Fullscreen request failed")
		return fmt.Errorf("enter fullscreen: %w", err)
	}
	return nil
}

// RetryFullscreen clears a previous denial and asks again. It must only be
// called on an explicit user action.
func (m *Monitor) RetryFullscreen(ctx context.Context) error {
	m.mu.Lock()
	m.permissionDenied = false
	m.mu.Unlock()
	return m.EnterFullscreen(ctx)
}

// CheckFullscreen re-reads the surface and moves between ACTIVE_FULLSCREEN
// and DEGRADED. Losing fullscreen is a violation. Recovery is passive: the
// monitor never re-requests on its own.
func (m *Monitor) CheckFullscreen() {
	defer m.recoverTo("fullscreen check")

	active := m.surface.IsFullscreen()
	if !active && underReporting[m.surface.Platform()] {
		active = m.surface.Geometry().CoversScreen()
	}

	m.mu.Lock()
	from := m.state
	switch {
	case from == StateActiveFullscreen && !active:
		m.state = StateDegraded
	case from == StateDegraded && active:
		m.state = StateActiveFullscreen
	default:
		m.mu.Unlock()
		return
	}
	to := m.state
	m.mu.Unlock()

	m.notifyState(from, to)
	if to == StateDegraded {
		m.report(model.ViolationFullscreenExit, "left fullscreen")
	}
}

// Start polls the surface every PollInterval until ctx is cancelled or the
// monitor is released. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateInert || m.pollCancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.pollCancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckFullscreen()
			}
		}
	}()
}

// Release exits fullscreen and makes the monitor inert. Used once the
// attempt has been submitted.
func (m *Monitor) Release(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateInert {
		m.mu.Unlock()
		return nil
	}
	from := m.state
	wasFullscreen := from == StateActiveFullscreen
	m.state = StateInert
	m.editing = false
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
	m.mu.Unlock()
	m.notifyState(from, StateInert)

	if wasFullscreen || m.surface.IsFullscreen() {
		if err := m.surface.ExitFullscreen(ctx); err != nil {
			return fmt.Errorf("exit fullscreen: %w", err)
		}
	}
	return nil
}

// Stop cancels polling without changing state.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
	m.mu.Unlock()
}

// ─── Input ──────────────────────────────────────────────────────────

// HandleInput classifies one input event. Failures inside detectors or
// callbacks are reported through OnError and never escape.
func (m *Monitor) HandleInput(ev InputEvent) (v Verdict) {
	defer m.recoverTo(fmt.Sprintf("%s handler", ev.Kind))

	if m.State() == StateInert {
		return Verdict{}
	}

	switch ev.Kind {
	case InputFocus:
		editable := m.editable(ev.Target)
		m.mu.Lock()
		m.editing = editable
		m.mu.Unlock()
		return Verdict{}

	case InputKeyDown:
		switch ClassifyShortcut(ev.Key) {
		case ShortcutForbidden:
			v = Verdict{Prevent: true, Cause: model.ViolationForbiddenShortcut}
		case ShortcutClipboard:
			if !m.editableOrFocused(ev.Target) {
				v = Verdict{Prevent: true, Cause: model.ViolationCopyPaste}
			}
		case ShortcutSelectAll:
			if !m.editableOrFocused(ev.Target) {
				v = Verdict{Prevent: true, Cause: model.ViolationTextSelection}
			}
		}

	case InputContextMenu:
		if !m.editableOrFocused(ev.Target) {
			v = Verdict{Prevent: true, Cause: model.ViolationContextMenu}
		}

	case InputSelectStart:
		if !m.editableOrFocused(ev.Target) {
			v = Verdict{Prevent: true, Cause: model.ViolationTextSelection}
		}

	case InputCopy, InputCut, InputPaste:
		if !m.editableOrFocused(ev.Target) {
			v = Verdict{Prevent: true, Cause: model.ViolationCopyPaste}
		}

	case InputVisibility:
		if ev.Hidden {
			v = Verdict{Cause: model.ViolationVisibilityChange}
		}

	case InputBlur:
		v = Verdict{Cause: model.ViolationVisibilityChange}
	}

	if v.Violation() {
		m.report(v.Cause, describe(ev))
	}
	return v
}

func describe(ev InputEvent) string {
	if ev.Kind != InputKeyDown {
		return string(ev.Kind)
	}
	s := ""
	if ev.Key.Ctrl {
		s += "Ctrl+"
	}
	if ev.Key.Meta {
		s += "Meta+"
	}
	if ev.Key.Alt {
		s += "Alt+"
	}
	if ev.Key.Shift {
		s += "Shift+"
	}
	return s + ev.Key.Key
}

func (m *Monitor) editable(target *Node) bool {
	if target == nil {
		return false
	}
	ok, errs := m.opts.Editables.IsEditable(target)
	for _, err := range errs {
		m.fail(err)
	}
	return ok
}

func (m *Monitor) editableOrFocused(target *Node) bool {
	if target == nil {
		return m.Editing()
	}
	return m.editable(target)
}

// ─── Reporting ──────────────────────────────────────────────────────

func (m *Monitor) report(cause model.ViolationCause, detail string) {
	ev := model.ViolationEvent{Cause: cause, Detail: detail, OccurredAt: m.opts.Now()}
	metrics.ViolationsTotal.WithLabelValues(string(cause)).Inc()

	m.log.Info().Str("cause", string(cause)).Str("detail", detail).Msg("Integrity violation")

	if m.opts.OnViolation != nil {
		m.safeCall("violation callback", func() { m.opts.OnViolation(ev) })
	}

	if !m.throttle.Allow(ev.OccurredAt) {
		metrics.AlertsSuppressedTotal.Inc()
		return
	}
	if m.opts.OnAlert != nil {
		m.safeCall("alert callback", func() { m.opts.OnAlert(ev) })
	}
}

func (m *Monitor) notifyState(from, to State) {
	if from == to {
		return
	}
	m.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Monitor state changed")
	if m.opts.OnStateChange != nil {
		m.safeCall("state callback", func() { m.opts.OnStateChange(from, to) })
	}
}

func (m *Monitor) safeCall(what string, fn func()) {
	defer m.recoverTo(what)
	fn()
}

func (m *Monitor) recoverTo(what string) {
	if rec := recover(); rec != nil {
		m.fail(fmt.Errorf("%s panicked: %v", what, rec))
	}
}

func (m *Monitor) fail(err error) {
	m.log.Error().Err(err).Msg("Integrity handler failed")
	if m.opts.OnError == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error().Interface("panic", rec).Msg("Error callback panicked")
		}
	}()
	m.opts.OnError(err)
}
