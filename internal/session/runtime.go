// Package session hosts one exam attempt: it owns the answer state and wires
// the integrity monitor, exam timer, auto-save scheduler and submission
// pipeline together. The violation-threshold policy lives here, not in the
// monitor.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/autosave"
	"github.com/stemsi/exstem-integrity/internal/draftstore"
	"github.com/stemsi/exstem-integrity/internal/examtimer"
	"github.com/stemsi/exstem-integrity/internal/integrity"
	"github.com/stemsi/exstem-integrity/internal/metrics"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/submission"
)

// DefaultViolationThreshold is the number of violations that forces an exam
// submission.
const DefaultViolationThreshold = 5

var (
	ErrUnknownQuestion = errors.New("question does not belong to this assignment")
	ErrClosed          = errors.New("session closed")
)

// Host is everything the runtime needs from the connected exam surface.
type Host interface {
	integrity.Surface
	submission.Host

	Alert(ev model.ViolationEvent)
	Warn(msg string)
	Saved(at time.Time)
	Tick(remainingSeconds int)
	MonitorState(state integrity.State, permissionDenied bool)
	// Advisory raises or clears a persistent notice, e.g. "offline".
	Advisory(kind string, active bool)
}

// ViolationReporter forwards violations to the audit trail.
type ViolationReporter interface {
	Report(ctx context.Context, sess model.ExamSession, ev model.ViolationEvent) error
}

// Deps are the runtime's collaborators. Recovery and Reporter may be nil.
type Deps struct {
	Store    *draftstore.Store
	API      submission.API
	Recovery submission.Recovery
	Reporter ViolationReporter
	Host     Host
	Logger   zerolog.Logger
}

// Options tune the runtime. Zero values fall back to package defaults,
// except ViolationThreshold where zero disables the policy.
type Options struct {
	AutosaveInterval    time.Duration
	PollInterval        time.Duration
	ThrottleWindow      time.Duration
	ForcedRedirectDelay time.Duration
	TimerTick           time.Duration
	ViolationThreshold  int
	MinContentLength    int
	RedirectPath        string
	Editables           *integrity.EditableRegistry
	Now                 func() time.Time
}

// Runtime is one live exam attempt.
type Runtime struct {
	deps Deps
	sess model.ExamSession
	opts Options
	log  zerolog.Logger

	monitor   *integrity.Monitor
	scheduler *autosave.Scheduler
	pipeline  *submission.Pipeline
	timer     *examtimer.Timer

	mu         sync.Mutex
	attempt    model.Attempt
	violations int
	tripped    bool
	online     bool
	started    bool
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewRuntime builds the components for sess. Nothing runs until Start.
func NewRuntime(deps Deps, sess model.ExamSession, opts Options) *Runtime {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = autosave.DefaultMinContentLength
	}

	r := &Runtime{
		deps: deps,
		sess: sess,
		opts: opts,
		log: deps.Logger.With().
			Str("component", "exam_session").
			Str("assignment_id", sess.AssignmentID.String()).
			Int("user_id", sess.UserID).
			Bool("is_exam", sess.IsExam).
			Logger(),
		attempt: model.Attempt{Answers: model.AnswerMap{}},
		online:  true,
	}

	r.monitor = integrity.NewMonitor(deps.Host, integrity.Options{
		IsExam:         sess.IsExam,
		PollInterval:   opts.PollInterval,
		ThrottleWindow: opts.ThrottleWindow,
		Editables:      opts.Editables,
		OnViolation:    r.onViolation,
		OnAlert:        deps.Host.Alert,
		OnStateChange:  r.onMonitorState,
		OnError:        r.onMonitorError,
		Now:            opts.Now,
		Logger:         deps.Logger,
	})

	r.scheduler = autosave.New(deps.Store, deps.Store.DraftKey(sess), r.Snapshot, autosave.Options{
		IsExam:           sess.IsExam,
		Interval:         opts.AutosaveInterval,
		MinContentLength: opts.MinContentLength,
		Now:              opts.Now,
		Logger:           deps.Logger,
		OnSaved:          deps.Host.Saved,
		OnWarning: func(error) {
			deps.Host.Warn("Your progress could not be saved. Keep this page open.")
		},
	})

	r.pipeline = submission.New(submission.Deps{
		API:        deps.API,
		Recovery:   deps.Recovery,
		Scheduler:  r.scheduler,
		Store:      deps.Store,
		Monitor:    r.monitor,
		Host:       deps.Host,
		DraftKey:   deps.Store.DraftKey(sess),
		TimerKey:   deps.Store.TimerKey(sess),
		HandOffKey: deps.Store.HandOffKey(sess),
	}, sess, r.Snapshot, submission.Options{
		MinContentLength:    opts.MinContentLength,
		RedirectPath:        opts.RedirectPath,
		ForcedRedirectDelay: opts.ForcedRedirectDelay,
		Now:                 opts.Now,
		Logger:              deps.Logger,
	})

	return r
}

// Start restores the draft (practice mode only), loads the timer and starts
// the background intervals. Call once.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	if !r.sess.IsExam {
		if err := r.restoreDraft(ctx); err != nil {
			r.log.Warn().Err(err).Msg("Draft not restored")
			r.deps.Host.Warn("Your saved progress could not be loaded.")
		}
	}

	if r.sess.HasTimer() {
		opts := []examtimer.Option{
			examtimer.WithClock(r.opts.Now),
			examtimer.WithLogger(r.deps.Logger),
			examtimer.OnExpire(func() { r.forceSubmit(submission.ReasonTimerExpired) }),
			examtimer.OnTick(func(d time.Duration) { r.deps.Host.Tick(int((d + time.Second - 1) / time.Second)) }),
		}
		if r.opts.TimerTick > 0 {
			opts = append(opts, examtimer.WithTickInterval(r.opts.TimerTick))
		}

		timer, err := examtimer.New(ctx, r.deps.Store, *r.sess.TimerSeconds, r.sess.PagePath, opts...)
		if err != nil {
			r.cancel()
			return fmt.Errorf("start exam timer: %w", err)
		}
		r.timer = timer

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			timer.Run(r.ctx)
		}()
	}

	r.monitor.Start(r.ctx)
	r.scheduler.Start(r.ctx)
	metrics.ActiveSessions.Inc()

	r.log.Info().Msg("Exam session started")
	return nil
}

func (r *Runtime) restoreDraft(ctx context.Context) error {
	draft, err := r.deps.Store.LoadDraft(ctx, r.sess)
	if err != nil {
		return err
	}
	if draft == nil {
		return nil
	}

	restored := model.Attempt{Answers: model.AnswerMap{}, TextContent: draft.TextContent}
	for qid, v := range draft.Answers {
		if r.hasQuestion(qid) {
			restored.Answers[qid] = v
		}
	}

	r.mu.Lock()
	r.attempt = restored
	r.mu.Unlock()
	r.scheduler.Prime(restored, draft.SavedAt)

	r.log.Info().Int("answers", len(restored.Answers)).Msg("Draft restored")
	return nil
}

// Close cancels every interval and waits for the timer goroutine.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancel := r.cancel
	started := r.started
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.monitor.Stop()
	r.scheduler.Stop()
	r.pipeline.Close()
	r.wg.Wait()

	if started {
		metrics.ActiveSessions.Dec()
	}
	r.log.Info().Int("violations", r.Violations()).Msg("Exam session closed")
}

// ─── Answer state ───────────────────────────────────────────────────

// SetAnswer records the answer to one question.
func (r *Runtime) SetAnswer(questionID, value string) error {
	if !r.hasQuestion(questionID) {
		return ErrUnknownQuestion
	}
	if err := r.editable(); err != nil {
		return err
	}
	r.mu.Lock()
	r.attempt.Answers[questionID] = value
	r.mu.Unlock()
	return nil
}

// SetContent replaces the free-text content.
func (r *Runtime) SetContent(text string) error {
	if err := r.editable(); err != nil {
		return err
	}
	r.mu.Lock()
	r.attempt.TextContent = text
	r.mu.Unlock()
	return nil
}

func (r *Runtime) editable() error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if r.pipeline.HandedOff() {
		return submission.ErrHandedOff
	}
	switch r.pipeline.State() {
	case submission.StateSuccess:
		return submission.ErrAlreadySubmitted
	case submission.StateSubmitting:
		return submission.ErrSubmissionInFlight
	}
	return nil
}

// Snapshot returns a copy of the current attempt.
func (r *Runtime) Snapshot() model.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.Attempt{Answers: r.attempt.Answers.Clone(), TextContent: r.attempt.TextContent}
}

func (r *Runtime) hasQuestion(id string) bool {
	for _, q := range r.sess.Questions {
		if q.ID == id {
			return true
		}
	}
	return false
}

// ─── Surface input ──────────────────────────────────────────────────

// EnterFullscreen requests the locked presentation.
func (r *Runtime) EnterFullscreen(ctx context.Context) error {
	return r.monitor.EnterFullscreen(ctx)
}

// RetryFullscreen is the explicit user retry after a denial.
func (r *Runtime) RetryFullscreen(ctx context.Context) error {
	return r.monitor.RetryFullscreen(ctx)
}

// CheckFullscreen re-evaluates fullscreen after the surface reported a change.
func (r *Runtime) CheckFullscreen() {
	r.monitor.CheckFullscreen()
}

// HandleInput classifies one input event.
func (r *Runtime) HandleInput(ev integrity.InputEvent) integrity.Verdict {
	return r.monitor.HandleInput(ev)
}

// SetConnectivity raises a persistent advisory while offline. It never
// blocks submission.
func (r *Runtime) SetConnectivity(online bool) {
	r.mu.Lock()
	changed := r.online != online
	r.online = online
	r.mu.Unlock()

	if !changed {
		return
	}
	r.log.Info().Bool("online", online).Msg("Connectivity changed")
	r.deps.Host.Advisory("offline", !online)
}

// Online reports the last known connectivity.
func (r *Runtime) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// ─── Saving and submitting ──────────────────────────────────────────

// Save is the manual save.
func (r *Runtime) Save(ctx context.Context) (time.Time, error) {
	return r.scheduler.SaveNow(ctx)
}

// Submit is the voluntary submission.
func (r *Runtime) Submit(ctx context.Context) (*submission.Result, error) {
	return r.pipeline.Submit(ctx, submission.Request{})
}

func (r *Runtime) forceSubmit(reason submission.ForceReason) {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	r.log.Warn().Str("reason", string(reason)).Msg("Forcing submission")
	_, err := r.pipeline.Submit(ctx, submission.Request{Forced: true, Reason: reason})
	switch {
	case err == nil:
	case errors.Is(err, submission.ErrForcePending):
		r.log.Info().Str("reason", string(reason)).Msg("Forced submission held until the one in flight settles")
	case errors.Is(err, submission.ErrAlreadySubmitted),
		errors.Is(err, submission.ErrHandedOff):
		r.log.Debug().Err(err).Msg("Forced submission skipped")
	default:
		r.log.Error().Err(err).Msg("Forced submission failed")
	}
}

// ─── Monitor callbacks ──────────────────────────────────────────────

func (r *Runtime) onViolation(ev model.ViolationEvent) {
	r.mu.Lock()
	r.violations++
	count := r.violations
	trip := r.sess.IsExam &&
		r.opts.ViolationThreshold > 0 &&
		count >= r.opts.ViolationThreshold &&
		!r.tripped
	if trip {
		r.tripped = true
	}
	ctx := r.ctx
	r.mu.Unlock()

	if r.deps.Reporter != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		if err := r.deps.Reporter.Report(ctx, r.sess, ev); err != nil {
			r.log.Warn().Err(err).Msg("Violation not reported")
		}
	}

	if trip {
		r.log.Warn().Int("violations", count).Msg("Violation threshold reached")
		r.forceSubmit(submission.ReasonViolationThreshold)
	}
}

func (r *Runtime) onMonitorState(_, to integrity.State) {
	r.deps.Host.MonitorState(to, r.monitor.PermissionDenied())
}

func (r *Runtime) onMonitorError(err error) {
	r.log.Error().Err(err).Msg("Integrity handler error")
	r.deps.Host.Warn("Something went wrong while checking exam rules. The exam continues.")
}

// ─── Accessors ──────────────────────────────────────────────────────

// Violations returns the number of violations seen so far.
func (r *Runtime) Violations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.violations
}

// RemainingSeconds returns the countdown, or -1 without a timer.
func (r *Runtime) RemainingSeconds() int {
	if r.timer == nil {
		return -1
	}
	return r.timer.RemainingSeconds()
}

// Session returns the session context.
func (r *Runtime) Session() model.ExamSession { return r.sess }

// MonitorState returns the integrity state and the sticky denial flag.
func (r *Runtime) MonitorState() (integrity.State, bool) {
	return r.monitor.State(), r.monitor.PermissionDenied()
}

// SubmissionState returns the pipeline state.
func (r *Runtime) SubmissionState() submission.State { return r.pipeline.State() }

// LastSavedAt returns the last draft write, zero when none.
func (r *Runtime) LastSavedAt() time.Time { return r.scheduler.LastSavedAt() }
