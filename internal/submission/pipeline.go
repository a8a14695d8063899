// Package submission is the single path from a submit intent to a confirmed
// remote record. Voluntary and forced submissions share it; Request.Forced
// selects the few places where they differ.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/grading"
	"github.com/stemsi/exstem-integrity/internal/metrics"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// DefaultForcedRedirectDelay is how long a failed forced submission waits
// before leaving the exam surface.
const DefaultForcedRedirectDelay = 3 * time.Second

// State is the pipeline state.
type State string

const (
	StateIdle       State = "IDLE"
	StateSubmitting State = "SUBMITTING"
	StateSuccess    State = "SUCCESS"
	StateFailed     State = "FAILED"
)

// ForceReason names what forced a submission.
type ForceReason string

const (
	ReasonTimerExpired       ForceReason = "timer_expired"
	ReasonViolationThreshold ForceReason = "violation_threshold"
)

var (
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	ErrAlreadySubmitted   = errors.New("assignment already submitted")
	ErrNothingToSubmit    = errors.New("nothing to submit")
	// ErrHandedOff is returned after a failed forced submission was passed to
	// the recovery sink; the attempt is closed for this session.
	ErrHandedOff = errors.New("submission handed off for retry")
	// ErrForcePending is returned when a forced request arrives while a
	// voluntary one is in flight. It runs if the voluntary one does not land.
	ErrForcePending = errors.New("forced submission queued behind the one in flight")
)

// Request is a submit intent.
type Request struct {
	Forced bool
	Reason ForceReason
}

// Result describes a confirmed submission.
type Result struct {
	SubmissionID string                 `json:"submission_id"`
	Status       model.SubmissionStatus `json:"status"`
	Grading      model.GradingResult    `json:"grading"`
	Forced       bool                   `json:"forced"`
	Reason       ForceReason            `json:"reason,omitempty"`
}

// API is the remote submission collaborator.
type API interface {
	Submit(ctx context.Context, rec model.SubmissionRecord) (string, error)
}

// Recovery takes records whose forced submission failed.
type Recovery interface {
	Recover(ctx context.Context, rec model.SubmissionRecord, cause error) error
}

// Scheduler is the auto-save control surface.
type Scheduler interface {
	Suspend()
	Resume()
	Seal()
}

// KeyStore deletes persisted keys and records hand-offs.
type KeyStore interface {
	Purge(ctx context.Context, keys ...string) error
	MarkHandedOff(ctx context.Context, key, reason string) error
}

// Releaser gives up the fullscreen lock.
type Releaser interface {
	Release(ctx context.Context) error
}

// Host receives the pipeline's user-facing outcomes.
type Host interface {
	Submitted(res Result)
	SubmitFailed(err error, forced bool)
	Redirect(path string)
}

// Deps are the collaborators of a Pipeline. Recovery may be nil.
type Deps struct {
	API       API
	Recovery  Recovery
	Scheduler Scheduler
	Store     KeyStore
	Monitor   Releaser
	Host      Host
	// DraftKey and TimerKey must come from the draft store so cleanup
	// removes exactly what the timer and scheduler wrote. TimerKey may be "".
	DraftKey string
	TimerKey string
	// HandOffKey is written when a forced submission goes to recovery.
	HandOffKey string
}

// Options configures a Pipeline.
type Options struct {
	MinContentLength    int
	RedirectPath        string
	ForcedRedirectDelay time.Duration
	Now                 func() time.Time
	Logger              zerolog.Logger
}

// Pipeline is the IDLE → SUBMITTING → {SUCCESS, FAILED} state machine of one
// session.
type Pipeline struct {
	deps     Deps
	session  model.ExamSession
	snapshot func() model.Attempt
	opts     Options
	log      zerolog.Logger

	mu        sync.Mutex
	state     State
	handedOff bool
	pending   *Request
	result    *Result
	redirect  *time.Timer
}

// New creates a pipeline for session.
func New(deps Deps, session model.ExamSession, snapshot func() model.Attempt, opts Options) *Pipeline {
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = 10
	}
	if opts.RedirectPath == "" {
		opts.RedirectPath = "/assignments"
	}
	if opts.ForcedRedirectDelay <= 0 {
		opts.ForcedRedirectDelay = DefaultForcedRedirectDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Pipeline{
		deps:     deps,
		session:  session,
		snapshot: snapshot,
		opts:     opts,
		log: opts.Logger.With().
			Str("component", "submission_pipeline").
			Str("assignment_id", session.AssignmentID.String()).
			Int("user_id", session.UserID).
			Logger(),
		state: StateIdle,
	}
}

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Result returns the confirmed submission, or nil.
func (p *Pipeline) Result() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// HandedOff reports whether a failed forced submission went to recovery.
// The attempt is closed once it has.
func (p *Pipeline) HandedOff() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handedOff
}

// Submit grades the attempt, sends it and cleans up. A second voluntary call
// while one is in flight is rejected. A forced call is held and runs if the
// one in flight does not succeed.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*Result, error) {
	p.mu.Lock()
	switch {
	case p.state == StateSubmitting && req.Forced:
		if p.pending == nil {
			held := req
			p.pending = &held
		}
		p.mu.Unlock()
		return nil, ErrForcePending
	case p.state == StateSubmitting:
		p.mu.Unlock()
		return nil, ErrSubmissionInFlight
	case p.state == StateSuccess:
		p.mu.Unlock()
		return nil, ErrAlreadySubmitted
	case p.handedOff:
		p.mu.Unlock()
		return nil, ErrHandedOff
	}
	p.state = StateSubmitting
	p.mu.Unlock()

	attempt := p.snapshot()
	meaningful := attempt.Meaningful(p.opts.MinContentLength)
	if !req.Forced && !meaningful {
		p.mu.Lock()
		p.state = StateIdle
		forced := p.takePending()
		p.mu.Unlock()
		if forced != nil {
			return p.Submit(ctx, *forced)
		}
		return nil, ErrNothingToSubmit
	}

	grade := grading.Grade(p.session.Questions, attempt.Answers, p.session.MaxPoints)
	rec := p.record(req, attempt, grade, meaningful)
	status := rec.Status

	// No auto-save may land between here and the purge.
	p.deps.Scheduler.Suspend()

	id, err := p.deps.API.Submit(ctx, rec)
	if err != nil {
		p.mu.Lock()
		forced := p.takePending()
		if forced == nil && !req.Forced {
			// Leave SUBMITTING under the same lock so no forced request is
			// held after this point.
			p.state = StateFailed
		}
		p.mu.Unlock()
		if forced != nil {
			// The forced request takes over: same attempt, forced status.
			p.log.Warn().Str("reason", string(forced.Reason)).Msg("Submission failed with a forced request pending")
			req = *forced
			rec = p.record(req, attempt, grade, meaningful)
		}
		return nil, p.fail(ctx, req, rec, err)
	}

	p.deps.Scheduler.Seal()
	cleanupCtx := context.WithoutCancel(ctx)
	p.purge(cleanupCtx)
	if err := p.deps.Monitor.Release(cleanupCtx); err != nil {
		p.log.Warn().Err(err).Msg("Failed to release fullscreen")
	}

	res := &Result{SubmissionID: id, Status: status, Grading: grade, Forced: req.Forced, Reason: req.Reason}
	p.mu.Lock()
	p.state = StateSuccess
	p.result = res
	p.pending = nil
	p.mu.Unlock()

	metrics.SubmissionsTotal.WithLabelValues(string(status), "success").Inc()
	p.log.Info().
		Str("submission_id", id).
		Str("status", string(status)).
		Float64("grade", grade.Grade).
		Bool("forced", req.Forced).
		Msg("Submission confirmed")

	p.deps.Host.Submitted(*res)
	p.deps.Host.Redirect(p.opts.RedirectPath)
	return res, nil
}

func (p *Pipeline) fail(ctx context.Context, req Request, rec model.SubmissionRecord, cause error) error {
	metrics.SubmissionsTotal.WithLabelValues(string(rec.Status), "failure").Inc()

	if !req.Forced {
		// The draft stays, so the user can retry.
		p.deps.Scheduler.Resume()
		p.setState(StateFailed)
		p.log.Warn().Err(cause).Msg("Submission failed")
		p.deps.Host.SubmitFailed(cause, false)
		return fmt.Errorf("submit: %w", cause)
	}

	// Forced: leave the locked surface even without a confirmed record.
	p.deps.Scheduler.Seal()
	cleanupCtx := context.WithoutCancel(ctx)
	p.purge(cleanupCtx)
	if err := p.deps.Monitor.Release(cleanupCtx); err != nil {
		p.log.Warn().Err(err).Msg("Failed to release fullscreen")
	}

	p.log.Error().Err(cause).Str("reason", string(req.Reason)).Msg("Forced submission failed")
	if p.deps.HandOffKey != "" {
		if err := p.deps.Store.MarkHandedOff(cleanupCtx, p.deps.HandOffKey, string(req.Reason)); err != nil {
			p.log.Error().Err(err).Msg("Failed to mark attempt as handed off")
		}
	}
	if p.deps.Recovery != nil {
		if err := p.deps.Recovery.Recover(cleanupCtx, rec, cause); err != nil {
			p.log.Error().Err(err).Msg("Failed to hand submission to recovery")
		}
	}

	p.mu.Lock()
	p.state = StateFailed
	p.handedOff = true
	p.pending = nil
	if p.redirect == nil {
		path := p.opts.RedirectPath
		p.redirect = time.AfterFunc(p.opts.ForcedRedirectDelay, func() { p.deps.Host.Redirect(path) })
	}
	p.mu.Unlock()

	p.deps.Host.SubmitFailed(cause, true)
	return fmt.Errorf("forced submit: %w", cause)
}

// takePending clears and returns the held forced request. Callers hold mu.
func (p *Pipeline) takePending() *Request {
	req := p.pending
	p.pending = nil
	return req
}

func (p *Pipeline) record(req Request, a model.Attempt, grade model.GradingResult, meaningful bool) model.SubmissionRecord {
	return model.NewSubmissionRecord(
		p.session,
		p.opts.Now(),
		p.status(req, a),
		grade.Grade,
		feedback(req, grade, meaningful),
		a.Answers,
		a.TextContent,
	)
}

func (p *Pipeline) purge(ctx context.Context) {
	if err := p.deps.Store.Purge(ctx, p.deps.DraftKey, p.deps.TimerKey); err != nil {
		p.log.Warn().Err(err).Msg("Failed to purge draft and timer")
	}
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Close stops a pending delayed redirect.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.redirect != nil {
		p.redirect.Stop()
	}
}

func (p *Pipeline) status(req Request, a model.Attempt) model.SubmissionStatus {
	switch {
	case req.Forced:
		return model.SubmissionStatusStoppedWithCaution
	case p.session.HasEssay() || model.PlainTextLength(a.TextContent) > 0:
		return model.SubmissionStatusSubmitted
	default:
		return model.SubmissionStatusGraded
	}
}

func feedback(req Request, g model.GradingResult, meaningful bool) string {
	var parts []string

	switch req.Reason {
	case ReasonTimerExpired:
		parts = append(parts, "Automatically submitted: time limit reached")
	case ReasonViolationThreshold:
		parts = append(parts, "Automatically submitted: integrity violation limit reached")
	default:
		if req.Forced {
			parts = append(parts, "Automatically submitted")
		}
	}
	if req.Forced && !meaningful {
		parts = append(parts, "submitted content was below the minimum length")
	}
	if g.TotalPoints > 0 {
		parts = append(parts, fmt.Sprintf("auto-graded: %d fully correct, %d partially correct",
			g.FullyCorrectCount, g.PartiallyCorrectCount))
	}

	s := strings.Join(parts, "; ")
	if s != "" {
		s = strings.ToUpper(s[:1]) + s[1:]
	}
	return s
}
