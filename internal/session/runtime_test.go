package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/draftstore"
	"github.com/stemsi/exstem-integrity/internal/integrity"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/submission"
)

type fakeHost struct {
	mu         sync.Mutex
	fullscreen bool
	alerts     []model.ViolationEvent
	warnings   []string
	advisories map[string]bool
	submitted  []submission.Result
	failed     []bool
	redirects  []string
	ticks      int
}

func newFakeHost() *fakeHost { return &fakeHost{advisories: map[string]bool{}} }

func (h *fakeHost) RequestFullscreen(context.Context) error {
	h.mu.Lock()
	h.fullscreen = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) ExitFullscreen(context.Context) error {
	h.mu.Lock()
	h.fullscreen = false
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) IsFullscreen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fullscreen
}

func (h *fakeHost) Geometry() integrity.Geometry      { return integrity.Geometry{} }
func (h *fakeHost) Platform() integrity.Platform      { return integrity.PlatformChromium }
func (h *fakeHost) RequiresPermission() bool          { return false }
func (h *fakeHost) Saved(time.Time)                   {}
func (h *fakeHost) MonitorState(integrity.State, bool) {}

func (h *fakeHost) Alert(ev model.ViolationEvent) {
	h.mu.Lock()
	h.alerts = append(h.alerts, ev)
	h.mu.Unlock()
}

func (h *fakeHost) Warn(msg string) {
	h.mu.Lock()
	h.warnings = append(h.warnings, msg)
	h.mu.Unlock()
}

func (h *fakeHost) Tick(int) {
	h.mu.Lock()
	h.ticks++
	h.mu.Unlock()
}

func (h *fakeHost) Advisory(kind string, active bool) {
	h.mu.Lock()
	h.advisories[kind] = active
	h.mu.Unlock()
}

func (h *fakeHost) Submitted(res submission.Result) {
	h.mu.Lock()
	h.submitted = append(h.submitted, res)
	h.mu.Unlock()
}

func (h *fakeHost) SubmitFailed(_ error, forced bool) {
	h.mu.Lock()
	h.failed = append(h.failed, forced)
	h.mu.Unlock()
}

func (h *fakeHost) Redirect(path string) {
	h.mu.Lock()
	h.redirects = append(h.redirects, path)
	h.mu.Unlock()
}

type fakeAPI struct {
	mu      sync.Mutex
	records []model.SubmissionRecord
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (a *fakeAPI) Submit(_ context.Context, rec model.SubmissionRecord) (string, error) {
	if a.entered != nil {
		close(a.entered)
		a.entered = nil
	}
	if a.gate != nil {
		<-a.gate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	if a.err != nil {
		return "", a.err
	}
	return uuid.NewString(), nil
}

func (a *fakeAPI) snapshot() []model.SubmissionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.SubmissionRecord(nil), a.records...)
}

type fakeReporter struct {
	mu     sync.Mutex
	causes []model.ViolationCause
}

func (r *fakeReporter) Report(_ context.Context, _ model.ExamSession, ev model.ViolationEvent) error {
	r.mu.Lock()
	r.causes = append(r.causes, ev.Cause)
	r.mu.Unlock()
	return nil
}

type harness struct {
	backend  *draftstore.MemoryBackend
	store    *draftstore.Store
	host     *fakeHost
	api      *fakeAPI
	reporter *fakeReporter
}

func newHarness() *harness {
	b := draftstore.NewMemoryBackend()
	return &harness{
		backend:  b,
		store:    draftstore.NewStore(b, "assignment_draft", zerolog.Nop()),
		host:     newFakeHost(),
		api:      &fakeAPI{},
		reporter: &fakeReporter{},
	}
}

func (h *harness) runtime(sess model.ExamSession, opts Options) *Runtime {
	if opts.ForcedRedirectDelay == 0 {
		opts.ForcedRedirectDelay = 10 * time.Millisecond
	}
	if opts.TimerTick == 0 {
		opts.TimerTick = 10 * time.Millisecond
	}
	return NewRuntime(Deps{
		Store:    h.store,
		API:      h.api,
		Reporter: h.reporter,
		Host:     h.host,
		Logger:   zerolog.Nop(),
	}, sess, opts)
}

func examSession(isExam bool, timerSeconds int) model.ExamSession {
	var timer *int
	if timerSeconds > 0 {
		timer = &timerSeconds
	}
	id := uuid.New()
	return model.ExamSession{
		AssignmentID: id,
		UserID:       11,
		IsExam:       isExam,
		TimerSeconds: timer,
		MaxPoints:    50,
		PagePath:     model.ExamPagePath(id, 11),
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMultipleChoice, Points: 10, CorrectOptionIndices: []int{0, 1}},
			{ID: "q2", Type: model.QuestionTypeMultipleChoice, Points: 10, CorrectOptionIndices: []int{3}},
		},
	}
}

func TestRuntime_TimerExpiryForcesSubmission(t *testing.T) {
	h := newHarness()
	h.api.err = errors.New("submission API unreachable")
	sess := examSession(true, 1)
	rt := h.runtime(sess, Options{})

	require.NoError(t, rt.Start(context.Background()))
	defer rt.Close()
	require.NoError(t, rt.EnterFullscreen(context.Background()))
	require.NoError(t, rt.SetAnswer("q1", "0"))

	assert.True(t, h.backend.Has(h.store.TimerKey(sess)), "deadline persisted on start")

	assert.Eventually(t, func() bool { return len(h.api.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)

	rec := h.api.snapshot()[0]
	assert.Equal(t, model.SubmissionStatusStoppedWithCaution, rec.Status)
	assert.Contains(t, rec.Feedback, "time limit")
	assert.Equal(t, "0", rec.Answers["q1"])

	assert.Eventually(t, func() bool {
		return rt.SubmissionState() == submission.StateFailed
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.backend.Has(h.store.DraftKey(sess)))
	assert.False(t, h.backend.Has(h.store.TimerKey(sess)), "timer key cleared despite the failed call")

	// The forced exit still happens after the short delay.
	assert.Eventually(t, func() bool {
		h.host.mu.Lock()
		defer h.host.mu.Unlock()
		return len(h.host.redirects) == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.host.IsFullscreen())
}

func TestRuntime_ViolationThresholdForcesOneSubmission(t *testing.T) {
	h := newHarness()
	rt := h.runtime(examSession(true, 0), Options{ViolationThreshold: 3})
	require.NoError(t, rt.Start(context.Background()))
	defer rt.Close()

	f12 := integrity.InputEvent{Kind: integrity.InputKeyDown, Key: integrity.KeyCombo{Key: "F12"}}
	for i := 0; i < 5; i++ {
		rt.HandleInput(f12)
	}

	records := h.api.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, model.SubmissionStatusStoppedWithCaution, records[0].Status)
	assert.Contains(t, records[0].Feedback, "violation")
	assert.Equal(t, submission.StateSuccess, rt.SubmissionState())

	// The monitor went inert after release, so later input is not counted.
	assert.Equal(t, 3, rt.Violations())
	assert.Len(t, h.reporter.causes, 3)
}

func TestRuntime_ViolationDuringVoluntarySubmitForcesAfterFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.api.gate = make(chan struct{})
	entered := make(chan struct{})
	h.api.entered = entered
	sess := examSession(true, 0)
	rt := h.runtime(sess, Options{ViolationThreshold: 1})
	require.NoError(t, rt.Start(ctx))
	defer rt.Close()
	require.NoError(t, rt.SetAnswer("q1", "0,1"))

	done := make(chan error, 1)
	go func() {
		_, err := rt.Submit(ctx)
		done <- err
	}()
	<-entered

	rt.HandleInput(integrity.InputEvent{Kind: integrity.InputKeyDown, Key: integrity.KeyCombo{Key: "F12"}})
	assert.Equal(t, 1, rt.Violations())

	h.api.mu.Lock()
	h.api.err = errors.New("submission API unreachable")
	h.api.mu.Unlock()
	close(h.api.gate)
	require.Error(t, <-done)

	assert.Equal(t, submission.StateFailed, rt.SubmissionState())
	assert.ErrorIs(t, rt.SetAnswer("q2", "3"), submission.ErrHandedOff)
	assert.True(t, h.backend.Has(h.store.HandOffKey(sess)))

	h.host.mu.Lock()
	assert.Equal(t, []bool{true}, h.host.failed)
	h.host.mu.Unlock()
	assert.Eventually(t, func() bool {
		h.host.mu.Lock()
		defer h.host.mu.Unlock()
		return len(h.host.redirects) == 1
	}, time.Second, 5*time.Millisecond)

	state, _ := rt.MonitorState()
	assert.Equal(t, integrity.StateInert, state)
	assert.Len(t, h.api.snapshot(), 1, "the held request does not call the API again")
}

func TestRuntime_TimersAreIsolatedPerUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	alice := examSession(true, 3600)
	bob := alice
	bob.UserID = 22
	bob.PagePath = model.ExamPagePath(bob.AssignmentID, 22)

	// Alice started 59 minutes ago.
	_, _, err := h.store.LoadOrCreateDeadline(ctx, h.store.TimerKey(alice), time.Now().Add(time.Minute))
	require.NoError(t, err)

	rtBob := h.runtime(bob, Options{})
	require.NoError(t, rtBob.Start(ctx))
	defer rtBob.Close()
	assert.Greater(t, rtBob.RemainingSeconds(), 3500, "a late joiner gets a full window")

	rtAlice := h.runtime(alice, Options{})
	require.NoError(t, rtAlice.Start(ctx))
	defer rtAlice.Close()
	assert.LessOrEqual(t, rtAlice.RemainingSeconds(), 60)

	require.NoError(t, rtAlice.SetAnswer("q1", "0,1"))
	_, err = rtAlice.Submit(ctx)
	require.NoError(t, err)

	assert.False(t, h.backend.Has(h.store.TimerKey(alice)))
	assert.True(t, h.backend.Has(h.store.TimerKey(bob)), "one submit never clears another user's deadline")
}

func TestRuntime_ThresholdDisabledAndPracticeModeNeverForce(t *testing.T) {
	tests := []struct {
		name      string
		isExam    bool
		threshold int
	}{
		{"threshold zero", true, 0},
		{"practice mode", false, 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			rt := h.runtime(examSession(tc.isExam, 0), Options{ViolationThreshold: tc.threshold})
			require.NoError(t, rt.Start(context.Background()))
			defer rt.Close()

			for i := 0; i < 6; i++ {
				rt.HandleInput(integrity.InputEvent{Kind: integrity.InputBlur})
			}
			assert.Empty(t, h.api.snapshot())
		})
	}
}

func TestRuntime_DraftRestoredOnlyInPracticeMode(t *testing.T) {
	ctx := context.Background()

	for _, isExam := range []bool{false, true} {
		h := newHarness()
		sess := examSession(isExam, 0)
		require.NoError(t, h.store.SaveDraft(ctx, h.store.DraftKey(sess), model.DraftRecord{
			Answers:     model.AnswerMap{"q1": "1", "stale": "x"},
			TextContent: "earlier notes",
			SavedAt:     time.Now().Add(-time.Hour),
		}))

		rt := h.runtime(sess, Options{})
		require.NoError(t, rt.Start(ctx))

		snap := rt.Snapshot()
		if isExam {
			assert.Empty(t, snap.Answers, "exam mode never recovers answers")
			assert.Empty(t, snap.TextContent)
		} else {
			assert.Equal(t, model.AnswerMap{"q1": "1"}, snap.Answers)
			assert.Equal(t, "earlier notes", snap.TextContent)
		}
		rt.Close()
	}
}

func TestRuntime_VoluntarySubmitClearsKeys(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	sess := examSession(false, 120)
	rt := h.runtime(sess, Options{})
	require.NoError(t, rt.Start(ctx))
	defer rt.Close()

	require.NoError(t, rt.SetAnswer("q1", "0,1"))
	require.NoError(t, rt.SetAnswer("q2", "2"))
	_, err := rt.Save(ctx)
	require.NoError(t, err)
	assert.True(t, h.backend.Has(h.store.DraftKey(sess)))

	res, err := rt.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionStatusGraded, res.Status)
	assert.InDelta(t, 25.0, res.Grading.Grade, 1e-9)

	assert.False(t, h.backend.Has(h.store.DraftKey(sess)))
	assert.False(t, h.backend.Has(h.store.TimerKey(sess)))

	assert.ErrorIs(t, rt.SetAnswer("q1", "0"), submission.ErrAlreadySubmitted)
	_, err = rt.Save(ctx)
	assert.Error(t, err)
}

func TestRuntime_SetAnswerRejectsUnknownQuestion(t *testing.T) {
	rt := newHarness().runtime(examSession(false, 0), Options{})
	assert.ErrorIs(t, rt.SetAnswer("nope", "1"), ErrUnknownQuestion)
}

func TestRuntime_PanickingEditableDetectorKeepsMonitoring(t *testing.T) {
	reg := integrity.DefaultEditableRegistry()
	reg.Register(integrity.EditableFunc(func(n *integrity.Node) bool {
		if n.HasClass("vendor-editor") {
			panic("vendor widget failed")
		}
		return false
	}))

	h := newHarness()
	rt := h.runtime(examSession(true, 0), Options{Editables: reg})
	require.NoError(t, rt.Start(context.Background()))
	defer rt.Close()

	target := integrity.BuildPath([]integrity.Element{{Tag: "div", Classes: []string{"vendor-editor"}}})
	rt.HandleInput(integrity.InputEvent{Kind: integrity.InputPaste, Target: target})

	v := rt.HandleInput(integrity.InputEvent{Kind: integrity.InputContextMenu, Target: integrity.BuildPath([]integrity.Element{{Tag: "p"}})})
	assert.True(t, v.Prevent)
	assert.Equal(t, model.ViolationContextMenu, v.Cause)
	assert.Equal(t, 2, rt.Violations())

	h.host.mu.Lock()
	defer h.host.mu.Unlock()
	assert.NotEmpty(t, h.host.warnings)
}

func TestRuntime_ConnectivityAdvisory(t *testing.T) {
	h := newHarness()
	rt := h.runtime(examSession(true, 0), Options{})

	rt.SetConnectivity(false)
	assert.True(t, h.host.advisories["offline"])
	assert.False(t, rt.Online())

	rt.SetConnectivity(true)
	assert.False(t, h.host.advisories["offline"])
}

func TestRuntime_CloseStopsTimer(t *testing.T) {
	h := newHarness()
	rt := h.runtime(examSession(true, 3600), Options{})
	require.NoError(t, rt.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		rt.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not stop the timer goroutine")
	}
	assert.ErrorIs(t, rt.SetContent("late"), ErrClosed)
}
