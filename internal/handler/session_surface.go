package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/integrity"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/submission"
	ws "github.com/stemsi/exstem-integrity/internal/websocket"
)

// defaultFullscreenPromptTimeout bounds how long a request_fullscreen waits
// for the browser's answer.
const defaultFullscreenPromptTimeout = 30 * time.Second

var errSurfaceClosed = errors.New("exam surface disconnected")

// wsSurface is the browser tab behind one WebSocket, seen as the runtime's
// host. It caches the fullscreen flag and geometry the browser reports and
// turns host callbacks into events.
type wsSurface struct {
	conn               *websocket.Conn
	platform           integrity.Platform
	requiresPermission bool
	promptTimeout      time.Duration
	log                zerolog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	fullscreen bool
	geometry   integrity.Geometry
	pending    chan bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newWSSurface(conn *websocket.Conn, platform integrity.Platform, requiresPermission bool, log zerolog.Logger) *wsSurface {
	return &wsSurface{
		conn:               conn,
		platform:           platform,
		requiresPermission: requiresPermission,
		promptTimeout:      defaultFullscreenPromptTimeout,
		log:                log,
		closed:             make(chan struct{}),
	}
}

// send serializes writes; gorilla/websocket allows a single writer.
func (s *wsSurface) send(v interface{}) {
	select {
	case <-s.closed:
		return
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ws.WriteTyped(s.conn, v); err != nil {
		s.log.Debug().Err(err).Msg("WebSocket write failed")
	}
}

func (s *wsSurface) sendError(msg string, fields map[string]string) {
	s.send(ws.ErrorResponse{Event: ws.EventError, Error: msg, Fields: fields})
}

func (s *wsSurface) shutdown() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// ─── integrity.Surface ──────────────────────────────────────────────

func (s *wsSurface) RequestFullscreen(ctx context.Context) error {
	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return integrity.ErrRequestPending
	}
	ch := make(chan bool, 1)
	s.pending = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.pending == ch {
			s.pending = nil
		}
		s.mu.Unlock()
	}()

	s.send(ws.CommandResponse{Event: ws.EventRequestFullscreen})

	timer := time.NewTimer(s.promptTimeout)
	defer timer.Stop()

	select {
	case granted := <-ch:
		if !granted {
			return integrity.ErrPermissionDenied
		}
		s.mu.Lock()
		s.fullscreen = true
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return errSurfaceClosed
	case <-timer.C:
		// An unanswered prompt counts as a denial.
		return fmt.Errorf("%w: no answer within %s", integrity.ErrPermissionDenied, s.promptTimeout)
	}
}

// resolveFullscreen delivers the browser's answer to a pending request.
func (s *wsSurface) resolveFullscreen(granted bool) {
	s.mu.Lock()
	ch := s.pending
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- granted:
	default:
	}
}

func (s *wsSurface) ExitFullscreen(context.Context) error {
	s.mu.Lock()
	s.fullscreen = false
	s.mu.Unlock()
	s.send(ws.CommandResponse{Event: ws.EventExitFullscreen})
	return nil
}

func (s *wsSurface) IsFullscreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullscreen
}

func (s *wsSurface) setFullscreen(on bool) {
	s.mu.Lock()
	s.fullscreen = on
	s.mu.Unlock()
}

func (s *wsSurface) Geometry() integrity.Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry
}

func (s *wsSurface) setGeometry(g integrity.Geometry) {
	s.mu.Lock()
	s.geometry = g
	s.mu.Unlock()
}

func (s *wsSurface) Platform() integrity.Platform { return s.platform }

func (s *wsSurface) RequiresPermission() bool { return s.requiresPermission }

// ─── session.Host ───────────────────────────────────────────────────

func (s *wsSurface) Alert(ev model.ViolationEvent) {
	s.send(ws.AlertResponse{Event: ws.EventAlert, Cause: ev.Cause, Detail: ev.Detail, OccurredAt: ev.OccurredAt})
}

func (s *wsSurface) Warn(msg string) {
	s.send(ws.WarningResponse{Event: ws.EventWarning, Message: msg})
}

func (s *wsSurface) Saved(at time.Time) {
	s.send(ws.SavedResponse{Event: ws.EventSaved, SavedAt: at.UTC()})
}

func (s *wsSurface) Tick(remainingSeconds int) {
	s.send(ws.TickResponse{Event: ws.EventTick, RemainingSeconds: remainingSeconds})
}

func (s *wsSurface) MonitorState(state integrity.State, permissionDenied bool) {
	s.send(ws.MonitorStateResponse{Event: ws.EventMonitorState, State: state, PermissionDenied: permissionDenied})
}

func (s *wsSurface) Advisory(kind string, active bool) {
	s.send(ws.AdvisoryResponse{Event: ws.EventAdvisory, Kind: kind, Active: active})
}

func (s *wsSurface) Submitted(res submission.Result) {
	s.send(ws.SubmittedResponse{Event: ws.EventSubmitted, Result: res})
}

func (s *wsSurface) SubmitFailed(_ error, forced bool) {
	msg := "Submission failed. Your answers are still here, please try again."
	if forced {
		msg = "Automatic submission could not be confirmed. Your answers were kept and will be sent again."
	}
	s.send(ws.SubmitFailedResponse{Event: ws.EventSubmitFailed, Message: msg, Forced: forced})
}

func (s *wsSurface) Redirect(path string) {
	s.send(ws.RedirectResponse{Event: ws.EventRedirect, Path: path})
}
