package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/draftstore"
	"github.com/stemsi/exstem-integrity/internal/integrity"
	"github.com/stemsi/exstem-integrity/internal/middleware"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
	"github.com/stemsi/exstem-integrity/internal/session"
	"github.com/stemsi/exstem-integrity/internal/submission"
	"github.com/stemsi/exstem-integrity/internal/validator"
	ws "github.com/stemsi/exstem-integrity/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// AssignmentLoader resolves the session context of a user and assignment.
type AssignmentLoader interface {
	Load(ctx context.Context, id uuid.UUID, userID int) (model.ExamSession, error)
}

// SessionHandler hosts live exam sessions over WebSocket. Each connection
// owns one session.Runtime; the browser tab is its surface.
type SessionHandler struct {
	loader      AssignmentLoader
	submissions service.SubmissionFinder
	store       *draftstore.Store
	api         submission.API
	recovery    submission.Recovery
	reporter    session.ViolationReporter
	opts        session.Options
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	loader AssignmentLoader,
	submissions service.SubmissionFinder,
	store *draftstore.Store,
	api submission.API,
	recovery submission.Recovery,
	reporter session.ViolationReporter,
	opts session.Options,
	log zerolog.Logger,
	allowedOrigins []string,
) *SessionHandler {
	return &SessionHandler{
		loader:      loader,
		submissions: submissions,
		store:       store,
		api:         api,
		recovery:    recovery,
		reporter:    reporter,
		opts:        opts,
		log:         log.With().Str("component", "session_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// Stream godoc
// WS /ws/v1/student/assignments/:assignment_id/session?token=&platform=&permission=
// Upgrades to WebSocket and runs one exam attempt until the socket closes.
func (h *SessionHandler) Stream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assignmentID, err := uuid.Parse(c.Param("assignment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	platform := integrity.ParsePlatform(c.Query("platform"))
	requiresPermission, err := strconv.ParseBool(c.DefaultQuery("permission", "true"))
	if err != nil {
		requiresPermission = true
	}

	// Everything that can be refused is refused before the upgrade, so the
	// client gets a normal error envelope.
	ctx := c.Request.Context()
	sess, err := h.loader.Load(ctx, assignmentID, claims.UserID)
	if err != nil {
		status, code := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("assignment_id", assignmentID.String()).Msg("Failed to load assignment")
		}
		response.Fail(c, status, code)
		return
	}

	existing, err := h.submissions.Find(ctx, assignmentID, claims.UserID)
	if err != nil {
		h.log.Warn().Err(err).Str("assignment_id", assignmentID.String()).Msg("Submission lookup failed, continuing")
	} else if existing != nil {
		response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
		return
	}

	// A forced submission waiting in the retry queue closes the attempt
	// even though no submission row exists yet.
	handedOff, err := h.store.HandedOff(ctx, sess)
	if err != nil {
		h.log.Warn().Err(err).Str("assignment_id", assignmentID.String()).Msg("Hand-off lookup failed, continuing")
	} else if handedOff {
		response.Fail(c, http.StatusConflict, response.ErrSubmissionPending)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("assignment_id", assignmentID.String()).
		Str("platform", string(platform)).
		Logger()

	surface := newWSSurface(conn, platform, requiresPermission, wsLog)
	rt := session.NewRuntime(session.Deps{
		Store:    h.store,
		API:      h.api,
		Recovery: h.recovery,
		Reporter: h.reporter,
		Host:     surface,
		Logger:   h.log,
	}, sess, h.opts)

	// The request context ends with the hijacked handler; the runtime lives
	// for the socket instead.
	runCtx, cancel := context.WithCancel(context.Background())
	var fullscreenWG sync.WaitGroup
	defer func() {
		surface.shutdown()
		cancel()
		fullscreenWG.Wait()
		rt.Close()
	}()

	if err := rt.Start(runCtx); err != nil {
		wsLog.Error().Err(err).Msg("Failed to start session")
		surface.sendError(response.GetMessage(response.ErrInternal), nil)
		return
	}
	surface.send(sessionResponse(rt))

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			// A truncated JSON frame decodes to io.ErrUnexpectedEOF; the
			// socket itself is still fine.
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
				surface.sendError(response.GetMessage(response.ErrInvalidPayload), nil)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		if fields := validator.Struct(&msg); fields != nil {
			surface.sendError(response.GetMessage(response.ErrValidation), fields)
			continue
		}

		switch msg.Action {
		case ws.ActionInput:
			v := rt.HandleInput(integrity.InputEvent{
				Kind:   msg.Kind,
				Key:    msg.Key,
				Target: integrity.BuildPath(msg.Path),
				Hidden: msg.Hidden,
			})
			surface.send(ws.VerdictResponse{Event: ws.EventVerdict, Seq: msg.Seq, Prevent: v.Prevent, Cause: v.Cause})

		case ws.ActionAnswer:
			h.reportError(surface, rt.SetAnswer(msg.QID, msg.Answer))

		case ws.ActionContent:
			h.reportError(surface, rt.SetContent(msg.Content))

		case ws.ActionSave:
			// Success is announced by the scheduler's saved event.
			_, err := rt.Save(runCtx)
			h.reportError(surface, err)

		case ws.ActionSubmit:
			h.handleSubmit(runCtx, surface, rt, wsLog)

		case ws.ActionEnterFullscreen, ws.ActionRetryFullscreen:
			// The browser answers on this read loop, so the request must not
			// block it.
			request := rt.EnterFullscreen
			if msg.Action == ws.ActionRetryFullscreen {
				request = rt.RetryFullscreen
			}
			fullscreenWG.Add(1)
			go func() {
				defer fullscreenWG.Done()
				if err := request(runCtx); err != nil && !errors.Is(err, integrity.ErrPermissionDenied) {
					wsLog.Debug().Err(err).Msg("Fullscreen request ended")
				}
			}()

		case ws.ActionFullscreenResult:
			surface.resolveFullscreen(msg.Granted)

		case ws.ActionFullscreenChange:
			surface.setFullscreen(msg.Fullscreen)
			rt.CheckFullscreen()

		case ws.ActionGeometry:
			surface.setGeometry(*msg.Geometry)
			rt.CheckFullscreen()

		case ws.ActionConnectivity:
			rt.SetConnectivity(msg.Online)

		case ws.ActionPing:
			surface.send(ws.PongResponse{Event: ws.EventPong})
		}
	}

	wsLog.Info().
		Int("violations", rt.Violations()).
		Str("submission_state", string(rt.SubmissionState())).
		Msg("Student disconnected")
}

// handleSubmit runs the voluntary submission. Transport failures already
// reached the client as submit_failed; only refusals are reported here.
func (h *SessionHandler) handleSubmit(ctx context.Context, surface *wsSurface, rt *session.Runtime, log zerolog.Logger) {
	_, err := rt.Submit(ctx)
	switch {
	case err == nil:
	case errors.Is(err, submission.ErrNothingToSubmit),
		errors.Is(err, submission.ErrSubmissionInFlight),
		errors.Is(err, submission.ErrAlreadySubmitted),
		errors.Is(err, submission.ErrHandedOff):
		h.reportError(surface, err)
	default:
		log.Warn().Err(err).Msg("Submit action failed")
	}
}

func (h *SessionHandler) reportError(surface *wsSurface, err error) {
	if err == nil {
		return
	}
	_, code := statusFor(err)
	if code == response.ErrInternal {
		h.log.Error().Err(err).Msg("Session action failed")
	}
	surface.sendError(response.GetMessage(code), nil)
}

func sessionResponse(rt *session.Runtime) ws.SessionResponse {
	snap := rt.Snapshot()
	state, _ := rt.MonitorState()
	resp := ws.SessionResponse{
		Event:        ws.EventSession,
		IsExam:       rt.Session().IsExam,
		Answers:      snap.Answers,
		TextContent:  snap.TextContent,
		MonitorState: state,
	}
	if secs := rt.RemainingSeconds(); secs >= 0 {
		resp.RemainingSeconds = &secs
	}
	if at := rt.LastSavedAt(); !at.IsZero() {
		at = at.UTC()
		resp.LastSavedAt = &at
	}
	return resp
}
