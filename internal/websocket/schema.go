package websocket

import (
	"time"

	"github.com/stemsi/exstem-integrity/internal/integrity"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/submission"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionInput            Action = "input"
	ActionAnswer           Action = "answer"
	ActionContent          Action = "content"
	ActionSave             Action = "save"
	ActionSubmit           Action = "submit"
	ActionEnterFullscreen  Action = "enter_fullscreen"
	ActionRetryFullscreen  Action = "retry_fullscreen"
	ActionFullscreenResult Action = "fullscreen_result"
	ActionFullscreenChange Action = "fullscreen_change"
	ActionGeometry         Action = "geometry"
	ActionConnectivity     Action = "connectivity"
	ActionPing             Action = "ping"
)

// RequestPayload is every client message. Only the fields of its action are
// read.
type RequestPayload struct {
	Action Action `json:"action" binding:"required,oneof=input answer content save submit enter_fullscreen retry_fullscreen fullscreen_result fullscreen_change geometry connectivity ping"`

	// input
	Seq    int64               `json:"seq,omitempty"`
	Kind   integrity.InputKind `json:"kind,omitempty" binding:"required_if=Action input"`
	Key    integrity.KeyCombo  `json:"key"`
	Path   []integrity.Element `json:"path,omitempty" binding:"max=64"`
	Hidden bool                `json:"hidden,omitempty"`

	// answer, content
	QID     string `json:"q_id,omitempty" binding:"required_if=Action answer,qid"`
	Answer  string `json:"ans,omitempty" binding:"max=20000"`
	Content string `json:"content,omitempty" binding:"max=200000"`

	// fullscreen_result, fullscreen_change, geometry, connectivity
	Granted    bool                `json:"granted,omitempty"`
	Fullscreen bool                `json:"fullscreen,omitempty"`
	Geometry   *integrity.Geometry `json:"geometry,omitempty" binding:"required_if=Action geometry"`
	Online     bool                `json:"online,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSession           Event = "session"
	EventVerdict           Event = "verdict"
	EventAlert             Event = "alert"
	EventWarning           Event = "warning"
	EventSaved             Event = "saved"
	EventTick              Event = "tick"
	EventMonitorState      Event = "monitor_state"
	EventAdvisory          Event = "advisory"
	EventSubmitted         Event = "submitted"
	EventSubmitFailed      Event = "submit_failed"
	EventRedirect          Event = "redirect"
	EventRequestFullscreen Event = "request_fullscreen"
	EventExitFullscreen    Event = "exit_fullscreen"
	EventError             Event = "error"
	EventPong              Event = "pong"
)

// SessionResponse is sent once after the runtime started.
type SessionResponse struct {
	Event            Event           `json:"event"`
	IsExam           bool            `json:"is_exam"`
	RemainingSeconds *int            `json:"remaining_seconds,omitempty"`
	Answers          model.AnswerMap `json:"answers"`
	TextContent      string          `json:"text_content"`
	LastSavedAt      *time.Time      `json:"last_saved_at,omitempty"`
	MonitorState     integrity.State `json:"monitor_state"`
}

// VerdictResponse answers an input action with the same Seq.
type VerdictResponse struct {
	Event   Event                `json:"event"`
	Seq     int64                `json:"seq"`
	Prevent bool                 `json:"prevent"`
	Cause   model.ViolationCause `json:"cause,omitempty"`
}

type AlertResponse struct {
	Event      Event                `json:"event"`
	Cause      model.ViolationCause `json:"cause"`
	Detail     string               `json:"detail,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

type WarningResponse struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

type SavedResponse struct {
	Event   Event     `json:"event"`
	SavedAt time.Time `json:"saved_at"`
}

type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

type MonitorStateResponse struct {
	Event            Event           `json:"event"`
	State            integrity.State `json:"state"`
	PermissionDenied bool            `json:"permission_denied"`
}

type AdvisoryResponse struct {
	Event  Event  `json:"event"`
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
}

type SubmittedResponse struct {
	Event  Event             `json:"event"`
	Result submission.Result `json:"result"`
}

type SubmitFailedResponse struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
	Forced  bool   `json:"forced"`
}

type RedirectResponse struct {
	Event Event  `json:"event"`
	Path  string `json:"path"`
}

// CommandResponse carries a bare command such as request_fullscreen.
type CommandResponse struct {
	Event Event `json:"event"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
