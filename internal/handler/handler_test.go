package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/autosave"
	"github.com/stemsi/exstem-integrity/internal/middleware"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
	"github.com/stemsi/exstem-integrity/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := validator.Setup(); err != nil {
		panic(err)
	}
}

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeAssignments struct {
	assignments map[uuid.UUID]*model.Assignment
}

func (f *fakeAssignments) Load(_ context.Context, id uuid.UUID, userID int) (model.ExamSession, error) {
	a, ok := f.assignments[id]
	if !ok {
		return model.ExamSession{}, service.ErrAssignmentNotFound
	}
	if len(a.Questions) == 0 {
		return model.ExamSession{}, service.ErrNoQuestions
	}
	return model.NewExamSession(a, userID), nil
}

func (f *fakeAssignments) Paper(_ context.Context, id uuid.UUID) (*model.AssignmentPaper, error) {
	a, ok := f.assignments[id]
	if !ok {
		return nil, service.ErrAssignmentNotFound
	}
	p := a.Paper()
	return &p, nil
}

type fakeSessions struct {
	saveErr  error
	saved    []model.Attempt
	stateErr error
	lastSess model.ExamSession
}

func (f *fakeSessions) State(_ context.Context, sess model.ExamSession) (*model.SessionState, error) {
	f.lastSess = sess
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return &model.SessionState{AssignmentID: sess.AssignmentID.String(), IsExam: sess.IsExam}, nil
}

func (f *fakeSessions) SaveDraft(_ context.Context, sess model.ExamSession, attempt model.Attempt) (time.Time, error) {
	if f.saveErr != nil {
		return time.Time{}, f.saveErr
	}
	if sess.IsExam {
		return time.Time{}, autosave.ErrExamMode
	}
	f.saved = append(f.saved, attempt)
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), nil
}

func testAssignment(isExam bool) *model.Assignment {
	secs := 600
	return &model.Assignment{
		ID:           uuid.New(),
		Title:        "Algebra",
		IsExam:       isExam,
		TimerSeconds: &secs,
		MaxPoints:    100,
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMultipleChoice, Points: 10, Options: json.RawMessage(`["a","b","c"]`), CorrectOptionIndices: []int{1}},
		},
	}
}

// withClaims stands in for the JWT middleware.
func withClaims(userID int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: userID})
		c.Next()
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) response.Response {
	t.Helper()
	body := response.Response{Data: data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
