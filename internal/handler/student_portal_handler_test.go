package handler

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/draftstore"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/response"
)

type portalFixture struct {
	assignments *fakeAssignments
	sessions    *fakeSessions
	router      *gin.Engine
}

func newPortalFixture(list ...*model.Assignment) *portalFixture {
	f := &portalFixture{
		assignments: &fakeAssignments{assignments: make(map[uuid.UUID]*model.Assignment)},
		sessions:    &fakeSessions{},
	}
	for _, a := range list {
		f.assignments.assignments[a.ID] = a
	}

	h := NewStudentPortalHandler(f.assignments, f.sessions, zerolog.Nop())
	r := gin.New()
	g := r.Group("/api/v1/student", withClaims(7))
	g.GET("/assignments/:assignment_id/paper", h.GetPaper)
	g.GET("/assignments/:assignment_id/state", h.GetState)
	g.PUT("/assignments/:assignment_id/draft", h.SaveDraft)
	f.router = r
	return f
}

func (f *portalFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestGetPaper_HidesAnswerKey(t *testing.T) {
	a := testAssignment(true)
	f := newPortalFixture(a)

	w := f.do(http.MethodGet, "/api/v1/student/assignments/"+a.ID.String()+"/paper", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "correct_option_indices")

	var paper model.AssignmentPaper
	decode(t, w, &paper)
	assert.Equal(t, a.ID, paper.AssignmentID)
	require.Len(t, paper.Questions, 1)
	assert.Equal(t, "q1", paper.Questions[0].ID)
}

func TestGetPaper_Errors(t *testing.T) {
	f := newPortalFixture()

	w := f.do(http.MethodGet, "/api/v1/student/assignments/not-a-uuid/paper", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrInvalidID, decode(t, w, nil).Error.Code)

	w = f.do(http.MethodGet, "/api/v1/student/assignments/"+uuid.NewString()+"/paper", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrNotFound, decode(t, w, nil).Error.Code)
}

func TestGetState_PagePathIsServerDerived(t *testing.T) {
	a := testAssignment(false)
	f := newPortalFixture(a)
	base := "/api/v1/student/assignments/" + a.ID.String() + "/state"
	want := "/assignments/" + a.ID.String() + "/take/7"

	w := f.do(http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, want, f.sessions.lastSess.PagePath)

	var state model.SessionState
	decode(t, w, &state)
	assert.Equal(t, a.ID.String(), state.AssignmentID)

	// A client-supplied page cannot pick a different timer.
	w = f.do(http.MethodGet, base+"?page=/courses/1/quiz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, want, f.sessions.lastSess.PagePath)
}

func TestGetState_NoQuestions(t *testing.T) {
	a := testAssignment(false)
	a.Questions = nil
	f := newPortalFixture(a)

	w := f.do(http.MethodGet, "/api/v1/student/assignments/"+a.ID.String()+"/state", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, response.ErrNoQuestions, decode(t, w, nil).Error.Code)
}

func TestSaveDraft(t *testing.T) {
	practice := testAssignment(false)
	exam := testAssignment(true)
	f := newPortalFixture(practice, exam)

	path := func(a *model.Assignment) string {
		return "/api/v1/student/assignments/" + a.ID.String() + "/draft"
	}

	w := f.do(http.MethodPut, path(practice), `{"answers":{"q1":"1"},"text_content":"working on it"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var saved struct {
		SavedAt string `json:"saved_at"`
	}
	decode(t, w, &saved)
	assert.Equal(t, "2026-03-01T09:00:00Z", saved.SavedAt)
	require.Len(t, f.sessions.saved, 1)
	assert.Equal(t, "1", f.sessions.saved[0].Answers["q1"])

	w = f.do(http.MethodPut, path(exam), `{"answers":{"q1":"1"}}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.ErrExamMode, decode(t, w, nil).Error.Code)

	w = f.do(http.MethodPut, path(practice), `{"answers":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrValidation, decode(t, w, nil).Error.Code)

	f.sessions.saveErr = errors.Join(draftstore.ErrPersistence, errors.New("redis down"))
	w = f.do(http.MethodPut, path(practice), `{"text_content":"a long enough answer"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, response.ErrDraftUnavailable, decode(t, w, nil).Error.Code)
}

func TestSaveDraft_RequiresClaims(t *testing.T) {
	a := testAssignment(false)
	f := newPortalFixture(a)
	h := NewStudentPortalHandler(f.assignments, f.sessions, zerolog.Nop())

	r := gin.New()
	r.PUT("/draft/:assignment_id", h.SaveDraft)
	req := httptest.NewRequest(http.MethodPut, "/draft/"+a.ID.String(), bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
