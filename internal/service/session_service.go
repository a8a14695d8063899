package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/autosave"
	"github.com/stemsi/exstem-integrity/internal/draftstore"
	"github.com/stemsi/exstem-integrity/internal/model"
	"github.com/stemsi/exstem-integrity/internal/submission"
)

// SubmissionFinder looks up an existing submission.
type SubmissionFinder interface {
	Find(ctx context.Context, assignmentID uuid.UUID, userID int) (*model.Submission, error)
}

// SessionService answers portal requests about an attempt outside the live
// WebSocket runtime: reload state and manual draft saves over HTTP.
type SessionService struct {
	store            *draftstore.Store
	submissions      SubmissionFinder
	minContentLength int
	now              func() time.Time
	log              zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(store *draftstore.Store, submissions SubmissionFinder, minContentLength int, log zerolog.Logger) *SessionService {
	if minContentLength <= 0 {
		minContentLength = autosave.DefaultMinContentLength
	}
	return &SessionService{
		store:            store,
		submissions:      submissions,
		minContentLength: minContentLength,
		now:              time.Now,
		log:              log.With().Str("component", "session_service").Logger(),
	}
}

// State returns what a reloaded surface needs to resume. It never creates a
// deadline; only a running exam timer does.
func (s *SessionService) State(ctx context.Context, sess model.ExamSession) (*model.SessionState, error) {
	state := &model.SessionState{
		AssignmentID: sess.AssignmentID.String(),
		IsExam:       sess.IsExam,
	}

	sub, err := s.submissions.Find(ctx, sess.AssignmentID, sess.UserID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		state.Submitted = true
		state.Status = sub.Status
		return state, nil
	}

	handedOff, err := s.store.HandedOff(ctx, sess)
	if err != nil {
		return nil, err
	}
	if handedOff {
		return nil, submission.ErrHandedOff
	}

	if deadline, ok, err := s.store.PeekDeadline(ctx, s.store.TimerKey(sess)); err != nil {
		s.log.Warn().Err(err).Msg("Deadline unavailable")
	} else if ok {
		remaining := int((deadline.Sub(s.now()) + time.Second - 1) / time.Second)
		if remaining < 0 {
			remaining = 0
		}
		state.RemainingSeconds = &remaining
	}

	if !sess.IsExam {
		draft, err := s.store.LoadDraft(ctx, sess)
		if err != nil {
			s.log.Warn().Err(err).Msg("Draft unavailable")
		}
		state.Draft = draft
	}
	return state, nil
}

// SaveDraft is the manual save over HTTP. It follows the same rules as the
// runtime's manual save.
func (s *SessionService) SaveDraft(ctx context.Context, sess model.ExamSession, attempt model.Attempt) (time.Time, error) {
	if sess.IsExam {
		return time.Time{}, autosave.ErrExamMode
	}

	known := make(map[string]bool, len(sess.Questions))
	for _, q := range sess.Questions {
		known[q.ID] = true
	}
	filtered := model.Attempt{Answers: model.AnswerMap{}, TextContent: attempt.TextContent}
	for qid, v := range attempt.Answers {
		if known[qid] {
			filtered.Answers[qid] = v
		}
	}
	if !filtered.Meaningful(s.minContentLength) {
		return time.Time{}, autosave.ErrContentTooShort
	}

	sub, err := s.submissions.Find(ctx, sess.AssignmentID, sess.UserID)
	if err != nil {
		return time.Time{}, err
	}
	if sub != nil {
		return time.Time{}, submission.ErrAlreadySubmitted
	}
	if handedOff, err := s.store.HandedOff(ctx, sess); err != nil {
		return time.Time{}, err
	} else if handedOff {
		return time.Time{}, submission.ErrHandedOff
	}

	at := s.now()
	rec := model.DraftRecord{Answers: filtered.Answers, TextContent: filtered.TextContent, SavedAt: at.UTC()}
	if err := s.store.SaveDraft(ctx, s.store.DraftKey(sess), rec); err != nil {
		return time.Time{}, err
	}
	return at, nil
}
