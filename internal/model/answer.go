package model

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// AnswerMap maps a question ID to the student's answer: comma-joined option
// indices for objective questions, rich text for essays.
type AnswerMap map[string]string

// Clone returns a deep copy.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AnsweredCount returns the number of entries with a non-blank value.
func (m AnswerMap) AnsweredCount() int {
	n := 0
	for _, v := range m {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n
}

// DraftRecord is the persisted projection of an in-progress attempt.
type DraftRecord struct {
	Answers     AnswerMap `json:"answers"`
	TextContent string    `json:"text_content"`
	SavedAt     time.Time `json:"saved_at"`
}

// TimerRecord is the persisted exam deadline.
type TimerRecord struct {
	Deadline time.Time `json:"deadline"`
}

// Attempt is the in-memory answer state of a live session.
type Attempt struct {
	Answers     AnswerMap `json:"answers"`
	TextContent string    `json:"text_content"`
}

var (
	markupRe    = regexp.MustCompile(`<[^>]*>`)
	selectionRe = regexp.MustCompile(`^[0-9][0-9,\s]*$`)
)

// PlainTextLength counts the visible runes of rich text.
func PlainTextLength(s string) int {
	s = markupRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// Meaningful reports whether the attempt is worth persisting or submitting:
// some option was selected, or some text reaches minContent visible runes.
func (a Attempt) Meaningful(minContent int) bool {
	if PlainTextLength(a.TextContent) >= minContent {
		return true
	}
	for _, v := range a.Answers {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if selectionRe.MatchString(v) || PlainTextLength(v) >= minContent {
			return true
		}
	}
	return false
}

// SaveDraftRequest is the body of a manual draft save over HTTP.
type SaveDraftRequest struct {
	Answers     AnswerMap `json:"answers" binding:"max=500,dive,keys,required,qid,endkeys,max=20000"`
	TextContent string    `json:"text_content" binding:"max=200000"`
}

// Attempt converts the request into an attempt snapshot.
func (r SaveDraftRequest) Attempt() Attempt {
	answers := r.Answers.Clone()
	return Attempt{Answers: answers, TextContent: r.TextContent}
}
