package model

import (
	"encoding/json"
)

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

// Question is one item of an assignment's question bank.
type Question struct {
	ID                   string          `json:"id"`
	Text                 string          `json:"question_text"`
	Type                 QuestionType    `json:"question_type"`
	Options              json.RawMessage `json:"options,omitempty"`
	Points               float64         `json:"points"`
	CorrectOptionIndices []int           `json:"correct_option_indices"`
	OrderNum             int             `json:"order_num"`
}

// IsObjective reports whether the question can be auto-graded.
func (q Question) IsObjective() bool {
	return q.Type != QuestionTypeEssay && len(q.CorrectOptionIndices) > 0
}

func (q Question) clone() Question {
	c := q
	if q.Options != nil {
		c.Options = append(json.RawMessage(nil), q.Options...)
	}
	c.CorrectOptionIndices = append([]int(nil), q.CorrectOptionIndices...)
	return c
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID           string          `json:"id"`
	QuestionText string          `json:"question_text"`
	QuestionType QuestionType    `json:"question_type"`
	Options      json.RawMessage `json:"options"`
	Points       float64         `json:"points"`
	OrderNum     int             `json:"order_num"`
}

// ForStudent strips the answer key.
func (q Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:           q.ID,
		QuestionText: q.Text,
		QuestionType: q.Type,
		Options:      q.Options,
		Points:       q.Points,
		OrderNum:     q.OrderNum,
	}
}
