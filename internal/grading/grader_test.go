package grading

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exstem-integrity/internal/model"
)

func mcq(id string, points float64, correct ...int) model.Question {
	return model.Question{
		ID:                   id,
		Type:                 model.QuestionTypeMultipleChoice,
		Points:               points,
		CorrectOptionIndices: correct,
	}
}

func TestGrade_PartialCreditScenario(t *testing.T) {
	questions := []model.Question{
		mcq("q1", 10, 0, 1),
		mcq("q2", 10, 0, 1),
		mcq("q3", 10, 0, 1),
		mcq("q4", 10, 0, 1),
	}
	answers := model.AnswerMap{"q1": "0,1", "q2": "0", "q3": "2", "q4": ""}

	got := Grade(questions, answers, 100)

	assert.Equal(t, 1, got.FullyCorrectCount)
	assert.Equal(t, 1, got.PartiallyCorrectCount)
	assert.InDelta(t, 15.0, got.EarnedPoints, 1e-9)
	assert.InDelta(t, 40.0, got.TotalPoints, 1e-9)
	assert.InDelta(t, 37.5, got.Grade, 1e-9)
}

func TestGrade_EmptyAnswerMap(t *testing.T) {
	questions := []model.Question{mcq("q1", 5, 2), mcq("q2", 5, 0, 3)}

	assert.Equal(t, 0.0, Grade(questions, model.AnswerMap{}, 100).Grade)
	assert.Equal(t, 0.0, Grade(questions, nil, 100).Grade)
}

func TestGrade_NoGradableQuestions(t *testing.T) {
	essay := model.Question{ID: "e1", Type: model.QuestionTypeEssay, Points: 20}
	noKey := mcq("q1", 10)
	zeroPoints := mcq("q2", 0, 1)

	got := Grade([]model.Question{essay, noKey, zeroPoints}, model.AnswerMap{"q2": "1", "e1": "text"}, 100)
	assert.Equal(t, 0.0, got.Grade)
	assert.Equal(t, 0.0, got.TotalPoints)
}

func TestGrade_RescalesToMaxPoints(t *testing.T) {
	questions := []model.Question{mcq("q1", 3, 0), mcq("q2", 1, 1)}
	answers := model.AnswerMap{"q1": "0"}

	tests := []struct {
		maxPoints float64
		want      float64
	}{
		{100, 75},
		{20, 15},
		{10, 7.5},
		{0, 0},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("max=%v", tc.maxPoints), func(t *testing.T) {
			assert.InDelta(t, tc.want, Grade(questions, answers, tc.maxPoints).Grade, 1e-9)
		})
	}
}

func TestGrade_ExtraSelectionsWithholdFullCredit(t *testing.T) {
	questions := []model.Question{mcq("q1", 10, 0, 1)}

	tests := []struct {
		name    string
		answer  string
		want    float64
		outcome Outcome
	}{
		{"exact", "1,0", 100, OutcomeCorrect},
		{"exact with duplicates and spaces", " 0, 1 ,1", 100, OutcomeCorrect},
		{"all correct plus extra", "0,1,2", 100 * 2.0 / 2.0, OutcomePartial},
		{"one correct plus extra", "0,3", 50, OutcomePartial},
		{"only wrong", "2,3", 0, OutcomeIncorrect},
		{"garbage", "a,b", 0, OutcomeIncorrect},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, scores := GradeDetailed(questions, model.AnswerMap{"q1": tc.answer}, 100)
			assert.InDelta(t, tc.want, res.Grade, 1e-9)
			if assert.Len(t, scores, 1) {
				assert.Equal(t, tc.outcome, scores[0].Outcome)
			}
		})
	}
}

func TestGrade_MonotonicInIntersection(t *testing.T) {
	correct := []int{0, 2, 4, 6}
	questions := []model.Question{mcq("q1", 8, correct...)}

	// Fixed wrong extra, growing number of correct hits.
	prev := -1.0
	for hits := 0; hits <= len(correct); hits++ {
		sel := append([]int{5}, correct[:hits]...)
		g := Grade(questions, model.AnswerMap{"q1": FormatSelection(sel)}, 100).Grade
		assert.GreaterOrEqual(t, g, prev, "hits=%d", hits)
		prev = g
	}

	// Without the extra, hitting every option is the maximum.
	full := Grade(questions, model.AnswerMap{"q1": FormatSelection(correct)}, 100).Grade
	assert.GreaterOrEqual(t, full, prev)
	assert.Equal(t, 100.0, full)
}

func TestGrade_NeverExceedsMaxPoints(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(8)
		questions := make([]model.Question, n)
		answers := model.AnswerMap{}
		for j := range questions {
			id := fmt.Sprintf("q%d", j)
			var correct []int
			for k := 0; k < 5; k++ {
				if rng.Intn(2) == 0 {
					correct = append(correct, k)
				}
			}
			questions[j] = mcq(id, float64(rng.Intn(20)), correct...)

			var sel []int
			for k := 0; k < 6; k++ {
				if rng.Intn(2) == 0 {
					sel = append(sel, k)
				}
			}
			answers[id] = FormatSelection(sel)
		}
		maxPoints := float64(rng.Intn(150))

		got := Grade(questions, answers, maxPoints)
		assert.LessOrEqual(t, got.Grade, maxPoints)
		assert.GreaterOrEqual(t, got.Grade, 0.0)
		assert.LessOrEqual(t, got.EarnedPoints, got.TotalPoints)
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		raw  string
		want []int
	}{
		{"", nil},
		{"   ", nil},
		{"0", []int{0}},
		{"2,0,1", []int{0, 1, 2}},
		{"1, 1 ,3", []int{1, 3}},
		{"1,,x,-2,4", []int{1, 4}},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got := ParseSelection(tc.raw)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}
