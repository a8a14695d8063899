// Package grading scores objective (multi-select) questions with partial credit.
//
// Grading is pure: no I/O, no clock, no shared state. A question whose
// selection equals its correct set earns full points. A selection that
// overlaps the correct set earns points * |selected ∩ correct| / |correct|;
// extra wrong selections only withhold full credit, they are not penalised.
// Earned points are rescaled to the assignment's maximum.
package grading

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-integrity/internal/model"
)

// Outcome classifies how a single question was answered.
type Outcome int

const (
	OutcomeIncorrect Outcome = iota
	OutcomePartial
	OutcomeCorrect
)

// QuestionScore is the per-question breakdown.
type QuestionScore struct {
	QuestionID string
	Outcome    Outcome
	Awarded    float64
	Possible   float64
}

// Grade scores answers against questions and rescales to maxPoints.
func Grade(questions []model.Question, answers model.AnswerMap, maxPoints float64) model.GradingResult {
	res, _ := GradeDetailed(questions, answers, maxPoints)
	return res
}

// GradeDetailed is Grade plus the per-question breakdown, in question order.
// Essay questions and questions without a correct set or positive points are
// left out of both the breakdown and the total.
func GradeDetailed(questions []model.Question, answers model.AnswerMap, maxPoints float64) (model.GradingResult, []QuestionScore) {
	var (
		res    model.GradingResult
		scores = make([]QuestionScore, 0, len(questions))
	)

	for _, q := range questions {
		if !q.IsObjective() || q.Points <= 0 || math.IsNaN(q.Points) || math.IsInf(q.Points, 0) {
			continue
		}

		sc := scoreQuestion(q, ParseSelection(answers[q.ID]))
		switch sc.Outcome {
		case OutcomeCorrect:
			res.FullyCorrectCount++
		case OutcomePartial:
			res.PartiallyCorrectCount++
		}
		res.EarnedPoints += sc.Awarded
		res.TotalPoints += sc.Possible
		scores = append(scores, sc)
	}

	res.Grade = rescale(res.EarnedPoints, res.TotalPoints, maxPoints)
	return res, scores
}

func scoreQuestion(q model.Question, selected []int) QuestionScore {
	sc := QuestionScore{QuestionID: q.ID, Possible: q.Points}

	correct := toSet(q.CorrectOptionIndices)
	if len(selected) == 0 {
		return sc
	}

	hits, extras := 0, 0
	for _, idx := range selected {
		if _, ok := correct[idx]; ok {
			hits++
		} else {
			extras++
		}
	}

	switch {
	case hits == len(correct) && extras == 0:
		sc.Outcome = OutcomeCorrect
		sc.Awarded = q.Points
	case hits > 0:
		sc.Outcome = OutcomePartial
		sc.Awarded = q.Points * float64(hits) / float64(len(correct))
	}
	return sc
}

// rescale converts earned/total into the assignment's point scale.
func rescale(earned, total, maxPoints float64) float64 {
	if total <= 0 || maxPoints <= 0 {
		return 0
	}
	grade := earned / total * maxPoints
	grade = math.Round(grade*100) / 100
	return math.Max(0, math.Min(grade, maxPoints))
}

// ParseSelection decodes a comma-joined list of option indices. Blank and
// non-numeric tokens are dropped, duplicates collapsed, output sorted.
func ParseSelection(raw string) []int {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	seen := make(map[int]struct{})
	out := make([]int, 0, 4)
	for _, tok := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil || n < 0 {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// FormatSelection is the inverse of ParseSelection.
func FormatSelection(indices []int) string {
	parts := make([]string, len(indices))
	for i, n := range indices {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func toSet(xs []int) map[int]struct{} {
	m := make(map[int]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}
