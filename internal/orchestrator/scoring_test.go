package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omr-eval/pipeline/internal/models"
)

func testKey(marksEach float64, answers ...models.Answer) *models.AnswerKey {
	entries := make([]models.AnswerKeyEntry, len(answers))
	for i, a := range answers {
		entries[i] = models.AnswerKeyEntry{QuestionNumber: i + 1, ExpectedAnswer: a, Marks: models.NewDecimal(marksEach)}
	}
	return &models.AnswerKey{Entries: entries}
}

func TestScorePerfectTally(t *testing.T) {
	key := testKey(2, "A", "B", "C")
	rows := []models.ReconciliationRow{
		{QuestionNumber: 1, Final: "A", Status: models.StatusMatched},
		{QuestionNumber: 2, Final: "B", Status: models.StatusMatched},
		{QuestionNumber: 3, Final: "D", Status: models.StatusMatched},
	}
	manual := models.NewDecimal(4)
	result := Score(key, rows, &manual, 0.01)

	require.Equal(t, models.NewDecimal(4), result.AutomatedMarks)
	require.True(t, result.MarksMatch)
	require.Equal(t, "B", result.Grade) // 4/6 = 66.7%
}

func TestScoreGradeLadder(t *testing.T) {
	cases := []struct {
		pct   float64
		grade string
	}{
		{95, "A+"}, {85, "A"}, {75, "B+"}, {65, "B"}, {55, "C"}, {45, "D"}, {10, "F"},
	}
	for _, c := range cases {
		require.Equal(t, c.grade, assignGrade(c.pct))
	}
}

func TestScoreMarksMismatchDetected(t *testing.T) {
	key := testKey(1, "A")
	rows := []models.ReconciliationRow{{QuestionNumber: 1, Final: "A", Status: models.StatusMatched}}
	manual := models.NewDecimal(0)
	result := Score(key, rows, &manual, 0.01)
	require.False(t, result.MarksMatch)
}

func TestScoreNoManualMarksAlwaysMatches(t *testing.T) {
	key := testKey(1, "A")
	rows := []models.ReconciliationRow{{QuestionNumber: 1, Final: "B", Status: models.StatusMatched}}
	result := Score(key, rows, nil, 0.01)
	require.True(t, result.MarksMatch)
	require.Equal(t, models.Decimal{}, result.AutomatedMarks)
}

func TestIsPerfectEvaluationRequiresAllConditions(t *testing.T) {
	bubble := &models.BubbleReading{Entries: []models.BubbleEntry{
		{QuestionNumber: 1, Confidence: 0.9},
		{QuestionNumber: 2, Confidence: 0.9},
	}}
	matched := models.ScoreResult{MarksMatch: true}

	require.True(t, IsPerfectEvaluation(matched, bubble, 0.9, false))
	require.False(t, IsPerfectEvaluation(matched, bubble, 0.9, true), "open intervention should block perfection")
	require.False(t, IsPerfectEvaluation(matched, bubble, 0.5, false), "low quality score should block perfection")

	lowConf := &models.BubbleReading{Entries: []models.BubbleEntry{{QuestionNumber: 1, Confidence: 0.5}}}
	require.False(t, IsPerfectEvaluation(matched, lowConf, 0.9, false), "low bubble confidence should block perfection")

	unmatched := models.ScoreResult{MarksMatch: false}
	require.False(t, IsPerfectEvaluation(unmatched, bubble, 0.9, false))
}
