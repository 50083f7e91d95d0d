package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omr-eval/pipeline/internal/models"
)

func TestHappyPathAllMatched(t *testing.T) {
	bubble := &models.BubbleReading{Entries: []models.BubbleEntry{
		{QuestionNumber: 1, DetectedAnswer: "A", Confidence: 0.95},
		{QuestionNumber: 2, DetectedAnswer: "B", Confidence: 0.95},
		{QuestionNumber: 3, DetectedAnswer: "C", Confidence: 0.95},
	}}
	ai := &models.AISolverVerdict{Entries: []models.SolverEntry{
		{QuestionNumber: 1, SolverAnswer: "A"},
		{QuestionNumber: 2, SolverAnswer: "B"},
		{QuestionNumber: 3, SolverAnswer: "C"},
	}}
	manual := &models.ManualEntry{Entries: []models.ManualEntryRecord{
		{QuestionNumber: 1, EnteredAnswer: "A"},
		{QuestionNumber: 2, EnteredAnswer: "B"},
		{QuestionNumber: 3, EnteredAnswer: "C"},
	}}

	res := Reconcile(3, nil, bubble, ai, manual, 0.7)
	require.True(t, res.Totality())
	require.Empty(t, res.Interventions)
	for _, row := range res.Rows {
		require.Equal(t, models.StatusMatched, row.Status)
	}
}

func TestDisputeResolvedInBubblesFavor(t *testing.T) {
	bubble := &models.BubbleReading{Entries: []models.BubbleEntry{{QuestionNumber: 1, DetectedAnswer: "A", Confidence: 0.9}}}
	ai := &models.AISolverVerdict{Entries: []models.SolverEntry{{QuestionNumber: 1, SolverAnswer: "B"}}}
	manual := &models.ManualEntry{Entries: []models.ManualEntryRecord{{QuestionNumber: 1, EnteredAnswer: "A"}}}

	res := Reconcile(1, nil, bubble, ai, manual, 0.7)
	require.Equal(t, models.StatusDisputedAI, res.Rows[0].Status)
	require.Equal(t, models.Answer("A"), res.Rows[0].Final)
	require.Empty(t, res.Interventions)
}

func TestThreeWaySplit(t *testing.T) {
	bubble := &models.BubbleReading{Entries: []models.BubbleEntry{{QuestionNumber: 1, DetectedAnswer: "A", Confidence: 0.95}}}
	ai := &models.AISolverVerdict{Entries: []models.SolverEntry{{QuestionNumber: 1, SolverAnswer: "B"}}}
	manual := &models.ManualEntry{Entries: []models.ManualEntryRecord{{QuestionNumber: 1, EnteredAnswer: "C"}}}

	res := Reconcile(1, nil, bubble, ai, manual, 0.7)
	require.Equal(t, models.StatusThreeWaySplit, res.Rows[0].Status)
	require.Equal(t, models.Answer(""), res.Rows[0].Final)
	require.Len(t, res.Interventions, 1)
	require.Equal(t, models.PriorityHigh, res.Interventions[0].Priority)
}

func TestLowConfidenceForcesReview(t *testing.T) {
	bubble := &models.BubbleReading{Entries: []models.BubbleEntry{{QuestionNumber: 1, DetectedAnswer: "A", Confidence: 0.5}}}
	ai := &models.AISolverVerdict{Entries: []models.SolverEntry{{QuestionNumber: 1, SolverAnswer: "A"}}}
	manual := &models.ManualEntry{Entries: []models.ManualEntryRecord{{QuestionNumber: 1, EnteredAnswer: "A"}}}

	res := Reconcile(1, nil, bubble, ai, manual, 0.7)
	require.Equal(t, models.StatusNeedsReview, res.Rows[0].Status)
	require.Len(t, res.Interventions, 1)
	require.Equal(t, models.PriorityNormal, res.Interventions[0].Priority)
}

func TestReconciliationTotality(t *testing.T) {
	bubble := &models.BubbleReading{Entries: []models.BubbleEntry{
		{QuestionNumber: 1, DetectedAnswer: "A", Confidence: 0.9},
	}}
	res := Reconcile(1, nil, bubble, nil, nil, 0.7)
	require.Len(t, res.Rows, 1)
	require.True(t, res.Totality())
}

func TestMissingBubbleForcesNeedsReview(t *testing.T) {
	res := Reconcile(1, nil, &models.BubbleReading{}, nil, nil, 0.7)
	require.Equal(t, models.StatusNeedsReview, res.Rows[0].Status)
	require.Equal(t, models.Answer(""), res.Rows[0].Final)
}
