// Package reconcile implements the three-way reconciliation engine (C4): a
// pure function set with no external dependency, since its job is a
// deterministic comparison over already-loaded domain values. Rule-for-
// rule port of the precedence table, cross-checked against the original
// evaluation_service.py's verify_marks_tally/analyze_discrepancy for the
// tolerance and low-confidence-escalation ideas.
package reconcile

import (
	"github.com/omr-eval/pipeline/internal/models"
)

// InterventionRequest describes one intervention the orchestrator should
// open as a consequence of reconciling a question.
type InterventionRequest struct {
	QuestionNumber int
	ReasonKind     string
	Priority       models.InterventionPriority
}

// Result is the full per-sheet reconciliation outcome.
type Result struct {
	Rows          []models.ReconciliationRow
	Interventions []InterventionRequest
}

// Reconcile computes the per-question reconciliation tuple for every
// question 1..totalQuestions, applying the precedence rules of the
// reconciliation engine. ai and manual may be nil (neither, either, or
// both sources may be absent for a given sheet).
func Reconcile(totalQuestions int, key *models.AnswerKey, bubble *models.BubbleReading, ai *models.AISolverVerdict, manual *models.ManualEntry, lowConfidenceThreshold float64) Result {
	var res Result
	for q := 1; q <= totalQuestions; q++ {
		row, interv := reconcileQuestion(q, bubble, ai, manual, lowConfidenceThreshold)
		res.Rows = append(res.Rows, row)
		if interv != nil {
			res.Interventions = append(res.Interventions, *interv)
		}
	}
	return res
}

func reconcileQuestion(q int, bubble *models.BubbleReading, ai *models.AISolverVerdict, manual *models.ManualEntry, lowConfidenceThreshold float64) (models.ReconciliationRow, *InterventionRequest) {
	row := models.ReconciliationRow{QuestionNumber: q}

	b, hasB := entryFor(bubble, q)
	if !hasB {
		row.Status = models.StatusNeedsReview
		return row, &InterventionRequest{QuestionNumber: q, ReasonKind: "missing_bubble_reading", Priority: models.PriorityNormal}
	}
	row.OMR = b.DetectedAnswer

	aEntry, hasA := aiEntryFor(ai, q)
	mEntry, hasM := manualEntryFor(manual, q)
	if hasA {
		row.AI = aEntry.SolverAnswer
	}
	if hasM {
		row.Manual = mEntry.EnteredAnswer
	}

	switch {
	case !hasA && !hasM:
		// Bubble alone cannot confirm a result; reconciliation requires at
		// least two sources, one of which must be the bubble.
		row.Status = models.StatusNeedsReview
		return row, &InterventionRequest{QuestionNumber: q, ReasonKind: "single_source_only", Priority: models.PriorityNormal}

	case hasA && hasM:
		switch {
		case b.DetectedAnswer == aEntry.SolverAnswer && aEntry.SolverAnswer == mEntry.EnteredAnswer:
			row.Status = models.StatusMatched
			row.Final = b.DetectedAnswer
		case b.DetectedAnswer == mEntry.EnteredAnswer && mEntry.EnteredAnswer != aEntry.SolverAnswer:
			row.Status = models.StatusDisputedAI
			row.Final = b.DetectedAnswer
		case b.DetectedAnswer == aEntry.SolverAnswer && aEntry.SolverAnswer != mEntry.EnteredAnswer:
			row.Status = models.StatusDisputedManual
			row.Final = b.DetectedAnswer
			// Final is decided, but a human-overridden manual entry still
			// surfaces for review per the engine's explicit policy.
			row = forceLowConfidence(row, b, lowConfidenceThreshold)
			return row, &InterventionRequest{QuestionNumber: q, ReasonKind: "manual_entry_disputed", Priority: models.PriorityNormal}
		default:
			row.Status = models.StatusThreeWaySplit
			row.Final = ""
			row = forceLowConfidence(row, b, lowConfidenceThreshold)
			return row, &InterventionRequest{QuestionNumber: q, ReasonKind: "three_way_split", Priority: models.PriorityHigh}
		}

	case hasA && !hasM:
		if b.DetectedAnswer == aEntry.SolverAnswer {
			row.Status = models.StatusMatched
			row.Final = b.DetectedAnswer
		} else {
			row.Status = models.StatusNeedsReview
			row = forceLowConfidence(row, b, lowConfidenceThreshold)
			return row, &InterventionRequest{QuestionNumber: q, ReasonKind: "two_source_disagreement", Priority: models.PriorityNormal}
		}

	case hasM && !hasA:
		if b.DetectedAnswer == mEntry.EnteredAnswer {
			row.Status = models.StatusMatched
			row.Final = b.DetectedAnswer
		} else {
			row.Status = models.StatusNeedsReview
			row = forceLowConfidence(row, b, lowConfidenceThreshold)
			return row, &InterventionRequest{QuestionNumber: q, ReasonKind: "two_source_disagreement", Priority: models.PriorityNormal}
		}
	}

	if b.Confidence < lowConfidenceThreshold && (row.Status == models.StatusMatched || row.Status == models.StatusDisputedAI) {
		row.Status = models.StatusNeedsReview
		row.Final = ""
		return row, &InterventionRequest{QuestionNumber: q, ReasonKind: "low_confidence", Priority: models.PriorityNormal}
	}

	return row, nil
}

// forceLowConfidence applies the low-confidence-forces-review rule on top
// of an already-decided status, per the precedence table's final bullet.
func forceLowConfidence(row models.ReconciliationRow, b models.BubbleEntry, threshold float64) models.ReconciliationRow {
	if b.Confidence < threshold {
		row.Status = models.StatusNeedsReview
		row.Final = ""
	}
	return row
}

func entryFor(b *models.BubbleReading, q int) (models.BubbleEntry, bool) {
	if b == nil {
		return models.BubbleEntry{}, false
	}
	return b.EntryFor(q)
}

func aiEntryFor(a *models.AISolverVerdict, q int) (models.SolverEntry, bool) {
	if a == nil {
		return models.SolverEntry{}, false
	}
	return a.EntryFor(q)
}

func manualEntryFor(m *models.ManualEntry, q int) (models.ManualEntryRecord, bool) {
	if m == nil {
		return models.ManualEntryRecord{}, false
	}
	for _, e := range m.Entries {
		if e.QuestionNumber == q {
			return e, true
		}
	}
	return models.ManualEntryRecord{}, false
}

// Totality checks that, in every row of res, Final is populated iff status
// is matched or resolved, per the reconciliation-totality testable
// property. It does not check the number of rows.
func (res Result) Totality() bool {
	for _, row := range res.Rows {
		hasFinal := row.Final != ""
		wantFinal := row.Status == models.StatusMatched || row.Status == models.StatusResolved
		if hasFinal != wantFinal {
			return false
		}
	}
	return true
}
