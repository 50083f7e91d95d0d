package orchestrator

import (
	"github.com/omr-eval/pipeline/internal/models"
)

// Score computes a ScoreResult from a reconciled sheet per §4.4's scoring
// paragraph: per-question marks are the key's marks if final == key's
// expected answer, else zero; automated_marks sums those; marks_match
// tolerates manualMarks within tolerance (or is trivially true when no
// manual marks exist). Grade ladder ported from _assign_grade.
func Score(key *models.AnswerKey, rows []models.ReconciliationRow, manualMarks *models.Decimal, tolerance float64) models.ScoreResult {
	var automated models.Decimal
	var maxMarks models.Decimal
	breakdown := make([]models.QuestionScore, 0, len(rows))

	for _, row := range rows {
		entry, ok := key.EntryFor(row.QuestionNumber)
		if !ok {
			continue
		}
		maxMarks = maxMarks.Add(entry.Marks)

		correct := row.Final != "" && row.Final == entry.ExpectedAnswer
		awarded := models.Decimal{}
		if correct {
			awarded = entry.Marks
		}
		automated = automated.Add(awarded)
		breakdown = append(breakdown, models.QuestionScore{
			QuestionNumber: row.QuestionNumber,
			Awarded:        awarded,
			Correct:        correct,
		})
	}

	marksMatch := true
	if manualMarks != nil {
		diff := automated.Sub(*manualMarks).Abs()
		marksMatch = diff.LessOrEqual(models.NewDecimal(tolerance))
	}

	percentage := 0.0
	if maxMarks.Float64() > 0 {
		percentage = automated.Float64() / maxMarks.Float64() * 100
	}

	return models.ScoreResult{
		AutomatedMarks: automated,
		ManualMarks:    manualMarks,
		MarksMatch:     marksMatch,
		Grade:          assignGrade(percentage),
		Breakdown:      breakdown,
	}
}

// assignGrade ports _assign_grade's percentage ladder.
func assignGrade(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A+"
	case percentage >= 80:
		return "A"
	case percentage >= 70:
		return "B+"
	case percentage >= 60:
		return "B"
	case percentage >= 50:
		return "C"
	case percentage >= 40:
		return "D"
	default:
		return "F"
	}
}

// IsPerfectEvaluation implements the §3 invariant: marks_match true, every
// bubble confidence >= 0.85, quality score >= 0.85, and no open
// intervention references the sheet.
func IsPerfectEvaluation(scoreResult models.ScoreResult, bubble *models.BubbleReading, qualityScore float64, hasOpenIntervention bool) bool {
	if !scoreResult.MarksMatch || hasOpenIntervention || qualityScore < 0.85 {
		return false
	}
	if bubble == nil {
		return false
	}
	for _, e := range bubble.Entries {
		if e.Confidence < 0.85 {
			return false
		}
	}
	return true
}
