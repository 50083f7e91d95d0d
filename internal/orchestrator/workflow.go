package orchestrator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/omr-eval/pipeline/internal/apperrors"
	"github.com/omr-eval/pipeline/internal/ledger"
	"github.com/omr-eval/pipeline/internal/models"
	"github.com/omr-eval/pipeline/internal/reconcile"
)

// AISolve independently solves every question on a sheet's paper via the
// solve adapter, honoring orchestrator.ai_solve_mode: "all" solves every
// question, "low_confidence_only" solves only questions whose bubble
// reading fell under the reconciliation engine's low-confidence threshold,
// and "none" skips the stage (reconciliation then runs bubble-vs-manual
// only). Per-question calls run concurrently under an errgroup, bounded by
// the shared worker semaphore.
func (o *Orchestrator) AISolve(ctx context.Context, sheetID string, paper *models.QuestionPaper, questionText func(q int) string) (*models.Sheet, StageOutcome) {
	mu := o.locks.lock(sheetID)
	defer mu.Unlock()

	sheet, err := o.store.GetSheet(sheetID)
	if err != nil {
		return nil, fromErr("load_sheet", err)
	}
	if sheet.Stage != models.StageBubblesRead {
		return sheet, preconditionFailed("not_bubbles_read", apperrors.Newf(apperrors.KindPreconditionFailed,
			"sheet %s is at stage %s, expected BUBBLES_READ", sheetID, sheet.Stage))
	}
	if o.cfg.AISolveMode == "none" {
		sheet.Stage = models.StageAISolved
		if err := o.store.SaveSheet(sheet); err != nil {
			return sheet, fromErr("save_sheet", err)
		}
		return sheet, ok()
	}

	questions := make([]int, 0, paper.TotalQuestions)
	for q := 1; q <= paper.TotalQuestions; q++ {
		if o.cfg.AISolveMode == "low_confidence_only" {
			entry, has := sheet.BubbleReading.EntryFor(q)
			if has && entry.Confidence >= o.cfg.LowConfidenceThreshold {
				continue
			}
		}
		questions = append(questions, q)
	}

	entries := make([]models.SolverEntry, len(questions))
	grp, gctx := errgroup.WithContext(ctx)
	for i, q := range questions {
		i, q := i, q
		grp.Go(func() error {
			if err := o.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer o.sem.Release(1)

			result, err := o.solve.SolveQuestion(gctx, questionText(q), paper.Subject)
			if err != nil {
				return err
			}
			entries[i] = models.SolverEntry{
				QuestionNumber: q,
				SolverAnswer:   models.Answer(result.Answer),
				Confidence:     result.Confidence,
				Explanation:    result.Explanation,
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return sheet, fromErr("solve_adapter", err)
	}

	verdict := &models.AISolverVerdict{SheetID: sheetID, Entries: entries}
	req := ledger.AppendRequest{
		Kind:    ledger.KindAISolved,
		Payload: map[string]interface{}{"sheet_id": sheetID, "question_count": len(entries)},
	}
	block, err := o.commitWithJournal("sheet", sheetID, req, func(tx *gorm.DB) error {
		if e := tx.Save(verdict).Error; e != nil {
			return e
		}
		sheet.Stage = models.StageAISolved
		return tx.Save(sheet).Error
	})
	if err != nil {
		return sheet, fromErr("commit_ai_solved", err)
	}
	sheet.Stage = models.StageAISolved
	sheet.LastBlockHash = block.SelfHash
	return sheet, ok()
}

// ManualEnter records a human data-entry pass over a sheet's answers.
func (o *Orchestrator) ManualEnter(sheetID string, entries []models.ManualEntryRecord, enteredBy string, enteredAt time.Time) (*models.Sheet, StageOutcome) {
	mu := o.locks.lock(sheetID)
	defer mu.Unlock()

	sheet, err := o.store.GetSheet(sheetID)
	if err != nil {
		return nil, fromErr("load_sheet", err)
	}
	if sheet.Stage != models.StageBubblesRead && sheet.Stage != models.StageAISolved {
		return sheet, preconditionFailed("not_ready_for_manual_entry", apperrors.Newf(apperrors.KindPreconditionFailed,
			"sheet %s is at stage %s, not ready for manual entry", sheetID, sheet.Stage))
	}

	record := &models.ManualEntry{SheetID: sheetID, Entries: entries, EnteredBy: enteredBy, EnteredAt: enteredAt}

	req := ledger.AppendRequest{
		Kind:    ledger.KindManualEntered,
		Payload: map[string]interface{}{"sheet_id": sheetID, "entered_by": enteredBy, "question_count": len(entries)},
	}
	block, err := o.commitWithJournal("sheet", sheetID, req, func(tx *gorm.DB) error {
		if e := tx.Save(record).Error; e != nil {
			return e
		}
		sheet.Stage = models.StageManualEntered
		return tx.Save(sheet).Error
	})
	if err != nil {
		return sheet, fromErr("commit_manual_entry", err)
	}
	sheet.LastBlockHash = block.SelfHash
	return sheet, ok()
}

// Reconcile runs the three-way reconciliation engine over a sheet's bubble,
// AI, and manual sources and opens any interventions it calls for.
func (o *Orchestrator) Reconcile(sheetID string, key *models.AnswerKey, totalQuestions int) (*models.Sheet, StageOutcome) {
	mu := o.locks.lock(sheetID)
	defer mu.Unlock()

	sheet, err := o.store.GetSheet(sheetID)
	if err != nil {
		return nil, fromErr("load_sheet", err)
	}
	switch sheet.Stage {
	case models.StageBubblesRead, models.StageAISolved, models.StageManualEntered:
	default:
		return sheet, preconditionFailed("not_ready_for_reconciliation", apperrors.Newf(apperrors.KindPreconditionFailed,
			"sheet %s is at stage %s, not ready for reconciliation", sheetID, sheet.Stage))
	}

	res := reconcile.Reconcile(totalQuestions, key, sheet.BubbleReading, sheet.AISolverVerdict, sheet.ManualEntry, o.cfg.LowConfidenceThreshold)
	recRow := &models.Reconciliation{SheetID: sheetID, Rows: res.Rows}

	for _, iv := range res.Interventions {
		if _, err := o.queue.Enqueue("sheet", sheetID, models.StageReconciled, iv.ReasonKind, iv.Priority); err != nil {
			o.logger.Error("orchestrator: failed to open reconciliation intervention",
				"sheet_id", sheetID, "question", iv.QuestionNumber, "reason", iv.ReasonKind, "err", err)
		}
	}

	req := ledger.AppendRequest{
		Kind: ledger.KindReconciled,
		Payload: map[string]interface{}{
			"sheet_id":           sheetID,
			"intervention_count": len(res.Interventions),
		},
	}
	block, err := o.commitWithJournal("sheet", sheetID, req, func(tx *gorm.DB) error {
		if e := tx.Save(recRow).Error; e != nil {
			return e
		}
		sheet.Stage = models.StageReconciled
		sheet.Reconciliation = recRow
		return tx.Save(sheet).Error
	})
	if err != nil {
		return sheet, fromErr("commit_reconcile", err)
	}
	sheet.LastBlockHash = block.SelfHash
	return sheet, ok()
}

// Score computes and persists the automated/manual marks tally and grade
// for a reconciled sheet.
func (o *Orchestrator) Score(sheetID string, key *models.AnswerKey, manualMarks *models.Decimal) (*models.Sheet, StageOutcome) {
	mu := o.locks.lock(sheetID)
	defer mu.Unlock()

	sheet, err := o.store.GetSheet(sheetID)
	if err != nil {
		return nil, fromErr("load_sheet", err)
	}
	if sheet.Stage != models.StageReconciled || sheet.Reconciliation == nil {
		return sheet, preconditionFailed("not_reconciled", apperrors.Newf(apperrors.KindPreconditionFailed,
			"sheet %s is at stage %s, expected RECONCILED", sheetID, sheet.Stage))
	}

	result := Score(key, sheet.Reconciliation.Rows, manualMarks, o.cfg.MarksTallyTolerance)
	result.SheetID = sheetID

	openIv, err := o.store.OpenInterventionsForSheet(sheetID)
	if err != nil {
		return sheet, fromErr("load_open_interventions", err)
	}
	qualityScore := 0.0
	if sheet.QualityRecord != nil {
		qualityScore = sheet.QualityRecord.OverallQualityScore
	}
	result.IsPerfectEvaluation = IsPerfectEvaluation(result, sheet.BubbleReading, qualityScore, len(openIv) > 0)

	if !result.MarksMatch {
		if _, err := o.queue.Enqueue("sheet", sheetID, models.StageScored, "marks_tally_mismatch", models.PriorityHigh); err != nil {
			o.logger.Error("orchestrator: failed to open marks-mismatch intervention", "sheet_id", sheetID, "err", err)
		}
	}

	req := ledger.AppendRequest{
		Kind: ledger.KindScored,
		Payload: map[string]interface{}{
			"sheet_id":        sheetID,
			"automated_marks": result.AutomatedMarks.String(),
			"marks_match":     result.MarksMatch,
			"grade":           result.Grade,
		},
	}
	block, err := o.commitWithJournal("sheet", sheetID, req, func(tx *gorm.DB) error {
		if e := tx.Save(&result).Error; e != nil {
			return e
		}
		sheet.Stage = models.StageScored
		sheet.ScoreResult = &result
		return tx.Save(sheet).Error
	})
	if err != nil {
		return sheet, fromErr("commit_score", err)
	}
	sheet.LastBlockHash = block.SelfHash
	return sheet, ok()
}

// Finalize commits a SCORED sheet's result as a RESULT_FINALIZED block,
// requiring the multi-signature policy and the absence of any open
// intervention referencing the sheet — the human-gate property of §4.6: no
// per-sheet lock is held while waiting on those interventions to resolve,
// since Finalize simply refuses and returns GateBlocked rather than
// blocking in-process.
func (o *Orchestrator) Finalize(sheetID string, signatures []ledger.Signature) (*models.Sheet, StageOutcome) {
	openIv, err := o.store.OpenInterventionsForSheet(sheetID)
	if err != nil {
		return nil, fromErr("load_open_interventions", err)
	}
	if len(openIv) > 0 {
		return nil, gateBlocked("open_interventions_block_finalization")
	}

	mu := o.locks.lock(sheetID)
	defer mu.Unlock()

	sheet, err := o.store.GetSheet(sheetID)
	if err != nil {
		return nil, fromErr("load_sheet", err)
	}
	if sheet.Stage != models.StageScored {
		return sheet, preconditionFailed("not_scored", apperrors.Newf(apperrors.KindPreconditionFailed,
			"sheet %s is at stage %s, expected SCORED", sheetID, sheet.Stage))
	}

	// Re-check right before the append: the early check above ran before
	// the per-sheet lock was held, so an intervention opened on this sheet
	// in that window would otherwise slip through.
	openIv, err = o.store.OpenInterventionsForSheet(sheetID)
	if err != nil {
		return sheet, fromErr("load_open_interventions", err)
	}
	if len(openIv) > 0 {
		return sheet, gateBlocked("open_interventions_block_finalization")
	}

	block, err := o.chain.Append(ledger.AppendRequest{
		Kind:       ledger.KindResultFinalized,
		Payload:    map[string]interface{}{"sheet_id": sheetID, "roll_number": sheet.RollNumber},
		Signatures: signatures,
	})
	if err != nil {
		return sheet, fromErr("ledger_append", err)
	}

	sheet.Stage = models.StageFinalized
	sheet.LastBlockHash = block.SelfHash
	if err := o.store.SaveSheet(sheet); err != nil {
		return sheet, fromErr("save_sheet", err)
	}
	return sheet, ok()
}
