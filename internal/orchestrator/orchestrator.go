// Package orchestrator drives a sheet through its pipeline stages
// (C6): quality assessment, optional reconstruction, bubble reading,
// optional AI solving and/or manual entry, reconciliation, scoring, and
// finalization. Stage transitions before Finalize follow the store-
// mutation-then-ledger-append pairing journaled by internal/store's
// Journal; Finalize appends its block directly, and AISolve in "none" mode
// saves the sheet without a ledger block. Every sheet is serialized
// by its own mutex so concurrent requests against different sheets never
// block each other — the bounded semaphore caps how many external adapter
// calls run at once, mirroring
// the teacher's worker-pool sizing idea applied to a stage machine
// instead of a consensus round.
package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/omr-eval/pipeline/internal/adapters"
	"github.com/omr-eval/pipeline/internal/apperrors"
	"github.com/omr-eval/pipeline/internal/intervention"
	"github.com/omr-eval/pipeline/internal/ledger"
	"github.com/omr-eval/pipeline/internal/logging"
	"github.com/omr-eval/pipeline/internal/models"
	"github.com/omr-eval/pipeline/internal/store"
)

// Config is the subset of internal/config.Config the orchestrator reads.
type Config struct {
	Workers                int
	AISolveMode            string // "all", "none", "low_confidence_only"
	LowConfidenceThreshold float64
	MarksTallyTolerance    float64
	MultipleMarkPolicy     string // "zero" or "require_review"
	QualityProceedMinScore float64
	QualityRejectMaxScore  float64
}

// Orchestrator wires the persistent store, audit ledger, intervention
// queue, and external adapters into the stage machine.
type Orchestrator struct {
	store   *store.Store
	journal *store.Journal
	chain   *ledger.Ledger
	queue   *intervention.Queue

	quality     adapters.QualityAdapter
	reconstruct adapters.ReconstructionAdapter
	verify      adapters.VerifyAdapter
	solve       adapters.SolveAdapter

	logger logging.Logger
	cfg    Config
	sem    *semaphore.Weighted
	locks  sheetLocks
}

// New builds an Orchestrator.
func New(
	s *store.Store,
	j *store.Journal,
	chain *ledger.Ledger,
	q *intervention.Queue,
	quality adapters.QualityAdapter,
	reconstruct adapters.ReconstructionAdapter,
	verify adapters.VerifyAdapter,
	solve adapters.SolveAdapter,
	logger logging.Logger,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		store:       s,
		journal:     j,
		chain:       chain,
		queue:       q,
		quality:     quality,
		reconstruct: reconstruct,
		verify:      verify,
		solve:       solve,
		logger:      logger,
		cfg:         cfg,
		sem:         semaphore.NewWeighted(int64(cfg.Workers)),
		locks:       newSheetLocks(),
	}
}

// sheetLocks hands out one *sync.Mutex per sheet id, created lazily, so a
// stage transition on sheet A never waits behind one on sheet B.
type sheetLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newSheetLocks() sheetLocks { return sheetLocks{m: make(map[string]*sync.Mutex)} }

func (s *sheetLocks) lock(id string) *sync.Mutex {
	s.mu.Lock()
	l, ok := s.m[id]
	if !ok {
		l = &sync.Mutex{}
		s.m[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l
}

// commitWithJournal runs mutate inside a store transaction paired with a
// journal intent, commits, appends to the ledger, and clears the intent on
// success — the crash-safe sequencing §4.2 requires. On ledger failure the
// intent row survives for ReplayPending to retry at startup.
func (o *Orchestrator) commitWithJournal(entityKind, entityID string, req ledger.AppendRequest, mutate func(tx *gorm.DB) error) (*ledger.Block, error) {
	tx := o.journal.Begin()
	if err := mutate(tx); err != nil {
		tx.Rollback()
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "orchestrator: stage mutation")
	}
	intent, err := o.journal.RecordIntent(tx, entityKind, entityID, string(req.Kind), req.Payload)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "orchestrator: commit stage transaction")
	}

	block, err := o.chain.Append(req)
	if err != nil {
		o.logger.Error("orchestrator: ledger append failed, intent left pending for replay",
			"entity_kind", entityKind, "entity_id", entityID, "intent_id", intent.ID, "err", err)
		return nil, err
	}
	if err := o.journal.Clear(intent.ID); err != nil {
		o.logger.Error("orchestrator: failed to clear journal intent after successful append",
			"intent_id", intent.ID, "err", err)
	}
	return block, nil
}

// ReplayPending re-issues ledger appends for every journal intent left over
// from a crash between commit and append, clearing each on success. Called
// once at startup before the HTTP surface opens for traffic.
func (o *Orchestrator) ReplayPending() error {
	pending, err := o.journal.Pending()
	if err != nil {
		return err
	}
	for _, row := range pending {
		payload, err := store.DecodePendingPayload(row)
		if err != nil {
			o.logger.Error("orchestrator: dropping unreadable pending intent", "id", row.ID, "err", err)
			continue
		}
		_, err = o.chain.Append(ledger.AppendRequest{Kind: ledger.Kind(row.BlockKind), Payload: payload})
		if err != nil {
			o.logger.Error("orchestrator: replay append failed, leaving intent pending", "id", row.ID, "err", err)
			continue
		}
		if err := o.journal.Clear(row.ID); err != nil {
			o.logger.Error("orchestrator: failed to clear replayed intent", "id", row.ID, "err", err)
		}
		o.logger.Info("orchestrator: replayed pending ledger append", "id", row.ID, "kind", row.BlockKind)
	}
	return nil
}

// IngestSheet records a new scanned sheet entering the pipeline.
func (o *Orchestrator) IngestSheet(examID, questionPaperID, answerKeyID, rollNumber, imageContentHash string) (*models.Sheet, StageOutcome) {
	sheet := &models.Sheet{
		ID:               uuid.NewString(),
		ExamID:           examID,
		QuestionPaperID:  questionPaperID,
		AnswerKeyID:      answerKeyID,
		RollNumber:       rollNumber,
		ImageContentHash: imageContentHash,
		Stage:            models.StageIngested,
	}
	mu := o.locks.lock(sheet.ID)
	defer mu.Unlock()

	req := ledger.AppendRequest{
		Kind: ledger.KindSheetIngested,
		Payload: map[string]interface{}{
			"sheet_id":           sheet.ID,
			"roll_number":        rollNumber,
			"image_content_hash": imageContentHash,
		},
	}
	block, err := o.commitWithJournal("sheet", sheet.ID, req, func(tx *gorm.DB) error {
		return tx.Create(sheet).Error
	})
	if err != nil {
		return nil, fromErr("commit_ingest", err)
	}
	sheet.LastBlockHash = block.SelfHash
	return sheet, ok()
}

// AssessQuality runs the quality adapter against a sheet's image, applies
// the proceed/reconstruct/reject/human_review decision thresholds, and
// advances or terminates the sheet accordingly.
func (o *Orchestrator) AssessQuality(ctx context.Context, sheetID string, imageBytes []byte) (*models.Sheet, StageOutcome) {
	mu := o.locks.lock(sheetID)
	defer mu.Unlock()

	sheet, err := o.store.GetSheet(sheetID)
	if err != nil {
		return nil, fromErr("load_sheet", err)
	}
	if sheet.Stage != models.StageIngested {
		return sheet, preconditionFailed("not_ingested", apperrors.Newf(apperrors.KindPreconditionFailed,
			"sheet %s is at stage %s, expected INGESTED", sheetID, sheet.Stage))
	}

	if !o.sem.TryAcquire(1) {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return sheet, cancelled("worker_pool_wait", err)
		}
	}
	defer o.sem.Release(1)

	report, err := o.quality.AssessQuality(ctx, imageBytes)
	if err != nil {
		return sheet, fromErr("quality_adapter", err)
	}

	decision := classifyQuality(report, o.cfg.QualityProceedMinScore, o.cfg.QualityRejectMaxScore)

	record := &models.QualityRecord{
		SheetID:             sheetID,
		OverallQualityScore: report.QualityScore,
		DamageKinds:         report.DamageKinds,
		Decision:            decision,
	}
	nextStage := models.StageQualityAssessed
	if decision == models.QualityReject {
		nextStage = models.StageRejected
	}

	req := ledger.AppendRequest{
		Kind: ledger.KindQualityAssessed,
		Payload: map[string]interface{}{
			"sheet_id":      sheetID,
			"quality_score": report.QualityScore,
			"decision":      string(decision),
		},
	}
	block, err := o.commitWithJournal("sheet", sheetID, req, func(tx *gorm.DB) error {
		if e := tx.Save(record).Error; e != nil {
			return e
		}
		sheet.Stage = nextStage
		return tx.Save(sheet).Error
	})
	if err != nil {
		return sheet, fromErr("commit_quality", err)
	}
	sheet.LastBlockHash = block.SelfHash
	sheet.Stage = nextStage

	if decision == models.QualityHumanReview {
		if _, err := o.queue.Enqueue("sheet", sheetID, nextStage, "quality_human_review", models.PriorityNormal); err != nil {
			o.logger.Error("orchestrator: failed to open quality review intervention", "sheet_id", sheetID, "err", err)
		}
	}
	return sheet, ok()
}

// classifyQuality turns a QualityReport into the decision per §4.2's
// thresholds: at or below RejectMaxScore rejects outright, at or above
// ProceedMinScore proceeds straight through, recoverable damage in the
// middle band routes to reconstruction, and unrecoverable damage in the
// middle band goes to human review.
func classifyQuality(r adapters.QualityReport, proceedMin, rejectMax float64) models.QualityDecision {
	switch {
	case r.QualityScore <= rejectMax:
		return models.QualityReject
	case r.QualityScore >= proceedMin:
		return models.QualityProceed
	case r.IsRecoverable:
		return models.QualityReconstruct
	default:
		return models.QualityHumanReview
	}
}

// Reconstruct repairs a damaged sheet image when quality assessment routed
// it to reconstruction.
func (o *Orchestrator) Reconstruct(ctx context.Context, sheetID string, expectedRows, expectedCols int) (*models.Sheet, StageOutcome) {
	mu := o.locks.lock(sheetID)
	defer mu.Unlock()

	sheet, err := o.store.GetSheet(sheetID)
	if err != nil {
		return nil, fromErr("load_sheet", err)
	}
	if sheet.Stage != models.StageQualityAssessed || sheet.QualityRecord == nil || sheet.QualityRecord.Decision != models.QualityReconstruct {
		return sheet, preconditionFailed("not_pending_reconstruction", apperrors.Newf(apperrors.KindPreconditionFailed,
			"sheet %s is not pending reconstruction", sheetID))
	}

	if !o.sem.TryAcquire(1) {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return sheet, cancelled("worker_pool_wait", err)
		}
	}
	defer o.sem.Release(1)

	result, err := o.reconstruct.Reconstruct(ctx, []byte(sheet.ImageContentHash), expectedRows, expectedCols)
	if err != nil {
		return sheet, fromErr("reconstruction_adapter", err)
	}

	entry, err := ledger.NewPayloadEntry("reconstructed_image", result.ImageBytes)
	if err != nil {
		return sheet, preconditionFailed("hash_reconstructed_image", err)
	}

	req := ledger.AppendRequest{
		Kind: ledger.KindReconstructed,
		Payload: map[string]interface{}{
			"sheet_id":   sheetID,
			"confidence": result.Confidence,
			"image_hash": entry.Hash,
		},
	}
	block, err := o.commitWithJournal("sheet", sheetID, req, func(tx *gorm.DB) error {
		sheet.ReconstructedImageHash = entry.Hash
		sheet.Stage = models.StageReconstructed
		return tx.Save(sheet).Error
	})
	if err != nil {
		return sheet, fromErr("commit_reconstruct", err)
	}
	sheet.LastBlockHash = block.SelfHash
	return sheet, ok()
}

// ReadBubbles records the vision-detected bubble entries for a sheet. The
// bubble-reading model runs out of process ahead of the coordinator, so
// this stage only persists and chains its already-computed result rather
// than calling an adapter.
func (o *Orchestrator) ReadBubbles(sheetID string, entries []models.BubbleEntry) (*models.Sheet, StageOutcome) {
	mu := o.locks.lock(sheetID)
	defer mu.Unlock()

	sheet, err := o.store.GetSheet(sheetID)
	if err != nil {
		return nil, fromErr("load_sheet", err)
	}
	if sheet.Stage != models.StageQualityAssessed && sheet.Stage != models.StageReconstructed {
		return sheet, preconditionFailed("not_ready_for_bubbles", apperrors.Newf(apperrors.KindPreconditionFailed,
			"sheet %s is at stage %s, not ready for bubble reading", sheetID, sheet.Stage))
	}

	entries = applyMultipleMarkPolicy(entries, o.cfg.MultipleMarkPolicy)
	reading := &models.BubbleReading{SheetID: sheetID, Entries: entries}

	req := ledger.AppendRequest{
		Kind:    ledger.KindBubblesRead,
		Payload: map[string]interface{}{"sheet_id": sheetID, "question_count": len(entries)},
	}
	block, err := o.commitWithJournal("sheet", sheetID, req, func(tx *gorm.DB) error {
		if e := tx.Save(reading).Error; e != nil {
			return e
		}
		sheet.Stage = models.StageBubblesRead
		return tx.Save(sheet).Error
	})
	if err != nil {
		return sheet, fromErr("commit_bubbles", err)
	}
	sheet.Stage = models.StageBubblesRead
	sheet.LastBlockHash = block.SelfHash
	return sheet, ok()
}

// applyMultipleMarkPolicy resolves MULTIPLE-marked bubbles per the
// scoring.multiple_mark_policy switch: "zero" treats a multiple mark as
// equivalent to no answer with zero confidence (it can never match the
// key), and any other policy, "require_review" included, leaves it as-is
// for reconciliation, which compares MULTIPLE like any other answer.
func applyMultipleMarkPolicy(entries []models.BubbleEntry, policy string) []models.BubbleEntry {
	if policy != "zero" {
		return entries
	}
	out := make([]models.BubbleEntry, len(entries))
	for i, e := range entries {
		if e.DetectedAnswer == models.AnswerMultiple {
			e.DetectedAnswer = models.AnswerNone
			e.Confidence = 0
		}
		out[i] = e
	}
	return out
}
