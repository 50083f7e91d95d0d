package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/omr-eval/pipeline/internal/apperrors"
	"github.com/omr-eval/pipeline/internal/ledger"
	"github.com/omr-eval/pipeline/internal/models"
)

// CreateQuestionPaper records a new exam paper, the root of a QuestionPaper
// -> AnswerKey -> Sheet hierarchy, and chains its content hash.
func (o *Orchestrator) CreateQuestionPaper(examID, subject string, totalQuestions int, maxMarks models.Decimal, contentHash string) (*models.QuestionPaper, StageOutcome) {
	paper := &models.QuestionPaper{
		ID:             uuid.NewString(),
		ExamID:         examID,
		Subject:        subject,
		TotalQuestions: totalQuestions,
		MaxMarks:       maxMarks,
		ContentHash:    contentHash,
	}
	if err := o.store.CreateQuestionPaper(paper); err != nil {
		return nil, fromErr("create_question_paper", err)
	}
	block, err := o.chain.Append(ledger.AppendRequest{
		Kind:    ledger.KindQuestionPaperUpload,
		Payload: map[string]interface{}{"paper_id": paper.ID, "exam_id": examID, "content_hash": contentHash},
	})
	if err != nil {
		return paper, fromErr("ledger_append", err)
	}
	paper.LastBlockHash = block.SelfHash
	if err := o.store.SaveQuestionPaper(paper); err != nil {
		return paper, fromErr("save_paper", err)
	}
	return paper, ok()
}

// CreateDraftAnswerKey attaches a draft key to a paper, pending AI
// verification.
func (o *Orchestrator) CreateDraftAnswerKey(paperID string, entries []models.AnswerKeyEntry) (*models.AnswerKey, StageOutcome) {
	key := &models.AnswerKey{
		ID:              uuid.NewString(),
		QuestionPaperID: paperID,
		Status:          models.AnswerKeyDraft,
		Entries:         entries,
	}
	if err := o.store.CreateAnswerKey(key); err != nil {
		return nil, fromErr("create_answer_key", err)
	}
	return key, ok()
}

// VerifyAnswerKey runs every entry of a draft key through the independent
// verification adapter, flags entries the adapter disagrees with, and
// advances the key to ai_verified (or flagged if any entry was disputed).
func (o *Orchestrator) VerifyAnswerKey(ctx context.Context, keyID string, questionText func(q int) string) (*models.AnswerKey, StageOutcome) {
	key, err := o.store.GetAnswerKey(keyID)
	if err != nil {
		return nil, fromErr("load_answer_key", err)
	}
	if key.Status != models.AnswerKeyDraft {
		return key, preconditionFailed("not_draft", apperrors.Newf(apperrors.KindPreconditionFailed,
			"answer key %s is %s, expected draft", keyID, key.Status))
	}

	anyDisputed := false
	totalConfidence := 0.0
	for i, entry := range key.Entries {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return key, cancelled("worker_pool_wait", err)
		}
		result, verr := o.verify.VerifyAnswerKey(ctx, questionText(entry.QuestionNumber), string(entry.ExpectedAnswer))
		o.sem.Release(1)
		if verr != nil {
			return key, fromErr("verify_adapter", verr)
		}
		if !result.Agrees {
			anyDisputed = true
			key.Entries[i].AmbiguityNote = result.Notes
		}
		key.Entries[i].Confidence = result.Confidence
		totalConfidence += result.Confidence
	}
	if len(key.Entries) > 0 {
		key.AIConfidence = totalConfidence / float64(len(key.Entries))
	}
	key.Status = models.AnswerKeyAIVerified
	if anyDisputed {
		key.Status = models.AnswerKeyFlagged
	}

	block, err := o.chain.Append(ledger.AppendRequest{
		Kind: ledger.KindAnswerKeyAIVerified,
		Payload: map[string]interface{}{
			"answer_key_id": keyID,
			"status":        string(key.Status),
			"ai_confidence": key.AIConfidence,
		},
	})
	if err != nil {
		return key, fromErr("ledger_append", err)
	}
	key.LastBlockHash = block.SelfHash
	if err := o.store.SaveAnswerKey(key); err != nil {
		return key, fromErr("save_answer_key", err)
	}

	if anyDisputed {
		if _, err := o.queue.Enqueue("answer_key", keyID, "", "answer_key_disputed", models.PriorityHigh); err != nil {
			o.logger.Error("orchestrator: failed to open answer-key dispute intervention", "answer_key_id", keyID, "err", err)
		}
	}
	return key, ok()
}

// ApproveAnswerKey records a human reviewer's sign-off on an ai_verified or
// flagged key, a required step before it can be locked.
func (o *Orchestrator) ApproveAnswerKey(keyID, approvedBy string) (*models.AnswerKey, StageOutcome) {
	key, err := o.store.GetAnswerKey(keyID)
	if err != nil {
		return nil, fromErr("load_answer_key", err)
	}
	if key.Status != models.AnswerKeyAIVerified && key.Status != models.AnswerKeyFlagged {
		return key, preconditionFailed("not_verified", apperrors.Newf(apperrors.KindPreconditionFailed,
			"answer key %s is %s, expected ai_verified or flagged", keyID, key.Status))
	}
	key.Status = models.AnswerKeyHumanApproved

	block, err := o.chain.Append(ledger.AppendRequest{
		Kind:    ledger.KindAnswerKeyHumanApproved,
		Payload: map[string]interface{}{"answer_key_id": keyID, "approved_by": approvedBy},
	})
	if err != nil {
		return key, fromErr("ledger_append", err)
	}
	key.LastBlockHash = block.SelfHash
	if err := o.store.SaveAnswerKey(key); err != nil {
		return key, fromErr("save_answer_key", err)
	}
	return key, ok()
}

// LockAnswerKey freezes a human-approved key so no sheet can be scored
// against a key that later changes underneath it.
func (o *Orchestrator) LockAnswerKey(keyID string, signatures []ledger.Signature) (*models.AnswerKey, StageOutcome) {
	key, err := o.store.GetAnswerKey(keyID)
	if err != nil {
		return nil, fromErr("load_answer_key", err)
	}
	if key.Status != models.AnswerKeyHumanApproved {
		return key, preconditionFailed("not_approved", apperrors.Newf(apperrors.KindPreconditionFailed,
			"answer key %s is %s, expected human_approved", keyID, key.Status))
	}
	key.Status = models.AnswerKeyLocked

	block, err := o.chain.Append(ledger.AppendRequest{
		Kind:       ledger.KindAnswerKeyLocked,
		Payload:    map[string]interface{}{"answer_key_id": keyID},
		Signatures: signatures,
	})
	if err != nil {
		return key, fromErr("ledger_append", err)
	}
	key.LastBlockHash = block.SelfHash
	if err := o.store.SaveAnswerKey(key); err != nil {
		return key, fromErr("save_answer_key", err)
	}
	return key, ok()
}
