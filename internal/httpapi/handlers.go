package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/omr-eval/pipeline/internal/apperrors"
	"github.com/omr-eval/pipeline/internal/ledger"
	"github.com/omr-eval/pipeline/internal/metrics"
	"github.com/omr-eval/pipeline/internal/models"
	"github.com/omr-eval/pipeline/internal/orchestrator"
)

// --- question papers ---

type createPaperRequest struct {
	ExamID         string  `json:"exam_id"`
	Subject        string  `json:"subject"`
	TotalQuestions int     `json:"total_questions"`
	MaxMarks       float64 `json:"max_marks"`
	ContentHash    string  `json:"content_hash"`
}

func (a *App) handleCreatePaper(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req createPaperRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	paper, outcome := a.orch.CreateQuestionPaper(req.ExamID, req.Subject, req.TotalQuestions, models.NewDecimal(req.MaxMarks), req.ContentHash)
	if err := outcome.ToError(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paper)
}

func (a *App) handleGetPaper(w http.ResponseWriter, r *http.Request, params map[string]string) {
	paper, err := a.store.GetQuestionPaper(params["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paper)
}

// --- answer keys ---

type createDraftKeyRequest struct {
	QuestionPaperID string                   `json:"question_paper_id"`
	Entries         []models.AnswerKeyEntry `json:"entries"`
}

func (a *App) handleCreateDraftKey(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req createDraftKeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	key, outcome := a.orch.CreateDraftAnswerKey(req.QuestionPaperID, req.Entries)
	if err := outcome.ToError(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (a *App) handleGetKey(w http.ResponseWriter, r *http.Request, params map[string]string) {
	key, err := a.store.GetAnswerKey(params["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

type verifyKeyRequest struct {
	QuestionTexts map[string]string `json:"question_texts"`
}

func (a *App) handleVerifyKey(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req verifyKeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	lookup := func(q int) string { return req.QuestionTexts[strconv.Itoa(q)] }
	key, outcome := a.orch.VerifyAnswerKey(r.Context(), params["id"], lookup)
	if err := outcome.ToError(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

type approveKeyRequest struct {
	ApprovedBy string `json:"approved_by"`
}

func (a *App) handleApproveKey(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req approveKeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	key, outcome := a.orch.ApproveAnswerKey(params["id"], req.ApprovedBy)
	if err := outcome.ToError(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

type signatureRequest struct {
	SignerKind string `json:"signer_kind"`
	SignerKey  string `json:"signer_key"`
	Bytes      []byte `json:"bytes"`
}

func toLedgerSignatures(reqs []signatureRequest) []ledger.Signature {
	out := make([]ledger.Signature, len(reqs))
	for i, s := range reqs {
		out[i] = ledger.Signature{SignerKind: s.SignerKind, SignerKey: s.SignerKey, Bytes: s.Bytes}
	}
	return out
}

type lockKeyRequest struct {
	Signatures []signatureRequest `json:"signatures"`
}

func (a *App) handleLockKey(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req lockKeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	key, outcome := a.orch.LockAnswerKey(params["id"], toLedgerSignatures(req.Signatures))
	if err := outcome.ToError(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// --- sheets ---

type ingestSheetRequest struct {
	ExamID           string `json:"exam_id"`
	QuestionPaperID  string `json:"question_paper_id"`
	AnswerKeyID      string `json:"answer_key_id"`
	RollNumber       string `json:"roll_number"`
	ImageContentHash string `json:"image_content_hash"`
}

func (a *App) handleIngestSheet(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req ingestSheetRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	sheet, outcome := a.orch.IngestSheet(req.ExamID, req.QuestionPaperID, req.AnswerKeyID, req.RollNumber, req.ImageContentHash)
	if err := outcome.ToError(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sheet)
}

func (a *App) handleGetSheet(w http.ResponseWriter, r *http.Request, params map[string]string) {
	sheet, err := a.store.GetSheet(params["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

type assessQualityRequest struct {
	ImageBytes []byte `json:"image_bytes"`
}

func (a *App) handleAssessQuality(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req assessQualityRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	sheet, outcome := a.orch.AssessQuality(r.Context(), params["id"], req.ImageBytes)
	writeStageResult(w, "assess_quality", sheet, outcome)
}

type reconstructRequest struct {
	ExpectedRows int `json:"expected_rows"`
	ExpectedCols int `json:"expected_cols"`
}

func (a *App) handleReconstruct(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req reconstructRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	sheet, outcome := a.orch.Reconstruct(r.Context(), params["id"], req.ExpectedRows, req.ExpectedCols)
	writeStageResult(w, "reconstruct", sheet, outcome)
}

type readBubblesRequest struct {
	Entries []models.BubbleEntry `json:"entries"`
}

func (a *App) handleReadBubbles(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req readBubblesRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	sheet, outcome := a.orch.ReadBubbles(params["id"], req.Entries)
	writeStageResult(w, "read_bubbles", sheet, outcome)
}

type aiSolveRequest struct {
	QuestionPaperID string            `json:"question_paper_id"`
	QuestionTexts   map[string]string `json:"question_texts"`
}

func (a *App) handleAISolve(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req aiSolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	paper, err := a.store.GetQuestionPaper(req.QuestionPaperID)
	if err != nil {
		writeErr(w, err)
		return
	}
	lookup := func(q int) string { return req.QuestionTexts[strconv.Itoa(q)] }
	sheet, outcome := a.orch.AISolve(r.Context(), params["id"], paper, lookup)
	writeStageResult(w, "ai_solve", sheet, outcome)
}

type manualEnterRequest struct {
	Entries   []models.ManualEntryRecord `json:"entries"`
	EnteredBy string                     `json:"entered_by"`
}

func (a *App) handleManualEnter(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req manualEnterRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	sheet, outcome := a.orch.ManualEnter(params["id"], req.Entries, req.EnteredBy, time.Now())
	writeStageResult(w, "manual_enter", sheet, outcome)
}

type reconcileRequest struct {
	AnswerKeyID    string `json:"answer_key_id"`
	TotalQuestions int    `json:"total_questions"`
}

func (a *App) handleReconcile(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req reconcileRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	key, err := a.store.GetAnswerKey(req.AnswerKeyID)
	if err != nil {
		writeErr(w, err)
		return
	}
	sheet, outcome := a.orch.Reconcile(params["id"], key, req.TotalQuestions)
	writeStageResult(w, "reconcile", sheet, outcome)
}

type scoreRequest struct {
	AnswerKeyID string   `json:"answer_key_id"`
	ManualMarks *float64 `json:"manual_marks"`
}

func (a *App) handleScore(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req scoreRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	key, err := a.store.GetAnswerKey(req.AnswerKeyID)
	if err != nil {
		writeErr(w, err)
		return
	}
	var manual *models.Decimal
	if req.ManualMarks != nil {
		d := models.NewDecimal(*req.ManualMarks)
		manual = &d
	}
	sheet, outcome := a.orch.Score(params["id"], key, manual)
	writeStageResult(w, "score", sheet, outcome)
}

type finalizeRequest struct {
	Signatures []signatureRequest `json:"signatures"`
}

func (a *App) handleFinalize(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req finalizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	sheet, outcome := a.orch.Finalize(params["id"], toLedgerSignatures(req.Signatures))
	writeStageResult(w, "finalize", sheet, outcome)
}

// writeStageResult renders a StageOutcome per its Kind: OK returns the
// sheet, anything else renders the mapped error status with whatever
// partial sheet state is available as context. Every call is recorded
// against stage_transitions_total, labeled by stage name and outcome kind.
func writeStageResult(w http.ResponseWriter, stage string, sheet *models.Sheet, outcome orchestrator.StageOutcome) {
	metrics.StageTransitions.WithLabelValues(stage, outcome.Kind.String()).Inc()
	if err := outcome.ToError(); err != nil {
		status := apperrors.KindOf(err).HTTPStatus()
		writeJSON(w, status, map[string]interface{}{
			"error": apperrors.ToDetails(err, nil),
			"sheet": sheet,
		})
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

// handleWorkflowComplete is a convenience endpoint chaining quality
// assessment through scoring in one call for sheets that need no
// reconstruction, AI solving, or manual entry step — useful for bulk
// reprocessing and smoke tests against the happy path.
type workflowCompleteRequest struct {
	SheetID        string                `json:"sheet_id"`
	ImageBytes     []byte                `json:"image_bytes"`
	BubbleEntries  []models.BubbleEntry  `json:"bubble_entries"`
	AnswerKeyID    string                `json:"answer_key_id"`
	TotalQuestions int                   `json:"total_questions"`
}

func (a *App) handleWorkflowComplete(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req workflowCompleteRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	sheet, outcome := a.orch.AssessQuality(r.Context(), req.SheetID, req.ImageBytes)
	if err := outcome.ToError(); err != nil {
		writeStageResult(w, "assess_quality", sheet, outcome)
		return
	}
	sheet, outcome = a.orch.ReadBubbles(req.SheetID, req.BubbleEntries)
	if err := outcome.ToError(); err != nil {
		writeStageResult(w, "read_bubbles", sheet, outcome)
		return
	}
	key, err := a.store.GetAnswerKey(req.AnswerKeyID)
	if err != nil {
		writeErr(w, err)
		return
	}
	sheet, outcome = a.orch.Reconcile(req.SheetID, key, req.TotalQuestions)
	if err := outcome.ToError(); err != nil {
		writeStageResult(w, "reconcile", sheet, outcome)
		return
	}
	sheet, outcome = a.orch.Score(req.SheetID, key, nil)
	writeStageResult(w, "score", sheet, outcome)
}

// --- ledger ---

func (a *App) handleLedgerStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	head, err := a.chain.Head()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"head":      head,
		"read_only": a.chain.ReadOnly(),
	})
}

// handleLedgerBlocks lists blocks in index order, paginated by limit/after
// per §6.1: after names a block's self_hash and listing resumes just past
// it, or from genesis if after is absent. An optional kind filter narrows
// the page to one block kind.
func (a *App) handleLedgerBlocks(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "ValidationError", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	blocks, err := a.chain.ListBlocks(limit, q.Get("after"))
	if err != nil {
		writeErr(w, err)
		return
	}

	if kind := q.Get("kind"); kind != "" {
		filtered := make([]*ledger.Block, 0, len(blocks))
		for _, b := range blocks {
			if b.Kind == ledger.Kind(kind) {
				filtered = append(filtered, b)
			}
		}
		blocks = filtered
	}

	writeJSON(w, http.StatusOK, blocks)
}

func (a *App) handleLedgerBlockByHash(w http.ResponseWriter, r *http.Request, params map[string]string) {
	block, err := a.chain.GetByHash(params["hash"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (a *App) handleLedgerValidate(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	result, err := a.chain.Validate()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- interventions ---

func (a *App) handleListInterventions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	items, err := a.store.ListInterventions(
		models.InterventionStatus(q.Get("status")),
		models.InterventionPriority(q.Get("priority")),
		q.Get("assignee"),
	)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type claimInterventionRequest struct {
	Assignee string `json:"assignee"`
}

func (a *App) handleClaimIntervention(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req claimInterventionRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	item, err := a.queue.Claim(params["id"], req.Assignee)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type resolveInterventionRequest struct {
	Assignee       string `json:"assignee"`
	ResolutionNote string `json:"resolution_note"`
}

func (a *App) handleResolveIntervention(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req resolveInterventionRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	item, err := a.queue.Resolve(params["id"], req.Assignee, req.ResolutionNote)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
