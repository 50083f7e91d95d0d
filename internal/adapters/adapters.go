package adapters

import (
	"context"

	"github.com/omr-eval/pipeline/internal/logging"
)

// QualityReport is assess_quality's output.
type QualityReport struct {
	QualityScore  float64  `json:"quality_score"`
	DamageKinds   []string `json:"damage_kinds"`
	IsRecoverable bool     `json:"is_recoverable"`
	SevereCount   int      `json:"severe_count"`
}

// ReconstructionResult is reconstruct's output.
type ReconstructionResult struct {
	ImageBytes []byte  `json:"image_bytes"`
	Confidence float64 `json:"confidence"`
}

// VerifyKeyResult is verify_answer_key's output for one entry.
type VerifyKeyResult struct {
	Agrees     bool    `json:"agrees"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

// SolveResult is solve_question's output.
type SolveResult struct {
	Answer      string  `json:"answer"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// QualityAdapter assesses scanned-sheet image quality.
type QualityAdapter interface {
	AssessQuality(ctx context.Context, imageBytes []byte) (QualityReport, error)
}

// ReconstructionAdapter repairs a damaged sheet image.
type ReconstructionAdapter interface {
	Reconstruct(ctx context.Context, imageBytes []byte, expectedRows, expectedCols int) (ReconstructionResult, error)
}

// VerifyAdapter checks a proposed answer-key entry against an independent
// model.
type VerifyAdapter interface {
	VerifyAnswerKey(ctx context.Context, questionText, proposedAnswer string) (VerifyKeyResult, error)
}

// SolveAdapter independently solves a question.
type SolveAdapter interface {
	SolveQuestion(ctx context.Context, questionText, subject string) (SolveResult, error)
}

// httpQualityAdapter is the concrete HTTP-backed QualityAdapter.
type httpQualityAdapter struct{ c *client }

// NewQualityAdapter builds the HTTP-backed quality adapter.
func NewQualityAdapter(baseURL string, cfg Config, logger logging.Logger) QualityAdapter {
	return &httpQualityAdapter{c: newClient("assess_quality", baseURL, cfg, logger)}
}

func (a *httpQualityAdapter) AssessQuality(ctx context.Context, imageBytes []byte) (QualityReport, error) {
	req := struct {
		ImageBytes []byte `json:"image_bytes"`
	}{ImageBytes: imageBytes}
	var out QualityReport
	if err := a.c.doJSON(ctx, "/assess-quality", req, &out); err != nil {
		return QualityReport{}, err
	}
	return out, nil
}

type httpReconstructionAdapter struct{ c *client }

// NewReconstructionAdapter builds the HTTP-backed reconstruction adapter.
func NewReconstructionAdapter(baseURL string, cfg Config, logger logging.Logger) ReconstructionAdapter {
	return &httpReconstructionAdapter{c: newClient("reconstruct", baseURL, cfg, logger)}
}

func (a *httpReconstructionAdapter) Reconstruct(ctx context.Context, imageBytes []byte, expectedRows, expectedCols int) (ReconstructionResult, error) {
	req := struct {
		ImageBytes   []byte `json:"image_bytes"`
		ExpectedRows int    `json:"expected_rows"`
		ExpectedCols int    `json:"expected_cols"`
	}{ImageBytes: imageBytes, ExpectedRows: expectedRows, ExpectedCols: expectedCols}
	var out ReconstructionResult
	if err := a.c.doJSON(ctx, "/reconstruct", req, &out); err != nil {
		return ReconstructionResult{}, err
	}
	return out, nil
}

type httpVerifyAdapter struct{ c *client }

// NewVerifyAdapter builds the HTTP-backed answer-key verification adapter.
func NewVerifyAdapter(baseURL string, cfg Config, logger logging.Logger) VerifyAdapter {
	return &httpVerifyAdapter{c: newClient("verify_answer_key", baseURL, cfg, logger)}
}

func (a *httpVerifyAdapter) VerifyAnswerKey(ctx context.Context, questionText, proposedAnswer string) (VerifyKeyResult, error) {
	req := struct {
		QuestionText   string `json:"question_text"`
		ProposedAnswer string `json:"proposed_answer"`
	}{QuestionText: questionText, ProposedAnswer: proposedAnswer}
	var out VerifyKeyResult
	if err := a.c.doJSON(ctx, "/verify", req, &out); err != nil {
		return VerifyKeyResult{}, err
	}
	return out, nil
}

type httpSolveAdapter struct{ c *client }

// NewSolveAdapter builds the HTTP-backed question-solving adapter.
func NewSolveAdapter(baseURL string, cfg Config, logger logging.Logger) SolveAdapter {
	return &httpSolveAdapter{c: newClient("solve_question", baseURL, cfg, logger)}
}

func (a *httpSolveAdapter) SolveQuestion(ctx context.Context, questionText, subject string) (SolveResult, error) {
	req := struct {
		QuestionText string `json:"question_text"`
		Subject      string `json:"subject"`
	}{QuestionText: questionText, Subject: subject}
	var out SolveResult
	if err := a.c.doJSON(ctx, "/solve", req, &out); err != nil {
		return SolveResult{}, err
	}
	return out, nil
}
