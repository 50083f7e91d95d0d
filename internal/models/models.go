// Package models holds the GORM entities backing the persistent store (C2)
// and the plain value types shared with the ledger and reconciliation
// engine. Field tags follow the teacher repository's explicit column/type
// tagging convention.
package models

import "time"

// AnswerKeyStatus enumerates the lifecycle of an AnswerKey.
type AnswerKeyStatus string

const (
	AnswerKeyDraft         AnswerKeyStatus = "draft"
	AnswerKeyAIVerified    AnswerKeyStatus = "ai_verified"
	AnswerKeyFlagged       AnswerKeyStatus = "flagged"
	AnswerKeyHumanApproved AnswerKeyStatus = "human_approved"
	AnswerKeyLocked        AnswerKeyStatus = "locked"
)

// Stage enumerates the per-sheet pipeline position.
type Stage string

const (
	StageIngested          Stage = "INGESTED"
	StageQualityAssessed    Stage = "QUALITY_ASSESSED"
	StageReconstructed      Stage = "RECONSTRUCTED"
	StageBubblesRead        Stage = "BUBBLES_READ"
	StageAISolved           Stage = "AI_SOLVED"
	StageManualEntered      Stage = "MANUAL_ENTERED"
	StageReconciled         Stage = "RECONCILED"
	StageScored             Stage = "SCORED"
	StageFinalized          Stage = "FINALIZED"
	StageRejected           Stage = "REJECTED"
)

// QualityDecision enumerates the outcome of a quality assessment.
type QualityDecision string

const (
	QualityProceed      QualityDecision = "proceed"
	QualityReconstruct  QualityDecision = "reconstruct"
	QualityReject       QualityDecision = "reject"
	QualityHumanReview  QualityDecision = "human_review"
)

// Answer is the wire-level value for a single question's detected/entered
// answer. It is normally a single letter; BubbleReading additionally allows
// the sentinel values AnswerNone and AnswerMultiple.
type Answer string

const (
	AnswerNone     Answer = "NONE"
	AnswerMultiple Answer = "MULTIPLE"
)

// ReconciliationStatus enumerates the per-question three-way outcome.
type ReconciliationStatus string

const (
	StatusMatched         ReconciliationStatus = "matched"
	StatusDisputedAI      ReconciliationStatus = "disputed_ai"
	StatusDisputedManual  ReconciliationStatus = "disputed_manual"
	StatusThreeWaySplit   ReconciliationStatus = "three_way_split"
	StatusNeedsReview     ReconciliationStatus = "needs_review"
	StatusResolved        ReconciliationStatus = "resolved"
)

// InterventionPriority enumerates queue priority, highest first.
type InterventionPriority string

const (
	PriorityLow      InterventionPriority = "low"
	PriorityNormal   InterventionPriority = "normal"
	PriorityHigh     InterventionPriority = "high"
	PriorityCritical InterventionPriority = "critical"
)

// rank gives a numeric rank for heap ordering; higher
// rank pops first.
func (p InterventionPriority) rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Rank exposes rank for internal/intervention's heap.
func (p InterventionPriority) Rank() int { return p.rank() }

// InterventionStatus enumerates the queue-item lifecycle.
type InterventionStatus string

const (
	InterventionOpen      InterventionStatus = "open"
	InterventionClaimed   InterventionStatus = "claimed"
	InterventionResolved  InterventionStatus = "resolved"
	InterventionCancelled InterventionStatus = "cancelled"
)

// QuestionPaper is created once per exam and is immutable afterward except
// for its answer-key links.
type QuestionPaper struct {
	ID             string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	ExamID         string    `gorm:"column:exam_id;type:varchar(100);index;not null"`
	Subject        string    `gorm:"column:subject;type:varchar(100);not null"`
	TotalQuestions int       `gorm:"column:total_questions;not null"`
	MaxMarks       Decimal   `gorm:"column:max_marks;type:numeric(10,2);not null"`
	ContentHash    string    `gorm:"column:content_hash;type:varchar(64);not null"`
	LastBlockHash  string    `gorm:"column:last_block_hash;type:varchar(64)"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// AnswerKeyEntry is one question's expected answer and marks value, stored
// as part of AnswerKey.Entries (jsonb).
type AnswerKeyEntry struct {
	QuestionNumber  int     `json:"question_number"`
	ExpectedAnswer  Answer  `json:"expected_answer"`
	Marks           Decimal `json:"marks"`
	Confidence      float64 `json:"confidence,omitempty"`
	AmbiguityNote   string  `json:"ambiguity_note,omitempty"`
}

// AnswerKey belongs to one QuestionPaper.
type AnswerKey struct {
	ID              string           `gorm:"column:id;primaryKey;type:varchar(36)"`
	QuestionPaperID string           `gorm:"column:question_paper_id;type:varchar(36);index;not null"`
	QuestionPaper   *QuestionPaper   `gorm:"foreignKey:QuestionPaperID;references:ID"`
	Status          AnswerKeyStatus  `gorm:"column:status;type:varchar(20);not null;default:'draft'"`
	Entries         []AnswerKeyEntry `gorm:"column:entries;type:jsonb;serializer:json;not null"`
	AIConfidence    float64          `gorm:"column:ai_confidence"`
	LastBlockHash   string           `gorm:"column:last_block_hash;type:varchar(64)"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// EntryFor returns the AnswerKeyEntry for a question number, or false.
func (k *AnswerKey) EntryFor(q int) (AnswerKeyEntry, bool) {
	for _, e := range k.Entries {
		if e.QuestionNumber == q {
			return e, true
		}
	}
	return AnswerKeyEntry{}, false
}

// Sheet is one student's scanned answer sheet moving through the pipeline.
type Sheet struct {
	ID                      string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	ExamID                  string    `gorm:"column:exam_id;type:varchar(100);index;not null"`
	QuestionPaperID         string    `gorm:"column:question_paper_id;type:varchar(36);index;not null"`
	AnswerKeyID             string    `gorm:"column:answer_key_id;type:varchar(36);index"`
	RollNumber              string    `gorm:"column:roll_number;type:varchar(50);not null"`
	ImageContentHash        string    `gorm:"column:image_content_hash;type:varchar(64);not null"`
	ReconstructedImageHash  string    `gorm:"column:reconstructed_image_hash;type:varchar(64)"`
	Stage                   Stage     `gorm:"column:stage;type:varchar(30);not null;default:'INGESTED'"`
	LastBlockHash           string    `gorm:"column:last_block_hash;type:varchar(64)"`
	CreatedAt               time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time `gorm:"column:updated_at;autoUpdateTime"`

	QualityRecord    *QualityRecord    `gorm:"foreignKey:SheetID"`
	BubbleReading    *BubbleReading    `gorm:"foreignKey:SheetID"`
	AISolverVerdict  *AISolverVerdict  `gorm:"foreignKey:SheetID"`
	ManualEntry      *ManualEntry      `gorm:"foreignKey:SheetID"`
	Reconciliation   *Reconciliation   `gorm:"foreignKey:SheetID"`
	ScoreResult      *ScoreResult      `gorm:"foreignKey:SheetID"`
}

// DamageRegion describes one detected damage area on a sheet image.
type DamageRegion struct {
	Kind     string  `json:"kind"`
	Severity string  `json:"severity"`
}

// QualityRecord is 1:1 with a Sheet.
type QualityRecord struct {
	SheetID                string          `gorm:"column:sheet_id;primaryKey;type:varchar(36)"`
	OverallQualityScore    float64         `gorm:"column:overall_quality_score;not null"`
	BubbleClarityScore     float64         `gorm:"column:bubble_clarity_score"`
	SheetAlignmentScore    float64         `gorm:"column:sheet_alignment_score"`
	DamageKinds            []string        `gorm:"column:damage_kinds;type:jsonb;serializer:json"`
	DamageRegions          []DamageRegion  `gorm:"column:damage_regions;type:jsonb;serializer:json"`
	Decision               QualityDecision `gorm:"column:decision;type:varchar(20);not null"`
	ReconstructionOutcomeHash string       `gorm:"column:reconstruction_outcome_hash;type:varchar(64)"`
	CreatedAt              time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// BubbleEntry is one question's vision-detected answer.
type BubbleEntry struct {
	QuestionNumber  int     `json:"question_number"`
	DetectedAnswer  Answer  `json:"detected_answer"`
	Confidence      float64 `json:"confidence"`
}

// BubbleReading is 1:1 with a Sheet.
type BubbleReading struct {
	SheetID   string        `gorm:"column:sheet_id;primaryKey;type:varchar(36)"`
	Entries   []BubbleEntry `gorm:"column:entries;type:jsonb;serializer:json;not null"`
	CreatedAt time.Time     `gorm:"column:created_at;autoCreateTime"`
}

// EntryFor returns the BubbleEntry for a question, or false.
func (b *BubbleReading) EntryFor(q int) (BubbleEntry, bool) {
	for _, e := range b.Entries {
		if e.QuestionNumber == q {
			return e, true
		}
	}
	return BubbleEntry{}, false
}

// SolverEntry is one question's independently AI-solved answer.
type SolverEntry struct {
	QuestionNumber int     `json:"question_number"`
	SolverAnswer   Answer  `json:"solver_answer"`
	Confidence     float64 `json:"confidence"`
	Explanation    string  `json:"explanation,omitempty"`
}

// AISolverVerdict is 1:1 with a Sheet, optional.
type AISolverVerdict struct {
	SheetID   string        `gorm:"column:sheet_id;primaryKey;type:varchar(36)"`
	Entries   []SolverEntry `gorm:"column:entries;type:jsonb;serializer:json;not null"`
	CreatedAt time.Time     `gorm:"column:created_at;autoCreateTime"`
}

// EntryFor returns the SolverEntry for a question, or false.
func (a *AISolverVerdict) EntryFor(q int) (SolverEntry, bool) {
	for _, e := range a.Entries {
		if e.QuestionNumber == q {
			return e, true
		}
	}
	return SolverEntry{}, false
}

// ManualEntryRecord is one question's human-entered answer.
type ManualEntryRecord struct {
	QuestionNumber int    `json:"question_number"`
	EnteredAnswer  Answer `json:"entered_answer"`
}

// ManualEntry is 1:1 with a Sheet, optional.
type ManualEntry struct {
	SheetID   string              `gorm:"column:sheet_id;primaryKey;type:varchar(36)"`
	Entries   []ManualEntryRecord `gorm:"column:entries;type:jsonb;serializer:json;not null"`
	EnteredBy string              `gorm:"column:entered_by;type:varchar(100);not null"`
	EnteredAt time.Time           `gorm:"column:entered_at;not null"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// ReconciliationRow is the per-question reconciliation tuple.
type ReconciliationRow struct {
	QuestionNumber int                  `json:"question_number"`
	OMR            Answer               `json:"omr"`
	AI             Answer               `json:"ai,omitempty"`
	Manual         Answer               `json:"manual,omitempty"`
	Final          Answer               `json:"final,omitempty"`
	Status         ReconciliationStatus `json:"status"`
}

// Reconciliation is 1:1 with a Sheet.
type Reconciliation struct {
	SheetID   string              `gorm:"column:sheet_id;primaryKey;type:varchar(36)"`
	Rows      []ReconciliationRow `gorm:"column:rows;type:jsonb;serializer:json;not null"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// QuestionScore is one question's breakdown within a ScoreResult.
type QuestionScore struct {
	QuestionNumber int     `json:"question_number"`
	Awarded        Decimal `json:"awarded"`
	Correct        bool    `json:"correct"`
	Explanation    string  `json:"explanation,omitempty"`
}

// ScoreResult is 1:1 with a Sheet.
type ScoreResult struct {
	SheetID             string          `gorm:"column:sheet_id;primaryKey;type:varchar(36)"`
	AutomatedMarks      Decimal         `gorm:"column:automated_marks;type:numeric(10,2);not null"`
	ManualMarks         *Decimal        `gorm:"column:manual_marks;type:numeric(10,2)"`
	MarksMatch          bool            `gorm:"column:marks_match;not null"`
	IsPerfectEvaluation bool            `gorm:"column:is_perfect_evaluation;not null"`
	Grade               string          `gorm:"column:grade;type:varchar(5)"`
	Breakdown           []QuestionScore `gorm:"column:breakdown;type:jsonb;serializer:json;not null"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// InterventionItem is a queue entry blocking pipeline progression on some
// entity until claimed and resolved.
type InterventionItem struct {
	ID             string                `gorm:"column:id;primaryKey;type:varchar(36)"`
	EntityKind     string                `gorm:"column:entity_kind;type:varchar(30);not null"`
	EntityID       string                `gorm:"column:entity_id;type:varchar(36);index;not null"`
	PipelineStage  Stage                 `gorm:"column:pipeline_stage;type:varchar(30)"`
	ReasonKind     string                `gorm:"column:reason_kind;type:varchar(50);not null"`
	Priority       InterventionPriority  `gorm:"column:priority;type:varchar(10);not null"`
	Status         InterventionStatus    `gorm:"column:status;type:varchar(10);not null;default:'open'"`
	Assignee       *string               `gorm:"column:assignee;type:varchar(100)"`
	ResolutionNote string                `gorm:"column:resolution_note;type:text"`
	OpenedBlockHash string               `gorm:"column:opened_block_hash;type:varchar(64)"`
	ResolvedBlockHash string             `gorm:"column:resolved_block_hash;type:varchar(64)"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// SignerKey is a registered signer-kind/public-key pair, read-only after
// startup load from the signer registry file.
type SignerKey struct {
	SignerKind string    `gorm:"column:signer_kind;primaryKey;type:varchar(30)"`
	PublicKey  string    `gorm:"column:public_key;type:varchar(64);not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// PendingLedgerAppend is the write-ahead journal row pairing a store
// mutation with its still-pending ledger append, cleared once the append
// succeeds. See internal/store/journal.go.
type PendingLedgerAppend struct {
	ID          string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	EntityKind  string    `gorm:"column:entity_kind;type:varchar(30);not null"`
	EntityID    string    `gorm:"column:entity_id;type:varchar(36);index;not null"`
	BlockKind   string    `gorm:"column:block_kind;type:varchar(40);not null"`
	PayloadJSON string    `gorm:"column:payload_json;type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// AllTables lists every model for migration, in dependency order.
func AllTables() []interface{} {
	return []interface{}{
		&QuestionPaper{},
		&AnswerKey{},
		&Sheet{},
		&QualityRecord{},
		&BubbleReading{},
		&AISolverVerdict{},
		&ManualEntry{},
		&Reconciliation{},
		&ScoreResult{},
		&InterventionItem{},
		&SignerKey{},
		&PendingLedgerAppend{},
	}
}
