// Package store provides transactional persistence over the entities in
// internal/models (C2). It generalizes the teacher repository's
// gorm-over-postgres connection/migration pattern and its commit-then-
// external-step sequencing (ReceiveShardCommit) into the journaled
// store-mutation-then-ledger-append pairing the pipeline orchestrator
// requires: see journal.go for the crash-safe half of the contract.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/omr-eval/pipeline/internal/apperrors"
	"github.com/omr-eval/pipeline/internal/logging"
	"github.com/omr-eval/pipeline/internal/models"
)

// Postgres error codes the store translates into apperrors kinds.
const (
	pgErrForeignKeyViolation = "23503"
	pgErrUniqueViolation     = "23505"
)

// Store wraps a *gorm.DB with the pipeline's transactional operations.
type Store struct {
	db     *gorm.DB
	logger logging.Logger
}

// Connect opens a postgres connection with the teacher's bounded retry
// loop, then runs migrations.
func Connect(dsn string, logger logging.Logger) (*Store, error) {
	var db *gorm.DB
	var lastErr error
	for attempt := 1; attempt <= 10; attempt++ {
		logger.Info("store: connection attempt", "attempt", attempt)
		opened, err := gorm.Open(postgres.Open(dsn))
		if err != nil {
			lastErr = err
			logger.Error("store: connection attempt failed", "attempt", attempt, "err", err)
			time.Sleep(2 * time.Second)
			continue
		}
		db = opened
		break
	}
	if db == nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, lastErr, "store: failed to connect after retries")
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	logger.Info("store: connected and migrated")
	return s, nil
}

// migrate creates tables in the explicit dependency order AllTables lists,
// mirroring the teacher's per-table HasTable/CreateTable sequencing rather
// than a single blanket AutoMigrate call.
func (s *Store) migrate() error {
	migrator := s.db.Migrator()
	for _, table := range models.AllTables() {
		if migrator.HasTable(table) {
			continue
		}
		if err := migrator.CreateTable(table); err != nil {
			return apperrors.Wrap(apperrors.KindInternal, err, fmt.Sprintf("store: create table %T", table))
		}
		s.logger.Info("store: table created", "table", fmt.Sprintf("%T", table))
	}
	return nil
}

// DB exposes the underlying gorm handle for packages (journal, tests) that
// need raw transaction control.
func (s *Store) DB() *gorm.DB { return s.db }

func translateGormErr(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Wrap(apperrors.KindNotFound, err, notFoundMsg)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return apperrors.Wrap(apperrors.KindValidation, err, "store: unique constraint violated")
		case pgErrForeignKeyViolation:
			return apperrors.Wrap(apperrors.KindValidation, err, "store: foreign key violated")
		}
	}
	return apperrors.Wrap(apperrors.KindInternal, err, "store: database error")
}

// CreateQuestionPaper persists a new paper.
func (s *Store) CreateQuestionPaper(p *models.QuestionPaper) error {
	return translateGormErr(s.db.Create(p).Error, "question paper not found")
}

// GetQuestionPaper fetches a paper by id.
func (s *Store) GetQuestionPaper(id string) (*models.QuestionPaper, error) {
	var p models.QuestionPaper
	err := s.db.Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, translateGormErr(err, "question paper not found")
	}
	return &p, nil
}

// SaveQuestionPaper persists changes to an existing paper.
func (s *Store) SaveQuestionPaper(p *models.QuestionPaper) error {
	return translateGormErr(s.db.Save(p).Error, "question paper not found")
}

// CreateAnswerKey persists a new draft key.
func (s *Store) CreateAnswerKey(k *models.AnswerKey) error {
	return translateGormErr(s.db.Create(k).Error, "answer key not found")
}

// GetAnswerKey fetches a key by id.
func (s *Store) GetAnswerKey(id string) (*models.AnswerKey, error) {
	var k models.AnswerKey
	err := s.db.Where("id = ?", id).First(&k).Error
	if err != nil {
		return nil, translateGormErr(err, "answer key not found")
	}
	return &k, nil
}

// GetAnswerKeyByPaper looks up an AnswerKey by its paper id, per §4.2's
// required query set.
func (s *Store) GetAnswerKeyByPaper(paperID string) (*models.AnswerKey, error) {
	var k models.AnswerKey
	err := s.db.Where("question_paper_id = ?", paperID).First(&k).Error
	if err != nil {
		return nil, translateGormErr(err, "answer key not found for paper")
	}
	return &k, nil
}

// SaveAnswerKey persists changes to an existing key.
func (s *Store) SaveAnswerKey(k *models.AnswerKey) error {
	return translateGormErr(s.db.Save(k).Error, "answer key not found")
}

// CreateSheet persists a new sheet.
func (s *Store) CreateSheet(sh *models.Sheet) error {
	return translateGormErr(s.db.Create(sh).Error, "sheet not found")
}

// GetSheet fetches a sheet by id with all 1:1 relations preloaded, per
// §4.2's required query set.
func (s *Store) GetSheet(id string) (*models.Sheet, error) {
	var sh models.Sheet
	err := s.db.
		Preload("QualityRecord").
		Preload("BubbleReading").
		Preload("AISolverVerdict").
		Preload("ManualEntry").
		Preload("Reconciliation").
		Preload("ScoreResult").
		Where("id = ?", id).First(&sh).Error
	if err != nil {
		return nil, translateGormErr(err, "sheet not found")
	}
	return &sh, nil
}

// SaveSheet persists changes to an existing sheet.
func (s *Store) SaveSheet(sh *models.Sheet) error {
	return translateGormErr(s.db.Save(sh).Error, "sheet not found")
}

// ListSheetsInStage lists every sheet currently at stage, used to
// re-schedule work after a process restart.
func (s *Store) ListSheetsInStage(stage models.Stage) ([]models.Sheet, error) {
	var sheets []models.Sheet
	err := s.db.Where("stage = ?", stage).Find(&sheets).Error
	if err != nil {
		return nil, translateGormErr(err, "")
	}
	return sheets, nil
}

// SaveQualityRecord upserts the 1:1 quality record for a sheet.
func (s *Store) SaveQualityRecord(q *models.QualityRecord) error {
	return translateGormErr(s.db.Save(q).Error, "")
}

// SaveBubbleReading upserts the 1:1 bubble reading for a sheet.
func (s *Store) SaveBubbleReading(b *models.BubbleReading) error {
	return translateGormErr(s.db.Save(b).Error, "")
}

// SaveAISolverVerdict upserts the 1:1 AI solver verdict for a sheet.
func (s *Store) SaveAISolverVerdict(a *models.AISolverVerdict) error {
	return translateGormErr(s.db.Save(a).Error, "")
}

// SaveManualEntry upserts the 1:1 manual entry for a sheet.
func (s *Store) SaveManualEntry(m *models.ManualEntry) error {
	return translateGormErr(s.db.Save(m).Error, "")
}

// SaveReconciliation upserts the 1:1 reconciliation for a sheet.
func (s *Store) SaveReconciliation(r *models.Reconciliation) error {
	return translateGormErr(s.db.Save(r).Error, "")
}

// SaveScoreResult upserts the 1:1 score result for a sheet.
func (s *Store) SaveScoreResult(r *models.ScoreResult) error {
	return translateGormErr(s.db.Save(r).Error, "")
}

// CreateIntervention persists a new intervention item.
func (s *Store) CreateIntervention(it *models.InterventionItem) error {
	return translateGormErr(s.db.Create(it).Error, "")
}

// SaveIntervention persists changes to an existing intervention item.
func (s *Store) SaveIntervention(it *models.InterventionItem) error {
	return translateGormErr(s.db.Save(it).Error, "intervention not found")
}

// GetIntervention fetches an intervention item by id.
func (s *Store) GetIntervention(id string) (*models.InterventionItem, error) {
	var it models.InterventionItem
	err := s.db.Where("id = ?", id).First(&it).Error
	if err != nil {
		return nil, translateGormErr(err, "intervention not found")
	}
	return &it, nil
}

// ListInterventions lists items by status, priority, and optional
// assignee, per §4.2's required query set. Empty filters are unfiltered.
func (s *Store) ListInterventions(status models.InterventionStatus, priority models.InterventionPriority, assignee string) ([]models.InterventionItem, error) {
	q := s.db.Model(&models.InterventionItem{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if priority != "" {
		q = q.Where("priority = ?", priority)
	}
	if assignee != "" {
		q = q.Where("assignee = ?", assignee)
	}
	var items []models.InterventionItem
	if err := q.Find(&items).Error; err != nil {
		return nil, translateGormErr(err, "")
	}
	return items, nil
}

// OpenInterventionsForSheet returns every non-terminal intervention item
// whose entity_id is the sheet's id, used by the finalization-gate check.
// Items opened against other entities are not matched.
func (s *Store) OpenInterventionsForSheet(sheetID string) ([]models.InterventionItem, error) {
	var items []models.InterventionItem
	err := s.db.Where("entity_id = ? AND status IN ?", sheetID,
		[]models.InterventionStatus{models.InterventionOpen, models.InterventionClaimed}).
		Find(&items).Error
	if err != nil {
		return nil, translateGormErr(err, "")
	}
	return items, nil
}

// LoadSignerKeys returns every registered signer key row.
func (s *Store) LoadSignerKeys() ([]models.SignerKey, error) {
	var keys []models.SignerKey
	if err := s.db.Find(&keys).Error; err != nil {
		return nil, translateGormErr(err, "")
	}
	return keys, nil
}
