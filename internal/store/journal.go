package store

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/omr-eval/pipeline/internal/apperrors"
	"github.com/omr-eval/pipeline/internal/models"
)

// Journal implements the write-ahead pairing required by §4.2: a store
// mutation and its ledger append must commit together or not at all, even
// though the ledger itself lives outside the relational transaction.
// The sequence a caller follows is:
//
//  1. Begin a transaction.
//  2. Mutate the entity rows.
//  3. RecordIntent in the same transaction (so intent and mutation commit
//     or roll back together).
//  4. Commit the transaction.
//  5. Call the ledger append.
//  6. On success, Clear the intent row.
//
// A crash between steps 4 and 6 leaves an uncleared PendingLedgerAppend
// row; ReplayPending on the next startup finds it and retries the append
// using the recorded payload, then clears it — recovering the exact
// sequencing the teacher's ReceiveShardCommit achieves in-process (DB
// commit, then external consensus call, then a second DB transaction)
// but made restart-safe by persisting the intent instead of holding it
// only in a goroutine's stack.
type Journal struct {
	store *Store
}

// NewJournal builds a Journal bound to store.
func NewJournal(s *Store) *Journal {
	return &Journal{store: s}
}

// Begin starts a gorm transaction for a caller that wants to mutate rows
// and record journal intent atomically.
func (j *Journal) Begin() *gorm.DB {
	return j.store.db.Begin()
}

// RecordIntent inserts a pending-append row within tx, returning it so the
// caller can Clear it once the corresponding ledger append succeeds.
func (j *Journal) RecordIntent(tx *gorm.DB, entityKind, entityID, blockKind string, payload interface{}) (*models.PendingLedgerAppend, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "journal: marshal payload")
	}
	row := &models.PendingLedgerAppend{
		ID:          uuid.NewString(),
		EntityKind:  entityKind,
		EntityID:    entityID,
		BlockKind:   blockKind,
		PayloadJSON: string(raw),
	}
	if err := tx.Create(row).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "journal: record intent")
	}
	return row, nil
}

// Clear removes a pending-append row after its ledger append has
// succeeded.
func (j *Journal) Clear(id string) error {
	if err := j.store.db.Delete(&models.PendingLedgerAppend{}, "id = ?", id).Error; err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "journal: clear intent")
	}
	return nil
}

// Pending returns every uncleared intent row, oldest first, for startup
// recovery.
func (j *Journal) Pending() ([]models.PendingLedgerAppend, error) {
	var rows []models.PendingLedgerAppend
	if err := j.store.db.Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "journal: list pending")
	}
	return rows, nil
}

// DecodePendingPayload unmarshals a pending row's payload into a map, for
// the generic recovery driver that re-issues the ledger append.
func DecodePendingPayload(row models.PendingLedgerAppend) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(row.PayloadJSON), &m); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "journal: decode payload")
	}
	return m, nil
}
