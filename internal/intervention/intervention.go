// Package intervention implements the human-intervention queue (C5): an
// open→claimed→resolved(/cancelled) lifecycle with priority ordering
// (container/heap), guarded by one mutex per the concurrency model of §5.
// The heap is an in-memory index over currently-open items; the store
// package remains the durable source of truth, so Queue rebuilds its heap
// from persisted open items on startup. Opening and resolving an item are
// themselves state-changing events on the audit ledger, so both route
// through the same journaled store-mutation-then-append pairing the
// orchestrator uses for stage transitions.
package intervention

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/omr-eval/pipeline/internal/apperrors"
	"github.com/omr-eval/pipeline/internal/ledger"
	"github.com/omr-eval/pipeline/internal/logging"
	"github.com/omr-eval/pipeline/internal/metrics"
	"github.com/omr-eval/pipeline/internal/models"
)

// Store is the narrow persistence surface Queue needs, satisfied by
// *store.Store.
type Store interface {
	CreateIntervention(*models.InterventionItem) error
	SaveIntervention(*models.InterventionItem) error
	GetIntervention(id string) (*models.InterventionItem, error)
	ListInterventions(status models.InterventionStatus, priority models.InterventionPriority, assignee string) ([]models.InterventionItem, error)
}

// Journal is the narrow write-ahead surface Queue needs, satisfied by
// *store.Journal.
type Journal interface {
	Begin() *gorm.DB
	RecordIntent(tx *gorm.DB, entityKind, entityID, blockKind string, payload interface{}) (*models.PendingLedgerAppend, error)
	Clear(id string) error
}

// Chain is the narrow ledger surface Queue needs, satisfied by
// *ledger.Ledger.
type Chain interface {
	Append(req ledger.AppendRequest) (*ledger.Block, error)
}

// heapEntry is one open item's position in the priority heap.
type heapEntry struct {
	id        string
	priority  models.InterventionPriority
	createdAt time.Time
	entityID  string
}

type itemHeap []*heapEntry

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority.Rank() != h[j].priority.Rank() {
		return h[i].priority.Rank() > h[j].priority.Rank()
	}
	return h[i].createdAt.Before(h[j].createdAt)
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*heapEntry)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the priority-ordered intervention work queue.
type Queue struct {
	mu      sync.Mutex
	heap    itemHeap
	store   Store
	journal Journal
	chain   Chain
	logger  logging.Logger
}

// NewQueue builds a Queue and seeds its heap from every currently-open
// item in store, for restart recovery. Claimed items are not seeded.
func NewQueue(s Store, j Journal, chain Chain, logger logging.Logger) (*Queue, error) {
	q := &Queue{store: s, journal: j, chain: chain, logger: logger}
	heap.Init(&q.heap)

	open, err := s.ListInterventions(models.InterventionOpen, "", "")
	if err != nil {
		return nil, err
	}
	for i := range open {
		it := open[i]
		heap.Push(&q.heap, &heapEntry{id: it.ID, priority: it.Priority, createdAt: it.CreatedAt, entityID: it.EntityID})
		metrics.InterventionsOpen.WithLabelValues(it.ReasonKind).Inc()
	}
	return q, nil
}

// commitWithJournal mirrors the orchestrator's helper of the same name:
// mutate runs inside a store transaction paired with a journal intent,
// which commits before the ledger append runs, so a crash between the two
// never leaves an item mutated without a matching block. Duplicated here
// rather than shared, since internal/orchestrator importing internal/
// intervention (for Queue) rules out the reverse import.
func (q *Queue) commitWithJournal(entityKind, entityID string, req ledger.AppendRequest, mutate func(tx *gorm.DB) error) (*ledger.Block, error) {
	tx := q.journal.Begin()
	if err := mutate(tx); err != nil {
		tx.Rollback()
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "intervention: item mutation")
	}
	intent, err := q.journal.RecordIntent(tx, entityKind, entityID, string(req.Kind), req.Payload)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "intervention: commit item transaction")
	}

	block, err := q.chain.Append(req)
	if err != nil {
		if q.logger != nil {
			q.logger.Error("intervention: ledger append failed, intent left pending for replay",
				"entity_kind", entityKind, "entity_id", entityID, "intent_id", intent.ID, "err", err)
		}
		return nil, err
	}
	if err := q.journal.Clear(intent.ID); err != nil && q.logger != nil {
		q.logger.Error("intervention: failed to clear journal intent after successful append",
			"intent_id", intent.ID, "err", err)
	}
	return block, nil
}

// Enqueue opens a new intervention item for an entity, appends an
// INTERVENTION_OPENED block recording it, and returns the item.
func (q *Queue) Enqueue(entityKind, entityID string, pipelineStage models.Stage, reasonKind string, priority models.InterventionPriority) (*models.InterventionItem, error) {
	item := &models.InterventionItem{
		ID:            uuid.NewString(),
		EntityKind:    entityKind,
		EntityID:      entityID,
		PipelineStage: pipelineStage,
		ReasonKind:    reasonKind,
		Priority:      priority,
		Status:        models.InterventionOpen,
	}

	req := ledger.AppendRequest{
		Kind: ledger.KindInterventionOpened,
		Payload: map[string]interface{}{
			"intervention_id": item.ID,
			"entity_kind":     entityKind,
			"entity_id":       entityID,
			"reason_kind":     reasonKind,
		},
	}
	block, err := q.commitWithJournal(entityKind, entityID, req, func(tx *gorm.DB) error {
		return tx.Create(item).Error
	})
	if err != nil {
		return nil, err
	}
	item.OpenedBlockHash = block.SelfHash
	if err := q.store.SaveIntervention(item); err != nil && q.logger != nil {
		q.logger.Error("intervention: failed to record opened block hash", "intervention_id", item.ID, "err", err)
	}

	q.mu.Lock()
	heap.Push(&q.heap, &heapEntry{id: item.ID, priority: item.Priority, createdAt: item.CreatedAt, entityID: item.EntityID})
	q.mu.Unlock()

	metrics.InterventionsOpen.WithLabelValues(reasonKind).Inc()
	return item, nil
}

// Filter narrows Next's candidate set.
type Filter struct {
	EntityKind string
}

// Next returns the highest-priority open item matching filter, tie-broken
// oldest-first, without removing it from the queue (claim is what removes
// it). Returns nil if nothing matches.
func (q *Queue) Next(filter Filter) (*models.InterventionItem, error) {
	q.mu.Lock()
	candidates := make([]*heapEntry, len(q.heap))
	copy(candidates, q.heap)
	q.mu.Unlock()

	// Sort a snapshot rather than mutating the live heap, since Next is a
	// peek, not a pop.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && less(candidates[j], candidates[j-1]); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	for _, c := range candidates {
		item, err := q.store.GetIntervention(c.id)
		if err != nil {
			return nil, err
		}
		if filter.EntityKind == "" || item.EntityKind == filter.EntityKind {
			return item, nil
		}
	}
	return nil, nil
}

func less(a, b *heapEntry) bool {
	if a.priority.Rank() != b.priority.Rank() {
		return a.priority.Rank() > b.priority.Rank()
	}
	return a.createdAt.Before(b.createdAt)
}

// Claim atomically assigns an open item to assignee, moving it to
// claimed. Returns apperrors.ErrPreconditionFailed if the item is not
// open.
func (q *Queue) Claim(itemID, assignee string) (*models.InterventionItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.store.GetIntervention(itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.InterventionOpen {
		return nil, apperrors.Newf(apperrors.KindPreconditionFailed, "intervention: item %s is %s, not open", itemID, item.Status)
	}
	item.Status = models.InterventionClaimed
	item.Assignee = &assignee
	if err := q.store.SaveIntervention(item); err != nil {
		return nil, err
	}
	q.removeFromHeap(itemID)
	return item, nil
}

// Resolve marks a claimed item resolved with a decision note. Only the
// assignee may resolve; callers are expected to pass the acting
// identity as assignee and this checks it matches the claim.
func (q *Queue) Resolve(itemID, assignee, resolutionNote string) (*models.InterventionItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.store.GetIntervention(itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.InterventionClaimed {
		return nil, apperrors.Newf(apperrors.KindPreconditionFailed, "intervention: item %s is %s, not claimed", itemID, item.Status)
	}
	if item.Assignee == nil || *item.Assignee != assignee {
		return nil, apperrors.Newf(apperrors.KindPreconditionFailed, "intervention: item %s not claimed by %s", itemID, assignee)
	}
	item.Status = models.InterventionResolved
	item.ResolutionNote = resolutionNote

	req := ledger.AppendRequest{
		Kind: ledger.KindInterventionResolved,
		Payload: map[string]interface{}{
			"intervention_id":   item.ID,
			"opened_block_hash": item.OpenedBlockHash,
			"resolved_by":       assignee,
			"resolution_note":   resolutionNote,
		},
	}
	block, err := q.commitWithJournal(item.EntityKind, item.EntityID, req, func(tx *gorm.DB) error {
		return tx.Save(item).Error
	})
	if err != nil {
		return nil, err
	}
	item.ResolvedBlockHash = block.SelfHash
	if err := q.store.SaveIntervention(item); err != nil && q.logger != nil {
		q.logger.Error("intervention: failed to record resolved block hash", "intervention_id", item.ID, "err", err)
	}

	metrics.InterventionsOpen.WithLabelValues(item.ReasonKind).Dec()
	return item, nil
}

// Cancel moves an item to cancelled from any non-terminal state.
func (q *Queue) Cancel(itemID, note string) (*models.InterventionItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.store.GetIntervention(itemID)
	if err != nil {
		return nil, err
	}
	if item.Status == models.InterventionResolved || item.Status == models.InterventionCancelled {
		return nil, apperrors.Newf(apperrors.KindPreconditionFailed, "intervention: item %s already terminal (%s)", itemID, item.Status)
	}
	item.Status = models.InterventionCancelled
	item.ResolutionNote = note
	if err := q.store.SaveIntervention(item); err != nil {
		return nil, err
	}
	q.removeFromHeap(itemID)
	metrics.InterventionsOpen.WithLabelValues(item.ReasonKind).Dec()
	return item, nil
}

func (q *Queue) removeFromHeap(itemID string) {
	for i, e := range q.heap {
		if e.id == itemID {
			heap.Remove(&q.heap, i)
			return
		}
	}
}
