package intervention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omr-eval/pipeline/internal/models"
)

type fakeStore struct {
	items map[string]*models.InterventionItem
}

func newFakeStore() *fakeStore { return &fakeStore{items: map[string]*models.InterventionItem{}} }

// seed inserts an item directly, bypassing Enqueue's ledger append, so
// priority/claim/cancel behavior can be tested without a live Postgres
// connection for the journal transaction Enqueue opens.
func (f *fakeStore) seed(it models.InterventionItem) {
	cp := it
	f.items[it.ID] = &cp
}

func (f *fakeStore) CreateIntervention(it *models.InterventionItem) error {
	it.CreatedAt = time.Now()
	cp := *it
	f.items[it.ID] = &cp
	return nil
}

func (f *fakeStore) SaveIntervention(it *models.InterventionItem) error {
	cp := *it
	f.items[it.ID] = &cp
	return nil
}

func (f *fakeStore) GetIntervention(id string) (*models.InterventionItem, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *it
	return &cp, nil
}

func (f *fakeStore) ListInterventions(status models.InterventionStatus, priority models.InterventionPriority, assignee string) ([]models.InterventionItem, error) {
	var out []models.InterventionItem
	for _, it := range f.items {
		if status != "" && it.Status != status {
			continue
		}
		out = append(out, *it)
	}
	return out, nil
}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

var errNotFound = &fakeErr{"not found"}

// newTestQueue builds a Queue over a pre-seeded fakeStore without a
// journal or chain: Next, Claim, and Cancel never touch either, and
// Resolve's precondition checks run before it would. Enqueue's own
// ledger-append path needs a live store transaction and badger-backed
// chain, so it is exercised only by integration testing, not here,
// matching the orchestrator package's own stage-transition methods.
func newTestQueue(t *testing.T, s *fakeStore) *Queue {
	t.Helper()
	q, err := NewQueue(s, nil, nil, nil)
	require.NoError(t, err)
	return q
}

func TestNextReturnsHighestPriorityOldestFirst(t *testing.T) {
	s := newFakeStore()
	now := time.Now()
	s.seed(models.InterventionItem{ID: "i1", EntityKind: "sheet", EntityID: "s1", Priority: models.PriorityNormal, Status: models.InterventionOpen, CreatedAt: now})
	s.seed(models.InterventionItem{ID: "i2", EntityKind: "sheet", EntityID: "s2", Priority: models.PriorityHigh, Status: models.InterventionOpen, CreatedAt: now.Add(time.Millisecond)})

	q := newTestQueue(t, s)

	next, err := q.Next(Filter{})
	require.NoError(t, err)
	require.Equal(t, "i2", next.ID)
}

func TestNextFiltersByEntityKind(t *testing.T) {
	s := newFakeStore()
	s.seed(models.InterventionItem{ID: "i1", EntityKind: "sheet", EntityID: "s1", Priority: models.PriorityHigh, Status: models.InterventionOpen, CreatedAt: time.Now()})
	s.seed(models.InterventionItem{ID: "i2", EntityKind: "answer_key", EntityID: "k1", Priority: models.PriorityHigh, Status: models.InterventionOpen, CreatedAt: time.Now()})

	q := newTestQueue(t, s)

	next, err := q.Next(Filter{EntityKind: "answer_key"})
	require.NoError(t, err)
	require.Equal(t, "i2", next.ID)
}

func TestClaimMovesItemOffHeapAndRejectsSecondClaim(t *testing.T) {
	s := newFakeStore()
	s.seed(models.InterventionItem{ID: "i1", EntityKind: "sheet", EntityID: "s1", Priority: models.PriorityNormal, Status: models.InterventionOpen, CreatedAt: time.Now()})
	q := newTestQueue(t, s)

	claimed, err := q.Claim("i1", "alice")
	require.NoError(t, err)
	require.Equal(t, models.InterventionClaimed, claimed.Status)

	_, err = q.Claim("i1", "bob")
	require.Error(t, err)

	next, err := q.Next(Filter{})
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestResolveRejectsNonClaimedItem(t *testing.T) {
	s := newFakeStore()
	s.seed(models.InterventionItem{ID: "i1", EntityKind: "sheet", EntityID: "s1", Priority: models.PriorityNormal, Status: models.InterventionOpen, CreatedAt: time.Now()})
	q := newTestQueue(t, s)

	_, err := q.Resolve("i1", "alice", "not actually claimed")
	require.Error(t, err)
}

func TestResolveRejectsWrongAssignee(t *testing.T) {
	s := newFakeStore()
	alice := "alice"
	s.seed(models.InterventionItem{ID: "i1", EntityKind: "sheet", EntityID: "s1", Priority: models.PriorityNormal, Status: models.InterventionClaimed, Assignee: &alice, CreatedAt: time.Now()})
	q := newTestQueue(t, s)

	_, err := q.Resolve("i1", "mallory", "nope")
	require.Error(t, err)
}

func TestCancelFromOpen(t *testing.T) {
	s := newFakeStore()
	s.seed(models.InterventionItem{ID: "i1", EntityKind: "sheet", EntityID: "s1", Priority: models.PriorityNormal, Status: models.InterventionOpen, CreatedAt: time.Now()})
	q := newTestQueue(t, s)

	cancelled, err := q.Cancel("i1", "moot")
	require.NoError(t, err)
	require.Equal(t, models.InterventionCancelled, cancelled.Status)
}

func TestCancelRejectsTerminalItem(t *testing.T) {
	s := newFakeStore()
	s.seed(models.InterventionItem{ID: "i1", EntityKind: "sheet", EntityID: "s1", Priority: models.PriorityNormal, Status: models.InterventionResolved, CreatedAt: time.Now()})
	q := newTestQueue(t, s)

	_, err := q.Cancel("i1", "too late")
	require.Error(t, err)
}
