package ledger

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/omr-eval/pipeline/internal/apperrors"
	"github.com/omr-eval/pipeline/internal/logging"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l, err := Open(db, 0, nil, logging.Nop())
	require.NoError(t, err)
	return l
}

func appendN(t *testing.T, l *Ledger, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.Append(AppendRequest{
			Kind:    KindSheetIngested,
			Payload: map[string]interface{}{"sheet_id": i},
		})
		require.NoError(t, err)
	}
}

func TestChainIntegrity(t *testing.T) {
	l := openTestLedger(t)
	appendN(t, l, 10)

	res, err := l.Validate()
	require.NoError(t, err)
	require.True(t, res.Valid)
}

func TestLinkageMonotonicity(t *testing.T) {
	l := openTestLedger(t)
	appendN(t, l, 5)

	head, err := l.Head()
	require.NoError(t, err)
	for i := uint64(1); i <= head.Index; i++ {
		prev, err := l.GetByIndex(i - 1)
		require.NoError(t, err)
		cur, err := l.GetByIndex(i)
		require.NoError(t, err)
		require.Equal(t, prev.SelfHash, cur.PrevHash)
		require.Equal(t, prev.Index+1, cur.Index)
	}
}

func TestTamperDetection(t *testing.T) {
	l := openTestLedger(t)
	appendN(t, l, 10)

	b, err := l.GetByIndex(5)
	require.NoError(t, err)
	b.MerkleRoot = "0000000000000000000000000000000000000000000000000000000000000000"
	require.NoError(t, l.store(b))

	res, err := l.Validate()
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, uint64(5), res.FirstBadIndex)

	_, err = l.Append(AppendRequest{Kind: KindSheetIngested, Payload: map[string]interface{}{"x": 1}})
	require.Error(t, err)
	require.Equal(t, apperrors.KindChainIntegrityError, apperrors.KindOf(err))
}

func TestSignatureEnforcement(t *testing.T) {
	l := openTestLedger(t)

	_, err := l.Append(AppendRequest{
		Kind: KindResultFinalized,
		Signatures: []Signature{
			{SignerKind: "ai-verifier", SignerKey: "k1", Bytes: []byte("sig1")},
			{SignerKind: "human-verifier", SignerKey: "k2", Bytes: []byte("sig2")},
		},
	})
	require.Error(t, err)
	require.Equal(t, apperrors.KindSignatureInsufficient, apperrors.KindOf(err))

	head, herr := l.Head()
	require.NoError(t, herr)
	require.Equal(t, uint64(0), head.Index) // only genesis, no block appended
}

func TestMerkleRootChangesWithPayload(t *testing.T) {
	a := []PayloadEntry{mustEntry(t, "q1", 1)}
	b := []PayloadEntry{mustEntry(t, "q1", 2)}
	require.NotEqual(t, merkleRoot(a), merkleRoot(b))
}

func mustEntry(t *testing.T, key string, val interface{}) PayloadEntry {
	t.Helper()
	e, err := NewPayloadEntry(key, val)
	require.NoError(t, err)
	return e
}
