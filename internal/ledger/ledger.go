package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"

	"github.com/omr-eval/pipeline/internal/apperrors"
	"github.com/omr-eval/pipeline/internal/logging"
	"github.com/omr-eval/pipeline/internal/metrics"
	"github.com/omr-eval/pipeline/internal/signers"
)

// ErrMiningBudgetExceeded signals the nonce search exhausted its bound
// without meeting the difficulty predicate. This is a C1-internal failure
// mode, not part of the HTTP-facing error taxonomy, so it is not mapped to
// an apperrors.Kind beyond Internal.
var ErrMiningBudgetExceeded = apperrors.New(apperrors.KindInternal, "ledger: mining budget exceeded")

const (
	keyHead        = "head"
	maxMineAttempts = 1 << 24
)

func blockKey(index uint64) []byte {
	k := make([]byte, 6+8)
	copy(k, "block:")
	binary.BigEndian.PutUint64(k[6:], index)
	return k
}

func hashKey(hexHash string) []byte {
	return append([]byte("hash:"), hexHash...)
}

// Ledger is the single-writer, append-only chain. Concurrency: Append
// takes an exclusive in-process lock (one exclusive writer per §5);
// read operations (GetByIndex, GetByHash, Head, Validate) never block on
// it and see the chain as of the latest fsynced head.
type Ledger struct {
	db         *badger.DB
	difficulty int
	signerReg  *signers.Registry
	logger     logging.Logger

	mu          sync.Mutex // serializes Append; the single exclusive writer lock of §5
	readOnly    bool       // set true on ChainIntegrityError per §7
	cachedHead  *Block
}

// Open opens (or creates) the ledger over an already-open badger DB,
// appending a genesis block if the store is empty.
func Open(db *badger.DB, difficulty int, signerReg *signers.Registry, logger logging.Logger) (*Ledger, error) {
	l := &Ledger{db: db, difficulty: difficulty, signerReg: signerReg, logger: logger}
	head, err := l.head()
	if err != nil {
		return nil, err
	}
	if head == nil {
		if err := l.appendGenesis(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) appendGenesis() error {
	entry, err := NewPayloadEntry("genesis", map[string]string{"message": "evaluation pipeline genesis block"})
	if err != nil {
		return err
	}
	b := &Block{
		Index:    0,
		Kind:     kindGenesis,
		Payload:  []PayloadEntry{entry},
		PrevHash: GenesisPrevHash,
	}
	b.TimestampNS = nowNanos()
	b.MerkleRoot = merkleRoot(b.Payload)
	b.mine(l.difficulty)
	return l.store(b)
}

func (l *Ledger) store(b *Block) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return l.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blockKey(b.Index), raw); err != nil {
			return err
		}
		if err := txn.Set(hashKey(b.SelfHash), blockKey(b.Index)); err != nil {
			return err
		}
		idxBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(idxBytes, b.Index)
		return txn.Set([]byte(keyHead), idxBytes)
	})
}

// AppendRequest is the input to Append.
type AppendRequest struct {
	Kind       Kind
	Payload    map[string]interface{}
	Signatures []Signature
}

// requiredSignatureKinds returns the signer kinds RESULT_FINALIZED must
// carry at least one distinct signature from each of, per the
// multi-signature policy.
func requiredSignatureKinds(kind Kind) []signers.Kind {
	if kind == KindResultFinalized {
		return signers.RequiredFinalizeKinds
	}
	return nil
}

// Append computes and durably writes the next block. It fails with
// ChainIntegrityError if the ledger is in read-only mode (a prior
// validate() found a broken block), SignatureInsufficient when the
// policy-required distinct signer kinds for kind are not all present and
// verified, or MiningBudgetExceeded if mining exhausts its nonce bound.
func (l *Ledger) Append(req AppendRequest) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.readOnly {
		return nil, errors.Wrap(apperrors.ErrChainIntegrity, "ledger: append refused, chain is read-only")
	}

	if err := l.verifySignaturePolicy(req.Kind, req.Signatures); err != nil {
		return nil, err
	}

	head, err := l.head()
	if err != nil {
		return nil, err
	}

	payload := make([]PayloadEntry, 0, len(req.Payload))
	keys := sortedKeys(req.Payload)
	for _, k := range keys {
		entry, err := NewPayloadEntry(k, req.Payload[k])
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, err, "ledger: hash payload entry")
		}
		payload = append(payload, entry)
	}

	b := &Block{
		Index:      head.Index + 1,
		Kind:       req.Kind,
		Payload:    payload,
		PrevHash:   head.SelfHash,
		Signatures: req.Signatures,
	}
	b.TimestampNS = nowNanos()
	b.MerkleRoot = merkleRoot(b.Payload)

	attempts := uint64(0)
	for {
		b.SelfHash = b.calculateHash()
		if hasLeadingZeros(b.SelfHash, l.difficulty) {
			break
		}
		b.Nonce++
		attempts++
		if attempts > maxMineAttempts {
			return nil, ErrMiningBudgetExceeded
		}
	}

	// Detect a concurrent external writer: the head we mined against must
	// still be the stored head at commit time. With Append serialized by
	// l.mu this only trips if something outside this process appended.
	current, err := l.head()
	if err != nil {
		return nil, err
	}
	if current.Index != head.Index || current.SelfHash != head.SelfHash {
		return nil, errors.Wrap(apperrors.ErrChainStale, "ledger: head moved during append")
	}

	if err := l.store(b); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "ledger: persist block")
	}
	l.cachedHead = b
	metrics.LedgerBlocks.WithLabelValues(string(b.Kind)).Inc()
	if l.logger != nil {
		l.logger.Info("ledger block appended", "index", b.Index, "kind", string(b.Kind), "hash", b.SelfHash)
	}
	return b, nil
}

func (l *Ledger) verifySignaturePolicy(kind Kind, sigs []Signature) error {
	required := requiredSignatureKinds(kind)
	if len(required) == 0 {
		return nil
	}
	seen := make(map[signers.Kind]bool, len(required))
	for _, s := range sigs {
		sk := signers.Kind(s.SignerKind)
		if !isRequiredKind(sk, required) {
			continue
		}
		if l.signerReg != nil && !l.signerReg.Verify(sk, []byte(s.SignerKey+s.SignerKind), s.Bytes) {
			continue
		}
		seen[sk] = true
	}
	if len(seen) < len(required) {
		return errors.Wrapf(apperrors.ErrSignatureInsufficient,
			"ledger: %s requires signatures from %v, got %d distinct verified kinds", kind, required, len(seen))
	}
	return nil
}

func isRequiredKind(k signers.Kind, required []signers.Kind) bool {
	for _, r := range required {
		if r == k {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// Head returns the most recently appended block.
func (l *Ledger) Head() (*Block, error) {
	return l.head()
}

func (l *Ledger) head() (*Block, error) {
	var idx uint64
	var found bool
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyHead))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			idx = binary.BigEndian.Uint64(val)
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "ledger: read head")
	}
	if !found {
		return nil, nil
	}
	return l.GetByIndex(idx)
}

// GetByIndex fetches a block by its monotonic index.
func (l *Ledger) GetByIndex(index uint64) (*Block, error) {
	var b Block
	found := false
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(index))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &b); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "ledger: read block")
	}
	if !found {
		return nil, apperrors.ErrNotFound
	}
	return &b, nil
}

// GetByHash fetches a block by its self_hash.
func (l *Ledger) GetByHash(hexHash string) (*Block, error) {
	if _, err := hex.DecodeString(hexHash); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err, "ledger: malformed hash")
	}
	var idx uint64
	found := false
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hashKey(hexHash))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			idx = binary.BigEndian.Uint64(val[6:])
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "ledger: read hash index")
	}
	if !found {
		return nil, apperrors.ErrNotFound
	}
	return l.GetByIndex(idx)
}

// ValidationResult reports validate()'s outcome.
type ValidationResult struct {
	Valid          bool
	FirstBadIndex  uint64
	Reason         string
}

// Validate walks the entire chain, recomputing merkle_root and self_hash
// for each block, checking monotonic indices and linkage. On the first
// mismatch it reports the offending index and flips the ledger into
// read-only mode, per the ChainIntegrityError policy of §7.
func (l *Ledger) Validate() (ValidationResult, error) {
	head, err := l.head()
	if err != nil {
		return ValidationResult{}, err
	}
	if head == nil {
		return ValidationResult{Valid: true}, nil
	}

	var prev *Block
	for i := uint64(0); i <= head.Index; i++ {
		b, err := l.GetByIndex(i)
		if err != nil {
			res := ValidationResult{Valid: false, FirstBadIndex: i, Reason: "missing block"}
			l.enterReadOnly()
			return res, nil
		}
		if wantRoot := merkleRoot(b.Payload); wantRoot != b.MerkleRoot {
			res := ValidationResult{Valid: false, FirstBadIndex: i, Reason: "merkle root mismatch"}
			l.enterReadOnly()
			return res, nil
		}
		if want := b.calculateHash(); want != b.SelfHash {
			res := ValidationResult{Valid: false, FirstBadIndex: i, Reason: "self hash mismatch"}
			l.enterReadOnly()
			return res, nil
		}
		if i > 0 {
			if prev.SelfHash != b.PrevHash {
				res := ValidationResult{Valid: false, FirstBadIndex: i, Reason: "prev hash linkage broken"}
				l.enterReadOnly()
				return res, nil
			}
			if b.Index != prev.Index+1 {
				res := ValidationResult{Valid: false, FirstBadIndex: i, Reason: "index not monotonic"}
				l.enterReadOnly()
				return res, nil
			}
		}
		prev = b
	}
	return ValidationResult{Valid: true}, nil
}

func (l *Ledger) enterReadOnly() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readOnly = true
	if l.logger != nil {
		l.logger.Error("ledger entering read-only mode: chain integrity error")
	}
}

// ReadOnly reports whether the ledger has been placed into read-only mode
// by a prior failed Validate call.
func (l *Ledger) ReadOnly() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readOnly
}

// BlocksByKind returns every block whose Kind matches, walking the full
// chain. Intended for audit/debug paths, not the hot write path.
func (l *Ledger) BlocksByKind(kind Kind) ([]*Block, error) {
	head, err := l.head()
	if err != nil || head == nil {
		return nil, err
	}
	var out []*Block
	for i := uint64(0); i <= head.Index; i++ {
		b, err := l.GetByIndex(i)
		if err != nil {
			return nil, err
		}
		if b.Kind == kind {
			out = append(out, b)
		}
	}
	return out, nil
}

// defaultListBlocksLimit bounds ListBlocks when the caller passes limit<=0.
const defaultListBlocksLimit = 50

// ListBlocks returns up to limit blocks in index order, starting just after
// the block identified by after (exclusive), or from genesis if after is
// empty. limit<=0 falls back to defaultListBlocksLimit. Used by the
// paginated block-listing surface of §6.1.
func (l *Ledger) ListBlocks(limit int, after string) ([]*Block, error) {
	head, err := l.head()
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, nil
	}

	startIdx := uint64(0)
	if after != "" {
		afterBlock, err := l.GetByHash(after)
		if err != nil {
			return nil, err
		}
		startIdx = afterBlock.Index + 1
	}
	if limit <= 0 {
		limit = defaultListBlocksLimit
	}

	out := make([]*Block, 0, limit)
	for i := startIdx; i <= head.Index && len(out) < limit; i++ {
		b, err := l.GetByIndex(i)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
