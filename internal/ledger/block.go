// Package ledger implements the single-writer, append-only hash-chained
// audit ledger (C1): proof-of-work-style block linkage, Merkle-summarized
// payloads, and multi-signature commitment for finalized results. The core
// algorithm is ported from the Python engine's Block/MerkleTree/Blockchain
// trio, generalized from one global blockchain_instance singleton into a
// value wired through the application context.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Kind enumerates every ledger block type the pipeline appends.
type Kind string

const (
	KindQuestionPaperUpload     Kind = "QUESTION_PAPER_UPLOAD"
	KindAnswerKeyAIVerified     Kind = "ANSWER_KEY_AI_VERIFIED"
	KindAnswerKeyHumanApproved  Kind = "ANSWER_KEY_HUMAN_APPROVED"
	KindAnswerKeyLocked         Kind = "ANSWER_KEY_LOCKED"
	KindSheetIngested           Kind = "SHEET_INGESTED"
	KindQualityAssessed         Kind = "QUALITY_ASSESSED"
	KindReconstructed           Kind = "RECONSTRUCTED"
	KindBubblesRead             Kind = "BUBBLES_READ"
	KindAISolved                Kind = "AI_SOLVED"
	KindManualEntered           Kind = "MANUAL_ENTERED"
	KindReconciled              Kind = "RECONCILED"
	KindScored                  Kind = "SCORED"
	KindInterventionOpened      Kind = "INTERVENTION_OPENED"
	KindInterventionResolved    Kind = "INTERVENTION_RESOLVED"
	KindResultFinalized         Kind = "RESULT_FINALIZED"
	kindGenesis                 Kind = "GENESIS"
)

// PayloadEntry is one (key, value-hash) pair of a block's payload. Value
// holds the canonical JSON bytes of the domain object the key names; Hash
// is SHA-256 of Value and is what actually folds into the Merkle root, so
// payload confidentiality is never required to verify integrity.
type PayloadEntry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
	Hash  string `json:"hash"`
}

// NewPayloadEntry hashes value and returns the populated entry.
func NewPayloadEntry(key string, value interface{}) (PayloadEntry, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return PayloadEntry{}, err
	}
	sum := sha256.Sum256(raw)
	return PayloadEntry{Key: key, Value: raw, Hash: hex.EncodeToString(sum[:])}, nil
}

// Signature is one (signer-kind, signer-key, signature-bytes) tuple
// attached to a block, required for RESULT_FINALIZED.
type Signature struct {
	SignerKind string `json:"signer_kind"`
	SignerKey  string `json:"signer_key"`
	Bytes      []byte `json:"bytes"`
}

// Block is one immutable, hash-linked ledger record.
type Block struct {
	Index       uint64         `json:"index"`
	TimestampNS int64          `json:"timestamp_ns"`
	Kind        Kind           `json:"kind"`
	Payload     []PayloadEntry `json:"payload"`
	MerkleRoot  string         `json:"merkle_root"`
	PrevHash    string         `json:"prev_hash"`
	Signatures  []Signature    `json:"signatures"`
	Nonce       uint64         `json:"nonce"`
	SelfHash    string         `json:"self_hash"`
}

// GenesisPrevHash is the all-zero previous-hash sentinel for block 0.
var GenesisPrevHash = strings.Repeat("0", 64)

// canonicalBytes returns the deterministic byte sequence hashed into
// self_hash: index, timestamp, kind, merkle root, prev hash, signatures,
// nonce — mirroring calculate_hash's sort_keys=True JSON encoding, done
// here by fixing field order explicitly rather than relying on map
// iteration order.
func (b *Block) canonicalBytes() []byte {
	sigs := make([]Signature, len(b.Signatures))
	copy(sigs, b.Signatures)
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].SignerKind < sigs[j].SignerKind })

	type canonical struct {
		Index      uint64      `json:"index"`
		Timestamp  int64       `json:"timestamp_ns"`
		Kind       Kind        `json:"kind"`
		MerkleRoot string      `json:"merkle_root"`
		PrevHash   string      `json:"prev_hash"`
		Signatures []Signature `json:"signatures"`
		Nonce      uint64      `json:"nonce"`
	}
	raw, _ := json.Marshal(canonical{
		Index:      b.Index,
		Timestamp:  b.TimestampNS,
		Kind:       b.Kind,
		MerkleRoot: b.MerkleRoot,
		PrevHash:   b.PrevHash,
		Signatures: sigs,
		Nonce:      b.Nonce,
	})
	return raw
}

// calculateHash computes self_hash from the block's current fields.
func (b *Block) calculateHash() string {
	sum := sha256.Sum256(b.canonicalBytes())
	return hex.EncodeToString(sum[:])
}

// mine scans nonce upward until self_hash satisfies difficulty's leading
// hex-zero count, deterministically, mirroring Block.mine_block.
func (b *Block) mine(difficulty int) {
	target := make([]byte, difficulty)
	for i := range target {
		target[i] = '0'
	}
	for {
		b.SelfHash = b.calculateHash()
		if hasLeadingZeros(b.SelfHash, difficulty) {
			return
		}
		b.Nonce++
	}
}

func hasLeadingZeros(hexHash string, n int) bool {
	if n <= 0 {
		return true
	}
	if len(hexHash) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if hexHash[i] != '0' {
			return false
		}
	}
	return true
}

func nowNanos() int64 {
	return time.Now().UnixNano()
}
