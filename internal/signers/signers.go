// Package signers loads the signer-kind to public-key registry consumed by
// the ledger's multi-signature commitment policy for RESULT_FINALIZED
// blocks, and verifies/produces Ed25519 signatures against it.
//
// The original audit service bound a "signature" to nothing more than a
// hash of the payload (see signature_service.py's Signature class); this
// registry binds real Ed25519 keypairs, per the registry language the
// coordinator's multi-signature policy calls for.
package signers

import (
	"encoding/hex"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/ed25519"
	"gopkg.in/yaml.v3"
)

// Kind enumerates the recognized signer kinds for RESULT_FINALIZED.
type Kind string

const (
	KindAIVerifier      Kind = "ai-verifier"
	KindHumanVerifier    Kind = "human-verifier"
	KindAdminController  Kind = "admin-controller"
)

// RequiredFinalizeKinds is the distinct signer-kind set RESULT_FINALIZED
// must carry signatures from.
var RequiredFinalizeKinds = []Kind{KindAIVerifier, KindHumanVerifier, KindAdminController}

// registryFile is the on-disk shape of the registry YAML.
type registryFile struct {
	Keys []struct {
		Kind      Kind   `yaml:"kind"`
		PublicKey string `yaml:"public_key_hex"`
	} `yaml:"keys"`
}

// Registry is a read-only-after-load signer-kind to public-key map.
type Registry struct {
	mu   sync.RWMutex
	keys map[Kind]ed25519.PublicKey
}

// Load reads and parses the registry file at path.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "signers: read registry %s", path)
	}
	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrapf(err, "signers: parse registry %s", path)
	}
	r := &Registry{keys: make(map[Kind]ed25519.PublicKey, len(f.Keys))}
	for _, k := range f.Keys {
		pub, err := hex.DecodeString(k.PublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, errors.Newf("signers: invalid public key for kind %q", k.Kind)
		}
		r.keys[k.Kind] = ed25519.PublicKey(pub)
	}
	return r, nil
}

// PublicKeyFor returns the registered public key for kind, or false.
func (r *Registry) PublicKeyFor(kind Kind) (ed25519.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.keys[kind]
	return pub, ok
}

// Verify checks a signature of msg against the registered key for kind.
func (r *Registry) Verify(kind Kind, msg, sig []byte) bool {
	pub, ok := r.PublicKeyFor(kind)
	if !ok {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// SignWith signs msg with priv.
func SignWith(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}
