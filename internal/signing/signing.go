// Package signing implements C1: per-validator Ed25519 keypairs, SHA-256
// content hashing, and Merkle-root computation (spec.md §4.1).
//
// Ed25519 is taken directly from the standard library: the only
// signature packages surfaced anywhere in the surveyed corpus
// (github.com/luxfi/crypto/bls, /ringtail, /mldsa, /threshold) are
// BLS, post-quantum, or threshold constructions with no plain-Ed25519
// entry point, and spec.md §4.1 fixes Ed25519 for validator
// signatures — so crypto/ed25519 is used directly rather than bent
// to fit an unrelated scheme.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
)

// Registry is the process-wide public-key directory keyed by ASN,
// populated once at startup and read-only thereafter (spec.md §4.1:
// "publish public keys to a process-wide registry keyed by ASN").
type Registry struct {
	mu      sync.RWMutex
	private map[bgptypes.ASN]ed25519.PrivateKey
	public  map[bgptypes.ASN]ed25519.PublicKey
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		private: make(map[bgptypes.ASN]ed25519.PrivateKey),
		public:  make(map[bgptypes.ASN]ed25519.PublicKey),
	}
}

// Generate creates a fresh Ed25519 keypair for asn and registers it.
// Only validators call this; an Observed AS has no keypair (spec.md
// §4.11).
func (r *Registry) Generate(asn bgptypes.ASN) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating keypair for ASN %d: %w", asn, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.private[asn] = priv
	r.public[asn] = pub
	return nil
}

// Sign signs data with asn's private key. Returns an error if asn has
// no registered keypair (an Observed AS, or an unknown ASN).
func (r *Registry) Sign(asn bgptypes.ASN, data []byte) ([]byte, error) {
	r.mu.RLock()
	priv, ok := r.private[asn]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no keypair registered for ASN %d", asn)
	}
	return ed25519.Sign(priv, data), nil
}

// Verify reports whether sig is a valid Ed25519 signature over data
// by asn's registered public key. Per spec.md §4.1, an unknown ASN or
// a bad signature both verify false; callers must treat false as a
// reject, never as an error to propagate.
func (r *Registry) Verify(asn bgptypes.ASN, data, sig []byte) bool {
	r.mu.RLock()
	pub, ok := r.public[asn]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// ContentHash returns the SHA-256 digest of the concatenated fields,
// each length-prefixed so that e.g. ("ab", "c") and ("a", "bc") never
// collide.
func ContentHash(fields ...[]byte) [32]byte {
	h := sha256.New()
	for _, f := range fields {
		var lenBuf [8]byte
		putUint64(lenBuf[:], uint64(len(f)))
		h.Write(lenBuf[:])
		h.Write(f)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// MerkleRoot computes the binary Merkle root over payloadHashes,
// duplicating the last hash at each level when that level has an odd
// count, per spec.md §4.1. The root of a single leaf is the leaf
// itself. Grounded on certenIO-certen-validator/pkg/merkle/tree.go's
// duplicate-last-on-odd-count construction, reimplemented to work
// over the fixed-size [32]byte digests this project uses everywhere
// instead of that package's []byte slices.
func MerkleRoot(payloadHashes [][32]byte) [32]byte {
	if len(payloadHashes) == 0 {
		return [32]byte{}
	}
	level := make([][32]byte, len(payloadHashes))
	copy(level, payloadHashes)
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

func hashPair(left, right [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return sha256.Sum256(buf)
}

// ConstantTimeEqual compares two 32-byte digests without leaking
// timing information, following the teacher corpus's use of
// crypto/subtle for hash/root comparisons.
func ConstantTimeEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
