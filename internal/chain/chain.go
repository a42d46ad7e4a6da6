// Package chain implements C7: each validator's local, append-only
// hash-chained replica (spec.md §4.7). Grounded on the teacher's
// protocol/chain/chain.go + engine/chain/block/block.go Block/DBManager
// split, adapted from an externally-driven consensus engine into a
// single in-process, mutex-serialized append log since this project
// has no network-replicated block DAG, only one committer per local
// chain.
package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/metrics"
	"github.com/atahabilder1/bgp-sentry/internal/signing"
)

// ErrNotFound is returned by Get when height exceeds the tip.
var ErrNotFound = errors.New("chain: block not found")

// ErrPersist is returned by Append when the pluggable persistence
// hook fails; per spec.md §4.7, the in-memory append is rolled back
// so the caller can retry or drop.
var ErrPersist = errors.New("chain: persistence failed")

// Persister is the pluggable durability hook a Chain calls after
// computing each block, mirroring the teacher's DBManager interface
// in engine/chain/block/block.go (a narrow seam so the hot append
// path never imports a concrete storage engine). A nil Persister
// (the default for tests) makes every append purely in-memory.
type Persister interface {
	Persist(b bgptypes.Block) error
}

// noopPersister is used when no Persister is supplied.
type noopPersister struct{}

func (noopPersister) Persist(bgptypes.Block) error { return nil }

// Chain is one validator's local replica: genesis at index 0,
// prev_hash all-zero, every subsequent block linked by BlockHash.
type Chain struct {
	mu        sync.RWMutex
	blocks    []bgptypes.Block
	signer    *signing.Registry
	committer bgptypes.ASN
	persist   Persister

	heightGauge prometheus.Gauge
}

// New creates a chain with its genesis block already appended, signed
// by committer. Each chain owns a private prometheus registry for its
// height gauge rather than registering against the global default, so
// multiple replicas in one process never collide on metric names.
func New(signer *signing.Registry, committer bgptypes.ASN, persist Persister) (*Chain, error) {
	if persist == nil {
		persist = noopPersister{}
	}
	reg := prometheus.NewRegistry()
	heightGauge, err := metrics.MustGauge("bgpsentry_chain_height", "current chain height for this replica", reg)
	if err != nil {
		return nil, fmt.Errorf("registering chain height gauge: %w", err)
	}
	c := &Chain{signer: signer, committer: committer, persist: persist, heightGauge: heightGauge}
	if _, err := c.append(bgptypes.BlockGenesis, nil, committer, false); err != nil {
		return nil, fmt.Errorf("appending genesis block: %w", err)
	}
	return c, nil
}

// Append computes and appends a new block carrying payload, signed by
// committer. On persistence failure it retries once before giving up
// and returning ErrPersist, leaving the chain unmodified (spec.md
// §4.7: "on persistence failure the append is not committed").
func (c *Chain) Append(blockType bgptypes.BlockType, payload []byte, committer bgptypes.ASN) (bgptypes.Block, error) {
	return c.append(blockType, payload, committer, true)
}

func (c *Chain) append(blockType bgptypes.BlockType, payload []byte, committer bgptypes.ASN, retryOnFailure bool) (bgptypes.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payloadHash := signing.ContentHash(payload)
	merkleRoot := signing.MerkleRoot([][32]byte{payloadHash})

	var prevHash [32]byte
	if len(c.blocks) > 0 {
		prevHash = c.blocks[len(c.blocks)-1].BlockHash
	}

	b := bgptypes.Block{
		Height:       uint64(len(c.blocks)),
		BlockType:    blockType,
		Payload:      payload,
		PrevHash:     prevHash,
		MerkleRoot:   merkleRoot,
		Timestamp:    time.Now(),
		CommitterASN: committer,
	}

	blockBytes := encodeBlockForHashAndSig(b)
	if c.signer != nil {
		sig, err := c.signer.Sign(committer, blockBytes)
		if err == nil {
			b.Signature = sig
		}
	}
	b.BlockHash = signing.ContentHash(blockBytes, b.Signature)

	attempts := 1
	if retryOnFailure {
		attempts = 2
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.persist.Persist(b); err == nil {
			c.blocks = append(c.blocks, b)
			if c.heightGauge != nil {
				c.heightGauge.Set(float64(b.Height))
			}
			return b, nil
		}
	}
	return bgptypes.Block{}, fmt.Errorf("%w: %v", ErrPersist, err)
}

// encodeBlockForHashAndSig serializes the fields that determine a
// block's identity, in a fixed field order, so BlockHash and the
// signature cover exactly prev_hash/merkle_root/payload/committer/
// height/type/timestamp (spec.md §4.1's content-hash convention:
// length-prefixed fields so no two distinct blocks collide).
func encodeBlockForHashAndSig(b bgptypes.Block) []byte {
	return signing.ContentHash(
		[]byte(b.BlockType),
		b.Payload,
		b.PrevHash[:],
		b.MerkleRoot[:],
		[]byte(b.Timestamp.UTC().Format(time.RFC3339Nano)),
		asnBytes(b.CommitterASN),
		heightBytes(b.Height),
	)[:]
}

func asnBytes(a bgptypes.ASN) []byte {
	return []byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)}
}

func heightBytes(h uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(h >> (8 * uint(i)))
	}
	return b
}

// Tip returns the most recently appended block.
func (c *Chain) Tip() bgptypes.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[len(c.blocks)-1]
}

// Height returns the current chain height (the tip's Height field).
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.blocks) - 1)
}

// Get returns the block at height, or ErrNotFound.
func (c *Chain) Get(height uint64) (bgptypes.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if height >= uint64(len(c.blocks)) {
		return bgptypes.Block{}, ErrNotFound
	}
	return c.blocks[height], nil
}

// VerifyFullChain recomputes every block_hash, the prev_hash chain,
// and every merkle_root, returning all mismatches found (spec.md
// §4.7: "returning the first (or all) mismatches").
func (c *Chain) VerifyFullChain() (ok bool, errs []error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var prevHash [32]byte
	for i, b := range c.blocks {
		if b.PrevHash != prevHash {
			errs = append(errs, fmt.Errorf("block %d: prev_hash mismatch", i))
		}
		wantMerkle := signing.MerkleRoot([][32]byte{signing.ContentHash(b.Payload)})
		if wantMerkle != b.MerkleRoot {
			errs = append(errs, fmt.Errorf("block %d: merkle_root mismatch", i))
		}
		blockBytes := encodeBlockForHashAndSig(b)
		wantHash := signing.ContentHash(blockBytes, b.Signature)
		if wantHash != b.BlockHash {
			errs = append(errs, fmt.Errorf("block %d: block_hash mismatch", i))
		}
		prevHash = b.BlockHash
	}
	return len(errs) == 0, errs
}
