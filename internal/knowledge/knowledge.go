// Package knowledge implements C4: a per-validator sliding-window
// knowledge base plus the LastSeen dedup/sampling tables (spec.md
// §4.4). One Store is owned exclusively by a single validator's
// Virtual Node (spec.md §3's "Entity ownership"), so its locking only
// needs to guard that one node's concurrent driver/inbox-consumer
// tasks against each other — never cross-node contention.
package knowledge

import (
	"sync"
	"time"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/linked"
)

type prefixOrigin struct {
	prefix string
	origin bgptypes.ASN
}

// Store holds one validator's knowledge entries and last-seen tables,
// each bounded and oldest-first evicting (spec.md §9: "replace
// in-memory-only knowledge base with unbounded growth... explicit
// bounded containers and deterministic eviction").
type Store struct {
	mu sync.Mutex

	window time.Duration
	max    int
	// entries keeps insertion order so "oldest" eviction is O(1); the
	// per-(prefix,origin) slice tracks every entry because multiple
	// observations of the same pair can each still be within window.
	entries *linked.Hashmap[uint64, bgptypes.KnowledgeEntry]
	nextSeq uint64
	byKey   map[prefixOrigin][]uint64

	validatorDedupWindow    time.Duration
	nonValidatorDedupWindow time.Duration
	lastSeenMax             int
	lastSeen                *linked.Hashmap[prefixOrigin, time.Time]
}

// New returns an empty Store configured from spec.md §6 windows.
func New(knowledgeWindow time.Duration, knowledgeMax int, rpkiDedupWindow, nonrpkiDedupWindow time.Duration, lastSeenMax int) *Store {
	return &Store{
		window:                  knowledgeWindow,
		max:                     knowledgeMax,
		entries:                 linked.NewHashmap[uint64, bgptypes.KnowledgeEntry](),
		byKey:                   make(map[prefixOrigin][]uint64),
		validatorDedupWindow:    rpkiDedupWindow,
		nonValidatorDedupWindow: nonrpkiDedupWindow,
		lastSeenMax:             lastSeenMax,
		lastSeen:                linked.NewHashmap[prefixOrigin, time.Time](),
	}
}

// Insert records a KnowledgeEntry for (prefix, origin) observed at t,
// evicting entries older than the window and, if still over capacity,
// the oldest entry regardless of age (spec.md §4.4a).
func (s *Store) Insert(prefix string, origin bgptypes.ASN, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictOlderThanLocked(t)

	seq := s.nextSeq
	s.nextSeq++
	s.entries.Put(seq, bgptypes.KnowledgeEntry{Prefix: prefix, OriginASN: origin, ObservedAt: t})
	key := prefixOrigin{prefix, origin}
	s.byKey[key] = append(s.byKey[key], seq)

	if s.entries.Len() > s.max {
		s.evictOldestLocked()
	}
}

func (s *Store) evictOlderThanLocked(now time.Time) {
	for {
		seq, e, ok := s.entries.OldestEntry()
		if !ok {
			return
		}
		if now.Sub(e.ObservedAt) <= s.window {
			return
		}
		s.removeLocked(seq, e)
	}
}

func (s *Store) evictOldestLocked() {
	seq, e, ok := s.entries.OldestEntry()
	if !ok {
		return
	}
	s.removeLocked(seq, e)
}

func (s *Store) removeLocked(seq uint64, e bgptypes.KnowledgeEntry) {
	s.entries.Delete(seq)
	key := prefixOrigin{e.Prefix, e.OriginASN}
	seqs := s.byKey[key]
	for i, sq := range seqs {
		if sq == seq {
			s.byKey[key] = append(seqs[:i], seqs[i+1:]...)
			break
		}
	}
	if len(s.byKey[key]) == 0 {
		delete(s.byKey, key)
	}
}

// Knows answers "do you know (prefix, origin) at time t?" (spec.md
// §4.4a): true iff some entry within the knowledge window of t
// matches, independent of as_path.
func (s *Store) Knows(prefix string, origin bgptypes.ASN, t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqs := s.byKey[prefixOrigin{prefix, origin}]
	for _, seq := range seqs {
		e, ok := s.entries.Get(seq)
		if !ok {
			continue
		}
		if absDuration(t.Sub(e.ObservedAt)) <= s.window {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Sweep drops every entry older than the window as of now, for the
// low-frequency background eviction pass named in spec.md §4.4a (on
// top of the per-insert eviction already performed by Insert).
func (s *Store) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictOlderThanLocked(now)
}

// Len reports the number of knowledge entries currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// DedupDecision is the result of consulting the role-appropriate
// LastSeen table (spec.md §4.4b).
type DedupDecision struct {
	Skip bool
}

// CheckAndUpdate implements the dedup/sampling rule of spec.md §4.4b:
// an attack-classified observation always bypasses dedup (isAttack);
// a benign one is skipped if the same (prefix, origin) was seen
// within the role-appropriate window. LastSeen is refreshed on every
// call, including skipped ones, so the window keeps sliding forward
// under a steady stream of repeats.
func (s *Store) CheckAndUpdate(prefix string, origin bgptypes.ASN, isValidator, isAttack bool, now time.Time) DedupDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := prefixOrigin{prefix, origin}
	window := s.nonValidatorDedupWindow
	if isValidator {
		window = s.validatorDedupWindow
	}

	skip := false
	if !isAttack {
		if last, ok := s.lastSeen.Get(key); ok && now.Sub(last) < window {
			skip = true
		}
	}

	if _, exists := s.lastSeen.Get(key); !exists && s.lastSeen.Len() >= s.lastSeenMax {
		if oldKey, _, ok := s.lastSeen.OldestEntry(); ok {
			s.lastSeen.Delete(oldKey)
		}
	}
	s.lastSeen.Put(key, now)

	return DedupDecision{Skip: skip}
}
