// Package txpool implements C6, described in spec.md §4.6 as "the
// hard core": per-validator proposal, peer voting, Proof-of-Population
// commit, and timeout handling for observed BGP events. Grounded on
// the teacher's protocol/prism/set.go poll lifecycle (Add/Vote/Drop,
// a bounded ordered set of in-flight items, metrics on every
// transition) and on quorum/flat.go's threshold RecordPoll, adapted
// from single-round leaderless polling to this spec's signed
// propose/vote/commit protocol with real peer broadcast over C3.
package txpool

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/bus"
	"github.com/atahabilder1/bgp-sentry/internal/chain"
	"github.com/atahabilder1/bgp-sentry/internal/config"
	"github.com/atahabilder1/bgp-sentry/internal/detector"
	"github.com/atahabilder1/bgp-sentry/internal/knowledge"
	"github.com/atahabilder1/bgp-sentry/internal/linked"
	"github.com/atahabilder1/bgp-sentry/internal/logging"
	"github.com/atahabilder1/bgp-sentry/internal/metrics"
	"github.com/atahabilder1/bgp-sentry/internal/oracle"
	"github.com/atahabilder1/bgp-sentry/internal/signing"
)

// CommitObserver decouples the pool from whatever rewards or rates a
// commit (ledger, rating system). Breaking this out as a callback
// instead of a direct import avoids the cyclic reference spec.md §9
// flags between C6/C10/C9: the pool knows nothing about tokens or
// trust scores, only that "a commit happened".
type CommitObserver interface {
	OnCommit(tx bgptypes.Transaction)
}

type pendingEntry struct {
	tx         bgptypes.Transaction
	createdAt  time.Time
	deadline   time.Time
	votersSet  map[bgptypes.ASN]bool
}

// Pool is one validator's transaction pool. Every exported method is
// safe for concurrent use; the background Run loop and bus message
// handlers are expected to run on separate goroutines.
type Pool struct {
	mu sync.Mutex

	self       bgptypes.ASN
	cfg        *config.Config
	signer     *signing.Registry
	bus        *bus.Bus
	chain      *chain.Chain
	knowledge  *knowledge.Store
	oracle     *oracle.Oracle
	flaps      *detector.FlapHistory
	validators []bgptypes.ASN
	observer   CommitObserver
	log        logging.Logger

	pending  *linked.Hashmap[[32]byte, *pendingEntry]
	committed *linked.Hashmap[[32]byte, bgptypes.Transaction]
	votedTx  *linked.Hashmap[[32]byte, bgptypes.Vote]

	neighborMu sync.Mutex
	neighbors  map[string]map[bgptypes.ASN]struct{}

	commitCounter prometheus.Counter
	commitLatency metrics.Averager
}

// New constructs a Pool. validators is the full validator set used
// both to compute the Proof-of-Population threshold (N) and as the
// fallback candidate list for peer selection. Like Bus/Chain/Ledger,
// the pool's commit counter and latency gauge register against a
// private prometheus registry so one process running many pools (as
// in tests) never collides on metric names.
func New(cfg *config.Config, self bgptypes.ASN, signer *signing.Registry, b *bus.Bus, c *chain.Chain, ks *knowledge.Store, orc *oracle.Oracle, flaps *detector.FlapHistory, validators []bgptypes.ASN, observer CommitObserver, log logging.Logger) *Pool {
	reg := prometheus.NewRegistry()
	commitCounter, err := metrics.MustCounter("bgpsentry_txpool_commits_total", "transactions committed by this validator's pool", reg)
	if err != nil {
		commitCounter = nil
	}
	commitLatency, err := metrics.NewAverager("bgpsentry_txpool_commit_latency_ns", "average nanoseconds from proposal to commit", reg)
	if err != nil {
		commitLatency = nil
	}
	return &Pool{
		self:          self,
		cfg:           cfg,
		signer:        signer,
		bus:           b,
		chain:         c,
		knowledge:     ks,
		oracle:        orc,
		flaps:         flaps,
		validators:    validators,
		observer:      observer,
		log:           log,
		pending:       linked.NewHashmap[[32]byte, *pendingEntry](),
		committed:     linked.NewHashmap[[32]byte, bgptypes.Transaction](),
		votedTx:       linked.NewHashmap[[32]byte, bgptypes.Vote](),
		neighbors:     make(map[string]map[bgptypes.ASN]struct{}),
		commitCounter: commitCounter,
		commitLatency: commitLatency,
	}
}

func txBodyHash(tx bgptypes.Transaction) [32]byte {
	return signing.ContentHash(
		[]byte(tx.Prefix),
		asnBytes(tx.OriginASN),
		asnBytes(tx.ObserverASN),
		int64Bytes(tx.TimestampBucket),
		[]byte(tx.AnnouncementType),
		[]byte(tx.Kind),
	)
}

func asnBytes(a bgptypes.ASN) []byte {
	return []byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)}
}

func int64Bytes(v int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(uint64(v) >> (8 * uint(i)))
	}
	return b
}

func voteBody(txid [32]byte, vote bgptypes.Vote) []byte {
	h := signing.ContentHash(txid[:], []byte(vote))
	return h[:]
}

// RecordObservationOverlap feeds the "relevant neighbors" cache
// (spec.md §4.6): asn has now been seen producing an observation that
// overlaps prefix, so it becomes a preferred broadcast target for
// future proposals on that prefix.
func (p *Pool) RecordObservationOverlap(prefix string, asn bgptypes.ASN) {
	p.neighborMu.Lock()
	defer p.neighborMu.Unlock()
	set, ok := p.neighbors[prefix]
	if !ok {
		set = make(map[bgptypes.ASN]struct{})
		p.neighbors[prefix] = set
	}
	set[asn] = struct{}{}
}

// selectPeers returns up to MaxBroadcastPeers candidates for
// proposer's transaction on prefix: the relevant-neighbors cache if
// it has entries, else a deterministic ("stable") subset of the full
// validator set ranked by a hash of (proposer, candidate) so the same
// proposer always reaches for the same peers in the absence of
// history (spec.md §4.6: "falls back to a random stable subset").
func (p *Pool) selectPeers(prefix string, proposer bgptypes.ASN) []bgptypes.ASN {
	p.neighborMu.Lock()
	var candidates []bgptypes.ASN
	if set, ok := p.neighbors[prefix]; ok {
		for asn := range set {
			if asn != proposer {
				candidates = append(candidates, asn)
			}
		}
	}
	p.neighborMu.Unlock()

	if len(candidates) == 0 {
		candidates = p.stableValidatorSubset(proposer)
	} else {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	}
	if len(candidates) > p.cfg.MaxBroadcastPeers {
		candidates = candidates[:p.cfg.MaxBroadcastPeers]
	}
	return candidates
}

func (p *Pool) stableValidatorSubset(proposer bgptypes.ASN) []bgptypes.ASN {
	type ranked struct {
		asn bgptypes.ASN
		key [32]byte
	}
	rs := make([]ranked, 0, len(p.validators))
	for _, asn := range p.validators {
		if asn == proposer {
			continue
		}
		rs = append(rs, ranked{asn: asn, key: signing.ContentHash(asnBytes(proposer), asnBytes(asn))})
	}
	sort.Slice(rs, func(i, j int) bool { return bytes.Compare(rs[i].key[:], rs[j].key[:]) < 0 })
	out := make([]bgptypes.ASN, len(rs))
	for i, r := range rs {
		out[i] = r.asn
	}
	return out
}

// Propose builds a transaction from obs, signs the observer's own
// initial approve, stores it in pending, and broadcasts a VoteRequest
// to the selected peers (spec.md §4.6 "Proposal").
func (p *Pool) Propose(obs bgptypes.Observation, kind bgptypes.TxKind, now time.Time) (bgptypes.Transaction, error) {
	tx := bgptypes.Transaction{
		ObserverASN:      p.self,
		Prefix:           obs.Prefix,
		OriginASN:        obs.OriginASN,
		TimestampBucket:  int64(obs.Timestamp),
		AnnouncementType: obs.AnnouncementType,
		CreatedAt:        now,
		Kind:             kind,
		Status:           bgptypes.StatusPending,
	}
	tx.TxID = txBodyHash(tx)

	sig, err := p.signer.Sign(p.self, tx.TxID[:])
	if err != nil {
		return bgptypes.Transaction{}, err
	}
	tx.Signatures = append(tx.Signatures, bgptypes.Signature{VoterASN: p.self, Vote: bgptypes.VoteApprove, Sig: sig})

	timeout := p.cfg.RegularTimeout
	if kind == bgptypes.TxAttack {
		timeout = p.cfg.AttackTimeout
	}
	entry := &pendingEntry{
		tx:        tx,
		createdAt: now,
		deadline:  now.Add(timeout),
		votersSet: map[bgptypes.ASN]bool{p.self: true},
	}

	p.mu.Lock()
	if p.pending.Len() >= p.cfg.PendingMax {
		if _, oldest, ok := p.pending.OldestEntry(); ok {
			p.mu.Unlock()
			p.resolveTimeout(oldest, now)
			p.mu.Lock()
		}
	}
	p.pending.Put(tx.TxID, entry)
	p.mu.Unlock()

	p.RecordObservationOverlap(obs.Prefix, p.self)
	peers := p.selectPeers(obs.Prefix, p.self)
	p.bus.Broadcast(p.self, peers, bus.Message{
		Kind: bus.KindVoteRequest,
		VoteRequest: &bus.VoteRequest{
			Tx:       tx,
			Proposer: p.self,
			Deadline: entry.deadline.UnixNano(),
			Sig:      sig,
		},
	})
	return tx, nil
}

// HandleVoteRequest implements spec.md §4.6's "Peer vote logic".
func (p *Pool) HandleVoteRequest(req bus.VoteRequest, now time.Time) {
	txid := req.Tx.TxID

	p.mu.Lock()
	if tx, ok := p.committed.Get(txid); ok {
		p.mu.Unlock()
		// Re-delivery after commit returns the cached approve.
		_ = tx
		p.sendSignedVoteResponse(req.Proposer, txid, bgptypes.VoteApprove)
		return
	}
	if _, ok := p.votedTx.Get(txid); ok {
		p.mu.Unlock()
		return // already voted on this tx; ignore duplicate request
	}
	p.mu.Unlock()

	if !p.signer.Verify(req.Proposer, txid[:], req.Sig) {
		return // malformed signature, silently drop
	}

	localResult := detector.Classify(bgptypes.Observation{
		Prefix:           req.Tx.Prefix,
		OriginASN:        req.Tx.OriginASN,
		AnnouncementType: req.Tx.AnnouncementType,
	}, p.oracle, p.flaps, now)
	proposerSaysAttack := req.Tx.Kind == bgptypes.TxAttack
	localSaysAttack := !localResult.Benign()

	var vote bgptypes.Vote
	switch {
	case proposerSaysAttack != localSaysAttack:
		vote = bgptypes.VoteReject
	case p.knowledge.Knows(req.Tx.Prefix, req.Tx.OriginASN, now):
		vote = bgptypes.VoteApprove
	default:
		vote = bgptypes.VoteNoKnowledge
	}

	p.mu.Lock()
	p.votedTx.Put(txid, vote)
	if p.votedTx.Len() > p.cfg.PendingMax {
		if oldKey, _, ok := p.votedTx.OldestEntry(); ok {
			p.votedTx.Delete(oldKey)
		}
	}
	p.mu.Unlock()

	p.sendSignedVoteResponse(req.Proposer, txid, vote)
}

func (p *Pool) sendSignedVoteResponse(to bgptypes.ASN, txid [32]byte, vote bgptypes.Vote) {
	sig, err := p.signer.Sign(p.self, voteBody(txid, vote))
	if err != nil {
		if p.log != nil {
			p.log.Warn("failed to sign vote response", zap.Error(err))
		}
		return
	}
	p.bus.Send(p.self, to, bus.Message{
		Kind: bus.KindVoteResponse,
		VoteResponse: &bus.VoteResponse{
			TxID:  txid,
			Voter: p.self,
			Vote:  vote,
			Sig:   sig,
		},
	})
}

// HandleVoteResponse implements spec.md §4.6's "Vote collection".
func (p *Pool) HandleVoteResponse(resp bus.VoteResponse, now time.Time) {
	if !p.signer.Verify(resp.Voter, voteBody(resp.TxID, resp.Vote), resp.Sig) {
		return
	}

	p.mu.Lock()
	entry, ok := p.pending.Get(resp.TxID)
	if !ok {
		p.mu.Unlock()
		return
	}
	if entry.votersSet[resp.Voter] {
		p.mu.Unlock()
		return // dedup: replay or vote-stuffing attempt
	}
	entry.votersSet[resp.Voter] = true
	entry.tx.Signatures = append(entry.tx.Signatures, bgptypes.Signature{
		VoterASN: resp.Voter,
		Vote:     resp.Vote,
		Sig:      resp.Sig,
	})
	p.mu.Unlock()

	p.evaluateAndCommit(resp.TxID, now)
}

// evaluateAndCommit applies the Proof-of-Population commit predicate
// (spec.md §4.6). Decisions are made under the pool lock; the slow
// chain append happens after it is released ("decide inside the lock,
// execute outside", this project's stated deadlock-prevention
// pattern, grounded on protocol/prism/set.go's separation between
// vote bookkeeping and the later block-building step).
func (p *Pool) evaluateAndCommit(txid [32]byte, now time.Time) {
	p.mu.Lock()
	entry, ok := p.pending.Get(txid)
	if !ok {
		p.mu.Unlock()
		return // already resolved by a racing call
	}

	threshold := p.cfg.ConsensusThreshold(len(p.validators))
	approves := entry.tx.ApproveCount()
	rejects := entry.tx.RejectCount()

	var commit, drop bool
	switch {
	case rejects >= threshold:
		drop = true
		entry.tx.Status = bgptypes.StatusRejected
	case approves >= threshold:
		commit = true
		entry.tx.Status = bgptypes.StatusCommitted
	}
	if !commit && !drop {
		p.mu.Unlock()
		return
	}
	tx := entry.tx
	createdAt := entry.createdAt
	p.pending.Delete(txid)
	p.mu.Unlock()

	if drop {
		if p.log != nil {
			p.log.Info("transaction rejected by peer consensus", zap.Int("rejects", rejects))
		}
		return
	}
	p.finalizeCommit(tx, createdAt, now)
}

// resolveTimeout applies spec.md §4.6's "Timeout" branch to a pending
// entry past its deadline.
func (p *Pool) resolveTimeout(entry *pendingEntry, now time.Time) {
	p.mu.Lock()
	cur, ok := p.pending.Get(entry.tx.TxID)
	if !ok {
		p.mu.Unlock()
		return
	}
	threshold := p.cfg.ConsensusThreshold(len(p.validators))
	approves := cur.tx.ApproveCount()
	switch {
	case approves >= threshold:
		cur.tx.Status = bgptypes.StatusTimedOutConfirmed
	case len(cur.tx.Signatures) > 1:
		// At least one peer responded (approve, no_knowledge, or
		// reject) but not enough approves accumulated by the deadline.
		cur.tx.Status = bgptypes.StatusTimedOutInsufficient
	default:
		// Only the observer's own initial signature exists: no peer
		// answered at all (spec.md §4.6: "observer-only signature").
		cur.tx.Status = bgptypes.StatusTimedOutSingleWitness
	}
	tx := cur.tx
	createdAt := cur.createdAt
	p.pending.Delete(tx.TxID)
	p.mu.Unlock()

	p.finalizeCommit(tx, createdAt, now)
}

// finalizeCommit appends tx's block via C7 and moves it into the
// bounded committed set, evicting the oldest entry past CommittedMax
// (spec.md §4.6: "committed: bounded set[tx_id] with FIFO eviction").
func (p *Pool) finalizeCommit(tx bgptypes.Transaction, createdAt, now time.Time) {
	p.mu.Lock()
	if _, already := p.committed.Get(tx.TxID); already {
		p.mu.Unlock()
		return // idempotent re-entry
	}
	p.mu.Unlock()

	payload := encodeTxPayload(tx)
	if _, err := p.chain.Append(bgptypes.BlockTransaction, payload, p.self); err != nil {
		if p.log != nil {
			p.log.Error("failed to append committed transaction", zap.Error(err))
		}
		return
	}

	p.mu.Lock()
	p.committed.Put(tx.TxID, tx)
	if p.committed.Len() > p.cfg.CommittedMax {
		if oldKey, _, ok := p.committed.OldestEntry(); ok {
			p.committed.Delete(oldKey)
		}
	}
	p.mu.Unlock()

	if p.commitCounter != nil {
		p.commitCounter.Inc()
	}
	if p.commitLatency != nil && !createdAt.IsZero() {
		p.commitLatency.Observe(float64(now.Sub(createdAt)))
	}

	if p.observer != nil {
		p.observer.OnCommit(tx)
	}
}

// encodeTxPayload produces the bytes stored as the block's payload
// and hashed for the Merkle root (C7).
func encodeTxPayload(tx bgptypes.Transaction) []byte {
	h := signing.ContentHash(
		tx.TxID[:],
		[]byte(tx.Prefix),
		asnBytes(tx.OriginASN),
		asnBytes(tx.ObserverASN),
		[]byte(tx.Status),
	)
	return h[:]
}

// Run drives the periodic timeout sweep until ctx is canceled (spec.md
// §4.6: "A single background task per pool sweeps at least once per
// min(RegularTimeout, AttackTimeout)/2").
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			p.Sweep(t)
		}
	}
}

// Sweep force-resolves every pending transaction past its deadline.
func (p *Pool) Sweep(now time.Time) {
	p.mu.Lock()
	var expired []*pendingEntry
	it := p.pending.NewIterator()
	for it.Next() {
		e := it.Value()
		if now.After(e.deadline) {
			expired = append(expired, e)
		}
	}
	p.mu.Unlock()

	for _, e := range expired {
		p.resolveTimeout(e, now)
	}
}

// PendingLen and CommittedLen expose pool size for reporting/tests.
func (p *Pool) PendingLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Len()
}

func (p *Pool) CommittedLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.committed.Len()
}

// Committed returns a committed transaction by ID, if it is still in
// the bounded committed set.
func (p *Pool) Committed(txid [32]byte) (bgptypes.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.committed.Get(txid)
}
