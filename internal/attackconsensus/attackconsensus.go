// Package attackconsensus implements C8: the secondary vote that
// confirms or rejects a non-benign classification after its carrying
// transaction commits (spec.md §4.8). Structurally this is the same
// propose/vote/timeout shape as C6's txpool, so it is grounded on the
// same teacher source (protocol/prism/set.go's poll lifecycle,
// quorum/flat.go's RecordPoll threshold) applied to a second,
// independent ballot instead of reusing the transaction pool's
// machinery — spec.md §4.8 describes attack consensus as a
// genuinely separate round with its own threshold, timeout, and
// reward/penalty wiring, not a continuation of C6's vote.
package attackconsensus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/bus"
	"github.com/atahabilder1/bgp-sentry/internal/chain"
	"github.com/atahabilder1/bgp-sentry/internal/config"
	"github.com/atahabilder1/bgp-sentry/internal/detector"
	"github.com/atahabilder1/bgp-sentry/internal/knowledge"
	"github.com/atahabilder1/bgp-sentry/internal/linked"
	"github.com/atahabilder1/bgp-sentry/internal/logging"
	"github.com/atahabilder1/bgp-sentry/internal/oracle"
	"github.com/atahabilder1/bgp-sentry/internal/signing"
)

// VerdictObserver decouples this package from the rating system (C9)
// and the token ledger (C10), the same way txpool.CommitObserver
// decouples C6 from them (spec.md §9's cyclic-reference note).
type VerdictObserver interface {
	OnConfirmed(verdict bgptypes.AttackVerdict)
	OnRejected(verdict bgptypes.AttackVerdict)
}

type pendingVerdict struct {
	verdict   bgptypes.AttackVerdict
	deadline  time.Time
	votersSet map[bgptypes.ASN]bool
}

// Consensus runs one validator's side of the attack-consensus
// sub-protocol.
type Consensus struct {
	mu sync.Mutex

	self       bgptypes.ASN
	cfg        *config.Config
	signer     *signing.Registry
	bus        *bus.Bus
	chain      *chain.Chain
	oracle     *oracle.Oracle
	flaps      *detector.FlapHistory
	knowledge  *knowledge.Store
	validators []bgptypes.ASN
	observer   VerdictObserver
	log        logging.Logger

	pending *linked.Hashmap[[32]byte, *pendingVerdict]
}

// New constructs a Consensus instance. know is this validator's own C4
// knowledge store — the only evidence HandleAttackProposal is allowed
// to trust, since a peer re-running C5 on data the proposer supplied
// would just reproduce the proposer's own verdict (spec.md §4.8).
func New(cfg *config.Config, self bgptypes.ASN, signer *signing.Registry, b *bus.Bus, c *chain.Chain, orc *oracle.Oracle, flaps *detector.FlapHistory, know *knowledge.Store, validators []bgptypes.ASN, observer VerdictObserver, log logging.Logger) *Consensus {
	return &Consensus{
		self:       self,
		cfg:        cfg,
		signer:     signer,
		bus:        b,
		chain:      c,
		oracle:     orc,
		flaps:      flaps,
		knowledge:  know,
		validators: validators,
		observer:   observer,
		log:        log,
		pending:    linked.NewHashmap[[32]byte, *pendingVerdict](),
	}
}

func verdictBody(txid [32]byte, attackType bgptypes.AttackType) []byte {
	h := signing.ContentHash(txid[:], []byte(attackType))
	return h[:]
}

func attackVoteBody(txid [32]byte, approve bool) []byte {
	tag := byte(0)
	if approve {
		tag = 1
	}
	h := signing.ContentHash(txid[:], []byte{tag})
	return h[:]
}

// Propose drafts an AttackVerdictProposal for a just-committed,
// non-benign transaction and broadcasts it to the validator set
// (spec.md §4.8).
func (c *Consensus) Propose(tx bgptypes.Transaction, attackType bgptypes.AttackType, now time.Time) error {
	verdict := bgptypes.AttackVerdict{
		TxID:        tx.TxID,
		AttackType:  attackType,
		ObserverASN: c.self,
		OriginASN:   tx.OriginASN,
		Timestamp:   now,
	}
	sig, err := c.signer.Sign(c.self, verdictBody(tx.TxID, attackType))
	if err != nil {
		return err
	}

	entry := &pendingVerdict{
		verdict:   verdict,
		deadline:  now.Add(c.cfg.AttackTimeout),
		votersSet: map[bgptypes.ASN]bool{c.self: true},
	}
	entry.verdict.Approves = append(entry.verdict.Approves, c.self)

	c.mu.Lock()
	c.pending.Put(tx.TxID, entry)
	c.mu.Unlock()

	peers := make([]bgptypes.ASN, 0, len(c.validators))
	for _, asn := range c.validators {
		if asn != c.self {
			peers = append(peers, asn)
		}
	}
	if len(peers) > c.cfg.MaxBroadcastPeers {
		peers = peers[:c.cfg.MaxBroadcastPeers]
	}
	c.bus.Broadcast(c.self, peers, bus.Message{
		Kind: bus.KindAttackProposal,
		AttackProposal: &bus.AttackProposal{
			Verdict:          verdict,
			Prefix:           tx.Prefix,
			AnnouncementType: tx.AnnouncementType,
			Sig:              sig,
		},
	})
	return nil
}

// HandleAttackProposal implements spec.md §4.8's peer side: re-run C5
// on the observation data the peer itself already holds and vote
// approve iff that independently-held evidence also classifies as the
// proposed attack type. The proposal's Prefix/OriginASN/AnnouncementType
// fields are the proposer's own claim, not evidence — the oracle (C2)
// is immutable and shared, so reclassifying those proposer-supplied
// fields would always just reproduce the proposer's own verdict,
// turning the vote into a rubber stamp. A peer with no independent
// record of this (prefix, origin) in its own knowledge base (C4) has
// nothing to re-run C5 against, so it withholds approval rather than
// trusting the claim (spec.md §8's single-witness scenario: a lone
// observer's attack report must not be confirmable by peers who never
// saw it themselves).
func (c *Consensus) HandleAttackProposal(prop bus.AttackProposal, now time.Time) {
	if !c.signer.Verify(prop.Verdict.ObserverASN, verdictBody(prop.Verdict.TxID, prop.Verdict.AttackType), prop.Sig) {
		return
	}

	approve := false
	if c.knowledge != nil && c.knowledge.Knows(prop.Prefix, prop.Verdict.OriginASN, now) {
		local := detector.Classify(bgptypes.Observation{
			Prefix:           prop.Prefix,
			OriginASN:        prop.Verdict.OriginASN,
			AnnouncementType: prop.AnnouncementType,
		}, c.oracle, c.flaps, now)
		approve = local.Type == prop.Verdict.AttackType
	}

	sig, err := c.signer.Sign(c.self, attackVoteBody(prop.Verdict.TxID, approve))
	if err != nil {
		if c.log != nil {
			c.log.Warn("failed to sign attack vote", zap.Error(err))
		}
		return
	}
	c.bus.Send(c.self, prop.Verdict.ObserverASN, bus.Message{
		Kind: bus.KindAttackVote,
		AttackVote: &bus.AttackVote{
			TxID:    prop.Verdict.TxID,
			Voter:   c.self,
			Approve: approve,
			Sig:     sig,
		},
	})
}

// HandleAttackVote implements spec.md §4.8's vote collection and
// majority rule.
func (c *Consensus) HandleAttackVote(vote bus.AttackVote, now time.Time) {
	if !c.signer.Verify(vote.Voter, attackVoteBody(vote.TxID, vote.Approve), vote.Sig) {
		return
	}

	c.mu.Lock()
	entry, ok := c.pending.Get(vote.TxID)
	if !ok {
		c.mu.Unlock()
		return
	}
	if entry.votersSet[vote.Voter] {
		c.mu.Unlock()
		return
	}
	entry.votersSet[vote.Voter] = true
	if vote.Approve {
		entry.verdict.Approves = append(entry.verdict.Approves, vote.Voter)
	} else {
		entry.verdict.Rejects = append(entry.verdict.Rejects, vote.Voter)
	}
	c.mu.Unlock()

	c.evaluate(vote.TxID, now)
}

// evaluate applies spec.md §4.8's majority rule: confirmed iff
// approves >= AttackConsensusMin and approves > rejects.
func (c *Consensus) evaluate(txid [32]byte, now time.Time) {
	c.mu.Lock()
	entry, ok := c.pending.Get(txid)
	if !ok {
		c.mu.Unlock()
		return
	}
	approves, rejects := len(entry.verdict.Approves), len(entry.verdict.Rejects)
	confirmed := approves >= c.cfg.AttackConsensusMin && approves > rejects
	// Only resolve early on a clear confirm; a reject-leaning tally
	// still waits for the deadline in case more approves arrive
	// (spec.md §4.8 gives attack consensus "same timeout discipline
	// as C6", i.e. rejection is a timeout outcome, not an early exit).
	if !confirmed {
		c.mu.Unlock()
		return
	}
	entry.verdict.Status = bgptypes.VerdictConfirmed
	entry.verdict.Confidence = confidence(approves, rejects, len(c.validators))
	verdict := entry.verdict
	c.pending.Delete(txid)
	c.mu.Unlock()

	c.finalize(verdict, now)
}

func confidence(approves, rejects, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(approves-rejects) / float64(n)
}

// finalize applies spec.md §4.8's outcome wiring: a confirmed verdict
// gets a chain block and triggers C9/C10 reward via the observer; a
// rejected one gets no chain update at all, only the false-accusation
// penalty via the observer.
func (c *Consensus) finalize(verdict bgptypes.AttackVerdict, now time.Time) {
	switch verdict.Status {
	case bgptypes.VerdictConfirmed:
		payload := signing.ContentHash(verdict.TxID[:], []byte(verdict.AttackType), []byte(verdict.Status))
		if _, err := c.chain.Append(bgptypes.BlockVerdict, payload[:], c.self); err != nil {
			if c.log != nil {
				c.log.Error("failed to append verdict block", zap.Error(err))
			}
			return
		}
		if c.observer != nil {
			c.observer.OnConfirmed(verdict)
		}
	case bgptypes.VerdictRejected:
		if c.observer != nil {
			c.observer.OnRejected(verdict)
		}
	}
}

// Sweep resolves every pending verdict past its deadline: confirmed
// if the tally already clears the bar, rejected otherwise (spec.md
// §4.8: "same timeout discipline as C6").
func (c *Consensus) Sweep(now time.Time) {
	c.mu.Lock()
	var expired []*pendingVerdict
	it := c.pending.NewIterator()
	for it.Next() {
		e := it.Value()
		if now.After(e.deadline) {
			expired = append(expired, e)
		}
	}
	c.mu.Unlock()

	for _, e := range expired {
		c.resolveTimeout(e.verdict.TxID, now)
	}
}

func (c *Consensus) resolveTimeout(txid [32]byte, now time.Time) {
	c.mu.Lock()
	entry, ok := c.pending.Get(txid)
	if !ok {
		c.mu.Unlock()
		return
	}
	approves, rejects := len(entry.verdict.Approves), len(entry.verdict.Rejects)
	if approves >= c.cfg.AttackConsensusMin && approves > rejects {
		entry.verdict.Status = bgptypes.VerdictConfirmed
	} else {
		entry.verdict.Status = bgptypes.VerdictRejected
	}
	entry.verdict.Confidence = confidence(approves, rejects, len(c.validators))
	verdict := entry.verdict
	c.pending.Delete(txid)
	c.mu.Unlock()

	c.finalize(verdict, now)
}

// Run drives the periodic timeout sweep until ctx is canceled.
func (c *Consensus) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.AttackTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			c.Sweep(t)
		}
	}
}

// PendingLen exposes pool size for reporting/tests.
func (c *Consensus) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len()
}
