// Package ledger implements C10: the fixed-supply BGPCoin token
// economy (spec.md §4.10). Grounded on spec.md directly for the
// reward/penalty/burn-recycle rules; the single-mutex-guarded
// treasury/balances/log shape follows the same "one lock, short
// critical sections, append-only log" discipline the teacher applies
// to its poll and chain state (protocol/prism/set.go,
// protocol/chain/chain.go).
package ledger

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/config"
	"github.com/atahabilder1/bgp-sentry/internal/metrics"
)

// multiplier holds the three per-ASN reward factors named in spec.md
// §4.10, each clamped to its own band and updated only by periodic
// maintenance (out of this package's hot path).
type multiplier struct {
	accuracy    float64
	participation float64
	quality     float64
}

func (m multiplier) value() float64 {
	a := clamp(m.accuracy, 0.5, 1.5)
	p := clamp(m.participation, 0.8, 1.2)
	q := clamp(m.quality, 0.9, 1.3)
	return a * p * q
}

func defaultMultiplier() multiplier {
	return multiplier{accuracy: 1.0, participation: 1.0, quality: 1.0}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Ledger is the single process-wide token ledger. total_supply is
// fixed for the lifetime of a Ledger; every balance change is
// recorded in an append-only transaction log.
type Ledger struct {
	mu sync.Mutex

	totalSupply float64
	treasury    float64
	burned      float64
	recycled    float64
	balances    map[bgptypes.ASN]float64
	multipliers map[bgptypes.ASN]multiplier
	log         []bgptypes.LedgerTx

	// sweepKey identifies the current sweep window and firstCommitDone
	// records whether its first_commit_bonus was already paid (spec.md §4.10: "The
	// first distinct committer in a tx-commit within a sweep gets an
	// additional first_commit_bonus").
	sweepKey        int64
	firstCommitDone bool

	treasuryGauge prometheus.Gauge
}

// New returns a Ledger with the full total supply sitting in
// treasury, matching spec.md §4.10's "Fixed pool; treasury starts at
// total supply". Like Bus and Chain, it registers its treasury gauge
// against a private registry rather than the global default, so
// multiple Ledgers in one process (as in tests) don't collide.
func New(cfg *config.Config) *Ledger {
	reg := prometheus.NewRegistry()
	treasuryGauge, err := metrics.MustGauge("bgpsentry_ledger_treasury", "current treasury balance", reg)
	if err != nil {
		treasuryGauge = nil
	}
	l := &Ledger{
		totalSupply:   cfg.TotalSupply,
		treasury:      cfg.TotalSupply,
		balances:      make(map[bgptypes.ASN]float64),
		multipliers:   make(map[bgptypes.ASN]multiplier),
		treasuryGauge: treasuryGauge,
	}
	if l.treasuryGauge != nil {
		l.treasuryGauge.Set(l.treasury)
	}
	return l
}

func (l *Ledger) syncTreasuryGauge() {
	if l.treasuryGauge != nil {
		l.treasuryGauge.Set(l.treasury)
	}
}

func (l *Ledger) multiplierFor(asn bgptypes.ASN) multiplier {
	m, ok := l.multipliers[asn]
	if !ok {
		m = defaultMultiplier()
		l.multipliers[asn] = m
	}
	return m
}

// credit moves amount from treasury to asn's balance and logs it.
// Must be called under l.mu.
func (l *Ledger) credit(asn bgptypes.ASN, amount float64, reason string, now time.Time) {
	if amount <= 0 {
		return
	}
	l.treasury -= amount
	l.balances[asn] += amount
	l.log = append(l.log, bgptypes.LedgerTx{Timestamp: now, ASN: asn, Delta: amount, Reason: reason})
	l.syncTreasuryGauge()
}

// debit moves amount from asn's balance back to treasury (a penalty,
// never a burn per spec.md §4.10) and logs it. The amount is capped at
// asn's current balance, so a balance never goes negative.
func (l *Ledger) debit(asn bgptypes.ASN, amount float64, reason string, now time.Time) {
	if amount <= 0 {
		return
	}
	if amount > l.balances[asn] {
		amount = l.balances[asn]
	}
	l.balances[asn] -= amount
	l.treasury += amount
	l.log = append(l.log, bgptypes.LedgerTx{Timestamp: now, ASN: asn, Delta: -amount, Reason: reason})
	l.syncTreasuryGauge()
}

func sweepBucket(cfg *config.Config, now time.Time) int64 {
	interval := cfg.SweepInterval()
	if interval <= 0 {
		return now.UnixNano()
	}
	return now.UnixNano() / int64(interval)
}

// RewardCommit applies the block-commit reward and, if committer is
// the first distinct committer within this sweep window, the
// first_commit_bonus too (spec.md §4.10).
func (l *Ledger) RewardCommit(cfg *config.Config, committer bgptypes.ASN, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := sweepBucket(cfg, now)
	if bucket != l.sweepKey {
		l.sweepKey = bucket
		l.firstCommitDone = false
	}

	reward := cfg.BlockCommitReward * l.multiplierFor(committer).value()
	l.credit(committer, reward, "block_commit_reward", now)

	if !l.firstCommitDone {
		l.firstCommitDone = true
		l.credit(committer, cfg.FirstCommitBonus, "first_commit_bonus", now)
	}
}

// RewardApproveVote applies the per-approving-voter reward (spec.md
// §4.10: "Each voter with approve receives vote_approve_reward ×
// multiplier(voter)").
func (l *Ledger) RewardApproveVote(cfg *config.Config, voter bgptypes.ASN, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	reward := cfg.VoteApproveReward * l.multiplierFor(voter).value()
	l.credit(voter, reward, "vote_approve_reward", now)
}

// RewardConfirmedAttack applies the detector reward plus the
// per-correct-peer-vote reward on a confirmed attack verdict
// (spec.md §4.10).
func (l *Ledger) RewardConfirmedAttack(cfg *config.Config, detectorASN bgptypes.ASN, correctPeers []bgptypes.ASN, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(detectorASN, cfg.AttackDetectionReward, "attack_detection_reward", now)
	for _, peer := range correctPeers {
		l.credit(peer, cfg.CorrectPeerVoteReward, "correct_peer_vote_reward", now)
	}
}

// PenalizeFalseVerdict applies the false-accusation penalty to a
// verdict proposer whose claim was rejected (spec.md §4.10).
func (l *Ledger) PenalizeFalseVerdict(cfg *config.Config, proposer bgptypes.ASN, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debit(proposer, cfg.FalseVerdictPenalty, "false_verdict_penalty", now)
}

// Spend burns 50% of amount and returns the other 50% to treasury,
// from asn's balance, for future governance actions (spec.md §4.10:
// "Spend... burns 50% and returns 50% to treasury").
func (l *Ledger) Spend(asn bgptypes.ASN, amount float64, reason string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount > l.balances[asn] {
		amount = l.balances[asn]
	}
	if amount <= 0 {
		return
	}
	l.balances[asn] -= amount
	half := amount / 2
	l.burned += half
	l.treasury += amount - half
	l.recycled += amount - half
	l.log = append(l.log, bgptypes.LedgerTx{Timestamp: now, ASN: asn, Delta: -amount, Reason: reason})
	l.syncTreasuryGauge()
}

// SetMultiplier overwrites asn's three reward factors; called only by
// periodic maintenance, never from the C6/C8 hot path (spec.md
// §4.10: "updated by periodic maintenance (out of the hot path)").
func (l *Ledger) SetMultiplier(asn bgptypes.ASN, accuracy, participation, quality float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.multipliers[asn] = multiplier{accuracy: accuracy, participation: participation, quality: quality}
}

// Balance returns asn's current balance.
func (l *Ledger) Balance(asn bgptypes.ASN) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[asn]
}

// Treasury returns the current treasury balance.
func (l *Ledger) Treasury() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.treasury
}

// TotalSupply returns the fixed total supply this Ledger was created
// with, for the per-run token-economy report.
func (l *Ledger) TotalSupply() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSupply
}

// Burned returns the cumulative amount burned by Spend calls.
func (l *Ledger) Burned() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.burned
}

// Recycled returns the cumulative amount Spend has returned to
// treasury (as opposed to burned), for the token-economy report.
func (l *Ledger) Recycled() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recycled
}

// Invariant reports whether treasury + sum(balances) + burned still
// equals total_supply (spec.md §4.10: "Invariant holds under the
// single ledger mutex"). Intended for tests and periodic
// self-checks, not the hot path.
func (l *Ledger) Invariant() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum := l.treasury + l.burned
	for _, b := range l.balances {
		sum += b
	}
	const epsilon = 1e-6
	diff := sum - l.totalSupply
	return diff > -epsilon && diff < epsilon
}

// Log returns a copy of the append-only transaction log, for the
// per-run token-economy report named in spec.md §6.
func (l *Ledger) Log() []bgptypes.LedgerTx {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]bgptypes.LedgerTx, len(l.log))
	copy(out, l.log)
	return out
}
