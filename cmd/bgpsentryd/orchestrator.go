package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/atahabilder1/bgp-sentry/internal/attackconsensus"
	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/config"
	"github.com/atahabilder1/bgp-sentry/internal/ledger"
	"github.com/atahabilder1/bgp-sentry/internal/logging"
	"github.com/atahabilder1/bgp-sentry/internal/node"
	"github.com/atahabilder1/bgp-sentry/internal/rating"
	"github.com/atahabilder1/bgp-sentry/internal/report"
	"github.com/atahabilder1/bgp-sentry/internal/txpool"
)

// orchestrator implements txpool.CommitObserver and
// attackconsensus.VerdictObserver, the two callback interfaces that
// let C6/C8 stay free of any import on ledger/rating (spec.md §9).
// It is the one place in the module that holds a reference to every
// top-level component at once.
type orchestrator struct {
	cfg     *config.Config
	nodes   map[bgptypes.ASN]*node.Node
	ledger  *ledger.Ledger
	rating  *rating.System
	collect *report.Collector
	log     logging.Logger
}

func newOrchestrator(cfg *config.Config, l *ledger.Ledger, r *rating.System, c *report.Collector, log logging.Logger) *orchestrator {
	return &orchestrator{
		cfg:     cfg,
		nodes:   make(map[bgptypes.ASN]*node.Node),
		ledger:  l,
		rating:  r,
		collect: c,
		log:     log,
	}
}

// OnCommit implements txpool.CommitObserver. It applies the
// block-commit and approve-vote token rewards (spec.md §4.10), then,
// for an attack-kind transaction, starts the attack-consensus round
// with the AttackType its proposer recorded at detection time.
func (o *orchestrator) OnCommit(tx bgptypes.Transaction) {
	now := time.Now()
	o.collect.RecordConsensusOutcome(report.ConsensusLogEntry{
		TxID:      tx.TxID,
		Status:    tx.Status,
		Approves:  tx.ApproveCount(),
		Rejects:   tx.RejectCount(),
		Timestamp: now,
	})

	o.ledger.RewardCommit(o.cfg, tx.ObserverASN, now)
	for _, sig := range tx.Signatures {
		if sig.VoterASN == tx.ObserverASN {
			continue // the observer's own initial approve earns the commit reward, not the vote reward
		}
		if sig.Vote == bgptypes.VoteApprove {
			o.ledger.RewardApproveVote(o.cfg, sig.VoterASN, now)
		}
	}

	if tx.Kind != bgptypes.TxAttack {
		return
	}
	proposer, ok := o.nodes[tx.ObserverASN]
	if !ok || proposer.Attack == nil {
		return
	}
	attackType, ok := proposer.TakeAttackType(tx.TxID)
	if !ok {
		return
	}
	if err := proposer.Attack.Propose(tx, attackType, now); err != nil {
		o.log.Warn("failed to start attack consensus", zap.Uint32("asn", uint32(tx.ObserverASN)), zap.Error(err))
	}
}

// OnConfirmed implements attackconsensus.VerdictObserver. It applies
// the attack-detection/correct-peer-vote rewards and the rating
// penalty to the accused origin (spec.md §4.9, §4.10).
func (o *orchestrator) OnConfirmed(v bgptypes.AttackVerdict) {
	now := time.Now()
	o.collect.RecordAttackVerdict(v)
	o.ledger.RewardConfirmedAttack(o.cfg, v.ObserverASN, v.Approves, now)
	o.rating.ApplyConfirmedVerdict(v.OriginASN, v.AttackType, now)
}

// OnRejected implements attackconsensus.VerdictObserver. A rejected
// verdict means the proposer's accusation did not hold up; it is
// penalized and no rating change is applied to the accused origin
// (spec.md §4.10: a false accusation costs the accuser, not the
// accused).
func (o *orchestrator) OnRejected(v bgptypes.AttackVerdict) {
	now := time.Now()
	o.collect.RecordAttackVerdict(v)
	o.ledger.PenalizeFalseVerdict(o.cfg, v.ObserverASN, now)
}

var (
	_ txpool.CommitObserver          = (*orchestrator)(nil)
	_ attackconsensus.VerdictObserver = (*orchestrator)(nil)
)
