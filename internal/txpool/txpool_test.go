package txpool_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/bus"
	"github.com/atahabilder1/bgp-sentry/internal/chain"
	"github.com/atahabilder1/bgp-sentry/internal/config"
	"github.com/atahabilder1/bgp-sentry/internal/detector"
	"github.com/atahabilder1/bgp-sentry/internal/knowledge"
	"github.com/atahabilder1/bgp-sentry/internal/logging"
	"github.com/atahabilder1/bgp-sentry/internal/oracle"
	"github.com/atahabilder1/bgp-sentry/internal/signing"
	"github.com/atahabilder1/bgp-sentry/internal/txpool"
)

type recordingObserver struct {
	commits []bgptypes.Transaction
}

func (r *recordingObserver) OnCommit(tx bgptypes.Transaction) {
	r.commits = append(r.commits, tx)
}

type harness struct {
	cfg        *config.Config
	signer     *signing.Registry
	b          *bus.Bus
	pools      map[bgptypes.ASN]*txpool.Pool
	chains     map[bgptypes.ASN]*chain.Chain
	ks         map[bgptypes.ASN]*knowledge.Store
	obs        map[bgptypes.ASN]*recordingObserver
	validators []bgptypes.ASN
}

func newHarness(t *testing.T, validators []bgptypes.ASN, consensusMin int) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.ConsensusMin = consensusMin
	cfg.ConsensusCap = consensusMin
	cfg.RegularTimeout = time.Second
	cfg.AttackTimeout = time.Second

	signer := signing.NewRegistry()
	b := bus.New(64, logging.NewNop())
	orc, err := oracle.New(nil)
	require.NoError(t, err)

	h := &harness{
		cfg: cfg, signer: signer, b: b,
		pools:      make(map[bgptypes.ASN]*txpool.Pool),
		chains:     make(map[bgptypes.ASN]*chain.Chain),
		ks:         make(map[bgptypes.ASN]*knowledge.Store),
		obs:        make(map[bgptypes.ASN]*recordingObserver),
		validators: validators,
	}
	for _, asn := range validators {
		require.NoError(t, signer.Generate(asn))
		b.Register(asn)
		c, err := chain.New(signer, asn, nil)
		require.NoError(t, err)
		h.chains[asn] = c
		ks := knowledge.New(480*time.Second, 1000, 300*time.Second, 120*time.Second, 1000)
		h.ks[asn] = ks
		flaps := detector.NewFlapHistory(60*time.Second, 5, 2*time.Second)
		obsrv := &recordingObserver{}
		h.obs[asn] = obsrv
		h.pools[asn] = txpool.New(cfg, asn, signer, b, c, ks, orc, flaps, validators, obsrv, logging.NewNop())
	}
	return h
}

// deliverAll drains every registered inbox once, dispatching each
// message to the matching pool handler, until no inbox has anything
// pending. This stands in for the per-node inbox-consumer goroutines
// a running node would have.
func (h *harness) deliverAll(now time.Time) {
	for {
		progressed := false
		for _, asn := range h.validators {
			for {
				msg, ok := h.b.TryReceive(asn)
				if !ok {
					break
				}
				progressed = true
				switch msg.Kind {
				case bus.KindVoteRequest:
					h.pools[asn].HandleVoteRequest(*msg.VoteRequest, now)
				case bus.KindVoteResponse:
					h.pools[asn].HandleVoteResponse(*msg.VoteResponse, now)
				}
			}
		}
		if !progressed {
			return
		}
	}
}

func TestProposeAndCommitWithSufficientApprovals(t *testing.T) {
	validators := []bgptypes.ASN{100, 200, 300}
	h := newHarness(t, validators, 2)
	now := time.Unix(0, 0)

	// Peers already know this (prefix, origin), so their vote is an
	// approve rather than no_knowledge (spec.md §4.6 "Peer vote
	// logic"): no_knowledge never counts toward the PoP threshold.
	h.ks[200].Insert("8.8.8.0/24", bgptypes.ASN(65001), now)
	h.ks[300].Insert("8.8.8.0/24", bgptypes.ASN(65001), now)

	_, err := h.pools[100].Propose(bgptypes.Observation{
		Prefix: "8.8.8.0/24", OriginASN: 65001, AnnouncementType: bgptypes.Announce,
	}, bgptypes.TxRegular, now)
	require.NoError(t, err)

	h.deliverAll(now)

	require.Equal(t, 1, h.pools[100].CommittedLen())
	require.Len(t, h.obs[100].commits, 1)
	require.Equal(t, bgptypes.StatusCommitted, h.obs[100].commits[0].Status)
}

func TestTimeoutSingleWitnessWhenNoPeersRespond(t *testing.T) {
	validators := []bgptypes.ASN{100, 200, 300}
	h := newHarness(t, validators, 2)
	now := time.Unix(0, 0)

	_, err := h.pools[100].Propose(bgptypes.Observation{
		Prefix: "9.9.9.0/24", OriginASN: 65002, AnnouncementType: bgptypes.Announce,
	}, bgptypes.TxRegular, now)
	require.NoError(t, err)

	// Drop every in-flight VoteRequest without letting peers answer,
	// simulating total peer silence, then sweep past the deadline.
	for _, asn := range validators {
		for {
			if _, ok := h.b.TryReceive(asn); !ok {
				break
			}
		}
	}
	h.pools[100].Sweep(now.Add(2 * time.Second))

	require.Equal(t, 1, h.pools[100].CommittedLen())
	require.Equal(t, bgptypes.StatusTimedOutSingleWitness, h.obs[100].commits[0].Status)
}

func TestDuplicateVoteRequestIsIgnoredOnSecondDelivery(t *testing.T) {
	validators := []bgptypes.ASN{100, 200}
	h := newHarness(t, validators, 2)
	now := time.Unix(0, 0)

	tx, err := h.pools[100].Propose(bgptypes.Observation{
		Prefix: "1.2.3.0/24", OriginASN: 5, AnnouncementType: bgptypes.Announce,
	}, bgptypes.TxRegular, now)
	require.NoError(t, err)

	sig, err := h.signer.Sign(100, tx.TxID[:])
	require.NoError(t, err)
	req := bus.VoteRequest{Tx: tx, Proposer: 100, Sig: sig}

	h.pools[200].HandleVoteRequest(req, now)
	h.pools[200].HandleVoteRequest(req, now) // duplicate, should not double-vote

	msgs := 0
	for {
		if _, ok := h.b.TryReceive(100); !ok {
			break
		}
		msgs++
	}
	require.Equal(t, 1, msgs)
}
