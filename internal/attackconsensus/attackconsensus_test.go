package attackconsensus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atahabilder1/bgp-sentry/internal/attackconsensus"
	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/bus"
	"github.com/atahabilder1/bgp-sentry/internal/chain"
	"github.com/atahabilder1/bgp-sentry/internal/config"
	"github.com/atahabilder1/bgp-sentry/internal/detector"
	"github.com/atahabilder1/bgp-sentry/internal/knowledge"
	"github.com/atahabilder1/bgp-sentry/internal/logging"
	"github.com/atahabilder1/bgp-sentry/internal/oracle"
	"github.com/atahabilder1/bgp-sentry/internal/signing"
)

type recordingObserver struct {
	confirmed []bgptypes.AttackVerdict
	rejected  []bgptypes.AttackVerdict
}

func (r *recordingObserver) OnConfirmed(v bgptypes.AttackVerdict) { r.confirmed = append(r.confirmed, v) }
func (r *recordingObserver) OnRejected(v bgptypes.AttackVerdict)  { r.rejected = append(r.rejected, v) }

type rig struct {
	b          *bus.Bus
	signer     *signing.Registry
	cs         map[bgptypes.ASN]*attackconsensus.Consensus
	chains     map[bgptypes.ASN]*chain.Chain
	knowledge  map[bgptypes.ASN]*knowledge.Store
	obs        map[bgptypes.ASN]*recordingObserver
	validators []bgptypes.ASN
}

func newRig(t *testing.T, validators []bgptypes.ASN, attackMin int, vrp []oracle.VRPEntry) *rig {
	t.Helper()
	cfg := config.Default()
	cfg.AttackConsensusMin = attackMin
	cfg.AttackTimeout = time.Second

	signer := signing.NewRegistry()
	b := bus.New(64, logging.NewNop())
	orc, err := oracle.New(vrp)
	require.NoError(t, err)

	r := &rig{
		b: b, signer: signer,
		cs:         make(map[bgptypes.ASN]*attackconsensus.Consensus),
		chains:     make(map[bgptypes.ASN]*chain.Chain),
		knowledge:  make(map[bgptypes.ASN]*knowledge.Store),
		obs:        make(map[bgptypes.ASN]*recordingObserver),
		validators: validators,
	}
	for _, asn := range validators {
		require.NoError(t, signer.Generate(asn))
		b.Register(asn)
		c, err := chain.New(signer, asn, nil)
		require.NoError(t, err)
		r.chains[asn] = c
		ks := knowledge.New(480*time.Second, 1000, 300*time.Second, 120*time.Second, 1000)
		r.knowledge[asn] = ks
		flaps := detector.NewFlapHistory(60*time.Second, 5, 2*time.Second)
		obsrv := &recordingObserver{}
		r.obs[asn] = obsrv
		r.cs[asn] = attackconsensus.New(cfg, asn, signer, b, c, orc, flaps, ks, validators, obsrv, logging.NewNop())
	}
	return r
}

func (r *rig) deliverAll(now time.Time) {
	for {
		progressed := false
		for _, asn := range r.validators {
			for {
				msg, ok := r.b.TryReceive(asn)
				if !ok {
					break
				}
				progressed = true
				switch msg.Kind {
				case bus.KindAttackProposal:
					r.cs[asn].HandleAttackProposal(*msg.AttackProposal, now)
				case bus.KindAttackVote:
					r.cs[asn].HandleAttackVote(*msg.AttackVote, now)
				}
			}
		}
		if !progressed {
			return
		}
	}
}

func txWith(prefix string, origin bgptypes.ASN, kind bgptypes.AnnouncementType) bgptypes.Transaction {
	return bgptypes.Transaction{TxID: [32]byte{1, 2, 3}, Prefix: prefix, OriginASN: origin, AnnouncementType: kind}
}

func TestConfirmedWhenPeersIndependentlyWitnessedTheSameHijack(t *testing.T) {
	validators := []bgptypes.ASN{1, 2, 3}
	r := newRig(t, validators, 2, []oracle.VRPEntry{{Prefix: "8.8.8.0/24", MaxLength: 24, OriginASN: 65001}})
	now := time.Unix(0, 0)

	// Every validator independently observed this (prefix, origin)
	// themselves, not merely via the proposer's message.
	for _, asn := range validators {
		r.knowledge[asn].Insert("8.8.8.0/24", 65099, now)
	}

	tx := txWith("8.8.8.0/24", 65099, bgptypes.Announce) // hijacked origin, not 65001
	require.NoError(t, r.cs[1].Propose(tx, bgptypes.PrefixHijack, now))

	r.deliverAll(now)

	require.Len(t, r.obs[1].confirmed, 1)
	require.Equal(t, bgptypes.VerdictConfirmed, r.obs[1].confirmed[0].Status)
	require.Empty(t, r.obs[1].rejected)
}

func TestRejectedOnTimeoutWhenPeersDisagree(t *testing.T) {
	validators := []bgptypes.ASN{1, 2, 3}
	r := newRig(t, validators, 2, nil)
	now := time.Unix(0, 0)

	// Every peer independently observed the pair too, so their votes
	// reflect their own (disagreeing) C5 re-classification rather than
	// a lack of evidence: no VRP entries at all means every peer's
	// detector sees NotFound with no covering ROA, i.e. benign,
	// disagreeing with the proposer's prefix-hijack claim.
	for _, asn := range validators {
		r.knowledge[asn].Insert("9.9.9.0/24", 65099, now)
	}

	tx := txWith("9.9.9.0/24", 65099, bgptypes.Announce)
	require.NoError(t, r.cs[1].Propose(tx, bgptypes.PrefixHijack, now))

	r.deliverAll(now)
	require.Empty(t, r.obs[1].confirmed)

	r.cs[1].Sweep(now.Add(2 * time.Second))
	require.Len(t, r.obs[1].rejected, 1)
	require.Equal(t, bgptypes.VerdictRejected, r.obs[1].rejected[0].Status)
}

// TestRejectedWhenOnlyProposerWitnessedTheAttack is spec.md §8's
// single-witness scenario: validator 1 alone observes a hijack;
// validators 2 and 3 have no independent record of the (prefix,
// origin) pair and so must withhold approval rather than rubber-stamp
// the proposer's claim. With only the proposer's own implicit approve,
// the tally can never clear AttackConsensusMin and the verdict times
// out rejected.
func TestRejectedWhenOnlyProposerWitnessedTheAttack(t *testing.T) {
	validators := []bgptypes.ASN{1, 2, 3}
	r := newRig(t, validators, 2, []oracle.VRPEntry{{Prefix: "8.8.8.0/24", MaxLength: 24, OriginASN: 65001}})
	now := time.Unix(0, 0)

	// Only the proposer (validator 1) has seen this pair; validators 2
	// and 3 hold no corresponding knowledge entry.
	r.knowledge[1].Insert("8.8.8.0/24", 65099, now)

	tx := txWith("8.8.8.0/24", 65099, bgptypes.Announce)
	require.NoError(t, r.cs[1].Propose(tx, bgptypes.PrefixHijack, now))

	r.deliverAll(now)
	require.Empty(t, r.obs[1].confirmed)

	r.cs[1].Sweep(now.Add(2 * time.Second))
	require.Len(t, r.obs[1].rejected, 1)
	require.Equal(t, bgptypes.VerdictRejected, r.obs[1].rejected[0].Status)
}
