// Package rating implements C9: the per-non-validator-AS trust score
// (spec.md §4.9). Grounded on spec.md directly for the delta table
// and clamp/threshold rules; structurally it follows the same
// "single mutex guards a map of per-key mutable state with an
// append-only history" shape the teacher uses for its poll/quorum
// bookkeeping (protocol/prism/set.go), here applied to trust scores
// instead of vote tallies.
package rating

import (
	"sync"
	"time"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/config"
)

// Classification is the derived-only trust tier named in spec.md
// §4.9. It is never stored, only computed from the current score.
type Classification string

const (
	HighlyTrusted Classification = "highly-trusted"
	Trusted       Classification = "trusted"
	Neutral       Classification = "neutral"
	Suspicious    Classification = "suspicious"
	Malicious     Classification = "malicious"
)

// ClassifyScore derives a Classification from score (spec.md §4.9
// thresholds: >=90 highly-trusted, >=70 trusted, >=50 neutral, >=30
// suspicious, else malicious).
func ClassifyScore(score float64) Classification {
	switch {
	case score >= 90:
		return HighlyTrusted
	case score >= 70:
		return Trusted
	case score >= 50:
		return Neutral
	case score >= 30:
		return Suspicious
	default:
		return Malicious
	}
}

// deltaFor returns the score delta for a confirmed attack's type, or
// (0, false) if attackType carries no rating delta (e.g. Benign).
func deltaFor(cfg *config.Config, attackType bgptypes.AttackType) (float64, bool) {
	switch attackType {
	case bgptypes.PrefixHijack:
		return cfg.RatingPrefixHijackDelta, true
	case bgptypes.SubprefixHijack:
		return cfg.RatingSubprefixHijackDelta, true
	case bgptypes.Bogon:
		return cfg.RatingBogonDelta, true
	case bgptypes.Flapping:
		return cfg.RatingFlappingDelta, true
	case bgptypes.RouteLeak:
		return cfg.RatingRouteLeakDelta, true
	default:
		return 0, false
	}
}

// System holds every tracked AS's TrustRating.
type System struct {
	mu      sync.Mutex
	cfg     *config.Config
	ratings map[bgptypes.ASN]*bgptypes.TrustRating
}

// New returns an empty rating system.
func New(cfg *config.Config) *System {
	return &System{
		cfg:     cfg,
		ratings: make(map[bgptypes.ASN]*bgptypes.TrustRating),
	}
}

func (s *System) getOrInit(asn bgptypes.ASN) *bgptypes.TrustRating {
	r, ok := s.ratings[asn]
	if !ok {
		r = &bgptypes.TrustRating{
			ASN:         asn,
			Score:       s.cfg.RatingInitialScore,
			EventCounts: make(map[bgptypes.AttackType]int),
		}
		s.ratings[asn] = r
	}
	return r
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

// ApplyConfirmedVerdict applies spec.md §4.9's attack-type delta to
// asn's score, plus the persistent-attacker penalty once this is
// asn's RatingPersistentThreshold-th (or later) confirmed attack of
// any type, and appends an entry to asn's history.
func (s *System) ApplyConfirmedVerdict(asn bgptypes.ASN, attackType bgptypes.AttackType, now time.Time) {
	delta, ok := deltaFor(s.cfg, attackType)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getOrInit(asn)
	r.EventCounts[attackType]++

	total := 0
	for _, n := range r.EventCounts {
		total += n
	}

	r.Score = clamp(r.Score+delta, 0, 100)
	r.History = append(r.History, bgptypes.RatingHistoryEntry{Timestamp: now, Delta: delta, Reason: string(attackType)})

	if total >= s.cfg.RatingPersistentThreshold {
		r.Score = clamp(r.Score+s.cfg.RatingPersistentPenalty, 0, 100)
		r.History = append(r.History, bgptypes.RatingHistoryEntry{
			Timestamp: now,
			Delta:     s.cfg.RatingPersistentPenalty,
			Reason:    "persistent-attacker",
		})
	}
}

// ApplyPositiveMaintenance applies the periodic, out-of-hot-path
// positive adjustments spec.md §4.9 names: +1 per 100 benign
// confirmed transactions, +5 monthly if no confirmed attacks. Nothing
// in the C6/C8 hot path calls it; it runs only when a caller invokes it
// explicitly.
func (s *System) ApplyPositiveMaintenance(asn bgptypes.ASN, benignConfirmedDelta int, monthlyCleanRecord bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getOrInit(asn)

	if benignConfirmedDelta > 0 {
		bonus := float64(benignConfirmedDelta / 100)
		if bonus > 0 {
			r.Score = clamp(r.Score+bonus, 0, 100)
			r.History = append(r.History, bgptypes.RatingHistoryEntry{Timestamp: now, Delta: bonus, Reason: "benign-volume"})
		}
	}
	if monthlyCleanRecord {
		r.Score = clamp(r.Score+5, 0, 100)
		r.History = append(r.History, bgptypes.RatingHistoryEntry{Timestamp: now, Delta: 5, Reason: "monthly-clean-record"})
	}
}

// Get returns a copy of asn's current rating, initializing it at
// RatingInitialScore if this is the first time asn is seen.
func (s *System) Get(asn bgptypes.ASN) bgptypes.TrustRating {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getOrInit(asn)
	return *r
}

// Snapshot returns every tracked rating, for the per-run ratings
// report named in spec.md §6.
func (s *System) Snapshot() []bgptypes.TrustRating {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bgptypes.TrustRating, 0, len(s.ratings))
	for _, r := range s.ratings {
		out = append(out, *r)
	}
	return out
}
