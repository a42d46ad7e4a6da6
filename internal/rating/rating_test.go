package rating_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/config"
	"github.com/atahabilder1/bgp-sentry/internal/rating"
)

func TestNewASNStartsAtInitialScore(t *testing.T) {
	s := rating.New(config.Default())
	r := s.Get(bgptypes.ASN(65001))
	require.Equal(t, config.Default().RatingInitialScore, r.Score)
}

func TestPrefixHijackAppliesDeltaAndHistory(t *testing.T) {
	cfg := config.Default()
	s := rating.New(cfg)
	now := time.Unix(0, 0)

	s.ApplyConfirmedVerdict(65001, bgptypes.PrefixHijack, now)

	r := s.Get(65001)
	require.Equal(t, cfg.RatingInitialScore+cfg.RatingPrefixHijackDelta, r.Score)
	require.Len(t, r.History, 1)
}

func TestScoreClampsAtZero(t *testing.T) {
	cfg := config.Default()
	s := rating.New(cfg)
	now := time.Unix(0, 0)

	for i := 0; i < 10; i++ {
		s.ApplyConfirmedVerdict(65001, bgptypes.Bogon, now)
	}

	r := s.Get(65001)
	require.Equal(t, float64(0), r.Score)
}

func TestPersistentAttackerPenaltyAppliesAtThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.RatingPersistentThreshold = 3
	// Start high enough that no step below hits the [0, 100] clamp.
	cfg.RatingInitialScore = 100
	s := rating.New(cfg)
	now := time.Unix(0, 0)

	s.ApplyConfirmedVerdict(65001, bgptypes.Flapping, now)
	s.ApplyConfirmedVerdict(65001, bgptypes.Flapping, now)
	before := s.Get(65001).Score

	s.ApplyConfirmedVerdict(65001, bgptypes.Flapping, now) // 3rd confirmed attack
	after := s.Get(65001)

	// Ordinary delta plus the one-time persistent-attacker penalty.
	require.Equal(t, before+cfg.RatingFlappingDelta+cfg.RatingPersistentPenalty, after.Score)
	require.Len(t, after.History, 4) // 2 plain deltas + (delta, persistent-penalty) on the 3rd
}

func TestClassifyScoreThresholds(t *testing.T) {
	require.Equal(t, rating.HighlyTrusted, rating.ClassifyScore(95))
	require.Equal(t, rating.Trusted, rating.ClassifyScore(70))
	require.Equal(t, rating.Neutral, rating.ClassifyScore(50))
	require.Equal(t, rating.Suspicious, rating.ClassifyScore(30))
	require.Equal(t, rating.Malicious, rating.ClassifyScore(29))
}

func TestRouteLeakDeltaIsReachableEvenThoughDetectorIsAStub(t *testing.T) {
	// The C5 route-leak detector is a stub that always returns benign
	// (spec.md §9/§12), but the rating delta itself is fully wired and
	// reachable the moment any caller confirms a route-leak verdict
	// through another path (e.g. a future detector).
	cfg := config.Default()
	s := rating.New(cfg)
	s.ApplyConfirmedVerdict(65001, bgptypes.RouteLeak, time.Unix(0, 0))
	r := s.Get(65001)
	require.Equal(t, cfg.RatingInitialScore+cfg.RatingRouteLeakDelta, r.Score)
}
