package report_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/bus"
	"github.com/atahabilder1/bgp-sentry/internal/report"
)

func TestCollectorRecordsDetectionsAndConsensusLog(t *testing.T) {
	c := report.NewCollector()
	c.RecordDetection(report.DetectionResult{ObserverASN: 65001, Prefix: "10.0.0.0/24", AttackType: bgptypes.PrefixHijack, Timestamp: time.Unix(0, 0)})
	c.RecordConsensusOutcome(report.ConsensusLogEntry{Status: bgptypes.StatusCommitted, Approves: 3, Timestamp: time.Unix(0, 0)})

	require.Len(t, c.Detections(), 1)
	require.Len(t, c.ConsensusLog(), 1)
	require.Equal(t, uint64(1), c.Performance().TransactionsCommitted)
}

func TestCollectorDedupAndProposedCounters(t *testing.T) {
	c := report.NewCollector()
	c.RecordIngested()
	c.RecordIngested()
	c.RecordIngested()
	c.RecordDedupSkip()
	c.RecordDedupSkip()
	c.RecordProposed()

	d := c.Dedup()
	require.Equal(t, uint64(2), d.Skipped)
	require.Equal(t, uint64(1), d.Proposed)
	require.Equal(t, uint64(3), c.Performance().ObservationsIngested)
}

func TestCollectorAverageTimeToCommit(t *testing.T) {
	c := report.NewCollector()
	c.RecordTimeToCommit(100 * time.Millisecond)
	c.RecordTimeToCommit(300 * time.Millisecond)

	require.Equal(t, 200*time.Millisecond, c.Performance().AvgTimeToCommit)
}

func TestBuildSummaryCountsConfirmedAndRejectedVerdicts(t *testing.T) {
	c := report.NewCollector()
	c.RecordAttackVerdict(bgptypes.AttackVerdict{Status: bgptypes.VerdictConfirmed})
	c.RecordAttackVerdict(bgptypes.AttackVerdict{Status: bgptypes.VerdictRejected})
	c.RecordAttackVerdict(bgptypes.AttackVerdict{Status: bgptypes.VerdictConfirmed})

	tokens := report.TokenEconomy(1000, 900, 50, 50, nil, nil)
	s := report.BuildSummary(c, tokens)

	require.Equal(t, 2, s.TotalAttacksConfirmed)
	require.Equal(t, 1, s.TotalAttacksRejected)
	require.Equal(t, 900.0, s.FinalTreasury)
}

func TestDetectionTypeCountsTracksModeAcrossAttackTypes(t *testing.T) {
	c := report.NewCollector()
	c.RecordDetection(report.DetectionResult{AttackType: bgptypes.PrefixHijack})
	c.RecordDetection(report.DetectionResult{AttackType: bgptypes.PrefixHijack})
	c.RecordDetection(report.DetectionResult{AttackType: bgptypes.Bogon})

	counts, mode, modeCount := c.DetectionTypeCounts()
	require.Equal(t, 2, counts[bgptypes.PrefixHijack])
	require.Equal(t, 1, counts[bgptypes.Bogon])
	require.Equal(t, bgptypes.PrefixHijack, mode)
	require.Equal(t, 2, modeCount)
}

func TestNewCollectorAssignsNonEmptyRunID(t *testing.T) {
	c1 := report.NewCollector()
	c2 := report.NewCollector()
	require.NotEmpty(t, c1.RunID())
	require.NotEqual(t, c1.RunID(), c2.RunID())
}

func TestMessageBusConvertsBusStats(t *testing.T) {
	mb := report.MessageBus(bus.Stats{Sent: 5, Delivered: 4, Dropped: 1})
	require.Equal(t, uint64(5), mb.Sent)
	require.Equal(t, uint64(1), mb.Dropped)
}
