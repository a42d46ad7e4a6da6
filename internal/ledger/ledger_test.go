package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/config"
	"github.com/atahabilder1/bgp-sentry/internal/ledger"
)

func TestTreasuryStartsAtTotalSupply(t *testing.T) {
	cfg := config.Default()
	l := ledger.New(cfg)
	require.Equal(t, cfg.TotalSupply, l.Treasury())
	require.True(t, l.Invariant())
}

func TestRewardCommitCreditsDefaultMultiplier(t *testing.T) {
	cfg := config.Default()
	l := ledger.New(cfg)
	now := time.Unix(0, 0)

	l.RewardCommit(cfg, 65001, now)

	require.Equal(t, cfg.BlockCommitReward+cfg.FirstCommitBonus, l.Balance(65001))
	require.True(t, l.Invariant())
}

func TestFirstCommitBonusOnlyOncePerSweepWindow(t *testing.T) {
	cfg := config.Default()
	l := ledger.New(cfg)
	base := time.Unix(0, 0)

	l.RewardCommit(cfg, 65001, base)
	l.RewardCommit(cfg, 65002, base.Add(time.Millisecond)) // same sweep window

	require.Equal(t, cfg.BlockCommitReward+cfg.FirstCommitBonus, l.Balance(65001))
	require.Equal(t, cfg.BlockCommitReward, l.Balance(65002))
}

func TestRewardConfirmedAttackCreditsDetectorAndPeers(t *testing.T) {
	cfg := config.Default()
	l := ledger.New(cfg)
	now := time.Unix(0, 0)

	l.RewardConfirmedAttack(cfg, 65001, []bgptypes.ASN{65002, 65003}, now)

	require.Equal(t, cfg.AttackDetectionReward, l.Balance(65001))
	require.Equal(t, cfg.CorrectPeerVoteReward, l.Balance(65002))
	require.Equal(t, cfg.CorrectPeerVoteReward, l.Balance(65003))
	require.True(t, l.Invariant())
}

func TestPenalizeFalseVerdictMovesBalanceBackToTreasuryWithoutBurn(t *testing.T) {
	cfg := config.Default()
	l := ledger.New(cfg)
	now := time.Unix(0, 0)

	l.RewardCommit(cfg, 65001, now)
	before := l.Treasury()
	balance := l.Balance(65001)

	l.PenalizeFalseVerdict(cfg, 65001, now)

	// The penalty exceeds the balance, so the whole balance (capped
	// debit) moves back to treasury.
	require.Equal(t, before+balance, l.Treasury())
	require.True(t, l.Invariant())
}

func TestSpendBurnsHalfAndRecyclesHalf(t *testing.T) {
	cfg := config.Default()
	l := ledger.New(cfg)
	now := time.Unix(0, 0)

	l.RewardCommit(cfg, 65001, now)
	balanceBefore := l.Balance(65001)
	treasuryBefore := l.Treasury()

	l.Spend(65001, balanceBefore, "governance_action", now)

	require.Equal(t, float64(0), l.Balance(65001))
	require.Equal(t, treasuryBefore+balanceBefore/2, l.Treasury())
	require.True(t, l.Invariant())
}

func TestAccessorsReportSupplyBurnedAndRecycled(t *testing.T) {
	cfg := config.Default()
	l := ledger.New(cfg)
	now := time.Unix(0, 0)

	require.Equal(t, cfg.TotalSupply, l.TotalSupply())

	l.RewardCommit(cfg, 65001, now)
	balance := l.Balance(65001)
	l.Spend(65001, balance, "governance_action", now)

	require.Equal(t, balance/2, l.Burned())
	require.Equal(t, balance-balance/2, l.Recycled())
}

func TestLogRecordsEveryMovement(t *testing.T) {
	cfg := config.Default()
	l := ledger.New(cfg)
	now := time.Unix(0, 0)

	l.RewardCommit(cfg, 65001, now)
	l.PenalizeFalseVerdict(cfg, 65001, now)

	require.Len(t, l.Log(), 3) // block_commit_reward, first_commit_bonus, false_verdict_penalty
}
