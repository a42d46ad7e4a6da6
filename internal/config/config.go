// Package config holds the single, immutable configuration struct
// every component is constructed from, following the teacher's
// parameters.go pattern of a validated struct with package-level
// defaults rather than a reflection-based settings dictionary
// (spec.md §9's "replace reflection/duck-typed config dictionaries").
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidConsensusThresholds = errors.New("consensus thresholds must be positive and ConsensusMin <= ConsensusCap")
	ErrInvalidTimeouts            = errors.New("timeouts must be positive")
	ErrInvalidWindows             = errors.New("dedup/knowledge/flap windows must be positive")
	ErrInvalidBuffers             = errors.New("buffer capacities must be positive")
)

// Config is the full set of tunables named in spec.md §6.
type Config struct {
	// Consensus
	ConsensusMin                          int     `yaml:"consensus_min"`
	ConsensusCap                          int     `yaml:"consensus_cap"`
	AttackConsensusMin                    int     `yaml:"attack_consensus_min"`
	AttackConsensusRewardDetection        float64 `yaml:"attack_consensus_reward_detection"`
	AttackConsensusPenaltyFalseAccusation float64 `yaml:"attack_consensus_penalty_false_accusation"`

	// P2P
	RegularTimeout   time.Duration `yaml:"regular_timeout"`
	AttackTimeout    time.Duration `yaml:"attack_timeout"`
	MaxBroadcastPeers int          `yaml:"max_broadcast_peers"`

	// Dedup / windows
	RpkiDedupWindow          time.Duration `yaml:"rpki_dedup_window"`
	NonrpkiDedupWindow       time.Duration `yaml:"nonrpki_dedup_window"`
	KnowledgeWindow          time.Duration `yaml:"knowledge_window"`
	SamplingWindow           time.Duration `yaml:"sampling_window"`
	KnowledgeCleanupInterval time.Duration `yaml:"knowledge_cleanup_interval"`

	// Buffers
	PendingMax    int `yaml:"pending_max"`
	CommittedMax  int `yaml:"committed_max"`
	KnowledgeMax  int `yaml:"knowledge_max"`
	LastSeenMax   int `yaml:"last_seen_max"`
	BusInboxCap   int `yaml:"bus_inbox_cap"`

	// Flap
	FlapWindow    time.Duration `yaml:"flap_window"`
	FlapThreshold int           `yaml:"flap_threshold"`
	FlapDedup     time.Duration `yaml:"flap_dedup"`

	// Rating deltas (spec.md §4.9)
	RatingPrefixHijackDelta    float64 `yaml:"rating_prefix_hijack_delta"`
	RatingSubprefixHijackDelta float64 `yaml:"rating_subprefix_hijack_delta"`
	RatingBogonDelta           float64 `yaml:"rating_bogon_delta"`
	RatingFlappingDelta        float64 `yaml:"rating_flapping_delta"`
	RatingRouteLeakDelta       float64 `yaml:"rating_route_leak_delta"`
	RatingPersistentPenalty    float64 `yaml:"rating_persistent_penalty"`
	RatingPersistentThreshold  int     `yaml:"rating_persistent_threshold"`
	RatingInitialScore         float64 `yaml:"rating_initial_score"`

	// Token economy (spec.md §4.10)
	TotalSupply           float64 `yaml:"total_supply"`
	BlockCommitReward     float64 `yaml:"block_commit_reward"`
	FirstCommitBonus      float64 `yaml:"first_commit_bonus"`
	VoteApproveReward     float64 `yaml:"vote_approve_reward"`
	AttackDetectionReward float64 `yaml:"attack_detection_reward"`
	CorrectPeerVoteReward float64 `yaml:"correct_peer_vote_reward"`
	FalseVerdictPenalty   float64 `yaml:"false_verdict_penalty"`

	// Simulation
	SpeedMultiplier   float64 `yaml:"speed_multiplier"`
	IngestionBufferMax int    `yaml:"ingestion_buffer_max"`
}

// Default returns the spec.md §6 default configuration.
func Default() *Config {
	return &Config{
		ConsensusMin:                          3,
		ConsensusCap:                          5,
		AttackConsensusMin:                    3,
		AttackConsensusRewardDetection:        10,
		AttackConsensusPenaltyFalseAccusation: 20,

		RegularTimeout:    3 * time.Second,
		AttackTimeout:     5 * time.Second,
		MaxBroadcastPeers: 5,

		RpkiDedupWindow:          300 * time.Second,
		NonrpkiDedupWindow:       120 * time.Second,
		KnowledgeWindow:          480 * time.Second,
		SamplingWindow:           300 * time.Second,
		KnowledgeCleanupInterval: 60 * time.Second,

		PendingMax:   5000,
		CommittedMax: 50000,
		KnowledgeMax: 50000,
		LastSeenMax:  100000,
		BusInboxCap:  1024,

		FlapWindow:    60 * time.Second,
		FlapThreshold: 5,
		FlapDedup:     2 * time.Second,

		RatingPrefixHijackDelta:    -20,
		RatingSubprefixHijackDelta: -18,
		RatingBogonDelta:           -25,
		RatingFlappingDelta:        -10,
		RatingRouteLeakDelta:       -15,
		RatingPersistentPenalty:    -30,
		RatingPersistentThreshold:  3,
		RatingInitialScore:         50,

		TotalSupply:           10_000_000,
		BlockCommitReward:     10,
		FirstCommitBonus:      5,
		VoteApproveReward:     1,
		AttackDetectionReward: 100,
		CorrectPeerVoteReward: 2,
		FalseVerdictPenalty:   20,

		SpeedMultiplier:    1.0,
		IngestionBufferMax: 1000,
	}
}

// LoadYAML overlays a YAML file's keys onto the defaults.
func LoadYAML(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the hot path relies on, following
// the teacher's parameters.go Valid() style: one pass of ordered
// checks returning the first violated sentinel.
func (c *Config) Validate() error {
	switch {
	case c.ConsensusMin <= 0 || c.ConsensusCap <= 0 || c.ConsensusMin > c.ConsensusCap:
		return ErrInvalidConsensusThresholds
	case c.AttackConsensusMin <= 0:
		return ErrInvalidConsensusThresholds
	case c.RegularTimeout <= 0 || c.AttackTimeout <= 0:
		return ErrInvalidTimeouts
	case c.RpkiDedupWindow <= 0 || c.NonrpkiDedupWindow <= 0 || c.KnowledgeWindow <= 0 || c.FlapWindow <= 0:
		return ErrInvalidWindows
	case c.PendingMax <= 0 || c.CommittedMax <= 0 || c.KnowledgeMax <= 0 || c.LastSeenMax <= 0 || c.BusInboxCap <= 0:
		return ErrInvalidBuffers
	default:
		return nil
	}
}

// ConsensusThreshold computes T = max(ConsensusMin, min(floor(N/3)+1, ConsensusCap))
// for a validator population of size n (spec.md §4.6, GLOSSARY "PoP").
func (c *Config) ConsensusThreshold(n int) int {
	t := n/3 + 1
	if t > c.ConsensusCap {
		t = c.ConsensusCap
	}
	if t < c.ConsensusMin {
		t = c.ConsensusMin
	}
	return t
}

// SweepInterval is the minimum timeout-sweep cadence required by
// spec.md §4.6/§5: at least once per min(RegularTimeout, AttackTimeout)/2.
func (c *Config) SweepInterval() time.Duration {
	min := c.RegularTimeout
	if c.AttackTimeout < min {
		min = c.AttackTimeout
	}
	return min / 2
}
