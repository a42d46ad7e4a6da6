// Package bgptypes holds the shared, dependency-free data model
// described in spec.md §3: observations, transactions, votes, blocks,
// knowledge/last-seen entries, flap history, attack verdicts, trust
// ratings, and ledger records. Kept dependency-free so every
// component (signing, bus, txpool, chain, rating, ledger) can import
// it without a cycle.
package bgptypes

import "time"

// ASN is an Autonomous System Number.
type ASN uint32

// AnnouncementType distinguishes a BGP announce from a withdrawal.
type AnnouncementType string

const (
	Announce AnnouncementType = "announce"
	Withdraw AnnouncementType = "withdraw"
)

// Observation is an immutable input event: a BGP announcement or
// withdrawal seen by some AS at some point in simulated time.
type Observation struct {
	Timestamp        float64 // monotonic seconds since dataset epoch
	Prefix           string
	OriginASN        ASN
	ASPath           []ASN
	SourceASN        ASN // the observer
	AnnouncementType AnnouncementType
	ScenarioID       string // optional, for test harnesses
}

// Vote is the three-valued ballot a validator casts on a transaction.
type Vote string

const (
	VoteApprove     Vote = "approve"
	VoteNoKnowledge Vote = "no_knowledge"
	VoteReject      Vote = "reject"
)

// TxKind distinguishes a regular observation record from an
// attack-flagged one; attack-kind transactions get the longer timeout
// and bypass dedup (spec.md §4.4, §4.6).
type TxKind string

const (
	TxRegular TxKind = "regular"
	TxAttack  TxKind = "attack"
)

// TxStatus is the transaction's terminal or in-flight state.
type TxStatus string

const (
	StatusPending                   TxStatus = "pending"
	StatusCommitted                 TxStatus = "committed"
	StatusTimedOutConfirmed         TxStatus = "timed_out_confirmed"
	StatusTimedOutInsufficient      TxStatus = "timed_out_insufficient"
	StatusTimedOutSingleWitness     TxStatus = "timed_out_single_witness"
	StatusRejected                  TxStatus = "rejected"
)

// Signature is one voter's signed ballot on a transaction.
type Signature struct {
	VoterASN ASN
	Vote     Vote
	Sig      []byte
}

// Transaction is the unit of replicated state: one observed BGP event
// proposed by its observer and ratified by peer votes.
type Transaction struct {
	TxID             [32]byte
	ObserverASN      ASN
	Prefix           string
	OriginASN        ASN
	TimestampBucket  int64 // timestamp, bucketed, part of the content hash
	AnnouncementType AnnouncementType
	CreatedAt        time.Time
	Kind             TxKind
	Signatures       []Signature
	Status           TxStatus
}

// ApproveCount returns the number of distinct approve votes recorded,
// counting the observer's own initial approve.
func (t *Transaction) ApproveCount() int {
	n := 0
	for _, s := range t.Signatures {
		if s.Vote == VoteApprove {
			n++
		}
	}
	return n
}

// RejectCount returns the number of distinct reject votes recorded.
func (t *Transaction) RejectCount() int {
	n := 0
	for _, s := range t.Signatures {
		if s.Vote == VoteReject {
			n++
		}
	}
	return n
}

// HasVoted reports whether voterASN already has a recorded signature.
func (t *Transaction) HasVoted(voter ASN) bool {
	for _, s := range t.Signatures {
		if s.VoterASN == voter {
			return true
		}
	}
	return false
}

// BlockType distinguishes genesis, transaction, and verdict blocks.
type BlockType string

const (
	BlockGenesis     BlockType = "genesis"
	BlockTransaction BlockType = "transaction"
	BlockVerdict     BlockType = "verdict"
)

// Block is one entry of a validator's local hash-chained replica.
type Block struct {
	Height      uint64
	BlockType   BlockType
	Payload     []byte // the encoded transaction or verdict
	PrevHash    [32]byte
	MerkleRoot  [32]byte
	Timestamp   time.Time
	CommitterASN ASN
	Signature   []byte
	BlockHash   [32]byte
}

// AttackType is the classification emitted by the detector (spec.md
// §4.5) or reserved by the rating system for a not-yet-implemented
// detector (route-leak, spec.md §9).
type AttackType string

const (
	Benign         AttackType = "benign"
	PrefixHijack   AttackType = "prefix-hijack"
	SubprefixHijack AttackType = "subprefix-hijack"
	Bogon          AttackType = "bogon"
	Flapping       AttackType = "flapping"
	RouteLeak      AttackType = "route-leak"
)

// VerdictStatus is the outcome of the attack-consensus sub-protocol.
type VerdictStatus string

const (
	VerdictConfirmed VerdictStatus = "confirmed"
	VerdictRejected  VerdictStatus = "rejected"
)

// AttackVerdict is the result of a secondary vote over a
// detector-proposed attack classification.
type AttackVerdict struct {
	TxID        [32]byte
	AttackType  AttackType
	ObserverASN ASN
	OriginASN   ASN
	Approves    []ASN
	Rejects     []ASN
	Status      VerdictStatus
	Confidence  float64
	Timestamp   time.Time
}

// KnowledgeEntry is one sliding-window observation record held by a
// validator's knowledge base (spec.md §3, §4.4).
type KnowledgeEntry struct {
	Prefix     string
	OriginASN  ASN
	ObservedAt time.Time
}

// RatingHistoryEntry is one append-only event in a trust rating's
// audit trail (spec.md §4.9).
type RatingHistoryEntry struct {
	Timestamp time.Time
	Delta     float64
	Reason    string
}

// TrustRating is the per-non-validator-AS behavioral score.
type TrustRating struct {
	ASN          ASN
	Score        float64
	History      []RatingHistoryEntry
	EventCounts  map[AttackType]int
}

// LedgerTx is one append-only entry of the token ledger's transaction
// log (spec.md §3, §4.10).
type LedgerTx struct {
	Timestamp time.Time
	ASN       ASN
	Delta     float64 // positive = credited to balance, negative = debited
	Reason    string
}
