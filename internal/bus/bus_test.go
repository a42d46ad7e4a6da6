package bus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/bus"
	"github.com/atahabilder1/bgp-sentry/internal/logging"
)

func TestSendDeliversToRegisteredInbox(t *testing.T) {
	require := require.New(t)
	b := bus.New(4, logging.NewNop())
	b.Register(1)
	b.Register(2)

	ok := b.Send(1, 2, bus.Message{Kind: bus.KindVoteRequest})
	require.True(ok)

	msg, ok := b.TryReceive(2)
	require.True(ok)
	require.Equal(bgptypes.ASN(1), msg.From)
}

func TestSendToUnregisteredASNFails(t *testing.T) {
	b := bus.New(4, logging.NewNop())
	b.Register(1)
	require.False(t, b.Send(1, 99, bus.Message{Kind: bus.KindVoteRequest}))
}

func TestInboxOverflowDropsAndCounts(t *testing.T) {
	require := require.New(t)
	b := bus.New(1, logging.NewNop())
	b.Register(1)
	b.Register(2)

	require.True(b.Send(1, 2, bus.Message{Kind: bus.KindVoteRequest}))
	require.False(b.Send(1, 2, bus.Message{Kind: bus.KindVoteRequest}))

	stats := b.Stats()
	require.Equal(uint64(2), stats.Sent)
	require.Equal(uint64(1), stats.Delivered)
	require.Equal(uint64(1), stats.Dropped)
}

func TestBroadcastFireAndForget(t *testing.T) {
	require := require.New(t)
	b := bus.New(4, logging.NewNop())
	for _, asn := range []bgptypes.ASN{1, 2, 3} {
		b.Register(asn)
	}

	sent, delivered := b.Broadcast(1, []bgptypes.ASN{2, 3, 99}, bus.Message{Kind: bus.KindAttackProposal})
	require.Equal(3, sent)
	require.Equal(2, delivered)
}

func TestFIFOPerSenderReceiverPair(t *testing.T) {
	require := require.New(t)
	b := bus.New(8, logging.NewNop())
	b.Register(1)
	b.Register(2)

	for i := 0; i < 3; i++ {
		b.Send(1, 2, bus.Message{Kind: bus.KindVoteResponse, VoteResponse: &bus.VoteResponse{Voter: bgptypes.ASN(i)}})
	}
	for i := 0; i < 3; i++ {
		msg, ok := b.TryReceive(2)
		require.True(ok)
		require.Equal(bgptypes.ASN(i), msg.VoteResponse.Voter)
	}
}
