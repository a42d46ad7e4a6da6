package detector_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/detector"
	"github.com/atahabilder1/bgp-sentry/internal/oracle"
)

func obs(prefix string, origin bgptypes.ASN, kind bgptypes.AnnouncementType) bgptypes.Observation {
	return bgptypes.Observation{Prefix: prefix, OriginASN: origin, AnnouncementType: kind}
}

func TestClassifyValidIsBenign(t *testing.T) {
	orc, err := oracle.New([]oracle.VRPEntry{{Prefix: "8.8.8.0/24", MaxLength: 24, OriginASN: 65001}})
	require.NoError(t, err)

	res := detector.Classify(obs("8.8.8.0/24", 65001, bgptypes.Announce), orc, nil, time.Unix(0, 0))
	require.True(t, res.Benign())
}

func TestClassifyInvalidOriginIsPrefixHijack(t *testing.T) {
	orc, err := oracle.New([]oracle.VRPEntry{{Prefix: "8.8.8.0/24", MaxLength: 24, OriginASN: 65001}})
	require.NoError(t, err)

	res := detector.Classify(obs("8.8.8.0/24", 65002, bgptypes.Announce), orc, nil, time.Unix(0, 0))
	require.Equal(t, bgptypes.PrefixHijack, res.Type)
}

func TestClassifyBogonTakesPrecedenceOverHijack(t *testing.T) {
	orc, err := oracle.New([]oracle.VRPEntry{{Prefix: "8.8.8.0/24", MaxLength: 24, OriginASN: 65001}})
	require.NoError(t, err)

	res := detector.Classify(obs("10.0.0.0/24", 65002, bgptypes.Announce), orc, nil, time.Unix(0, 0))
	require.Equal(t, bgptypes.Bogon, res.Type)
}

func TestClassifySubprefixHijackWhenCoveredByDifferentOrigin(t *testing.T) {
	orc, err := oracle.New([]oracle.VRPEntry{{Prefix: "8.8.0.0/16", MaxLength: 16, OriginASN: 65001}})
	require.NoError(t, err)

	res := detector.Classify(obs("8.8.8.0/24", 65099, bgptypes.Announce), orc, nil, time.Unix(0, 0))
	require.Equal(t, bgptypes.SubprefixHijack, res.Type)
}

func TestClassifyNotFoundNoCoverIsBenign(t *testing.T) {
	orc, err := oracle.New(nil)
	require.NoError(t, err)

	res := detector.Classify(obs("9.9.9.0/24", 65099, bgptypes.Announce), orc, nil, time.Unix(0, 0))
	require.True(t, res.Benign())
}

func TestClassifyFlappingAfterThresholdTransitions(t *testing.T) {
	orc, err := oracle.New(nil)
	require.NoError(t, err)
	flaps := detector.NewFlapHistory(60*time.Second, 3, 0)

	base := time.Unix(0, 0)
	kinds := []bgptypes.AnnouncementType{
		bgptypes.Announce, bgptypes.Withdraw, bgptypes.Announce,
		bgptypes.Withdraw, bgptypes.Announce,
	}
	var last detector.Result
	for i, k := range kinds {
		last = detector.Classify(obs("9.9.9.0/24", 65099, k), orc, flaps, base.Add(time.Duration(i)*time.Second))
	}
	require.Equal(t, bgptypes.Flapping, last.Type)
}

func TestClassifyValidSuppressesFlappingEvenDuringStorm(t *testing.T) {
	orc, err := oracle.New([]oracle.VRPEntry{{Prefix: "9.9.9.0/24", MaxLength: 24, OriginASN: 65099}})
	require.NoError(t, err)
	flaps := detector.NewFlapHistory(60*time.Second, 1, 0)

	base := time.Unix(0, 0)
	kinds := []bgptypes.AnnouncementType{bgptypes.Announce, bgptypes.Withdraw, bgptypes.Announce}
	var last detector.Result
	for i, k := range kinds {
		last = detector.Classify(obs("9.9.9.0/24", 65099, k), orc, flaps, base.Add(time.Duration(i)*time.Second))
	}
	require.True(t, last.Benign())
}

func TestClassifyRouteLeakStubIsBenign(t *testing.T) {
	res := detector.ClassifyRouteLeak(obs("9.9.9.0/24", 65099, bgptypes.Announce))
	require.True(t, res.Benign())
}
