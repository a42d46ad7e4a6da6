package oracle_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atahabilder1/bgp-sentry/internal/oracle"
)

func mustOracle(t *testing.T, entries []oracle.VRPEntry) *oracle.Oracle {
	t.Helper()
	o, err := oracle.New(entries)
	require.NoError(t, err)
	return o
}

func TestValidateValid(t *testing.T) {
	o := mustOracle(t, []oracle.VRPEntry{{Prefix: "10.0.0.0/24", MaxLength: 24, OriginASN: 100}})
	require.Equal(t, oracle.Valid, o.Validate("10.0.0.0/24", 100))
}

func TestValidateInvalidOrigin(t *testing.T) {
	o := mustOracle(t, []oracle.VRPEntry{{Prefix: "8.8.8.0/24", MaxLength: 24, OriginASN: 15169}})
	require.Equal(t, oracle.Invalid, o.Validate("8.8.8.0/24", 666))
}

func TestValidateNotFound(t *testing.T) {
	o := mustOracle(t, []oracle.VRPEntry{{Prefix: "10.0.0.0/24", MaxLength: 24, OriginASN: 100}})
	require.Equal(t, oracle.NotFound, o.Validate("192.0.2.0/24", 200))
}

func TestCoveringFindsShorterPrefixDifferentOrigin(t *testing.T) {
	o := mustOracle(t, []oracle.VRPEntry{{Prefix: "10.0.0.0/16", MaxLength: 16, OriginASN: 100}})
	entry, ok := o.Covering("10.0.5.0/24", 200)
	require.True(t, ok)
	require.Equal(t, uint32(100), entry.OriginASN)
}

func TestCoveringSameOriginIsNotAHijackSignal(t *testing.T) {
	o := mustOracle(t, []oracle.VRPEntry{{Prefix: "10.0.0.0/16", MaxLength: 16, OriginASN: 100}})
	_, ok := o.Covering("10.0.5.0/24", 100)
	require.False(t, ok)
}
