package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/atahabilder1/bgp-sentry/internal/metrics"
)

func TestAveragerTracksRunningMean(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := metrics.NewAverager("test_avg", "help", reg)
	require.NoError(t, err)
	require.Equal(t, float64(0), a.Read())

	a.Observe(10)
	a.Observe(20)
	require.Equal(t, float64(15), a.Read())
}

func TestNewAveragerAcceptsNilRegisterer(t *testing.T) {
	a, err := metrics.NewAverager("test_avg_nil", "help", nil)
	require.NoError(t, err)
	a.Observe(5)
	require.Equal(t, float64(5), a.Read())
}

func TestMustCounterRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.MustCounter("test_counter", "help", reg)
	require.NoError(t, err)

	_, err = metrics.MustCounter("test_counter", "help", reg)
	require.Error(t, err)
}

func TestMustGaugeRegistersSuccessfully(t *testing.T) {
	reg := prometheus.NewRegistry()
	g, err := metrics.MustGauge("test_gauge", "help", reg)
	require.NoError(t, err)
	require.NotNil(t, g)
}
