package metrics

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPresaleMetricsSingleton(t *testing.T) {
	require.Same(t, Presale(), Presale())
}

func TestPresaleMetricsObserve(t *testing.T) {
	m := Presale()
	before := testutil.ToFloat64(m.rejections.WithLabelValues("cap_exceeded"))
	m.ObserveRejection("cap_exceeded")
	require.Equal(t, before+1, testutil.ToFloat64(m.rejections.WithLabelValues("cap_exceeded")))

	m.ObserveState(big.NewInt(5000), big.NewInt(12_500_000), 3)
	require.Equal(t, float64(5000), testutil.ToFloat64(m.totalRaised))
	require.Equal(t, float64(3), testutil.ToFloat64(m.participants))

	m.SetCommission(nil)
	require.Zero(t, testutil.ToFloat64(m.commissionPaid))
}

func TestPresaleMetricsNilSafe(t *testing.T) {
	var m *PresaleMetrics
	require.NotPanics(t, func() {
		m.ObserveStage("purchased")
		m.ObserveRejection("")
		m.ObserveAffiliate("bound")
		m.ObserveState(nil, nil, 0)
		m.SetCommission(big.NewInt(1))
	})
}
