package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type PresaleMetrics struct {
	purchases      *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	affiliate      *prometheus.CounterVec
	totalRaised    prometheus.Gauge
	tokensSold     prometheus.Gauge
	commissionPaid prometheus.Gauge
	participants   prometheus.Gauge
}

var (
	presaleOnce     sync.Once
	presaleRegistry *PresaleMetrics
)

func Presale() *PresaleMetrics {
	presaleOnce.Do(func() {
		presaleRegistry = &PresaleMetrics{
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "presale_purchases_total",
				Help: "Count of committed presale operations by stage.",
			}, []string{"stage"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "presale_rejections_total",
				Help: "Count of rejected presale payments by reason.",
			}, []string{"reason"}),
			affiliate: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "presale_affiliate_events_total",
				Help: "Affiliate bindings and rejected referrals.",
			}, []string{"outcome"}),
			totalRaised: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "presale_total_raised",
				Help: "Total payment units admitted by the sale.",
			}),
			tokensSold: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "presale_tokens_sold",
				Help: "Total sale-token units granted by settlement.",
			}),
			commissionPaid: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "presale_affiliate_commission",
				Help: "Total payment units routed to affiliates.",
			}),
			participants: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "presale_participants",
				Help: "Number of distinct payers with an admitted purchase.",
			}),
		}
		prometheus.MustRegister(
			presaleRegistry.purchases,
			presaleRegistry.rejections,
			presaleRegistry.affiliate,
			presaleRegistry.totalRaised,
			presaleRegistry.tokensSold,
			presaleRegistry.commissionPaid,
			presaleRegistry.participants,
		)
	})
	return presaleRegistry
}

func (m *PresaleMetrics) ObserveStage(stage string) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "unknown"
	}
	m.purchases.WithLabelValues(stage).Inc()
}

func (m *PresaleMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *PresaleMetrics) ObserveAffiliate(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.affiliate.WithLabelValues(outcome).Inc()
}

// ObserveState publishes the sale aggregates. Amounts are approximated as
// float64 for export.
func (m *PresaleMetrics) ObserveState(raised, sold *big.Int, participants uint64) {
	if m == nil {
		return
	}
	m.totalRaised.Set(toFloat(raised))
	m.tokensSold.Set(toFloat(sold))
	m.participants.Set(float64(participants))
}

func (m *PresaleMetrics) SetCommission(total *big.Int) {
	if m == nil {
		return
	}
	m.commissionPaid.Set(toFloat(total))
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
