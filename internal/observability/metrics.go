package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine and its shell.
type Metrics struct {
	// --- Operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// --- Market state ---
	MarketSkew        *prometheus.GaugeVec
	OpenInterestLong  *prometheus.GaugeVec
	OpenInterestShort *prometheus.GaugeVec
	FundingIndex      *prometheus.GaugeVec
	FundingRate       *prometheus.GaugeVec

	// --- Funding settlement ---
	FundingAdvances   *prometheus.CounterVec
	FundingPaid       *prometheus.CounterVec
	FundingReceived   *prometheus.CounterVec
	FundingShortfalls *prometheus.CounterVec
	PositionsSettled  *prometheus.CounterVec

	// --- Outbound events ---
	EventsPublished prometheus.Counter
	PublishDrops    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_engine_ops_applied_total",
			Help: "Operations successfully applied by the engine",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_engine_ops_rejected_total",
			Help: "Operations rejected before any state change",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_engine_op_duration_seconds",
			Help:    "Time to apply a single engine operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		MarketSkew: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synth_market_skew",
			Help: "Net long minus short open interest per market",
		}, []string{"asset"}),

		OpenInterestLong: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synth_market_open_interest_long",
			Help: "Total long open interest per market",
		}, []string{"asset"}),

		OpenInterestShort: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synth_market_open_interest_short",
			Help: "Total short open interest per market",
		}, []string{"asset"}),

		FundingIndex: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synth_market_funding_index",
			Help: "Cumulative global funding index per market",
		}, []string{"asset"}),

		FundingRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "synth_market_funding_rate",
			Help: "Current skew-derived funding rate per market",
		}, []string{"asset"}),

		FundingAdvances: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_funding_index_advances_total",
			Help: "Funding-index advances applied per market",
		}, []string{"asset"}),

		FundingPaid: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_funding_paid_total",
			Help: "Funding debited from user balances per market",
		}, []string{"asset"}),

		FundingReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_funding_received_total",
			Help: "Funding credited to user balances per market",
		}, []string{"asset"}),

		FundingShortfalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_funding_shortfalls_total",
			Help: "Settlements where the owed funding exceeded the balance",
		}, []string{"asset"}),

		PositionsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_funding_positions_settled_total",
			Help: "Positions reconciled against the global funding index",
		}, []string{"asset"}),

		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_events_published_total",
			Help: "Outbound events handed to the publisher",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_events_dropped_total",
			Help: "Outbound events dropped because the publisher was full",
		}),
	}
}

// ObserveMarket refreshes the per-market gauges after a state change.
func (m *Metrics) ObserveMarket(asset string, skew, longOI, shortOI, index, rate int64) {
	m.MarketSkew.WithLabelValues(asset).Set(float64(skew))
	m.OpenInterestLong.WithLabelValues(asset).Set(float64(longOI))
	m.OpenInterestShort.WithLabelValues(asset).Set(float64(shortOI))
	m.FundingIndex.WithLabelValues(asset).Set(float64(index))
	m.FundingRate.WithLabelValues(asset).Set(float64(rate))
}
