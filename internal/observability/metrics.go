package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LendDesk.
type Metrics struct {
	// --- Repayment workflow ---
	RepayAttempts     *prometheus.CounterVec
	RepayDuration     prometheus.Histogram
	RepayStepDuration *prometheus.HistogramVec

	// --- Chain operations ---
	AuthorizationsSubmitted prometheus.Counter
	SettlementsSubmitted    prometheus.Counter
	ConfirmationWaits       prometheus.Histogram
	ConfirmationTimeouts    prometheus.Counter

	// --- Prices ---
	PriceRefreshes   *prometheus.CounterVec
	PriceFallbacks   prometheus.Counter
	PriceSnapshotAge prometheus.Gauge

	// --- Risk ---
	RiskComputations *prometheus.CounterVec

	// --- Attempt history ---
	HistoryWrites *prometheus.CounterVec

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	workflowBuckets := []float64{
		0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
	}

	httpBuckets := []float64{
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
	}

	return &Metrics{
		RepayAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_repay_attempts_total",
			Help: "Repayment attempts by outcome tag",
		}, []string{"outcome"}),

		RepayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_repay_duration_seconds",
			Help:    "End-to-end repayment attempt duration",
			Buckets: workflowBuckets,
		}),

		RepayStepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_repay_step_duration_seconds",
			Help:    "Per-step duration within an attempt",
			Buckets: workflowBuckets,
		}, []string{"step"}),

		AuthorizationsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_authorizations_submitted_total",
			Help: "Authorization operations submitted to the chain",
		}),

		SettlementsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_settlements_submitted_total",
			Help: "Settlement operations submitted to the chain",
		}),

		ConfirmationWaits: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_confirmation_wait_seconds",
			Help:    "Time spent waiting for chain confirmations",
			Buckets: workflowBuckets,
		}),

		ConfirmationTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_confirmation_timeouts_total",
			Help: "Confirmation waits that exceeded the budget",
		}),

		PriceRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_price_refreshes_total",
			Help: "Price snapshot refreshes by result",
		}, []string{"result"}),

		PriceFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lend_price_fallbacks_total",
			Help: "Quotes served from static fallback prices",
		}),

		PriceSnapshotAge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lend_price_snapshot_age_seconds",
			Help: "Age of the current price snapshot",
		}),

		RiskComputations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_risk_computations_total",
			Help: "Risk metric computations by resulting level",
		}, []string{"level"}),

		HistoryWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_history_writes_total",
			Help: "Attempt history inserts by result",
		}, []string{"result"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_http_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: httpBuckets,
		}, []string{"endpoint"}),
	}
}
