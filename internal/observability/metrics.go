package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the hedger.
type Metrics struct {
	// --- Event processing ---
	EventsApplied  *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	EventDuration  *prometheus.HistogramVec
	QueueSize      prometheus.Gauge

	// --- Ledger ---
	PoolShare      prometheus.Gauge
	BucketsOpen    prometheus.Gauge
	DeficitGauge   *prometheus.GaugeVec
	ResolutionFail prometheus.Counter

	// --- Fills ---
	FillsSubmitted prometheus.Counter
	QtyFilled      prometheus.Counter
	QtyUnfilled    prometheus.Counter
	CeilingAborts  prometheus.Counter
	SubmitFailures prometheus.Counter

	// --- Epoch lifecycle ---
	EpochResets  prometheus.Counter
	CurrentEpoch prometheus.Gauge
	LoadDuration prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hedger_events_applied_total",
			Help: "Vault events successfully applied to the ledger",
		}, []string{"event_type"}),

		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hedger_events_rejected_total",
			Help: "Vault events rejected (parse, dedup, resolution)",
		}, []string{"event_type", "reason"}),

		EventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hedger_event_apply_duration_seconds",
			Help:    "Time to process one event including fill attempts",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"event_type"}),

		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedger_event_queue_size",
			Help: "Events waiting in the single-consumer queue",
		}),

		PoolShare: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedger_pool_share_percent",
			Help: "Writer's share of the epoch's aggregate deposits",
		}),

		BucketsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedger_buckets_open",
			Help: "Hedge buckets tracked for the current epoch",
		}),

		DeficitGauge: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hedger_bucket_deficit_units",
			Help: "Unhedged put quantity per instrument",
		}, []string{"symbol"}),

		ResolutionFail: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedger_resolution_failures_total",
			Help: "Purchases whose hedge instrument could not be resolved",
		}),

		FillsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedger_fills_submitted_total",
			Help: "Market buy orders submitted",
		}),

		QtyFilled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedger_quantity_filled_units_total",
			Help: "Put quantity bought across all fills",
		}),

		QtyUnfilled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedger_quantity_unfilled_units_total",
			Help: "Put quantity left unfilled when fill passes stopped",
		}),

		CeilingAborts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedger_ceiling_aborts_total",
			Help: "Fill passes stopped by the break-even price ceiling",
		}),

		SubmitFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedger_submit_failures_total",
			Help: "Market orders rejected by the exchange",
		}),

		EpochResets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedger_epoch_resets_total",
			Help: "Bootstrap signals that tore down ledger state",
		}),

		CurrentEpoch: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedger_current_epoch",
			Help: "Epoch id the hedger is active for",
		}),

		LoadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hedger_epoch_load_duration_seconds",
			Help:    "Time to load epoch state and replay history",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}
