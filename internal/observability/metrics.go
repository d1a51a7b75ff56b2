package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PortfolioLedger.
type Metrics struct {
	// --- Allocator ---
	AllocatorRequests  *prometheus.CounterVec
	AllocatorDuration  *prometheus.HistogramVec
	AllocatorSequence  prometheus.Gauge
	RecordsInitialized prometheus.Counter
	RentDeposited      prometheus.Counter
	LamportsAirdropped prometheus.Counter
	Journals           *prometheus.CounterVec
	StateHashDur       prometheus.Histogram

	// --- Existence cache ---
	ExistenceHits   *prometheus.CounterVec
	ExistenceMisses prometheus.Counter
	ExistenceSize   prometheus.Gauge
	ExistenceErrors prometheus.Counter

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	OutputDrops        *prometheus.CounterVec

	// --- Ingestion ---
	IngestMessages  *prometheus.CounterVec
	IngestRejected  *prometheus.CounterVec
	NATSPullLatency *prometheus.HistogramVec
	PublishErrors   prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- RPC / gateway ---
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg. Tests pass a fresh prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		// Allocator
		AllocatorRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_allocator_requests_total",
			Help: "Allocator operations by outcome",
		}, []string{"operation", "result"}),

		AllocatorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portfolio_allocator_duration_seconds",
			Help:    "Allocator operation latency including the backend unit of work",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		AllocatorSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_allocator_sequence",
			Help: "Sequence of the last committed allocator output",
		}),

		RecordsInitialized: f.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_records_initialized_total",
			Help: "Portfolio records allocated and initialized",
		}),

		RentDeposited: f.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_rent_deposited_lamports_total",
			Help: "Lamports moved from wallets into record reserves",
		}),

		LamportsAirdropped: f.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_airdropped_lamports_total",
			Help: "Lamports credited to wallets by the faucet",
		}),

		Journals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "portfolio_state_hash_duration_seconds",
			Help:    "Time to advance the state hash chain",
			Buckets: latencyBuckets,
		}),

		// Existence cache
		ExistenceHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_existence_hits_total",
			Help: "Addresses found initialized, by tier",
		}, []string{"tier"}),

		ExistenceMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_existence_misses_total",
			Help: "Lookups that found no record in either tier",
		}),

		ExistenceSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_existence_cache_size",
			Help: "Entries in the in-memory existence cache",
		}),

		ExistenceErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_existence_backend_errors_total",
			Help: "Tier-2 existence lookups that failed",
		}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portfolio_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portfolio_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portfolio_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		OutputDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_output_drops_total",
			Help: "Allocator outputs dropped due to a full channel",
		}, []string{"channel"}),

		// Ingestion
		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_ingest_messages_total",
			Help: "Instructions received from NATS by kind and outcome",
		}, []string{"kind", "result"}),

		IngestRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_ingest_rejected_total",
			Help: "Instructions rejected before reaching the allocator",
		}, []string{"reason"}),

		NATSPullLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portfolio_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: latencyBuckets,
		}, []string{"subject"}),


		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_publish_errors_total",
			Help: "Outbound event publishes that failed",
		}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_persist_journals_written_total",
			Help: "Journals written to the event log",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "portfolio_persist_batch_size",
			Help:    "Outputs per event-log write",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "portfolio_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_persist_errors_total",
			Help: "Event-log write errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_persist_retry_total",
			Help: "Event-log write retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "portfolio_persist_last_sequence",
			Help: "Last sequence written to the event log",
		}),

		// RPC / gateway
		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_rpc_requests_total",
			Help: "gRPC requests by method and status code",
		}, []string{"method", "code"}),

		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portfolio_rpc_duration_seconds",
			Help:    "gRPC handler latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		}, []string{"method"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
