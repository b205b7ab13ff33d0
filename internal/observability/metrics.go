// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	LogsReceived      *prometheus.CounterVec
	EventsHandled     *prometheus.CounterVec
	EventErrors       *prometheus.CounterVec
	HighestBlockSeen  prometheus.Gauge
	CursorBlock       prometheus.Gauge
	EventLatency      *prometheus.HistogramVec
	ReorgRewinds      prometheus.Counter
	KafkaMessagesRead prometheus.Counter

	// Accounting metrics
	PositionsCreated    prometheus.Counter
	PositionsCompleted  prometheus.Counter
	PositionsTerminated prometheus.Counter
	PositionSwaps       prometheus.Counter
	PairSwaps           prometheus.Counter
	ActionsRecorded     *prometheus.CounterVec
	ReplaySkips         *prometheus.CounterVec

	// Token registry metrics
	TokensRegistered    *prometheus.CounterVec
	MetadataFallbacks   *prometheus.CounterVec
	ConversionFallbacks prometheus.Counter

	// RPC metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastHandledEvent prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "dca_indexer"
	}
	f := promauto.With(reg)

	return &Metrics{
		LogsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "logs_received_total",
			Help:      "Total number of raw logs received by source",
		}, []string{"source"}),
		EventsHandled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_handled_total",
			Help:      "Total number of decoded events handled by event name",
		}, []string{"event"}),
		EventErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_errors_total",
			Help:      "Total number of event handling errors by event and error type",
		}, []string{"event", "error_type"}),
		HighestBlockSeen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_block_seen",
			Help:      "Highest block number seen",
		}),
		CursorBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "cursor_block",
			Help:      "Block of the last fully handled log",
		}),
		EventLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_latency_seconds",
			Help:      "Event handling latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		ReorgRewinds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "reorg_rewinds_total",
			Help:      "Total number of times the follower rewound after a head regression",
		}),
		KafkaMessagesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "kafka_messages_read_total",
			Help:      "Total number of Kafka messages read",
		}),

		PositionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "positions_created_total",
			Help:      "Total number of positions created",
		}),
		PositionsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "positions_completed_total",
			Help:      "Total number of positions that ran out of swaps",
		}),
		PositionsTerminated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "positions_terminated_total",
			Help:      "Total number of positions terminated",
		}),
		PositionSwaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "position_swaps_total",
			Help:      "Total number of swaps registered on positions",
		}),
		PairSwaps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "pair_swaps_total",
			Help:      "Total number of pair swap snapshots recorded",
		}),
		ActionsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "actions_recorded_total",
			Help:      "Total number of position actions recorded by kind",
		}, []string{"action"}),
		ReplaySkips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "replay_skips_total",
			Help:      "Total number of mutations skipped because the event was already applied",
		}, []string{"operation"}),

		TokensRegistered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "registered_total",
			Help:      "Total number of tokens registered by type",
		}, []string{"type"}),
		MetadataFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "metadata_fallbacks_total",
			Help:      "Total number of metadata calls that reverted and used a default",
		}, []string{"field"}),
		ConversionFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tokens",
			Name:      "conversion_fallbacks_total",
			Help:      "Total number of share conversions that reverted",
		}),

		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_errors_total",
			Help:      "Total number of failed RPC calls",
		}, []string{"method"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastHandledEvent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_handled_event_timestamp",
			Help:      "Block timestamp of the last handled event",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordLogReceived increments the raw logs counter for a source.
func RecordLogReceived(source string) {
	DefaultMetrics.LogsReceived.WithLabelValues(source).Inc()
}

// RecordEventHandled records a handled event and its latency.
func RecordEventHandled(event string, seconds float64, blockTimestamp uint64) {
	DefaultMetrics.EventsHandled.WithLabelValues(event).Inc()
	DefaultMetrics.EventLatency.WithLabelValues(event).Observe(seconds)
	DefaultMetrics.LastHandledEvent.Set(float64(blockTimestamp))
}

// RecordEventError records an event handling error.
func RecordEventError(event, errorType string) {
	DefaultMetrics.EventErrors.WithLabelValues(event, errorType).Inc()
}

// UpdateHighestBlock updates the highest block seen gauge.
func UpdateHighestBlock(block uint64) {
	DefaultMetrics.HighestBlockSeen.Set(float64(block))
}

// UpdateCursor updates the cursor gauge.
func UpdateCursor(block uint64) {
	DefaultMetrics.CursorBlock.Set(float64(block))
}

// RecordReorgRewind increments the rewind counter.
func RecordReorgRewind() {
	DefaultMetrics.ReorgRewinds.Inc()
}

// RecordKafkaMessage increments the Kafka messages counter.
func RecordKafkaMessage() {
	DefaultMetrics.KafkaMessagesRead.Inc()
}

// RecordPositionCreated increments the created positions counter.
func RecordPositionCreated() {
	DefaultMetrics.PositionsCreated.Inc()
}

// RecordPositionCompleted increments the completed positions counter.
func RecordPositionCompleted() {
	DefaultMetrics.PositionsCompleted.Inc()
}

// RecordPositionTerminated increments the terminated positions counter.
func RecordPositionTerminated() {
	DefaultMetrics.PositionsTerminated.Inc()
}

// RecordPositionSwap increments the position swaps counter.
func RecordPositionSwap() {
	DefaultMetrics.PositionSwaps.Inc()
}

// RecordPairSwap increments the pair swaps counter.
func RecordPairSwap() {
	DefaultMetrics.PairSwaps.Inc()
}

// RecordAction increments the actions counter for a kind.
func RecordAction(kind string) {
	DefaultMetrics.ActionsRecorded.WithLabelValues(kind).Inc()
}

// RecordReplaySkip records a mutation skipped as already applied.
func RecordReplaySkip(operation string) {
	DefaultMetrics.ReplaySkips.WithLabelValues(operation).Inc()
}

// RecordTokenRegistered increments the registered tokens counter.
func RecordTokenRegistered(tokenType string) {
	DefaultMetrics.TokensRegistered.WithLabelValues(tokenType).Inc()
}

// RecordMetadataFallback records a reverted metadata call.
func RecordMetadataFallback(field string) {
	DefaultMetrics.MetadataFallbacks.WithLabelValues(field).Inc()
}

// RecordConversionFallback records a reverted share conversion.
func RecordConversionFallback() {
	DefaultMetrics.ConversionFallbacks.Inc()
}

// RecordRPCCall records RPC call latency and failures.
func RecordRPCCall(method string, seconds float64, err error) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
