package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TradesNormalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_normalized_total",
		Help: "Total number of canonical trades produced by normalizers",
	}, []string{"exchange"})

	TradesAggregated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_aggregated_total",
		Help: "Total number of aggregate trades produced",
	}, []string{"exchange"})

	FormatMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "format_mismatches_total",
		Help: "Total number of inputs rejected by a normalizer",
	}, []string{"exchange"})

	ReplayOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_outcomes_total",
		Help: "Total number of replayed trades by outcome",
	}, []string{"direction", "status"})

	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "replay_duration_seconds",
		Help:    "Duration of a full ledger replay",
		Buckets: prometheus.DefBuckets,
	})

	RemoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_calls_total",
		Help: "Total number of calls to the remote portfolio service",
	}, []string{"operation", "status"})

	RemoteCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remote_call_duration_seconds",
		Help:    "Duration of calls to the remote portfolio service",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total number of cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total number of cache misses",
	})

	DatabaseQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "database_queries_total",
		Help: "Total number of database queries",
	}, []string{"query_type", "status"})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "database_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query_type"})
)

func RecordCacheHit() {
	CacheHits.Inc()
}

func RecordCacheMiss() {
	CacheMisses.Inc()
}

func RecordDatabaseQuery(queryType, status string, duration float64) {
	DatabaseQueries.WithLabelValues(queryType, status).Inc()
	DatabaseQueryDuration.WithLabelValues(queryType).Observe(duration)
}

func RecordRemoteCall(operation string, err error, duration float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RemoteCalls.WithLabelValues(operation, status).Inc()
	RemoteCallDuration.WithLabelValues(operation).Observe(duration)
}

func RecordReplayOutcome(direction, status string) {
	ReplayOutcomes.WithLabelValues(direction, status).Inc()
}

type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{
		start: time.Now(),
	}
}

func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
