package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	storeOpDuration *prometheus.HistogramVec
	storeOpTotal    *prometheus.CounterVec
	txnAttempts     prometheus.Histogram
	txnConflicts    prometheus.Counter

	sessionOpTotal    *prometheus.CounterVec
	sessionOpDuration *prometheus.HistogramVec
	activeWatchers    prometheus.Gauge
	indexFallbacks    prometheus.Counter

	connectedClients prometheus.Gauge
	eventsPushed     *prometheus.CounterVec

	backfillRuns    *prometheus.CounterVec
	backfillRepairs prometheus.Counter
	seedsApplied    *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			storeOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "docstore_op_duration_seconds",
					Help:    "Document store operation duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			storeOpTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "docstore_op_total",
					Help: "Total document store operations by operation and status.",
				},
				[]string{"op", "status"},
			),
			txnAttempts: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "docstore_txn_attempts",
					Help:    "Attempts per committed transaction, including conflict retries.",
					Buckets: []float64{1, 2, 3, 4, 5, 8},
				},
			),
			txnConflicts: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "docstore_txn_conflicts_total",
					Help: "Total transaction version conflicts that forced a retry.",
				},
			),
			sessionOpTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_op_total",
					Help: "Total session operations by operation and status.",
				},
				[]string{"op", "status"},
			),
			sessionOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "session_op_duration_seconds",
					Help:    "Session operation duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			activeWatchers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "session_watchers_active",
					Help: "Current live session subscription count.",
				},
			),
			indexFallbacks: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "session_index_fallback_total",
					Help: "Membership queries that fell back to a full collection scan.",
				},
			),
			connectedClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_connected_clients",
					Help: "Current connected gateway client count.",
				},
			),
			eventsPushed: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_events_pushed_total",
					Help: "Total events pushed to gateway clients by event and status.",
				},
				[]string{"event", "status"},
			),
			backfillRuns: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "backfill_runs_total",
					Help: "Total membership backfill runs by status.",
				},
				[]string{"status"},
			),
			backfillRepairs: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "backfill_repairs_total",
					Help: "Total session documents rewritten by the membership backfill.",
				},
			),
			seedsApplied: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "seeds_applied_total",
					Help: "Total seed files processed by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.storeOpDuration,
			m.storeOpTotal,
			m.txnAttempts,
			m.txnConflicts,
			m.sessionOpTotal,
			m.sessionOpDuration,
			m.activeWatchers,
			m.indexFallbacks,
			m.connectedClients,
			m.eventsPushed,
			m.backfillRuns,
			m.backfillRepairs,
			m.seedsApplied,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordStoreOp(op string, duration time.Duration, err error) {
	m := getMetrics()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.storeOpTotal.WithLabelValues(op, status).Inc()
	m.storeOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordTransaction(attempts int, conflicts int) {
	m := getMetrics()
	m.txnAttempts.Observe(float64(attempts))
	if conflicts > 0 {
		m.txnConflicts.Add(float64(conflicts))
	}
}

func RecordSessionOp(op string, duration time.Duration, err error) {
	m := getMetrics()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.sessionOpTotal.WithLabelValues(op, status).Inc()
	m.sessionOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func SetActiveWatchers(count int) {
	getMetrics().activeWatchers.Set(float64(count))
}

func RecordIndexFallback() {
	getMetrics().indexFallbacks.Inc()
}

func SetConnectedClients(count int) {
	getMetrics().connectedClients.Set(float64(count))
}

func RecordEventPush(event string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().eventsPushed.WithLabelValues(event, status).Inc()
}

func RecordBackfillRun(success bool, repaired int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.backfillRuns.WithLabelValues(status).Inc()
	if repaired > 0 {
		m.backfillRepairs.Add(float64(repaired))
	}
}

func RecordSeedApplied(status string) {
	getMetrics().seedsApplied.WithLabelValues(status).Inc()
}
