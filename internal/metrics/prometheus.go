// Package metrics exposes the store and replicator's internal counters as
// real Prometheus collectors, scraped over HTTP via promhttp.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkaminski/kvstore/internal/replication"
	"github.com/mkaminski/kvstore/internal/storage"
)

// Metrics owns every Prometheus collector this process registers.
type Metrics struct {
	registry *prometheus.Registry

	putsTotal      prometheus.Counter
	batchPutsTotal prometheus.Counter
	readsTotal     prometheus.Counter
	deletesTotal   prometheus.Counter
	errorsTotal    *prometheus.CounterVec

	opLatency *prometheus.HistogramVec

	indexSize          prometheus.Gauge
	dataFileSizeBytes  prometheus.Gauge
	replicationDropped prometheus.Counter
	replicaHealthy     *prometheus.GaugeVec
	replicaFailures    *prometheus.GaugeVec

	lastDropped atomic.Uint64
}

// New registers every collector against a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		putsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_puts_total",
			Help: "Total PUT operations accepted.",
		}),
		batchPutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_batch_puts_total",
			Help: "Total BATCHPUT operations accepted.",
		}),
		readsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_reads_total",
			Help: "Total READ operations served.",
		}),
		deletesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_deletes_total",
			Help: "Total DELETE operations served.",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvstore_errors_total",
			Help: "Total operation errors by op.",
		}, []string{"op"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvstore_operation_latency_seconds",
			Help:    "Latency of store operations by op.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvstore_index_keys",
			Help: "Number of live keys in the index.",
		}),
		dataFileSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvstore_data_file_size_bytes",
			Help: "Current size of the data file.",
		}),
		replicationDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_replication_dropped_total",
			Help: "Async replication operations dropped because the queue was full.",
		}),
		replicaHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kvstore_replica_healthy",
			Help: "1 if the replica is currently healthy, 0 otherwise.",
		}, []string{"replica"}),
		replicaFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kvstore_replica_consecutive_failures",
			Help: "Consecutive replication failures for the replica.",
		}, []string{"replica"}),
	}

	registry.MustRegister(
		m.putsTotal, m.batchPutsTotal, m.readsTotal, m.deletesTotal,
		m.errorsTotal, m.opLatency, m.indexSize, m.dataFileSizeBytes,
		m.replicationDropped, m.replicaHealthy, m.replicaFailures,
	)

	return m
}

// ObservePut records a completed PUT, successful or not.
func (m *Metrics) ObservePut(start time.Time, err error) {
	m.putsTotal.Inc()
	m.opLatency.WithLabelValues("put").Observe(time.Since(start).Seconds())
	if err != nil {
		m.errorsTotal.WithLabelValues("put").Inc()
	}
}

// ObserveBatchPut records a completed BATCHPUT.
func (m *Metrics) ObserveBatchPut(start time.Time, err error) {
	m.batchPutsTotal.Inc()
	m.opLatency.WithLabelValues("batch_put").Observe(time.Since(start).Seconds())
	if err != nil {
		m.errorsTotal.WithLabelValues("batch_put").Inc()
	}
}

// ObserveRead records a completed READ.
func (m *Metrics) ObserveRead(start time.Time, err error) {
	m.readsTotal.Inc()
	m.opLatency.WithLabelValues("read").Observe(time.Since(start).Seconds())
	if err != nil && err != storage.ErrKeyNotFound {
		m.errorsTotal.WithLabelValues("read").Inc()
	}
}

// ObserveDelete records a completed DELETE.
func (m *Metrics) ObserveDelete(start time.Time, err error) {
	m.deletesTotal.Inc()
	m.opLatency.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	if err != nil {
		m.errorsTotal.WithLabelValues("delete").Inc()
	}
}

// CollectStore samples store-level gauges. Intended to be called
// periodically, e.g. alongside the checkpoint worker's cadence.
func (m *Metrics) CollectStore(store *storage.Store) {
	m.indexSize.Set(float64(store.IndexLen()))
	m.dataFileSizeBytes.Set(float64(store.DataFileSize()))
}

// CollectReplication samples replicator and replica-health gauges.
func (m *Metrics) CollectReplication(replicator *replication.Replicator, manager *replication.Manager) {
	if replicator != nil {
		current := replicator.DroppedCount()
		previous := m.lastDropped.Swap(current)
		if current > previous {
			m.replicationDropped.Add(float64(current - previous))
		}
	}
	if manager == nil {
		return
	}
	for _, status := range manager.Status() {
		healthy := 0.0
		if status.Healthy {
			healthy = 1.0
		}
		m.replicaHealthy.WithLabelValues(status.Addr).Set(healthy)
		m.replicaFailures.WithLabelValues(status.Addr).Set(float64(status.ConsecutiveFailures))
	}
}

// Handler returns the HTTP handler for the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
