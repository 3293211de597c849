// Package metrics exposes Prometheus collectors for object-store operations.
// The namespace engine itself carries no metrics dependency; only the store
// adapters observe here, and the watch command can serve the registry over
// HTTP when watch.metrics_listen is configured.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// registry is package-local so importing this package never pollutes the
// global Prometheus default registry.
var registry = prometheus.NewRegistry()

var (
	storeOpsTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperdrive_store_ops_total",
			Help: "Total object-store operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	storeOpSeconds = promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paperdrive_store_op_seconds",
			Help:    "Object-store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// ObserveStoreOp records one store call: latency always, outcome by whether
// err is nil. op is the store method name in snake case (list, put, get,
// delete, ensure_bucket).
func ObserveStoreOp(op string, start time.Time, err error) {
	storeOpSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())

	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}

	storeOpsTotal.WithLabelValues(op, outcome).Inc()
}

// Handler returns an HTTP handler serving the package registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
