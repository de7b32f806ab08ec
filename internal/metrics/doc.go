// Package metrics provides the Prometheus collectors of the reaper.
//
// Three groups are exposed:
//   - ReaperMetrics: ticks, budgets, reaped records and per-step failures.
//   - ObjectStoreMetrics: latency and outcome of every bucket operation.
//   - MetadataMetrics: latency, outcome and version conflicts of index
//     operations against the metadata store.
//
// Each group is registered with an explicit registry. Handler serves a
// registry on /metrics.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	reaperMetrics := metrics.NewReaperMetricsWithRegistry(reg)
//	images := objectstore.NewInstrumentedStore(store, "images", metrics.NewObjectStoreMetricsWithRegistry(reg))
//	health.RegisterHandler("/metrics", metrics.Handler(reg))
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

func status(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}

// Handler serves gatherer in the Prometheus exposition format. A nil
// gatherer serves the default registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
