// Package metrics holds the Prometheus collectors of the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReductionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mgci_reductions_total",
		Help: "Reductions sent to the raster engine by plan and outcome",
	}, []string{"plan", "outcome"})
	ReductionDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mgci_reduction_duration_seconds",
		Help:    "Raster engine reduction latency by plan",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"plan"})
	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mgci_cache_lookups_total",
		Help: "Reduction cache lookups by tier and result",
	}, []string{"tier", "result"})
	SingleflightSharedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mgci_singleflight_shared_total",
		Help: "Reductions served by joining an in-flight call",
	})
	SeriesPeriodsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mgci_series_periods_failed_total",
		Help: "Time series periods recorded as missing, by error kind",
	}, []string{"kind"})
	ClusterExcludedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mgci_cluster_subregions_excluded_total",
		Help: "Subregions excluded from clustering after a failed reduction",
	})
	CircuitOpenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mgci_remote_circuit_open_total",
		Help: "Remote engine calls rejected by the open circuit breaker",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mgci_http_requests_total",
		Help: "API requests by route and status code",
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(ReductionsTotal)
	prometheus.MustRegister(ReductionDurationSeconds)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(SingleflightSharedTotal)
	prometheus.MustRegister(SeriesPeriodsFailedTotal)
	prometheus.MustRegister(ClusterExcludedTotal)
	prometheus.MustRegister(CircuitOpenTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
}

// Handler exposes the registered collectors.
func Handler() http.Handler { return promhttp.Handler() }
