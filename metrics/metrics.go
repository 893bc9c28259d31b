// Package metrics registers the process's prometheus counters and gauges,
// following the same registry-and-register-once pattern as aistore's
// stats/common_prom.go but trimmed to the handful of series this
// platform's timer and deployment cores actually emit.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	TimerTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vertexd_timer_ticks_total",
		Help: "Number of timer wheel ticks processed.",
	})
	TimerFirings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vertexd_timer_firings_total",
		Help: "Number of timeouts dispatched, by periodicity.",
	}, []string{"periodic"})
	DeploymentsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vertexd_deployments_active",
		Help: "Number of deployments currently present in the deployment tree.",
	})
	ResolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vertexd_resolve_duration_seconds",
		Help:    "Wall-clock time spent resolving a module's include graph.",
		Buckets: prometheus.DefBuckets,
	})
	RedeploysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vertexd_redeploys_total",
		Help: "Number of module redeploys triggered by a quiesced filesystem change.",
	})
	RepositoryInstalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vertexd_repository_installs_total",
		Help: "Module installs attempted per repository backend, by outcome.",
	}, []string{"repository", "outcome"})
)

func init() {
	registry.MustRegister(
		TimerTicks,
		TimerFirings,
		DeploymentsActive,
		ResolveDuration,
		RedeploysTotal,
		RepositoryInstalls,
	)
}

// Handler returns an http.Handler serving the registered series in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
