// Package metrics exposes engine counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine's Prometheus collectors on a private
// registry so the daemon does not leak into the default one.
type Metrics struct {
	registry *prometheus.Registry

	Invocations  *prometheus.CounterVec
	ScanDuration *prometheus.HistogramVec
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheBytes   prometheus.Gauge
	Rejections   prometheus.Counter
}

// New creates and registers the collector set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hexstrike",
			Name:      "invocations_total",
			Help:      "Tool invocations by terminal status.",
		}, []string{"tool", "status"}),
		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hexstrike",
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock duration of completed tool runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"tool"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hexstrike",
			Name:      "cache_hits_total",
			Help:      "Result cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hexstrike",
			Name:      "cache_misses_total",
			Help:      "Result cache misses.",
		}),
		CacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hexstrike",
			Name:      "cache_bytes",
			Help:      "Bytes currently held by the result cache.",
		}),
		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hexstrike",
			Name:      "queue_rejections_total",
			Help:      "Invocations rejected because a category queue was full.",
		}),
	}

	reg.MustRegister(m.Invocations, m.ScanDuration,
		m.CacheHits, m.CacheMisses, m.CacheBytes, m.Rejections)
	return m
}

// RegisterRuntimeGauges wires live registry counts as gauge functions.
func (m *Metrics) RegisterRuntimeGauges(running, queued func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "hexstrike",
		Name:      "running_processes",
		Help:      "Tool processes currently running.",
	}, running))
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "hexstrike",
		Name:      "queued_processes",
		Help:      "Invocations waiting for a concurrency slot.",
	}, queued))
}

// Handler serves the scrape endpoint for this collector set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
