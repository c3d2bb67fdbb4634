// Package metrics exposes cache activity to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/briangreenhill/pollcache/cache"
)

const namespace = "pollcache"

// Default histogram buckets for upstream fetches (in seconds)
var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Prometheus is a cache.Observer backed by a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	eventsTotal   *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	filesCleared  prometheus.Counter
}

// NewPrometheus registers the cache collectors plus the Go and process
// collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p := &Prometheus{
		registry: registry,

		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_events_total",
				Help:      "Cache operation outcomes by source, endpoint and kind",
			},
			[]string{"source", "endpoint", "kind"},
		),

		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of upstream fetches made on behalf of the cache",
				Buckets:   defaultBuckets,
			},
			[]string{"source", "endpoint"},
		),

		filesCleared: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_cleared_total",
				Help:      "Cache files removed by clear operations",
			},
		),
	}
	registry.MustRegister(p.eventsTotal, p.fetchDuration, p.filesCleared)
	return p
}

// Observe implements cache.Observer.
func (p *Prometheus) Observe(_ context.Context, ev cache.Event) {
	p.eventsTotal.WithLabelValues(ev.Source, ev.Endpoint, string(ev.Kind)).Inc()

	switch ev.Kind {
	case cache.EventFetched, cache.EventRefreshUnchanged, cache.EventRefreshChanged, cache.EventFetchError:
		if ev.Duration > 0 {
			p.fetchDuration.WithLabelValues(ev.Source, ev.Endpoint).Observe(ev.Duration.Seconds())
		}
	case cache.EventClear:
		p.filesCleared.Add(float64(ev.Count))
	}
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler returns an HTTP handler for Prometheus metrics scraping
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
