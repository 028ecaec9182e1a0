// Package metrics exports bridge activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arena"

// Collector records native calls, arena occupancy and handle lifetimes on
// its own registry. It satisfies bridge.Observer.
type Collector struct {
	registry *prometheus.Registry

	callLatency    *prometheus.HistogramVec
	calls          *prometheus.CounterVec
	committedBytes prometheus.Gauge
	inUseBytes     prometheus.Gauge
	epoch          prometheus.Gauge
	liveHandles    prometheus.Gauge
	releases       *prometheus.CounterVec
}

// NewCollector creates a collector with Go runtime and process collectors
// registered alongside the bridge metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "native_call_duration_seconds",
			Help:      "Latency of native entry point calls",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"entry_point"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "native_calls_total",
			Help:      "Native entry point calls by outcome",
		}, []string{"entry_point", "outcome"}),
		committedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "committed_bytes",
			Help:      "Current size of the arena's linear memory",
		}),
		inUseBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_use_bytes",
			Help:      "Bytes held by live arena allocations",
		}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch",
			Help:      "Number of observed arena relocations",
		}),
		liveHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_handles",
			Help:      "Native-backed handles not yet released",
		}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handle_releases_total",
			Help:      "Handle releases by cause",
		}, []string{"cause"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.callLatency,
		c.calls,
		c.committedBytes,
		c.inUseBytes,
		c.epoch,
		c.liveHandles,
		c.releases,
	)
	return c
}

// ObserveCall records one native entry point call.
func (c *Collector) ObserveCall(entryPoint string, elapsed time.Duration, outcome string) {
	c.callLatency.WithLabelValues(entryPoint).Observe(elapsed.Seconds())
	c.calls.WithLabelValues(entryPoint, outcome).Inc()
}

// ObserveArena records arena occupancy.
func (c *Collector) ObserveArena(committed, inUse, epoch uint64) {
	c.committedBytes.Set(float64(committed))
	c.inUseBytes.Set(float64(inUse))
	c.epoch.Set(float64(epoch))
}

// ObserveHandles records the live handle count.
func (c *Collector) ObserveHandles(live int) {
	c.liveHandles.Set(float64(live))
}

// ObserveRelease counts a handle release.
func (c *Collector) ObserveRelease(cause string) {
	c.releases.WithLabelValues(cause).Inc()
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
