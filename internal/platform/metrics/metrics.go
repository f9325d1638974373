// Package metrics exposes the prometheus collectors of providers, downloader and caches
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tilefetch"

// Metrics bundles every collector; a nil *Metrics records nothing
type Metrics struct {
	submitted *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
	inflight  *prometheus.GaugeVec

	downloads  *prometheus.CounterVec
	duration   prometheus.Histogram
	bytes      prometheus.Counter
	queueDepth prometheus.Gauge
	retries    prometheus.Counter

	cacheHits   *prometheus.CounterVec
	cacheMisses prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provider",
			Name: "requests_submitted_total",
			Help: "Requests handed to the downloader, per provider.",
		}, []string{"provider"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provider",
			Name: "requests_rejected_total",
			Help: "Requests refused before any network activity, per provider and reason.",
		}, []string{"provider", "reason"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "provider",
			Name: "requests_finished_total",
			Help: "Terminal outcomes delivered to listeners, per provider.",
		}, []string{"provider", "outcome"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "provider",
			Name: "requests_inflight",
			Help: "Tiles currently tracked as in flight, per provider.",
		}, []string{"provider"}),

		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "downloader",
			Name: "downloads_total",
			Help: "Finished downloads by terminal callback.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "downloader",
			Name:    "fetch_duration_seconds",
			Help:    "Wall time of network fetches including retries.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "downloader",
			Name: "fetched_bytes_total",
			Help: "Bytes received from the network.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "downloader",
			Name: "queue_depth",
			Help: "Requests waiting for a worker.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "downloader",
			Name: "retries_total",
			Help: "Fetch attempts repeated after a retryable failure.",
		}),

		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache",
			Name: "hits_total",
			Help: "Cache hits per tier (memory, blob) and freshness.",
		}, []string{"tier", "state"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache",
			Name: "misses_total",
			Help: "Lookups that went to the network.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.submitted, m.rejected, m.outcomes, m.inflight,
			m.downloads, m.duration, m.bytes, m.queueDepth, m.retries,
			m.cacheHits, m.cacheMisses,
		)
	}
	return m
}

// Submitted counts a request handed to the downloader
func (m *Metrics) Submitted(provider string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(provider).Inc()
}

// Rejected counts a request refused at submission
func (m *Metrics) Rejected(provider, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(provider, reason).Inc()
}

// Finished counts a terminal outcome seen by a provider adapter
func (m *Metrics) Finished(provider, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(provider, outcome).Inc()
}

// InFlight sets the tracked request count of a provider
func (m *Metrics) InFlight(provider string, n int) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(provider).Set(float64(n))
}

// Download records one terminal downloader callback
func (m *Metrics) Download(outcome string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(outcome).Inc()
}

// Fetched records a network fetch of n bytes taking d
func (m *Metrics) Fetched(n int, d time.Duration) {
	if m == nil {
		return
	}
	m.bytes.Add(float64(n))
	m.duration.Observe(d.Seconds())
}

// Retry counts one repeated attempt
func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// QueueDepth sets the number of waiting requests
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// CacheHit counts a hit in tier; expired marks stale entries
func (m *Metrics) CacheHit(tier string, expired bool) {
	if m == nil {
		return
	}
	state := "fresh"
	if expired {
		state = "expired"
	}
	m.cacheHits.WithLabelValues(tier, state).Inc()
}

// CacheMiss counts a lookup that found nothing usable
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}
