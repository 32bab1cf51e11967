// Package metrics defines the Prometheus collectors shared by the caches,
// the duration resolver, the merge scheduler, the splice service and the
// HTTP server.
//
// Every method is safe to call on a nil *Metrics so components can be
// constructed without instrumentation in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "audiosplicer"

// Lookup results recorded by the caches.
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultExpired = "expired"
)

// Metrics holds the registered collectors.
type Metrics struct {
	durationLookups *prometheus.CounterVec
	audioLookups    *prometheus.CounterVec
	audioEvictions  prometheus.Counter
	probeFallbacks  *prometheus.CounterVec
	mergeSeconds    *prometheus.HistogramVec
	spliceJobs      *prometheus.CounterVec
	httpRequests    *prometheus.HistogramVec
}

// New registers all collectors with reg. Passing nil uses a fresh private
// registry, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		durationLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "duration_cache",
			Name:      "lookups_total",
			Help:      "Duration cache lookups by result.",
		}, []string{"result"}),
		audioLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio_cache",
			Name:      "lookups_total",
			Help:      "Decoded audio cache lookups by result.",
		}, []string{"result"}),
		audioEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio_cache",
			Name:      "evictions_total",
			Help:      "Decoded buffers evicted to respect the capacity bound.",
		}),
		probeFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "duration",
			Name:      "probe_fallbacks_total",
			Help:      "Duration resolutions that fell back to ffprobe, by outcome.",
		}, []string{"outcome"}),
		mergeSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "duration_seconds",
			Help:      "Wall time spent concatenating segments, by mode.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"mode"}),
		spliceJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "splice",
			Name:      "jobs_total",
			Help:      "Splice jobs by terminal status.",
		}, []string{"status"}),
		httpRequests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
}

// DurationLookup records a duration cache lookup.
func (m *Metrics) DurationLookup(result string) {
	if m == nil {
		return
	}
	m.durationLookups.WithLabelValues(result).Inc()
}

// AudioLookup records a decoded audio cache lookup.
func (m *Metrics) AudioLookup(hit bool) {
	if m == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	m.audioLookups.WithLabelValues(result).Inc()
}

// AudioEviction records one capacity eviction.
func (m *Metrics) AudioEviction() {
	if m == nil {
		return
	}
	m.audioEvictions.Inc()
}

// ProbeFallback records the outcome of an ffprobe fallback.
func (m *Metrics) ProbeFallback(ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	m.probeFallbacks.WithLabelValues(outcome).Inc()
}

// ObserveMerge records how long a merge took in the given mode.
func (m *Metrics) ObserveMerge(mode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mergeSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// SpliceJob records a splice job reaching a terminal status.
func (m *Metrics) SpliceJob(status string) {
	if m == nil {
		return
	}
	m.spliceJobs.WithLabelValues(status).Inc()
}

// ObserveRequest records one served HTTP request. route is the matched mux
// pattern; requests that matched nothing share the "unmatched" label.
func (m *Metrics) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}
