// Package telemetry exposes Prometheus collectors for the card service.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	cacheEventsTotal           *prometheus.CounterVec
	rendersTotal               *prometheus.CounterVec
	renderDurationSeconds      prometheus.Histogram
	renderSessionsIdle         prometheus.Gauge
	extractionsTotal           *prometheus.CounterVec
	rateLimitRejectionsTotal   prometheus.Counter

	once sync.Once
)

// Cache event labels recorded by ObserveCache.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheEvict   = "evict"
	CacheExpire  = "expire"
	CacheMissing = "missing"
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardserver_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cardserver_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		)

		cacheEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardserver_cache_events_total",
				Help: "Cache lookups and evictions, labeled by cache name and event.",
			},
			[]string{"cache", "event"},
		)

		rendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardserver_renders_total",
				Help: "Total render attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		renderDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cardserver_render_duration_seconds",
				Help:    "Histogram of render engine latencies.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
			},
		)

		renderSessionsIdle = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cardserver_render_sessions_idle",
				Help: "Number of idle rendering sessions currently pooled.",
			},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardserver_extractions_total",
				Help: "Total metadata extractions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cardserver_rate_limit_rejections_total",
				Help: "Requests rejected by the per-client rate limiter.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCache records a cache event for the named cache.
func ObserveCache(cache, event string) {
	cacheEventsTotal.WithLabelValues(cache, event).Inc()
}

// ObserveRender records a render attempt outcome and its duration.
func ObserveRender(outcome string, duration time.Duration) {
	rendersTotal.WithLabelValues(outcome).Inc()
	renderDurationSeconds.Observe(duration.Seconds())
}

// SetIdleSessions updates the pooled session gauge.
func SetIdleSessions(n int) {
	renderSessionsIdle.Set(float64(n))
}

// ObserveExtraction records an extraction outcome.
func ObserveExtraction(outcome string) {
	extractionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitRejection counts a rejected request.
func ObserveRateLimitRejection() {
	rateLimitRejectionsTotal.Inc()
}
