// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerFetchAttemptsTotal     *prometheus.CounterVec
	crawlerSkippedTotal           *prometheus.CounterVec
	crawlerRobotsFetchTotal       *prometheus.CounterVec
	crawlerInflightFetches        prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times; the Observe helpers call
// it on first use.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of crawl results emitted, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of payload bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Total number of fetch hops, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_skipped_total",
				Help: "Total number of frontier entries skipped without a result, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerRobotsFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_fetch_total",
				Help: "Total number of robots.txt lookups that hit the network, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerInflightFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_inflight_fetches",
				Help: "Number of fetch hops currently holding a permit.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-domain rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCrawl counts an emitted result and its payload size.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchAttempt counts one fetch hop by outcome.
func ObserveFetchAttempt(outcome string) {
	Init()
	crawlerFetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSkip counts a frontier entry dropped without a result.
func ObserveSkip(reason string) {
	Init()
	crawlerSkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveRobotsFetch counts a robots.txt network lookup.
func ObserveRobotsFetch(result string) {
	Init()
	crawlerRobotsFetchTotal.WithLabelValues(result).Inc()
}

// IncInflightFetches increments the in-flight fetch gauge.
func IncInflightFetches() {
	Init()
	crawlerInflightFetches.Inc()
}

// DecInflightFetches decrements the in-flight fetch gauge.
func DecInflightFetches() {
	Init()
	crawlerInflightFetches.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
