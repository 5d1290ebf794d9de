// Package metrics exposes Prometheus collectors for the pipeline.
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
	pagesTotal                 *prometheus.CounterVec
	tasksTotal                 *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	laneActiveWorkers          *prometheus.GaugeVec
	llmRequestsTotal           *prometheus.CounterVec
	indexSyncTotal             *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pressroom_pages_total",
				Help: "Pages seen by the crawler, labeled by source host and outcome.",
			},
			[]string{"source", "status"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pressroom_tasks_total",
				Help: "Orchestrator tasks by lane, kind and outcome.",
			},
			[]string{"lane", "kind", "status"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pressroom_task_duration_seconds",
				Help:    "Handler latency per lane and kind.",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300, 1800},
			},
			[]string{"lane", "kind"},
		)

		laneActiveWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pressroom_lane_active_workers",
				Help: "Workers currently running a task, per lane.",
			},
			[]string{"lane"},
		)

		llmRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pressroom_llm_requests_total",
				Help: "Language model and embedding calls by operation and outcome.",
			},
			[]string{"operation", "status"},
		)

		indexSyncTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pressroom_index_sync_total",
				Help: "Search index writes by operation and outcome.",
			},
			[]string{"operation", "status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
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

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pressroom_rate_limit_delay_seconds",
				Help:    "Time spent waiting on per-host rate limiters.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown".
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
	return promhttp.Handler()
}

// ObservePage counts a crawled page outcome (created, skipped, failed).
func ObservePage(sourceURL, status string) {
	Init()
	pagesTotal.WithLabelValues(SanitizeSite(sourceURL), status).Inc()
}

// ObserveTask records a finished task.
func ObserveTask(lane, kind, status string, duration time.Duration) {
	Init()
	tasksTotal.WithLabelValues(lane, kind, status).Inc()
	taskDurationSeconds.WithLabelValues(lane, kind).Observe(duration.Seconds())
}

// IncActiveWorkers increments the lane's active worker gauge.
func IncActiveWorkers(lane string) {
	Init()
	laneActiveWorkers.WithLabelValues(lane).Inc()
}

// DecActiveWorkers decrements the lane's active worker gauge.
func DecActiveWorkers(lane string) {
	Init()
	laneActiveWorkers.WithLabelValues(lane).Dec()
}

// ObserveLLM counts a model call.
func ObserveLLM(operation, status string) {
	Init()
	llmRequestsTotal.WithLabelValues(operation, status).Inc()
}

// ObserveIndexSync counts a search index write.
func ObserveIndexSync(operation, status string) {
	Init()
	indexSyncTotal.WithLabelValues(operation, status).Inc()
}

// ObserveHTTPRequest records an operator API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records how long a rate limiter held a request.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// Status maps an error to the "ok"/"error" label used across collectors.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
