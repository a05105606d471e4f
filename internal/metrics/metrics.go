// Package metrics exposes Prometheus collectors for the enrichment pipeline.
package metrics

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
	classifierCallsTotal       *prometheus.CounterVec
	classifierRetriesTotal     prometheus.Counter
	classifierBackoffSeconds   prometheus.Histogram
	detailFetchesTotal         *prometheus.CounterVec
	stageRecordsTotal          *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	notificationsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		classifierCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidwatch_classifier_calls_total",
				Help: "Classifier calls, labeled by outcome (ok, fallback, malformed, rate_limited).",
			},
			[]string{"outcome"},
		)

		classifierRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bidwatch_classifier_retries_total",
				Help: "Classifier retries after a rate-limit response.",
			},
		)

		classifierBackoffSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bidwatch_classifier_backoff_seconds",
				Help:    "Backoff waits before classifier retries.",
				Buckets: []float64{1, 2, 4, 8, 16, 30},
			},
		)

		detailFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidwatch_detail_fetches_total",
				Help: "Detail extractions, labeled by document and result (ok, network, empty).",
			},
			[]string{"document", "result"},
		)

		stageRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidwatch_stage_records_total",
				Help: "Records seen by pipeline stages, labeled by stage, document and outcome.",
			},
			[]string{"stage", "document", "outcome"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bidwatch_stage_duration_seconds",
				Help:    "Wall time of pipeline stages.",
				Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900},
			},
			[]string{"stage", "document"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidwatch_notifications_total",
				Help: "Digest deliveries, labeled by channel and result (ok, error).",
			},
			[]string{"channel", "result"},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

func ObserveClassifierCall(outcome string) {
	Init()
	classifierCallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveClassifierRetry records one retry and the wait that preceded it.
func ObserveClassifierRetry(wait time.Duration) {
	Init()
	classifierRetriesTotal.Inc()
	classifierBackoffSeconds.Observe(wait.Seconds())
}

func ObserveDetailFetch(document, result string) {
	Init()
	detailFetchesTotal.WithLabelValues(document, result).Inc()
}

// ObserveStage records the end-of-stage counts and duration.
func ObserveStage(stage, document string, considered, updated, skipped, failed int, d time.Duration) {
	Init()
	for outcome, n := range map[string]int{
		"considered": considered,
		"updated":    updated,
		"skipped":    skipped,
		"failed":     failed,
	} {
		if n > 0 {
			stageRecordsTotal.WithLabelValues(stage, document, outcome).Add(float64(n))
		}
	}
	stageDurationSeconds.WithLabelValues(stage, document).Observe(d.Seconds())
}

func ObserveNotification(channel string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	notificationsTotal.WithLabelValues(channel, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
