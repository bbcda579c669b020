package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ExecutionsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engine_executions_processed_total", Help: "Execution timer fires handled"},
	)
	ExecutionsSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engine_executions_sent_total", Help: "Executions that reached sent"},
	)
	ExecutionsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engine_executions_failed_total", Help: "Executions that reached failed"},
	)
	ExecutionsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engine_executions_skipped_total", Help: "Executions skipped by pause/cancel"},
	)

	BulkSendsSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bulk_sends_sent_total", Help: "Bulk rows sent successfully"},
	)
	BulkSendsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bulk_sends_failed_total", Help: "Bulk rows that failed"},
	)

	TimersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "engine_timers_active", Help: "Pending in-memory timers"},
	)
	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_send_duration_seconds",
			Help:    "Time spent in one transport send",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration,
		ExecutionsProcessed, ExecutionsSent, ExecutionsFailed, ExecutionsSkipped,
		BulkSendsSent, BulkSendsFailed,
		TimersActive, SendDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
