package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	subsystem = "vidshare"

	// Labels
	statusLabel = "status"
	resultLabel = "result"
	codeLabel   = "code"
	methodLabel = "method"
	pathLabel   = "path"
)

// Results of a notifier publish
const (
	PublishDelivered     = "delivered"
	PublishDropped       = "dropped"
	PublishNoSubscribers = "no_subscribers"
)

/**
* Metrics definition
**/
var pipelineRunsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "pipeline_runs_total",
		Help:      "number of pipeline runs partitioned by terminal status",
	},
	[]string{statusLabel},
)

var pipelineRunDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "pipeline_run_duration_seconds",
		Help:      "wall time of pipeline runs partitioned by terminal status",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
	},
	[]string{statusLabel},
)

var pipelineActiveRunsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "pipeline_active_runs",
		Help:      "number of pipeline runs currently in flight",
	},
)

var notifierEventsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "notifier_events_total",
		Help:      "number of per-connection event deliveries partitioned by result",
	},
	[]string{resultLabel},
)

var notifierConnectionsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "notifier_connections",
		Help:      "number of subscribed websocket connections",
	},
)

var httpRequestsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "http_requests_total",
		Help:      "Number of HTTP requests partitioned by status code, method and route.",
	},
	[]string{codeLabel, methodLabel, pathLabel},
)

var httpRequestDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "Time spent on the request partitioned by status code, method and route.",
		Buckets:   []float64{5, 25, 100, 300, 1000, 5000},
	},
	[]string{codeLabel, methodLabel, pathLabel},
)

// ObservePipelineRun records a finished run
func ObservePipelineRun(status string, elapsed time.Duration) {
	labels := prometheus.Labels{statusLabel: status}
	pipelineRunsTotalMetric.With(labels).Inc()
	pipelineRunDurationMetric.With(labels).Observe(elapsed.Seconds())
}

// IncActiveRuns marks a run as started
func IncActiveRuns() {
	pipelineActiveRunsMetric.Inc()
}

// DecActiveRuns marks a run as finished
func DecActiveRuns() {
	pipelineActiveRunsMetric.Dec()
}

// AddNotifierEvents counts per-connection deliveries of one publish
func AddNotifierEvents(result string, count int) {
	if count <= 0 {
		return
	}
	notifierEventsTotalMetric.With(prometheus.Labels{resultLabel: result}).Add(float64(count))
}

// SetNotifierConnections records the current subscription count
func SetNotifierConnections(count int) {
	notifierConnectionsMetric.Set(float64(count))
}

// Middleware records request count and latency per matched gin route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())

		httpRequestsTotalMetric.WithLabelValues(code, c.Request.Method, path).Inc()
		httpRequestDurationMetric.WithLabelValues(code, c.Request.Method, path).
			Observe(float64(time.Since(start).Milliseconds()))
	}
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(pipelineRunsTotalMetric)
	prometheus.MustRegister(pipelineRunDurationMetric)
	prometheus.MustRegister(pipelineActiveRunsMetric)
	prometheus.MustRegister(notifierEventsTotalMetric)
	prometheus.MustRegister(notifierConnectionsMetric)
	prometheus.MustRegister(httpRequestsTotalMetric)
	prometheus.MustRegister(httpRequestDurationMetric)
}
