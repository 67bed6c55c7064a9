package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvanalyst_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "csvanalyst_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	askCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvanalyst_ask_cycles_total",
			Help: "Question cycles by answer mode and final outcome.",
		},
		[]string{"mode", "outcome"},
	)

	completionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "csvanalyst_completion_duration_seconds",
			Help:    "Language model completion latency by cycle stage.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
		},
		[]string{"stage", "status"},
	)

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csvanalyst_uploads_total",
			Help: "Table uploads by result.",
		},
		[]string{"result"},
	)

	uploadRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "csvanalyst_upload_rows",
			Help:    "Row count of accepted uploads.",
			Buckets: prometheus.ExponentialBuckets(10, 10, 6),
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		askCyclesTotal,
		completionDurationSeconds,
		uploadsTotal,
		uploadRows,
	)
}

// ObserveCycle counts one finished question cycle.
func ObserveCycle(mode, outcome string) {
	askCyclesTotal.WithLabelValues(mode, outcome).Inc()
}

// ObserveCompletion records one model call for a stage such as synthesis,
// summary or direct.
func ObserveCompletion(stage string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	completionDurationSeconds.WithLabelValues(stage, status).Observe(elapsed.Seconds())
}

func ObserveUpload(rows int, err error) {
	if err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return
	}
	uploadsTotal.WithLabelValues("accepted").Inc()
	uploadRows.Observe(float64(rows))
}
