package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	configResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sla_config_resolutions_total",
			Help: "SLA config resolutions by source (cache, store, seed, default).",
		},
		[]string{"source"},
	)
	reportBuildLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "report_build_duration_seconds",
			Help:    "Aggregate report build latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	escalationsRaised = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sla_escalations_raised_total",
			Help: "Total SLA breach escalations raised by the scan worker.",
		},
	)
	scanComplaints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sla_scan_complaints_total",
			Help: "Complaints examined by the escalation scan, by classification.",
		},
		[]string{"sla_status"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests,
		httpLatency,
		configResolutions,
		reportBuildLatency,
		escalationsRaised,
		scanComplaints,
		kafkaConsumerLag,
		influxWriteFailures,
		asynqQueueDepth,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncConfigResolution(source string) {
	configResolutions.WithLabelValues(source).Inc()
}

func ObserveReportBuild(kind string, d time.Duration) {
	reportBuildLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func IncEscalationRaised() {
	escalationsRaised.Inc()
}

func IncScanComplaint(slaStatus string) {
	scanComplaints.WithLabelValues(slaStatus).Inc()
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
