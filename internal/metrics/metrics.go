package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes Prometheus metrics for inbound HTTP traffic and the
// publish pipeline.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	publishAttempts *prometheus.CounterVec
	queueJobs       *prometheus.CounterVec
}

// NewCollector constructs a collector with default histograms/counters.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vouse",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for inbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vouse",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of inbound HTTP requests.",
	}, []string{"method", "path", "status"})

	publishAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vouse",
		Name:      "publish_attempts_total",
		Help:      "Publish attempts by terminal outcome.",
	}, []string{"outcome"})

	queueJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vouse",
		Name:      "queue_jobs_total",
		Help:      "Queue jobs processed by queue name and result.",
	}, []string{"queue", "result"})

	for _, c := range []prometheus.Collector{requestDuration, requestTotal, publishAttempts, queueJobs} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:        registry,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		publishAttempts: publishAttempts,
		queueJobs:       queueJobs,
	}, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordPublishAttempt counts one publish attempt with its outcome:
// published, retried, failed, or skipped.
func (c *Collector) RecordPublishAttempt(outcome string) {
	c.publishAttempts.WithLabelValues(outcome).Inc()
}

// RecordQueueJob counts one processed queue job.
func (c *Collector) RecordQueueJob(queue, result string) {
	c.queueJobs.WithLabelValues(queue, result).Inc()
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
