// Package metrics exposes Prometheus instrumentation for clip trimming,
// trim jobs and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Trimming metrics
	ClipsProcessed  *prometheus.CounterVec
	ClipTrimTime    prometheus.Histogram
	ClipOutputSecs  prometheus.Histogram
	BatchesRun      prometheus.Counter
	BatchDuration   prometheus.Histogram
	JobsFinished    *prometheus.CounterVec
	JobsInFlight    prometheus.Gauge
	ClipsPublished  prometheus.Counter
	PublishFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance backed by its own registry, which also
// carries the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ClipsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wakeword_trim_clips_total",
			Help: "Total number of clips processed, by outcome and reason",
		}, []string{"outcome", "reason"}),
		ClipTrimTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wakeword_trim_clip_seconds",
			Help:    "Time spent decoding, trimming and encoding one clip",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),
		ClipOutputSecs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wakeword_trim_output_audio_seconds",
			Help:    "Duration of audio kept in trimmed clips",
			Buckets: prometheus.LinearBuckets(0.25, 0.25, 12), // 0.25s to 3s
		}),
		BatchesRun: f.NewCounter(prometheus.CounterOpts{
			Name: "wakeword_trim_batches_total",
			Help: "Total number of directory batches run",
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wakeword_trim_batch_seconds",
			Help:    "Wall time of directory batches",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wakeword_trim_jobs_total",
			Help: "Total number of trim jobs that reached a terminal status",
		}, []string{"status"}),
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "wakeword_trim_jobs_in_flight",
			Help: "Number of trim jobs currently running",
		}),
		ClipsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "wakeword_trim_clips_published_total",
			Help: "Total number of trimmed clips uploaded to object storage",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "wakeword_trim_publish_failures_total",
			Help: "Total number of failed clip uploads",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wakeword_trim_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wakeword_trim_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Registry returns the registry all metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler serving the metrics in exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordClip records the outcome of one clip.
// outputSeconds is only observed for trimmed clips.
func (m *Metrics) RecordClip(outcome, reason string, elapsed time.Duration, outputSeconds float64) {
	if m == nil {
		return
	}
	m.ClipsProcessed.WithLabelValues(outcome, reason).Inc()
	m.ClipTrimTime.Observe(elapsed.Seconds())
	if outputSeconds > 0 {
		m.ClipOutputSecs.Observe(outputSeconds)
	}
}

// RecordBatch records a finished directory batch.
func (m *Metrics) RecordBatch(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BatchesRun.Inc()
	m.BatchDuration.Observe(elapsed.Seconds())
}

// RecordPublish records one upload attempt.
func (m *Metrics) RecordPublish(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishFailures.Inc()
		return
	}
	m.ClipsPublished.Inc()
}

// JobStarted increments the in-flight job gauge.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsInFlight.Inc()
}

// JobFinished decrements the in-flight job gauge and counts the terminal status.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
	m.JobsFinished.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}
