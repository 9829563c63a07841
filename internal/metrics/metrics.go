// Package metrics exposes trigger execution statistics to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rpattn/entityapi/internal/domain"
)

const namespace = "entityapi"

// Recorder collects per-trigger counters and latency histograms.
type Recorder struct {
	registry     *prometheus.Registry
	triggerRuns  *prometheus.CounterVec
	triggerTime  *prometheus.HistogramVec
	bulkRuns     *prometheus.CounterVec
	bulkTime     *prometheus.HistogramVec
	bulkSize     *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

// NewRecorder creates a Recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		triggerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_executions_total",
			Help:      "Trigger executions by phase, trigger and outcome.",
		}, []string{"phase", "trigger", "outcome"}),
		triggerTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trigger_duration_seconds",
			Help:      "Trigger execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"phase", "trigger"}),
		bulkRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_trigger_executions_total",
			Help:      "Bulk on-read trigger executions by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		bulkTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_trigger_duration_seconds",
			Help:      "Bulk on-read trigger latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"trigger"}),
		bulkSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_trigger_batch_size",
			Help:      "Number of entities resolved per bulk trigger call.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}, []string{"trigger"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.triggerRuns, r.triggerTime,
		r.bulkRuns, r.bulkTime, r.bulkSize,
		r.httpRequests,
	)
	return r
}

// ObserveTrigger records one trigger invocation.
func (r *Recorder) ObserveTrigger(phase domain.Phase, trigger string, elapsed time.Duration, err error) {
	r.triggerRuns.WithLabelValues(string(phase), trigger, outcome(err)).Inc()
	r.triggerTime.WithLabelValues(string(phase), trigger).Observe(elapsed.Seconds())
}

// ObserveBulk records one bulk trigger invocation over size entities.
func (r *Recorder) ObserveBulk(trigger string, size int, elapsed time.Duration, err error) {
	r.bulkRuns.WithLabelValues(trigger, outcome(err)).Inc()
	r.bulkTime.WithLabelValues(trigger).Observe(elapsed.Seconds())
	r.bulkSize.WithLabelValues(trigger).Observe(float64(size))
}

// InstrumentHandler counts requests served by next.
func (r *Recorder) InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(r.httpRequests, next)
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
