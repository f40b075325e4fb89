// Package metrics exposes the journal's Prometheus instrumentation
// behind a nil-safe interface: every call is safe on a nil *Recorder so
// components can be constructed without a metrics backend in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records the journal's operational counters and histograms.
// A nil *Recorder is valid and every method becomes a no-op, so callers
// never need a "metrics enabled?" branch.
type Recorder struct {
	submits        prometheus.Counter
	queueDepth     *prometheus.GaugeVec
	uploadLatency  *prometheus.HistogramVec
	uploadFailures *prometheus.CounterVec
	partsUploaded  prometheus.Counter
	filesCompleted prometheus.Counter
}

// New registers and returns a Recorder against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default
// registry.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		submits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s3journal",
			Name:      "submits_total",
			Help:      "Total number of entries submitted to the journal.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "s3journal",
			Name:      "queue_depth",
			Help:      "Current number of pending tasks per topic.",
		}, []string{"topic"}),
		uploadLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "s3journal",
			Name:      "upload_part_seconds",
			Help:      "Latency of individual S3 UploadPart calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		uploadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s3journal",
			Name:      "upload_failures_total",
			Help:      "Total number of object store operation failures by classification.",
		}, []string{"code"}),
		partsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s3journal",
			Name:      "parts_uploaded_total",
			Help:      "Total number of multipart parts successfully uploaded.",
		}),
		filesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "s3journal",
			Name:      "files_completed_total",
			Help:      "Total number of multipart uploads successfully completed.",
		}),
	}

	reg.MustRegister(
		r.submits,
		r.queueDepth,
		r.uploadLatency,
		r.uploadFailures,
		r.partsUploaded,
		r.filesCompleted,
	)

	return r
}

func (r *Recorder) IncSubmits() {
	if r == nil {
		return
	}
	r.submits.Inc()
}

func (r *Recorder) SetQueueDepth(topic string, depth int) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues(topic).Set(float64(depth))
}

func (r *Recorder) ObserveUploadPart(start time.Time, outcome string) {
	if r == nil {
		return
	}
	r.uploadLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func (r *Recorder) IncUploadFailure(code string) {
	if r == nil {
		return
	}
	r.uploadFailures.WithLabelValues(code).Inc()
}

func (r *Recorder) IncPartsUploaded() {
	if r == nil {
		return
	}
	r.partsUploaded.Inc()
}

func (r *Recorder) IncFilesCompleted() {
	if r == nil {
		return
	}
	r.filesCompleted.Inc()
}
