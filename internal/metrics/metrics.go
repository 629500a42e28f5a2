package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeAborted = "aborted"
	OutcomeFailed  = "failed"
)

// Metrics holds the acquisition counters. A nil *Metrics records nothing.
type Metrics struct {
	jobs         *prometheus.CounterVec
	conversions  *prometheus.CounterVec
	segments     prometheus.Counter
	segmentBytes prometheus.Counter
	jobDuration  prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partigrab",
			Name:      "jobs_total",
			Help:      "Finished acquisition jobs by outcome.",
		}, []string{"outcome"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partigrab",
			Name:      "conversions_total",
			Help:      "ffmpeg conversions by format and result.",
		}, []string{"format", "result"}),
		segments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "partigrab",
			Name:      "segments_total",
			Help:      "Segments appended to output files.",
		}),
		segmentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "partigrab",
			Name:      "segment_bytes_total",
			Help:      "Bytes of segment data appended to output files.",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "partigrab",
			Name:      "job_duration_seconds",
			Help:      "Wall time of acquisition jobs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	reg.MustRegister(m.jobs, m.conversions, m.segments, m.segmentBytes, m.jobDuration)
	return m
}

// SegmentFetched implements hls.SegmentObserver.
func (m *Metrics) SegmentFetched(bytes int64) {
	if m == nil {
		return
	}
	m.segments.Inc()
	m.segmentBytes.Add(float64(bytes))
}

// JobFinished records one terminal job.
func (m *Metrics) JobFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

// ConversionFinished records one transcoder run.
func (m *Metrics) ConversionFinished(format string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.conversions.WithLabelValues(format, result).Inc()
}
