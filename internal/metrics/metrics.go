package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "semaphore"

type Metrics struct {
	scans            *prometheus.CounterVec
	scanDuration     prometheus.Observer
	locationFailOpen prometheus.Counter
	transitions      *prometheus.CounterVec
	pending          *prometheus.GaugeVec
	queueDepth       prometheus.Gauge
	changes          *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobDurations     *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// Global returns the process-wide collectors, registering them on first use.
func Global() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = newMetrics()
	})
	return metricsInst
}

func newMetrics() *Metrics {
	return &Metrics{
		scans: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "badge",
			Name:      "scans_total",
			Help:      "Badge scans handled, labeled by source and outcome",
		}, []string{"source", "outcome"}),
		scanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "badge",
			Name:      "scan_duration_seconds",
			Help:      "Duration of the badge scan pipeline",
			Buckets:   prometheus.DefBuckets,
		}),
		locationFailOpen: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "location",
			Name:      "fail_open_total",
			Help:      "Location lookups that failed and were treated as authorized",
		}),
		transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Correction request transitions, labeled by request kind and resulting status",
		}, []string{"kind", "status"}),
		pending: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "pending_requests",
			Help:      "Correction requests waiting for validation",
		}, []string{"kind"}),
		queueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "queue_depth",
			Help:      "Change notifications waiting to be applied",
		}),
		changes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "changes_total",
			Help:      "Change notifications, labeled by outcome (applied, stale, dropped)",
		}, []string{"outcome"}),
		jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background job executions, labeled by job and result",
		}, []string{"job", "result"}),
		jobDurations: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of background job executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}
}

// ObserveScan starts timing a scan; the returned func records its outcome.
func (m *Metrics) ObserveScan(source string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	if source == "" {
		source = "unknown"
	}
	timer := prometheus.NewTimer(m.scanDuration)
	return func(outcome string) {
		timer.ObserveDuration()
		m.scans.WithLabelValues(source, outcome).Inc()
	}
}

func (m *Metrics) LocationFailOpen() {
	if m == nil {
		return
	}
	m.locationFailOpen.Inc()
}

func (m *Metrics) Transition(kind, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) Pending(kind string, count int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(kind).Set(float64(count))
}

func (m *Metrics) QueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) Change(outcome string) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(outcome).Inc()
}

// RecordJob starts timing a job run; the returned func records its result.
func (m *Metrics) RecordJob(job string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	timer := prometheus.NewTimer(m.jobDurations.WithLabelValues(job))
	return func(err error) {
		timer.ObserveDuration()
		result := "success"
		if err != nil {
			result = "failure"
		}
		m.jobRuns.WithLabelValues(job, result).Inc()
	}
}
