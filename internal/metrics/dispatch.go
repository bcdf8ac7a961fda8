package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for DispatchMetrics.ObserveAssignment.
const (
	OutcomeAssigned = "assigned"
	OutcomeQueued   = "queued"
	OutcomeFailed   = "failed"
)

// DispatchMetrics records distribution engine activity. A nil receiver or a
// nil registerer yields a no-op recorder.
type DispatchMetrics struct {
	assignments *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	drained     prometheus.Counter
	reassigned  *prometheus.CounterVec
	backlog     prometheus.Gauge
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	if reg == nil {
		return &DispatchMetrics{}
	}
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "assignments_total",
		Help:      "Assignment attempts by outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Name:      "operation_duration_seconds",
		Help:      "Duration of coordinator operations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	drained := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "queue_drained_total",
		Help:      "Queued orders assigned by queue replay.",
	})
	reassigned := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "reassigned_orders_total",
		Help:      "Orders moved off an agent, by result.",
	}, []string{"result"})
	backlog := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dispatch",
		Name:      "queue_backlog",
		Help:      "Live queue entries observed at the last drain.",
	})
	reg.MustRegister(assignments, duration, drained, reassigned, backlog)
	return &DispatchMetrics{
		assignments: assignments,
		duration:    duration,
		drained:     drained,
		reassigned:  reassigned,
		backlog:     backlog,
	}
}

func (m *DispatchMetrics) ObserveAssignment(outcome string) {
	if m == nil || m.assignments == nil {
		return
	}
	m.assignments.WithLabelValues(outcome).Inc()
}

func (m *DispatchMetrics) ObserveDuration(operation string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *DispatchMetrics) AddDrained(n int) {
	if m == nil || m.drained == nil || n <= 0 {
		return
	}
	m.drained.Add(float64(n))
}

// ObserveReassignment records one moved order; requeued=false means another
// agent took it.
func (m *DispatchMetrics) ObserveReassignment(requeued bool) {
	if m == nil || m.reassigned == nil {
		return
	}
	result := "reassigned"
	if requeued {
		result = "requeued"
	}
	m.reassigned.WithLabelValues(result).Inc()
}

func (m *DispatchMetrics) SetBacklog(n int) {
	if m == nil || m.backlog == nil {
		return
	}
	m.backlog.Set(float64(n))
}
