// Package metrics exposes the Prometheus instrumentation for the
// scheduler and chain runner: how often tasks fire, how often an
// overlapping fire is dropped, and how long chains and individual steps
// take.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder records scheduler and chain-runner events as Prometheus metrics.
// A nil *Recorder is valid and records nothing, so components can be
// constructed in tests without a registry.
type Recorder struct {
	fires         *prometheus.CounterVec
	drops         *prometheus.CounterVec
	chainDuration *prometheus.HistogramVec
	stepDuration  *prometheus.HistogramVec
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskrun_fires_total",
			Help: "Number of times a task's schedule fired and began running.",
		}, []string{"task_id"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskrun_drops_total",
			Help: "Number of scheduled fires dropped because the previous run was still in progress.",
		}, []string{"task_id"}),
		chainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskrun_chain_duration_seconds",
			Help:    "Duration of a full step chain run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_id", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskrun_step_duration_seconds",
			Help:    "Duration of a single step's HTTP call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_id", "step"}),
	}
	reg.MustRegister(r.fires, r.drops, r.chainDuration, r.stepDuration)
	return r
}

// Fire records that a task's schedule fired and execution began.
func (r *Recorder) Fire(taskID string) {
	if r == nil {
		return
	}
	r.fires.WithLabelValues(taskID).Inc()
}

// Drop records that a scheduled fire was dropped due to an in-flight run.
func (r *Recorder) Drop(taskID string) {
	if r == nil {
		return
	}
	r.drops.WithLabelValues(taskID).Inc()
}

// ChainDuration records how long a chain run took and its outcome.
func (r *Recorder) ChainDuration(taskID, status string, seconds float64) {
	if r == nil {
		return
	}
	r.chainDuration.WithLabelValues(taskID, status).Observe(seconds)
}

// StepDuration records how long a single step took.
func (r *Recorder) StepDuration(taskID, step string, seconds float64) {
	if r == nil {
		return
	}
	r.stepDuration.WithLabelValues(taskID, step).Observe(seconds)
}
