// Package metrics exposes Prometheus collectors for the job orchestration core.
package metrics

import (
	"net/http"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studyrunner"

var (
	JobsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_admitted_total",
		Help:      "Jobs that passed admission control.",
	})

	QuotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_rejections_total",
		Help:      "Job creations rejected by the per-user ceiling.",
	})

	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_transitions_total",
		Help:      "Job status transitions.",
	}, []string{"from", "to"})

	JobsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs",
		Help:      "Jobs per status, refreshed by the scheduler.",
	}, []string{"status"})

	CourseOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "course_runs_total",
		Help:      "Course runs by outcome.",
	}, []string{"outcome"})

	ProgressEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "progress_events_total",
		Help:      "Progress emissions by log level.",
	}, []string{"level"})

	RecoveredJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recovery_jobs_total",
		Help:      "Jobs handled by the recovery sweep by result.",
	}, []string{"result"})

	ExpiredLocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_locks_expired_total",
		Help:      "Expired admission locks removed by the scheduler.",
	})
)

// PoolStats is implemented by the worker pool
type PoolStats interface {
	QueueLength() int
	Running() int
}

// RegisterPool exposes queue depth and busy workers. Call once per process.
func RegisterPool(reg prometheus.Registerer, pool PoolStats) error {
	queue := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_length",
		Help:      "Tasks waiting for a worker.",
	}, func() float64 { return float64(pool.QueueLength()) })

	running := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_running",
		Help:      "Workers currently executing a job.",
	}, func() float64 { return float64(pool.Running()) })

	if err := reg.Register(queue); err != nil {
		return err
	}
	return reg.Register(running)
}

// SetJobCounts replaces the per-status gauge values
func SetJobCounts(counts map[model.JobStatus]int64) {
	for _, status := range []model.JobStatus{
		model.JobStatusPending,
		model.JobStatusRunning,
		model.JobStatusPaused,
		model.JobStatusCompleted,
		model.JobStatusFailed,
		model.JobStatusCancelled,
	} {
		JobsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
