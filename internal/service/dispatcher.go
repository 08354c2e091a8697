package service

import (
	"context"
	"log/slog"

	"github.com/dandantas/studyrunner/internal/model"
)

// Pool is the worker pool the dispatcher submits to
type Pool interface {
	Submit(jobID, ownerID string) (string, error)
	Revoke(handle string) error
}

// Dispatcher hands jobs to the worker pool and records the handle. It never runs traversal logic.
type Dispatcher struct {
	pool Pool
	jobs *JobService
}

// NewDispatcher creates a dispatcher and wires it into the job service
func NewDispatcher(pool Pool, jobs *JobService) *Dispatcher {
	d := &Dispatcher{pool: pool, jobs: jobs}
	jobs.SetDispatcher(d)
	return d
}

// Submit queues job and moves it to running with the new handle.
// keepStart preserves the original start time when resuming.
func (d *Dispatcher) Submit(ctx context.Context, job *model.Job, keepStart bool) (*model.Job, error) {
	handle, err := d.pool.Submit(job.ID.Hex(), job.OwnerID.Hex())
	if err != nil {
		slog.Error("Failed to submit job", "job_id", job.ID.Hex(), "error", err)
		return nil, err
	}

	updated, err := d.jobs.Transition(ctx, job.ID, model.JobStatusRunning, TransitionOpts{
		Handle:        handle,
		KeepStartTime: keepStart,
	})
	if err != nil {
		if revokeErr := d.pool.Revoke(handle); revokeErr != nil {
			slog.Warn("Failed to revoke task after rejected transition", "job_id", job.ID.Hex(), "error", revokeErr)
		}
		return nil, err
	}

	slog.Info("Job submitted",
		"job_id", job.ID.Hex(),
		"owner_id", job.OwnerID.Hex(),
		"worker_handle", handle,
	)
	return updated, nil
}

// Revoke asks the pool to stop the job's task. Failures are logged, not returned.
func (d *Dispatcher) Revoke(ctx context.Context, job *model.Job) {
	if job.WorkerHandle == "" {
		return
	}
	if err := d.pool.Revoke(job.WorkerHandle); err != nil {
		slog.Warn("Failed to revoke job",
			"job_id", job.ID.Hex(),
			"worker_handle", job.WorkerHandle,
			"error", err,
		)
	}
}
