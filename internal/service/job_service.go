package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/studyrunner/internal/metrics"
	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/retry"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// casAttempts bounds the read-check-write loop of a transition
const casAttempts = 5

// JobOptions configure admission
type JobOptions struct {
	MaxJobsPerUser int
	LockTTL        time.Duration
	LockWait       time.Duration
	InstanceID     string
}

// TransitionOpts carry the fields that travel with a status change
type TransitionOpts struct {
	// Error is stored on the job when non-empty
	Error string
	// Handle is the worker handle; required when moving to running
	Handle string
	// KeepStartTime preserves an existing start time when moving to running (resume)
	KeepStartTime bool
	// Owner, when set, only allows the change while the job is held by this worker handle
	Owner string
}

// JobService owns the job record. Status changes go through Transition or the reset path.
type JobService struct {
	jobs  JobStore
	logs  LogStore
	users UserStore
	locks LockStore
	opts  JobOptions

	dispatcher *Dispatcher
}

// NewJobService creates a new job service
func NewJobService(jobs JobStore, logs LogStore, users UserStore, locks LockStore, opts JobOptions) *JobService {
	if opts.MaxJobsPerUser <= 0 {
		opts.MaxJobsPerUser = 3
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 5 * time.Second
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}

	return &JobService{
		jobs:  jobs,
		logs:  logs,
		users: users,
		locks: locks,
		opts:  opts,
	}
}

// SetDispatcher wires the dispatcher used by the lifecycle actions
func (s *JobService) SetDispatcher(d *Dispatcher) {
	s.dispatcher = d
}

// Create validates scope and inserts a pending job, admission and insert
// happening under the owner's admission lock
func (s *JobService) Create(ctx context.Context, ownerID primitive.ObjectID, scope model.JobScope) (*model.Job, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOwner(ctx, ownerID); err != nil {
		return nil, err
	}

	job := model.NewJob(ownerID, scope)
	err := s.withAdmissionLock(ctx, ownerID, func() error {
		if err := s.Admit(ctx, ownerID); err != nil {
			return err
		}
		return s.jobs.CreateJob(ctx, job)
	})
	if err != nil {
		return nil, err
	}

	metrics.JobsAdmitted.Inc()
	slog.Info("Job created",
		"job_id", job.ID.Hex(),
		"owner_id", ownerID.Hex(),
		"all_courses", scope.All,
		"course_count", len(scope.CourseIDs),
	)
	return job, nil
}

// Admit fails with ErrQuotaExceeded when the owner is at the active job ceiling.
// Callers that insert afterwards must hold the admission lock.
func (s *JobService) Admit(ctx context.Context, ownerID primitive.ObjectID) error {
	active, err := s.jobs.CountJobs(ctx, model.JobFilter{OwnerID: &ownerID, Statuses: model.ActiveJobStatuses})
	if err != nil {
		return fmt.Errorf("failed to count active jobs: %w", err)
	}
	if active >= int64(s.opts.MaxJobsPerUser) {
		metrics.QuotaRejections.Inc()
		return fmt.Errorf("%w: %d of %d active jobs", model.ErrQuotaExceeded, active, s.opts.MaxJobsPerUser)
	}
	return nil
}

func (s *JobService) withAdmissionLock(ctx context.Context, ownerID primitive.ObjectID, fn func() error) error {
	holder := s.opts.InstanceID + "/" + uuid.NewString()
	backoff := retry.NewStrategy(model.RetryConfig{MaxAttempts: 1 << 20, InitialDelayMs: 10, MaxDelayMs: 200, Multiplier: 2})
	deadline := time.Now().Add(s.opts.LockWait)

	for attempt := 1; ; attempt++ {
		acquired, err := s.locks.AcquireLock(ctx, ownerID, holder, s.opts.LockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire admission lock: %w", err)
		}
		if acquired {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: admission for owner %s is busy", model.ErrConflict, ownerID.Hex())
		}
		if err := backoff.Wait(ctx, attempt); err != nil {
			return err
		}
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locks.ReleaseLock(releaseCtx, ownerID, holder); err != nil {
			slog.Warn("Failed to release admission lock", "owner_id", ownerID.Hex(), "error", err)
		}
	}()

	return fn()
}

func (s *JobService) checkOwner(ctx context.Context, ownerID primitive.ObjectID) error {
	user, err := s.users.GetUser(ctx, ownerID)
	if err != nil {
		return err
	}
	if !user.Active {
		return fmt.Errorf("%w: user %s is deactivated", model.ErrForbidden, ownerID.Hex())
	}
	return nil
}

// Transition moves a job to status, enforcing the state table and keeping the
// worker-handle and end-time fields consistent with the new status
func (s *JobService) Transition(ctx context.Context, id primitive.ObjectID, to model.JobStatus, opts TransitionOpts) (*model.Job, error) {
	if to == model.JobStatusRunning && opts.Handle == "" {
		return nil, fmt.Errorf("%w: a worker handle is required to run a job", model.ErrValidation)
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		job, err := s.jobs.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := model.CheckTransition(job.Status, to); err != nil {
			return nil, err
		}
		if opts.Owner != "" && job.WorkerHandle != opts.Owner {
			return nil, fmt.Errorf("%w: job %s was handed to another worker", model.ErrInvalidTransition, id.Hex())
		}

		now := time.Now().UTC()
		patch := model.JobPatch{Status: model.Ptr(to)}
		if opts.Owner != "" {
			patch.ExpectHandle = model.Ptr(opts.Owner)
		}
		if opts.Error != "" {
			patch.Error = model.Ptr(opts.Error)
		}

		switch {
		case to == model.JobStatusRunning:
			patch.WorkerHandle = model.Ptr(opts.Handle)
			if !opts.KeepStartTime || job.StartTime == nil {
				patch.StartTime = &now
			}
			patch.ClearEndTime = true
		case to.IsTerminal():
			patch.WorkerHandle = model.Ptr("")
			if job.EndTime == nil {
				patch.EndTime = &now
			}
		default:
			patch.WorkerHandle = model.Ptr("")
			patch.ClearEndTime = true
		}

		updated, err := s.jobs.UpdateJob(ctx, id, job.Status, patch)
		if errors.Is(err, model.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.JobTransitions.WithLabelValues(string(job.Status), string(to)).Inc()
		slog.Info("Job transitioned",
			"job_id", id.Hex(),
			"from", job.Status,
			"to", to,
		)
		return updated, nil
	}

	return nil, fmt.Errorf("%w: job %s changed concurrently", model.ErrConflict, id.Hex())
}

// reset returns a job to a fresh pending state. It is the only way out of a
// terminal status and only succeeds while the job is still in expected.
func (s *JobService) reset(ctx context.Context, id primitive.ObjectID, expected model.JobStatus) (*model.Job, error) {
	patch := model.JobPatch{
		Status:         model.Ptr(model.JobStatusPending),
		Progress:       model.Ptr(0),
		CurrentItem:    model.Ptr(""),
		WorkerHandle:   model.Ptr(""),
		CompletedCount: model.Ptr(0),
		FailedCourses:  &[]string{},
		Error:          model.Ptr(""),
		ClearStartTime: true,
		ClearEndTime:   true,
	}

	job, err := s.jobs.UpdateJob(ctx, id, expected, patch)
	if err != nil {
		return nil, err
	}
	metrics.JobTransitions.WithLabelValues(string(expected), string(model.JobStatusPending)).Inc()
	return job, nil
}

// AdvanceProgress records the displayed percent. It is not monotonic.
func (s *JobService) AdvanceProgress(ctx context.Context, id primitive.ObjectID, percent int, item string) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: progress %d out of range", model.ErrValidation, percent)
	}

	patch := model.JobPatch{Progress: model.Ptr(percent)}
	if item != "" {
		patch.CurrentItem = model.Ptr(item)
	}
	_, err := s.jobs.UpdateJob(ctx, id, "", patch)
	return err
}

// RecordCourses stores the course counters of a running job
func (s *JobService) RecordCourses(ctx context.Context, id primitive.ObjectID, completed, total int, failed []string) error {
	if completed > total {
		return fmt.Errorf("%w: completed_count %d exceeds total_count %d", model.ErrValidation, completed, total)
	}

	_, err := s.jobs.UpdateJob(ctx, id, "", model.JobPatch{
		CompletedCount: model.Ptr(completed),
		TotalCount:     model.Ptr(total),
		FailedCourses:  &failed,
	})
	return err
}

// Get returns a job the caller may see
func (s *JobService) Get(ctx context.Context, caller Caller, id primitive.ObjectID) (*model.Job, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.owns(job.OwnerID) {
		return nil, fmt.Errorf("%w: job %s belongs to another user", model.ErrForbidden, id.Hex())
	}
	return job, nil
}

// List returns the caller's jobs, or every job for admins
func (s *JobService) List(ctx context.Context, caller Caller, statuses []model.JobStatus, page, limit int) ([]model.JobListItem, int64, error) {
	for _, status := range statuses {
		if !status.Valid() {
			return nil, 0, fmt.Errorf("%w: unknown status %q", model.ErrValidation, status)
		}
	}

	filter := model.JobFilter{Statuses: statuses}
	if !caller.Admin {
		filter.OwnerID = &caller.UserID
	}

	jobs, total, err := s.jobs.ListJobs(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, err
	}

	items := make([]model.JobListItem, len(jobs))
	for i := range jobs {
		items[i] = jobs[i].ToListItem()
	}
	return items, total, nil
}

// Update replaces the scope of a job that is not active
func (s *JobService) Update(ctx context.Context, caller Caller, id primitive.ObjectID, scope model.JobScope) (*model.Job, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	job, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if job.Status == model.JobStatusRunning || job.Status == model.JobStatusCompleted {
		return nil, fmt.Errorf("%w: cannot update a %s job", model.ErrInvalidTransition, job.Status)
	}

	return s.jobs.UpdateJob(ctx, id, job.Status, model.JobPatch{Scope: &scope})
}

// Start submits a pending or paused job; a failed job goes through Retry
func (s *JobService) Start(ctx context.Context, caller Caller, id primitive.ObjectID) (*model.Job, error) {
	job, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case model.JobStatusPending:
		return s.dispatcher.Submit(ctx, job, false)
	case model.JobStatusPaused:
		return s.dispatcher.Submit(ctx, job, true)
	case model.JobStatusFailed:
		return s.Retry(ctx, caller, id)
	default:
		return nil, fmt.Errorf("%w: cannot start a %s job", model.ErrInvalidTransition, job.Status)
	}
}

// Pause stops a running job. The worker notices at its next checkpoint and the handle is revoked.
func (s *JobService) Pause(ctx context.Context, caller Caller, id primitive.ObjectID) (*model.Job, error) {
	job, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusRunning {
		return nil, fmt.Errorf("%w: only running jobs can be paused, job is %s", model.ErrInvalidTransition, job.Status)
	}

	updated, err := s.Transition(ctx, id, model.JobStatusPaused, TransitionOpts{})
	if err != nil {
		return nil, err
	}
	s.dispatcher.Revoke(ctx, job)
	return updated, nil
}

// Resume resubmits a paused job keeping its original start time
func (s *JobService) Resume(ctx context.Context, caller Caller, id primitive.ObjectID) (*model.Job, error) {
	job, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusPaused {
		return nil, fmt.Errorf("%w: only paused jobs can be resumed, job is %s", model.ErrInvalidTransition, job.Status)
	}
	return s.dispatcher.Submit(ctx, job, true)
}

// Cancel moves a job to cancelled and revokes its worker
func (s *JobService) Cancel(ctx context.Context, caller Caller, id primitive.ObjectID) (*model.Job, error) {
	job, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job is already %s", model.ErrInvalidTransition, job.Status)
	}

	updated, err := s.Transition(ctx, id, model.JobStatusCancelled, TransitionOpts{Error: "cancelled by user"})
	if err != nil {
		return nil, err
	}
	s.dispatcher.Revoke(ctx, job)
	return updated, nil
}

// Retry resets a failed or cancelled job and resubmits it, subject to admission
func (s *JobService) Retry(ctx context.Context, caller Caller, id primitive.ObjectID) (*model.Job, error) {
	job, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusFailed && job.Status != model.JobStatusCancelled {
		return nil, fmt.Errorf("%w: only failed or cancelled jobs can be retried, job is %s", model.ErrInvalidTransition, job.Status)
	}
	if err := s.checkOwner(ctx, job.OwnerID); err != nil {
		return nil, err
	}

	var reset *model.Job
	err = s.withAdmissionLock(ctx, job.OwnerID, func() error {
		if err := s.Admit(ctx, job.OwnerID); err != nil {
			return err
		}
		reset, err = s.reset(ctx, id, job.Status)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.JobsAdmitted.Inc()
	slog.Info("Job reset for retry", "job_id", id.Hex(), "previous_status", job.Status)
	return s.dispatcher.Submit(ctx, reset, false)
}

// Delete removes an inactive job and its logs
func (s *JobService) Delete(ctx context.Context, caller Caller, id primitive.ObjectID) error {
	job, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if job.Status == model.JobStatusRunning || job.Status == model.JobStatusPending {
		return fmt.Errorf("%w: cannot delete a %s job, cancel it first", model.ErrInvalidTransition, job.Status)
	}

	if err := s.jobs.DeleteJob(ctx, id); err != nil {
		return err
	}
	if n, err := s.logs.DeleteLogs(ctx, id); err != nil {
		slog.Warn("Failed to delete job logs", "job_id", id.Hex(), "error", err)
	} else {
		slog.Debug("Deleted job logs", "job_id", id.Hex(), "count", n)
	}
	return nil
}

// Logs returns the newest log entries of a job
func (s *JobService) Logs(ctx context.Context, caller Caller, id primitive.ObjectID, limit int) ([]model.JobLogEntry, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.logs.ListLogs(ctx, id, model.ClampLogLimit(limit))
}

// CancelOwnerJobs cancels every active job of an owner
func (s *JobService) CancelOwnerJobs(ctx context.Context, ownerID primitive.ObjectID, reason string) (int, error) {
	jobs, _, err := s.jobs.ListJobs(ctx, model.JobFilter{
		OwnerID:  &ownerID,
		Statuses: []model.JobStatus{model.JobStatusPending, model.JobStatusRunning, model.JobStatusPaused},
	}, 1, 0)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for i := range jobs {
		job := &jobs[i]
		if _, err := s.Transition(ctx, job.ID, model.JobStatusCancelled, TransitionOpts{Error: reason}); err != nil {
			slog.Warn("Failed to cancel job", "job_id", job.ID.Hex(), "error", err)
			continue
		}
		s.dispatcher.Revoke(ctx, job)
		cancelled++
	}
	return cancelled, nil
}
