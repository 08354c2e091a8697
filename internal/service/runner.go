package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dandantas/studyrunner/internal/executor"
	"github.com/dandantas/studyrunner/internal/metrics"
	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/notify"
	"github.com/dandantas/studyrunner/internal/oracle"
	"github.com/dandantas/studyrunner/internal/platform"
	"github.com/dandantas/studyrunner/internal/traversal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Progress bands of a job run
const (
	percentStarted     = 5
	percentLoggingIn   = 10
	percentLoggedIn    = 20
	percentCoursesRead = 30
	percentCoursesDone = 95
)

// Emitter is the progress write path
type Emitter interface {
	Emit(ctx context.Context, jobID primitive.ObjectID, level model.LogLevel, message string, event *model.ProgressEvent) error
}

// OracleResolver builds the answer oracle for a user's settings
type OracleResolver interface {
	Resolve(settings model.OracleSettings) (oracle.Oracle, error)
}

// Notifier delivers terminal job summaries
type Notifier interface {
	Notify(ctx context.Context, settings model.NotificationSettings, summary notify.Summary) error
}

// SecretOpener decrypts stored platform passwords
type SecretOpener interface {
	Open(ciphertext string) (string, error)
}

// RunnerDeps are the collaborators of a Runner
type RunnerDeps struct {
	Jobs      *JobService
	Users     UserStore
	Platforms platform.Factory
	Oracles   OracleResolver
	Notifier  Notifier
	Emitter   Emitter
	Secrets   SecretOpener
	// PickupWait bounds how long a worker waits for the dispatcher to mark the job running
	PickupWait time.Duration
}

// Runner executes one job on a worker: login, course list, traversal per course, outcome
type Runner struct {
	deps RunnerDeps
}

// NewRunner creates a runner
func NewRunner(deps RunnerDeps) *Runner {
	if deps.PickupWait <= 0 {
		deps.PickupWait = 5 * time.Second
	}
	return &Runner{deps: deps}
}

// Run is the worker pool entry point. handle is the pool task running it; the
// job is only worked on while the stored record still names that handle.
func (r *Runner) Run(ctx context.Context, handle, jobIDHex, ownerIDHex string) error {
	jobID, err := primitive.ObjectIDFromHex(jobIDHex)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", jobIDHex, err)
	}

	job, err := r.awaitRunning(ctx, jobID, handle)
	if err != nil {
		return err
	}
	if job == nil {
		slog.Info("Job no longer runnable, skipping", "job_id", jobIDHex, "worker_handle", handle)
		return nil
	}

	logger := slog.With("job_id", jobIDHex, "owner_id", ownerIDHex)
	logger.Info("Job run started", "worker_handle", job.WorkerHandle)
	r.emit(ctx, job.ID, model.LogLevelInfo, "Job started", &model.ProgressEvent{Percent: percentStarted})

	user, err := r.deps.Users.GetUser(ctx, job.OwnerID)
	if err != nil {
		return r.fail(ctx, job, nil, fmt.Sprintf("owner account unavailable: %v", err))
	}
	if !user.Active {
		return r.fail(ctx, job, user, "owner account is deactivated")
	}

	account, err := r.account(user)
	if err != nil {
		return r.fail(ctx, job, user, err.Error())
	}

	adapter := r.deps.Platforms.NewSession(user.Settings)

	r.emit(ctx, job.ID, model.LogLevelInfo, "Logging in to the platform", &model.ProgressEvent{Percent: percentLoggingIn})
	if err := adapter.Login(ctx, account); err != nil {
		if ctx.Err() != nil {
			r.stopped(ctx, job)
			return nil
		}
		return r.fail(ctx, job, user, fmt.Sprintf("login failed: %v", err))
	}
	r.emit(ctx, job.ID, model.LogLevelInfo, "Logged in", &model.ProgressEvent{Percent: percentLoggedIn})

	all, err := adapter.FetchCourseList(ctx)
	if err != nil {
		if ctx.Err() != nil {
			r.stopped(ctx, job)
			return nil
		}
		return r.fail(ctx, job, user, fmt.Sprintf("failed to fetch course list: %v", err))
	}

	courses := make([]model.Course, 0, len(all))
	for _, c := range all {
		if job.Scope.Includes(c.ID) {
			courses = append(courses, c)
		}
	}
	if len(courses) == 0 {
		return r.fail(ctx, job, user, "no courses match the job scope")
	}

	r.emit(ctx, job.ID, model.LogLevelInfo, fmt.Sprintf("Found %d courses", len(courses)), &model.ProgressEvent{Percent: percentCoursesRead})
	if err := r.deps.Jobs.RecordCourses(ctx, job.ID, 0, len(courses), nil); err != nil {
		logger.Warn("Failed to record course counts", "error", err)
	}

	o, err := r.deps.Oracles.Resolve(user.Settings.Oracle)
	if err != nil {
		logger.Warn("Answer oracle unavailable", "error", err)
		o = nil
	}

	var band struct{ start, end int }
	engine := traversal.New(adapter, executor.New(adapter, o, logger), traversal.Options{
		Policy:      user.Settings.NotOpenAction,
		OracleReady: oracle.Usable(o),
		ShouldStop:  r.shouldStop(job),
		Logger:      logger,
		Emit: func(level model.LogLevel, message string, event *model.ProgressEvent) {
			if event != nil {
				scaled := *event
				scaled.Percent = band.start + (band.end-band.start)*event.Percent/100
				event = &scaled
			}
			r.emit(ctx, job.ID, level, message, event)
		},
	})

	completed := 0
	var failed, failures []string
	for i, course := range courses {
		if r.shouldStop(job)(ctx) {
			logger.Info("Job stopped before course", "course_id", course.ID)
			r.stopped(ctx, job)
			return nil
		}

		band.start = percentCoursesRead + (percentCoursesDone-percentCoursesRead)*i/len(courses)
		band.end = percentCoursesRead + (percentCoursesDone-percentCoursesRead)*(i+1)/len(courses)
		r.emit(ctx, job.ID, model.LogLevelInfo, fmt.Sprintf("Course %d/%d: %s", i+1, len(courses), course.Title), &model.ProgressEvent{
			Percent: band.start,
			Item:    course.Title,
			Detail:  map[string]string{"course": fmt.Sprintf("%d/%d", i+1, len(courses))},
		})

		result := runCourse(ctx, engine, course)
		metrics.CourseOutcomes.WithLabelValues(string(result.Outcome)).Inc()

		switch result.Outcome {
		case traversal.OutcomeStopped:
			logger.Info("Job stopped during course", "course_id", course.ID)
			r.stopped(ctx, job)
			return nil
		case traversal.OutcomeCompleted:
			completed++
			r.emit(ctx, job.ID, model.LogLevelInfo, fmt.Sprintf("Course %s completed", course.Title), nil)
		default:
			failed = append(failed, course.ID)
			failures = append(failures, fmt.Sprintf("%s: %v", course.Title, result.Err))
			r.emit(ctx, job.ID, model.LogLevelError, fmt.Sprintf("Course %s failed: %v", course.Title, result.Err), nil)
		}

		if err := r.deps.Jobs.RecordCourses(ctx, job.ID, completed, len(courses), failed); err != nil {
			logger.Warn("Failed to record course counts", "error", err)
		}
	}

	return r.finish(ctx, job, user, len(courses), failed, failures)
}

func runCourse(ctx context.Context, engine *traversal.Engine, course model.Course) (result traversal.CourseResult) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Course run panicked", "course_id", course.ID, "panic", p)
			result = traversal.CourseResult{Outcome: traversal.OutcomeAborted, Err: fmt.Errorf("unexpected error: %v", p)}
		}
	}()
	return engine.RunCourse(ctx, course)
}

// finish applies the outcome rule: failed only when every course failed
func (r *Runner) finish(ctx context.Context, job *model.Job, user *model.User, total int, failed, failures []string) error {
	status := model.JobStatusCompleted
	summary := ""
	if len(failed) > 0 {
		summary = fmt.Sprintf("%d/%d courses failed: %s", len(failed), total, strings.Join(failures, "; "))
	}
	if len(failed) == total {
		status = model.JobStatusFailed
	}

	final, err := r.deps.Jobs.Transition(context.WithoutCancel(ctx), job.ID, status, TransitionOpts{Error: summary, Owner: job.WorkerHandle})
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			slog.Info("Job left running state before it finished", "job_id", job.ID.Hex(), "error", err)
			return nil
		}
		return err
	}

	level, message := model.LogLevelInfo, fmt.Sprintf("Job completed: %d/%d courses", total-len(failed), total)
	if status == model.JobStatusFailed {
		level, message = model.LogLevelError, "Job failed: "+summary
	}
	r.emit(context.WithoutCancel(ctx), job.ID, level, message, &model.ProgressEvent{Percent: 100})

	r.notify(ctx, final, user)
	return nil
}

// fail marks the job failed for a precondition that stopped it before any course ran
func (r *Runner) fail(ctx context.Context, job *model.Job, user *model.User, reason string) error {
	ctx = context.WithoutCancel(ctx)

	final, err := r.deps.Jobs.Transition(ctx, job.ID, model.JobStatusFailed, TransitionOpts{Error: reason, Owner: job.WorkerHandle})
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			slog.Info("Job left running state before it failed", "job_id", job.ID.Hex(), "reason", reason, "error", err)
			return nil
		}
		return err
	}
	r.emit(ctx, job.ID, model.LogLevelError, reason, nil)

	if user != nil {
		r.notify(ctx, final, user)
	}
	return nil
}

func (r *Runner) notify(ctx context.Context, job *model.Job, user *model.User) {
	if r.deps.Notifier == nil {
		return
	}
	if err := r.deps.Notifier.Notify(context.WithoutCancel(ctx), user.Settings.Notification, notify.NewSummary(job, user.Username)); err != nil {
		slog.Warn("Failed to send job summary", "job_id", job.ID.Hex(), "error", err)
	}
}

func (r *Runner) account(user *model.User) (platform.Account, error) {
	if user.Account.Username == "" {
		return platform.Account{}, errors.New("platform account is not configured")
	}

	account := platform.Account{Username: user.Account.Username}
	if user.Account.EncryptedPassword == "" {
		return account, nil
	}
	if r.deps.Secrets == nil {
		return platform.Account{}, errors.New("credential key is not configured")
	}

	password, err := r.deps.Secrets.Open(user.Account.EncryptedPassword)
	if err != nil {
		return platform.Account{}, fmt.Errorf("failed to decrypt platform password: %w", err)
	}
	account.Password = password
	return account, nil
}

// awaitRunning waits for the dispatcher to finish marking the job running under handle.
// It returns nil when the job was paused, cancelled, reset or handed to another handle meanwhile.
func (r *Runner) awaitRunning(ctx context.Context, id primitive.ObjectID, handle string) (*model.Job, error) {
	deadline := time.Now().Add(r.deps.PickupWait)
	for {
		job, err := r.deps.Jobs.jobs.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		switch job.Status {
		case model.JobStatusRunning:
			if job.WorkerHandle != handle {
				slog.Warn("Job is held by another worker",
					"job_id", id.Hex(),
					"worker_handle", handle,
					"current_handle", job.WorkerHandle,
				)
				return nil, nil
			}
			return job, nil
		case model.JobStatusPending:
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("job %s still pending after %s", id.Hex(), r.deps.PickupWait)
			}
		default:
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// shouldStop re-reads the persisted job at the engine's checkpoints. The worker
// stops once the job leaves running or is running under another handle.
func (r *Runner) shouldStop(job *model.Job) traversal.StatusCheck {
	return func(ctx context.Context) bool {
		if ctx.Err() != nil {
			return true
		}
		current, err := r.deps.Jobs.jobs.GetJob(ctx, job.ID)
		if err != nil {
			slog.Warn("Failed to read job status", "job_id", job.ID.Hex(), "error", err)
			return errors.Is(err, model.ErrNotFound)
		}
		return current.Status != model.JobStatusRunning || current.WorkerHandle != job.WorkerHandle
	}
}

// stopped records why the worker let go of job. Pause and cancel are written to
// the job log; a takeover or shutdown only goes to the process log.
func (r *Runner) stopped(ctx context.Context, job *model.Job) {
	ctx = context.WithoutCancel(ctx)
	current, err := r.deps.Jobs.jobs.GetJob(ctx, job.ID)
	if err != nil {
		slog.Warn("Failed to read stopped job", "job_id", job.ID.Hex(), "error", err)
		return
	}

	switch {
	case current.Status == model.JobStatusPaused || current.Status == model.JobStatusCancelled:
		r.emit(ctx, job.ID, model.LogLevelInfo, fmt.Sprintf("Job stopped (%s)", current.Status), nil)
	case current.WorkerHandle != job.WorkerHandle:
		slog.Warn("Job handed to another worker, stopping",
			"job_id", job.ID.Hex(),
			"worker_handle", job.WorkerHandle,
			"current_handle", current.WorkerHandle,
		)
	default:
		slog.Info("Job interrupted, left for recovery", "job_id", job.ID.Hex(), "status", current.Status)
	}
}

func (r *Runner) emit(ctx context.Context, id primitive.ObjectID, level model.LogLevel, message string, event *model.ProgressEvent) {
	metrics.ProgressEvents.WithLabelValues(string(level)).Inc()
	if err := r.deps.Emitter.Emit(ctx, id, level, message, event); err != nil {
		slog.Warn("Failed to emit progress", "job_id", id.Hex(), "error", err)
	}
}
