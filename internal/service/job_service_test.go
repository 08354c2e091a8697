package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var allCourses = model.JobScope{All: true}

func TestCreateEnforcesPerUserCeiling(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	for i := 0; i < 3; i++ {
		_, err := env.jobs.Create(ctx, alice.ID, allCourses)
		require.NoError(t, err)
	}

	_, err := env.jobs.Create(ctx, alice.ID, allCourses)
	assert.ErrorIs(t, err, model.ErrQuotaExceeded)

	job, err := env.jobs.Create(ctx, bob.ID, allCourses)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
}

func TestCreateConcurrentAdmitsExactlyCeiling(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.jobs.Create(ctx, alice.ID, allCourses)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, model.ErrQuotaExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, admitted)
	assert.Equal(t, 2, rejected)

	count, err := env.store.CountJobs(ctx, model.JobFilter{OwnerID: &alice.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestCreateRejectsInactiveOwnerAndBadScope(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	alice.Active = false
	require.NoError(t, env.store.UpdateUser(ctx, alice))

	_, err := env.jobs.Create(ctx, alice.ID, allCourses)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = env.jobs.Create(ctx, alice.ID, model.JobScope{})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = env.jobs.Create(ctx, primitive.NewObjectID(), allCourses)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTransitionTable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	job, err := env.jobs.Create(ctx, alice.ID, allCourses)
	require.NoError(t, err)

	_, err = env.jobs.Transition(ctx, job.ID, model.JobStatusRunning, TransitionOpts{})
	assert.ErrorIs(t, err, model.ErrValidation, "running requires a handle")

	running, err := env.jobs.Transition(ctx, job.ID, model.JobStatusRunning, TransitionOpts{Handle: "h1"})
	require.NoError(t, err)
	assert.Equal(t, "h1", running.WorkerHandle)
	require.NotNil(t, running.StartTime)
	assert.Nil(t, running.EndTime)

	done, err := env.jobs.Transition(ctx, job.ID, model.JobStatusCompleted, TransitionOpts{})
	require.NoError(t, err)
	assert.Empty(t, done.WorkerHandle)
	require.NotNil(t, done.EndTime)

	_, err = env.jobs.Transition(ctx, job.ID, model.JobStatusRunning, TransitionOpts{Handle: "h2"})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	again, err := env.jobs.Transition(ctx, job.ID, model.JobStatusCompleted, TransitionOpts{})
	require.NoError(t, err, "terminal self-transition is allowed")
	assert.Equal(t, done.EndTime.Unix(), again.EndTime.Unix())
}

func TestRecordCoursesRejectsOvercount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	job, err := env.jobs.Create(ctx, alice.ID, allCourses)
	require.NoError(t, err)

	err = env.jobs.RecordCourses(ctx, job.ID, 3, 2, nil)
	assert.ErrorIs(t, err, model.ErrValidation)

	require.NoError(t, env.jobs.RecordCourses(ctx, job.ID, 1, 2, []string{"c2"}))
	got := env.mustGet(t, job)
	assert.Equal(t, 1, got.CompletedCount)
	assert.Equal(t, 2, got.TotalCount)
	assert.Equal(t, []string{"c2"}, got.FailedCourses)
}

func TestAdvanceProgressBounds(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	job, err := env.jobs.Create(ctx, alice.ID, allCourses)
	require.NoError(t, err)

	assert.ErrorIs(t, env.jobs.AdvanceProgress(ctx, job.ID, 101, ""), model.ErrValidation)
	require.NoError(t, env.jobs.AdvanceProgress(ctx, job.ID, 40, "Chapter 2"))
	require.NoError(t, env.jobs.AdvanceProgress(ctx, job.ID, 35, ""))

	got := env.mustGet(t, job)
	assert.Equal(t, 35, got.Progress, "progress is not monotonic")
	assert.Equal(t, "Chapter 2", got.CurrentItem)
}

func TestLifecycleStartPauseResumeCancel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	caller := Caller{UserID: alice.ID}
	job, err := env.jobs.Create(ctx, alice.ID, allCourses)
	require.NoError(t, err)

	started, err := env.jobs.Start(ctx, caller, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, started.Status)
	assert.Equal(t, "handle-1", started.WorkerHandle)
	firstStart := *started.StartTime

	paused, err := env.jobs.Pause(ctx, caller, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPaused, paused.Status)
	assert.Empty(t, paused.WorkerHandle)
	assert.Equal(t, []string{"handle-1"}, env.pool.revokedHandles())

	_, err = env.jobs.Pause(ctx, caller, job.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	resumed, err := env.jobs.Resume(ctx, caller, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "handle-2", resumed.WorkerHandle)
	assert.True(t, firstStart.Equal(*resumed.StartTime), "resume keeps the start time")

	cancelled, err := env.jobs.Cancel(ctx, caller, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, cancelled.Status)
	assert.Equal(t, "cancelled by user", cancelled.Error)
	assert.Equal(t, []string{"handle-1", "handle-2"}, env.pool.revokedHandles())

	_, err = env.jobs.Cancel(ctx, caller, job.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestRetryResetsAndResubmits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	caller := Caller{UserID: alice.ID}
	job, err := env.jobs.Create(ctx, alice.ID, allCourses)
	require.NoError(t, err)

	_, err = env.jobs.Start(ctx, caller, job.ID)
	require.NoError(t, err)
	require.NoError(t, env.jobs.AdvanceProgress(ctx, job.ID, 60, "Course 2"))
	require.NoError(t, env.jobs.RecordCourses(ctx, job.ID, 1, 2, []string{"c2"}))
	_, err = env.jobs.Transition(ctx, job.ID, model.JobStatusFailed, TransitionOpts{Error: "boom"})
	require.NoError(t, err)

	_, err = env.jobs.Retry(ctx, Caller{UserID: primitive.NewObjectID()}, job.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	retried, err := env.jobs.Retry(ctx, caller, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, retried.Status)
	assert.Equal(t, 0, retried.Progress)
	assert.Equal(t, 0, retried.CompletedCount)
	assert.Empty(t, retried.FailedCourses)
	assert.Empty(t, retried.Error)
	assert.Nil(t, retried.EndTime)
	assert.Equal(t, "handle-2", retried.WorkerHandle)
}

func TestRetryRespectsCeiling(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	caller := Caller{UserID: alice.ID}

	first, err := env.jobs.Create(ctx, alice.ID, allCourses)
	require.NoError(t, err)
	_, err = env.jobs.Cancel(ctx, caller, first.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := env.jobs.Create(ctx, alice.ID, allCourses)
		require.NoError(t, err)
	}

	_, err = env.jobs.Retry(ctx, caller, first.ID)
	assert.ErrorIs(t, err, model.ErrQuotaExceeded)
	assert.Equal(t, model.JobStatusCancelled, env.mustGet(t, first).Status)
}

func TestSubmitFailureLeavesJobPending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	job, err := env.jobs.Create(ctx, alice.ID, allCourses)
	require.NoError(t, err)

	env.pool.submitErr = worker.ErrQueueFull
	_, err = env.jobs.Start(ctx, Caller{UserID: alice.ID}, job.ID)
	assert.ErrorIs(t, err, worker.ErrQueueFull)
	assert.Equal(t, model.JobStatusPending, env.mustGet(t, job).Status)
}

func TestUpdateAndDeleteGuards(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	caller := Caller{UserID: alice.ID}
	job, err := env.jobs.Create(ctx, alice.ID, allCourses)
	require.NoError(t, err)

	updated, err := env.jobs.Update(ctx, caller, job.ID, model.JobScope{CourseIDs: []string{"c1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, updated.Scope.CourseIDs)

	assert.ErrorIs(t, env.jobs.Delete(ctx, caller, job.ID), model.ErrInvalidTransition)

	_, err = env.jobs.Cancel(ctx, caller, job.ID)
	require.NoError(t, err)
	require.NoError(t, env.store.AppendLog(ctx, &model.JobLogEntry{JobID: job.ID, Level: model.LogLevelInfo, Message: "x"}))

	require.NoError(t, env.jobs.Delete(ctx, caller, job.ID))
	_, err = env.store.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	logs, err := env.store.ListLogs(ctx, job.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestListScopesToCaller(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	_, err := env.jobs.Create(ctx, alice.ID, allCourses)
	require.NoError(t, err)
	_, err = env.jobs.Create(ctx, bob.ID, allCourses)
	require.NoError(t, err)

	items, total, err := env.jobs.List(ctx, Caller{UserID: alice.ID}, nil, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, alice.ID.Hex(), items[0].OwnerID)

	_, total, err = env.jobs.List(ctx, Caller{Admin: true}, nil, 1, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	_, _, err = env.jobs.List(ctx, Caller{Admin: true}, []model.JobStatus{"bogus"}, 1, 20)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCancelOwnerJobs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")

	a, err := env.jobs.Create(ctx, alice.ID, allCourses)
	require.NoError(t, err)
	b, err := env.jobs.Create(ctx, alice.ID, allCourses)
	require.NoError(t, err)
	_, err = env.jobs.Start(ctx, Caller{UserID: alice.ID}, b.ID)
	require.NoError(t, err)

	n, err := env.jobs.CancelOwnerJobs(ctx, alice.ID, "owner account deactivated")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, model.JobStatusCancelled, env.mustGet(t, a).Status)
	assert.Equal(t, "owner account deactivated", env.mustGet(t, b).Error)
	assert.Equal(t, []string{"handle-1"}, env.pool.revokedHandles())
}
