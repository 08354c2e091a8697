package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestUpdateJobCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	job := model.NewJob(primitive.NewObjectID(), model.JobScope{All: true})
	require.NoError(t, store.CreateJob(ctx, job))

	updated, err := store.UpdateJob(ctx, job.ID, model.JobStatusPending, model.JobPatch{Status: model.Ptr(model.JobStatusRunning)})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, updated.Status)

	_, err = store.UpdateJob(ctx, job.ID, model.JobStatusPending, model.JobPatch{Status: model.Ptr(model.JobStatusPaused)})
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = store.UpdateJob(ctx, primitive.NewObjectID(), "", model.JobPatch{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateJobExpectHandle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	job := model.NewJob(primitive.NewObjectID(), model.JobScope{All: true})
	require.NoError(t, store.CreateJob(ctx, job))

	_, err := store.UpdateJob(ctx, job.ID, model.JobStatusPending, model.JobPatch{
		Status:       model.Ptr(model.JobStatusRunning),
		WorkerHandle: model.Ptr("h2"),
	})
	require.NoError(t, err)

	_, err = store.UpdateJob(ctx, job.ID, model.JobStatusRunning, model.JobPatch{
		Status:       model.Ptr(model.JobStatusCompleted),
		ExpectHandle: model.Ptr("h1"),
	})
	assert.ErrorIs(t, err, model.ErrConflict)

	updated, err := store.UpdateJob(ctx, job.ID, model.JobStatusRunning, model.JobPatch{
		Status:       model.Ptr(model.JobStatusCompleted),
		WorkerHandle: model.Ptr(""),
		ExpectHandle: model.Ptr("h2"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, updated.Status)
	assert.Empty(t, updated.WorkerHandle)
}

func TestGetJobReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	job := model.NewJob(primitive.NewObjectID(), model.JobScope{CourseIDs: []string{"a"}})
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	got.Scope.CourseIDs[0] = "mutated"

	again, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Scope.CourseIDs[0])
}

func TestListLogsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	jobID := primitive.NewObjectID()

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, store.AppendLog(ctx, &model.JobLogEntry{JobID: jobID, Level: model.LogLevelInfo, Message: msg}))
	}

	entries, err := store.ListLogs(ctx, jobID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "three", entries[0].Message)
	assert.Equal(t, "two", entries[1].Message)

	n, err := store.DeleteLogs(ctx, jobID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestAdmissionLock(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	owner := primitive.NewObjectID()

	ok, err := store.AcquireLock(ctx, owner, "pod-a/1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcquireLock(ctx, owner, "pod-b/1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// a foreign holder cannot release
	require.NoError(t, store.ReleaseLock(ctx, owner, "pod-b/1"))
	ok, _ = store.AcquireLock(ctx, owner, "pod-b/2", time.Minute)
	assert.False(t, ok)

	require.NoError(t, store.ReleaseInstanceLocks(ctx, "pod-a"))
	ok, _ = store.AcquireLock(ctx, owner, "pod-b/3", time.Millisecond)
	assert.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	n, err := store.CleanExpiredLocks(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestListJobsFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	owner := primitive.NewObjectID()

	for i := 0; i < 5; i++ {
		job := model.NewJob(owner, model.JobScope{All: true})
		job.CreatedAt = job.CreatedAt.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.CreateJob(ctx, job))
	}
	require.NoError(t, store.CreateJob(ctx, model.NewJob(primitive.NewObjectID(), model.JobScope{All: true})))

	jobs, total, err := store.ListJobs(ctx, model.JobFilter{OwnerID: &owner}, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, jobs, 2)
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))

	count, err := store.CountJobs(ctx, model.JobFilter{OwnerID: &owner, Statuses: model.ActiveJobStatuses})
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}
