package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsExecutor(t *testing.T) {
	pool := NewWorkerPool(2, 4)

	var mu sync.Mutex
	seen := map[string]string{}
	handles := map[string]string{}
	done := make(chan struct{}, 2)
	pool.SetExecutor(func(ctx context.Context, handle, jobID, ownerID string) error {
		mu.Lock()
		seen[jobID] = ownerID
		handles[jobID] = handle
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	pool.Start()
	defer pool.Stop()

	h1, err := pool.Submit("j1", "u1")
	require.NoError(t, err)
	h2, err := pool.Submit("j2", "u2")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("executor was not called")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]string{"j1": "u1", "j2": "u2"}, seen)
	assert.Equal(t, map[string]string{"j1": h1, "j2": h2}, handles)
}

func TestRevokeCancelsRunningTask(t *testing.T) {
	pool := NewWorkerPool(1, 1)

	started := make(chan struct{})
	finished := make(chan error, 1)
	pool.SetExecutor(func(ctx context.Context, handle, jobID, ownerID string) error {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
		return ctx.Err()
	})
	pool.Start()
	defer pool.Stop()

	handle, err := pool.Submit("j1", "u1")
	require.NoError(t, err)
	<-started

	require.NoError(t, pool.Revoke(handle))

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not cancelled")
	}

	assert.ErrorIs(t, pool.Revoke(handle), ErrUnknownHandle)
}

func TestRevokeUnknownHandle(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	assert.ErrorIs(t, pool.Revoke("nope"), ErrUnknownHandle)
}

func TestSubmitQueueFull(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	pool.SetExecutor(func(ctx context.Context, handle, jobID, ownerID string) error { return nil })

	_, err := pool.Submit("j1", "u1")
	require.NoError(t, err)

	_, err = pool.Submit("j2", "u1")
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestSubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	pool.SetExecutor(func(ctx context.Context, handle, jobID, ownerID string) error { return nil })
	pool.Start()
	pool.Stop()

	_, err := pool.Submit("j1", "u1")
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestWorkerSurvivesPanic(t *testing.T) {
	pool := NewWorkerPool(1, 2)

	done := make(chan string, 2)
	pool.SetExecutor(func(ctx context.Context, handle, jobID, ownerID string) error {
		if jobID == "boom" {
			panic("boom")
		}
		done <- jobID
		return nil
	})
	pool.Start()
	defer pool.Stop()

	_, err := pool.Submit("boom", "u1")
	require.NoError(t, err)
	_, err = pool.Submit("ok", "u1")
	require.NoError(t, err)

	select {
	case id := <-done:
		assert.Equal(t, "ok", id)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}
