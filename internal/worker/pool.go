// Package worker runs job executions on a bounded pool of goroutines.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ExecutorFunc runs one job to completion. handle is the task's own handle, as
// returned by Submit. ctx is cancelled when the task is revoked.
type ExecutorFunc func(ctx context.Context, handle, jobID, ownerID string) error

// WorkerPool manages a pool of worker goroutines. Each task occupies one worker for its lifetime.
type WorkerPool struct {
	workers    int
	tasks      chan *Task
	executorFn ExecutorFunc
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	mu      sync.Mutex
	handles map[string]*Task
	running int
	stopped bool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers int, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers: workers,
		tasks:   make(chan *Task, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]*Task),
	}
}

// SetExecutor sets the function that will process tasks
func (wp *WorkerPool) SetExecutor(fn ExecutorFunc) {
	wp.executorFn = fn
}

// Start starts the worker goroutines
func (wp *WorkerPool) Start() {
	slog.Info("Starting worker pool", "workers", wp.workers)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels in-flight tasks and waits for the workers to return.
// Jobs interrupted this way stay running in the store and are picked up by the next recovery sweep.
func (wp *WorkerPool) Stop() {
	slog.Info("Stopping worker pool")

	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.tasks)
	wp.mu.Unlock()

	wp.cancel()
	wp.wg.Wait()

	slog.Info("Worker pool stopped")
}

// Submit queues a job and returns the handle that identifies the task
func (wp *WorkerPool) Submit(jobID, ownerID string) (string, error) {
	ctx, cancel := context.WithCancel(wp.ctx)
	task := &Task{
		Handle:  uuid.NewString(),
		JobID:   jobID,
		OwnerID: ownerID,
		ctx:     ctx,
		cancel:  cancel,
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.stopped {
		cancel()
		return "", ErrPoolStopped
	}

	select {
	case wp.tasks <- task:
		wp.handles[task.Handle] = task
		slog.Debug("Task submitted to worker pool",
			"job_id", jobID,
			"owner_id", ownerID,
			"worker_handle", task.Handle,
		)
		return task.Handle, nil
	default:
		cancel()
		return "", ErrQueueFull
	}
}

// Revoke cancels the task's context. Queued tasks are dropped when a worker picks them up.
func (wp *WorkerPool) Revoke(handle string) error {
	wp.mu.Lock()
	task, ok := wp.handles[handle]
	if ok {
		delete(wp.handles, handle)
	}
	wp.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}

	task.cancel()
	slog.Debug("Task revoked", "job_id", task.JobID, "worker_handle", handle)
	return nil
}

// worker is the worker goroutine that processes tasks
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	slog.Debug("Worker started", "worker_id", id)

	for task := range wp.tasks {
		if task.ctx.Err() != nil {
			slog.Debug("Skipping revoked task", "worker_id", id, "job_id", task.JobID)
			wp.finish(task)
			continue
		}

		wp.run(id, task)
	}

	slog.Debug("Worker stopped", "worker_id", id)
}

func (wp *WorkerPool) run(id int, task *Task) {
	wp.mu.Lock()
	wp.running++
	wp.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Worker recovered from panic",
				"worker_id", id,
				"job_id", task.JobID,
				"panic", r,
			)
		}
		wp.mu.Lock()
		wp.running--
		wp.mu.Unlock()
		wp.finish(task)
	}()

	slog.Debug("Worker processing task",
		"worker_id", id,
		"job_id", task.JobID,
		"worker_handle", task.Handle,
	)

	if err := wp.executorFn(task.ctx, task.Handle, task.JobID, task.OwnerID); err != nil {
		slog.Error("Task failed",
			"worker_id", id,
			"job_id", task.JobID,
			"error", err,
		)
	}
}

func (wp *WorkerPool) finish(task *Task) {
	task.cancel()
	wp.mu.Lock()
	if current, ok := wp.handles[task.Handle]; ok && current == task {
		delete(wp.handles, task.Handle)
	}
	wp.mu.Unlock()
}

// QueueLength returns the current number of queued tasks
func (wp *WorkerPool) QueueLength() int {
	return len(wp.tasks)
}

// Running returns the number of tasks currently executing
func (wp *WorkerPool) Running() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.running
}
