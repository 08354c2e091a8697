package worker

import (
	"context"
	"errors"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no room
	ErrQueueFull = errors.New("worker queue is full")
	// ErrPoolStopped is returned by Submit after Stop
	ErrPoolStopped = errors.New("worker pool is stopped")
	// ErrUnknownHandle is returned by Revoke for handles that finished or never existed
	ErrUnknownHandle = errors.New("unknown or finished worker handle")
)

// Task is one queued job execution
type Task struct {
	Handle  string
	JobID   string
	OwnerID string

	ctx    context.Context
	cancel context.CancelFunc
}
