package service

import (
	"context"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobStore persists job records. UpdateJob is compare-and-set on status when expected is non-empty.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id primitive.ObjectID) (*model.Job, error)
	ListJobs(ctx context.Context, filter model.JobFilter, page, limit int) ([]model.Job, int64, error)
	CountJobs(ctx context.Context, filter model.JobFilter) (int64, error)
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int64, error)
	UpdateJob(ctx context.Context, id primitive.ObjectID, expected model.JobStatus, patch model.JobPatch) (*model.Job, error)
	DeleteJob(ctx context.Context, id primitive.ObjectID) error
}

// LogStore persists the append-only job log
type LogStore interface {
	AppendLog(ctx context.Context, entry *model.JobLogEntry) error
	ListLogs(ctx context.Context, jobID primitive.ObjectID, limit int) ([]model.JobLogEntry, error)
	DeleteLogs(ctx context.Context, jobID primitive.ObjectID) (int64, error)
}

// UserStore persists users
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id primitive.ObjectID) (*model.User, error)
	ListUsers(ctx context.Context, page, limit int) ([]model.User, int64, error)
	UpdateUser(ctx context.Context, user *model.User) error
}

// LockStore holds the per-owner admission locks
type LockStore interface {
	AcquireLock(ctx context.Context, ownerID primitive.ObjectID, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, ownerID primitive.ObjectID, holder string) error
	ReleaseInstanceLocks(ctx context.Context, instanceID string) error
	CleanExpiredLocks(ctx context.Context) (int64, error)
}

// Store is the full persistence surface. Both the MongoDB repositories and the memory store satisfy it.
type Store interface {
	JobStore
	LogStore
	UserStore
	LockStore
	Ping(ctx context.Context) error
}

// Caller identifies who issues an API operation
type Caller struct {
	UserID primitive.ObjectID
	Admin  bool
}

// owns reports whether the caller may act on a job of owner
func (c Caller) owns(owner primitive.ObjectID) bool {
	return c.Admin || (!c.UserID.IsZero() && c.UserID == owner)
}
