// Package memory is an in-process store with the same contracts as the MongoDB
// repositories. It backs STORE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type lock struct {
	holder    string
	expiresAt time.Time
}

// Store holds jobs, logs, users and admission locks in memory
type Store struct {
	mu    sync.RWMutex
	jobs  map[primitive.ObjectID]*model.Job
	logs  map[primitive.ObjectID][]model.JobLogEntry
	users map[primitive.ObjectID]*model.User
	locks map[primitive.ObjectID]lock
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		jobs:  make(map[primitive.ObjectID]*model.Job),
		logs:  make(map[primitive.ObjectID][]model.JobLogEntry),
		users: make(map[primitive.ObjectID]*model.User),
		locks: make(map[primitive.ObjectID]lock),
	}
}

// CreateJob inserts a new job
func (s *Store) CreateJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID.Hex(), model.ErrConflict)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(_ context.Context, id primitive.ObjectID) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id.Hex(), model.ErrNotFound)
	}
	return cloneJob(job), nil
}

// ListJobs retrieves jobs with filtering and pagination, newest first
func (s *Store) ListJobs(_ context.Context, filter model.JobFilter, page, limit int) ([]model.Job, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]model.Job, 0)
	for _, job := range s.jobs {
		if filter.Matches(job) {
			matched = append(matched, *cloneJob(job))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.Hex() > matched[j].ID.Hex()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (page - 1) * limit
	if start < 0 || start >= len(matched) {
		return []model.Job{}, total, nil
	}
	end := start + limit
	if end > len(matched) || limit <= 0 {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// CountJobs counts jobs matching the filter
func (s *Store) CountJobs(_ context.Context, filter model.JobFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, job := range s.jobs {
		if filter.Matches(job) {
			count++
		}
	}
	return count, nil
}

// CountJobsByStatus returns the number of jobs per status
func (s *Store) CountJobsByStatus(_ context.Context) (map[model.JobStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[model.JobStatus]int64)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// UpdateJob applies patch, optionally only while the job is in the expected status
func (s *Store) UpdateJob(_ context.Context, id primitive.ObjectID, expected model.JobStatus, patch model.JobPatch) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id.Hex(), model.ErrNotFound)
	}
	if expected != "" && job.Status != expected {
		return nil, fmt.Errorf("job %s is no longer %s: %w", id.Hex(), expected, model.ErrConflict)
	}
	if !patch.HandleMatches(job) {
		return nil, fmt.Errorf("job %s is owned by worker %q: %w", id.Hex(), job.WorkerHandle, model.ErrConflict)
	}
	patch.Apply(job)
	return cloneJob(job), nil
}

// DeleteJob deletes a job
func (s *Store) DeleteJob(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("job %s: %w", id.Hex(), model.ErrNotFound)
	}
	delete(s.jobs, id)
	return nil
}

// AppendLog appends a log entry
func (s *Store) AppendLog(_ context.Context, entry *model.JobLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.logs[entry.JobID] = append(s.logs[entry.JobID], *entry)
	return nil
}

// ListLogs returns the latest entries of a job, newest first
func (s *Store) ListLogs(_ context.Context, jobID primitive.ObjectID, limit int) ([]model.JobLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.logs[jobID]
	limit = model.ClampLogLimit(limit)

	// entries are stored in append order
	out := make([]model.JobLogEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// DeleteLogs removes every entry of a job
func (s *Store) DeleteLogs(_ context.Context, jobID primitive.ObjectID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.logs[jobID]))
	delete(s.logs, jobID)
	return n, nil
}

// CreateUser inserts a new user
func (s *Store) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username {
			return fmt.Errorf("username %q already exists: %w", user.Username, model.ErrConflict)
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	u := *user
	s.users[user.ID] = &u
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(_ context.Context, id primitive.ObjectID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id.Hex(), model.ErrNotFound)
	}
	u := *user
	return &u, nil
}

// ListUsers retrieves users with pagination, newest first
func (s *Store) ListUsers(_ context.Context, page, limit int) ([]model.User, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })

	total := int64(len(users))
	start := (page - 1) * limit
	if start < 0 || start >= len(users) {
		return []model.User{}, total, nil
	}
	end := min(start+limit, len(users))
	return users[start:end], total, nil
}

// UpdateUser replaces the mutable parts of a user
func (s *Store) UpdateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return fmt.Errorf("user %s: %w", user.ID.Hex(), model.ErrNotFound)
	}
	user.UpdatedAt = time.Now().UTC()
	existing.Active = user.Active
	existing.Settings = user.Settings
	existing.Account = user.Account
	existing.UpdatedAt = user.UpdatedAt
	return nil
}

// AcquireLock takes the admission lock for owner unless a live lock exists
func (s *Store) AcquireLock(_ context.Context, ownerID primitive.ObjectID, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if current, ok := s.locks[ownerID]; ok && current.expiresAt.After(now) {
		return false, nil
	}
	s.locks[ownerID] = lock{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLock releases the lock if holder owns it
func (s *Store) ReleaseLock(_ context.Context, ownerID primitive.ObjectID, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.locks[ownerID]; ok && current.holder == holder {
		delete(s.locks, ownerID)
	}
	return nil
}

// ReleaseInstanceLocks releases every lock whose holder starts with the instance prefix
func (s *Store) ReleaseInstanceLocks(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for owner, current := range s.locks {
		if strings.HasPrefix(current.holder, instanceID+"/") {
			delete(s.locks, owner)
		}
	}
	return nil
}

// CleanExpiredLocks removes expired locks
func (s *Store) CleanExpiredLocks(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := time.Now()
	for owner, current := range s.locks {
		if !current.expiresAt.After(now) {
			delete(s.locks, owner)
			n++
		}
	}
	return n, nil
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error {
	return nil
}

func cloneJob(job *model.Job) *model.Job {
	c := *job
	if job.FailedCourses != nil {
		c.FailedCourses = append([]string(nil), job.FailedCourses...)
	}
	if job.Scope.CourseIDs != nil {
		c.Scope.CourseIDs = append([]string(nil), job.Scope.CourseIDs...)
	}
	if job.StartTime != nil {
		t := *job.StartTime
		c.StartTime = &t
	}
	if job.EndTime != nil {
		t := *job.EndTime
		c.EndTime = &t
	}
	return &c
}
