package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobStatus is the lifecycle state of a Job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ActiveJobStatuses are the statuses counted against a user's concurrency ceiling
var ActiveJobStatuses = []JobStatus{JobStatusPending, JobStatusRunning}

// validTransitions lists the statuses reachable from each status.
// Terminal statuses only allow self-transitions; the retry path resets them separately.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:   {JobStatusPending, JobStatusRunning, JobStatusPaused, JobStatusFailed, JobStatusCancelled},
	JobStatusRunning:   {JobStatusPending, JobStatusRunning, JobStatusPaused, JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusPaused:    {JobStatusPending, JobStatusRunning, JobStatusPaused, JobStatusFailed, JobStatusCancelled},
	JobStatusCompleted: {JobStatusCompleted},
	JobStatusFailed:    {JobStatusFailed},
	JobStatusCancelled: {JobStatusCancelled},
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether s is completed, failed or cancelled
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state table allows moving from s to next
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition when the move is not allowed
func CheckTransition(from, to JobStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

var courseIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// JobScope selects the courses a Job works on
type JobScope struct {
	All       bool     `json:"all" bson:"all"`
	CourseIDs []string `json:"course_ids,omitempty" bson:"course_ids,omitempty"`
}

// Validate validates the scope
func (s *JobScope) Validate() error {
	if s.All {
		if len(s.CourseIDs) > 0 {
			return fmt.Errorf("%w: course_ids must be empty when all is set", ErrValidation)
		}
		return nil
	}

	if len(s.CourseIDs) == 0 {
		return fmt.Errorf("%w: course_ids is required unless all is set", ErrValidation)
	}

	seen := make(map[string]bool, len(s.CourseIDs))
	for _, id := range s.CourseIDs {
		if !courseIDPattern.MatchString(id) {
			return fmt.Errorf("%w: malformed course id %q", ErrValidation, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate course id %q", ErrValidation, id)
		}
		seen[id] = true
	}

	return nil
}

// Includes reports whether the course id is in scope
func (s *JobScope) Includes(courseID string) bool {
	if s.All {
		return true
	}
	for _, id := range s.CourseIDs {
		if id == courseID {
			return true
		}
	}
	return false
}

// Job is one learning-automation run for one user
type Job struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	OwnerID        primitive.ObjectID `json:"owner_id" bson:"owner_id"`
	Scope          JobScope           `json:"scope" bson:"scope"`
	Status         JobStatus          `json:"status" bson:"status"`
	Progress       int                `json:"progress" bson:"progress"`
	CurrentItem    string             `json:"current_item,omitempty" bson:"current_item,omitempty"`
	WorkerHandle   string             `json:"worker_handle,omitempty" bson:"worker_handle,omitempty"`
	CompletedCount int                `json:"completed_count" bson:"completed_count"`
	TotalCount     int                `json:"total_count" bson:"total_count"`
	FailedCourses  []string           `json:"failed_courses,omitempty" bson:"failed_courses,omitempty"`
	Error          string             `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" bson:"updated_at"`
	StartTime      *time.Time         `json:"start_time,omitempty" bson:"start_time,omitempty"`
	EndTime        *time.Time         `json:"end_time,omitempty" bson:"end_time,omitempty"`
}

// NewJob builds a pending job for owner
func NewJob(ownerID primitive.ObjectID, scope JobScope) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        primitive.NewObjectID(),
		OwnerID:   ownerID,
		Scope:     scope,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CheckInvariants verifies the record-level invariants of a job snapshot
func (j *Job) CheckInvariants() error {
	var errs []error
	if !j.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown status %q", j.Status))
	}
	if j.CompletedCount > j.TotalCount {
		errs = append(errs, fmt.Errorf("completed_count %d exceeds total_count %d", j.CompletedCount, j.TotalCount))
	}
	if j.Progress < 0 || j.Progress > 100 {
		errs = append(errs, fmt.Errorf("progress %d out of range", j.Progress))
	}
	if (j.WorkerHandle != "") != (j.Status == JobStatusRunning) {
		errs = append(errs, fmt.Errorf("worker_handle %q inconsistent with status %s", j.WorkerHandle, j.Status))
	}
	if (j.EndTime != nil) != j.Status.IsTerminal() {
		errs = append(errs, fmt.Errorf("end_time inconsistent with status %s", j.Status))
	}
	return errors.Join(errs...)
}

// JobPatch is a partial update of a job. Nil fields are left unchanged.
type JobPatch struct {
	Status         *JobStatus
	Progress       *int
	CurrentItem    *string
	WorkerHandle   *string
	CompletedCount *int
	TotalCount     *int
	FailedCourses  *[]string
	Error          *string
	Scope          *JobScope
	StartTime      *time.Time
	ClearStartTime bool
	EndTime        *time.Time
	ClearEndTime   bool

	// ExpectHandle is a precondition, not a change: the update only applies
	// while the stored worker handle equals it
	ExpectHandle *string
}

// HandleMatches reports whether j satisfies the patch's handle precondition
func (p JobPatch) HandleMatches(j *Job) bool {
	return p.ExpectHandle == nil || j.WorkerHandle == *p.ExpectHandle
}

// Apply applies the patch to j and bumps UpdatedAt
func (p JobPatch) Apply(j *Job) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Progress != nil {
		j.Progress = *p.Progress
	}
	if p.CurrentItem != nil {
		j.CurrentItem = *p.CurrentItem
	}
	if p.WorkerHandle != nil {
		j.WorkerHandle = *p.WorkerHandle
	}
	if p.CompletedCount != nil {
		j.CompletedCount = *p.CompletedCount
	}
	if p.TotalCount != nil {
		j.TotalCount = *p.TotalCount
	}
	if p.FailedCourses != nil {
		j.FailedCourses = append([]string(nil), (*p.FailedCourses)...)
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	if p.Scope != nil {
		j.Scope = *p.Scope
	}
	if p.ClearStartTime {
		j.StartTime = nil
	} else if p.StartTime != nil {
		t := *p.StartTime
		j.StartTime = &t
	}
	if p.ClearEndTime {
		j.EndTime = nil
	} else if p.EndTime != nil {
		t := *p.EndTime
		j.EndTime = &t
	}
	j.UpdatedAt = time.Now().UTC()
}

// JobFilter narrows job listings
type JobFilter struct {
	OwnerID       *primitive.ObjectID
	Statuses      []JobStatus
	UpdatedBefore *time.Time
}

// Matches reports whether job satisfies the filter
func (f JobFilter) Matches(job *Job) bool {
	if f.OwnerID != nil && job.OwnerID != *f.OwnerID {
		return false
	}
	if f.UpdatedBefore != nil && !job.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if job.Status == s {
			return true
		}
	}
	return false
}

// JobListItem represents a job in list responses
type JobListItem struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"`
	CompletedCount int       `json:"completed_count"`
	TotalCount     int       `json:"total_count"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      string    `json:"created_at"`
}

// ToListItem converts Job to JobListItem
func (j *Job) ToListItem() JobListItem {
	return JobListItem{
		ID:             j.ID.Hex(),
		OwnerID:        j.OwnerID.Hex(),
		Status:         j.Status,
		Progress:       j.Progress,
		CompletedCount: j.CompletedCount,
		TotalCount:     j.TotalCount,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt.Format(time.RFC3339),
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
