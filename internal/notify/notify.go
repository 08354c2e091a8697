// Package notify delivers terminal job summaries to user-configured sinks.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
)

// Summary is the payload sent when a job reaches a terminal status
type Summary struct {
	JobID         string          `json:"job_id"`
	OwnerID       string          `json:"owner_id"`
	Username      string          `json:"username,omitempty"`
	Status        model.JobStatus `json:"status"`
	Completed     int             `json:"completed_count"`
	Total         int             `json:"total_count"`
	FailedCourses []string        `json:"failed_courses,omitempty"`
	Message       string          `json:"message"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// NewSummary builds a summary from a terminal job
func NewSummary(job *model.Job, username string) Summary {
	s := Summary{
		JobID:         job.ID.Hex(),
		OwnerID:       job.OwnerID.Hex(),
		Username:      username,
		Status:        job.Status,
		Completed:     job.CompletedCount,
		Total:         job.TotalCount,
		FailedCourses: job.FailedCourses,
		FinishedAt:    time.Now().UTC(),
	}
	if job.EndTime != nil {
		s.FinishedAt = *job.EndTime
	}

	switch job.Status {
	case model.JobStatusCompleted:
		s.Message = fmt.Sprintf("Job %s completed: %d/%d courses", s.JobID, s.Completed, s.Total)
	case model.JobStatusFailed:
		s.Message = fmt.Sprintf("Job %s failed: %s", s.JobID, job.Error)
	default:
		s.Message = fmt.Sprintf("Job %s %s", s.JobID, job.Status)
	}
	return s
}

// Notifier sends a summary to one sink
type Notifier interface {
	Notify(ctx context.Context, settings model.NotificationSettings, summary Summary) error
}

type noop struct{}

func (noop) Notify(context.Context, model.NotificationSettings, Summary) error { return nil }

// Registry maps provider enums to notifiers
type Registry struct {
	notifiers map[model.NotifyProvider]Notifier
	enabled   bool
}

// NewRegistry builds the registry. A default provider of none disables every sink.
func NewRegistry(defaultProvider model.NotifyProvider, timeout time.Duration) *Registry {
	return &Registry{
		notifiers: map[model.NotifyProvider]Notifier{
			model.NotifyNone:    noop{},
			model.NotifyWebhook: NewWebhook(timeout),
		},
		enabled: defaultProvider != model.NotifyNone,
	}
}

// Notify routes the summary to the sink the user configured
func (r *Registry) Notify(ctx context.Context, settings model.NotificationSettings, summary Summary) error {
	if !r.enabled || settings.Provider == "" {
		return nil
	}

	n, ok := r.notifiers[settings.Provider]
	if !ok {
		return fmt.Errorf("%w: unknown notification provider %q", model.ErrValidation, settings.Provider)
	}
	return n.Notify(ctx, settings, summary)
}
