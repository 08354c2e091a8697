package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusPending, JobStatusRunning, true},
		{JobStatusRunning, JobStatusPaused, true},
		{JobStatusRunning, JobStatusCompleted, true},
		{JobStatusPaused, JobStatusRunning, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusCompleted, JobStatusRunning, false},
		{JobStatusFailed, JobStatusPending, false},
		{JobStatusCancelled, JobStatusPaused, false},
		{JobStatusCompleted, JobStatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CheckTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestCheckTransitionUnknownStatus(t *testing.T) {
	err := CheckTransition(JobStatusPending, JobStatus("sleeping"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTerminalStatusesNeverLeave(t *testing.T) {
	all := []JobStatus{JobStatusPending, JobStatusRunning, JobStatusPaused, JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if to.IsTerminal() {
				continue
			}
			assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestJobScopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		scope   JobScope
		wantErr bool
	}{
		{"all", JobScope{All: true}, false},
		{"explicit ids", JobScope{CourseIDs: []string{"c-1", "c_2"}}, false},
		{"empty", JobScope{}, true},
		{"all with ids", JobScope{All: true, CourseIDs: []string{"c1"}}, true},
		{"malformed id", JobScope{CourseIDs: []string{"c 1"}}, true},
		{"duplicate id", JobScope{CourseIDs: []string{"c1", "c1"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestJobInvariants(t *testing.T) {
	job := NewJob(primitive.NewObjectID(), JobScope{All: true})
	require.NoError(t, job.CheckInvariants())

	job.WorkerHandle = "h-1"
	assert.Error(t, job.CheckInvariants(), "handle without running status")

	job.Status = JobStatusRunning
	assert.NoError(t, job.CheckInvariants())

	job.CompletedCount, job.TotalCount = 3, 2
	assert.Error(t, job.CheckInvariants())
}

func TestJobPatchApply(t *testing.T) {
	job := NewJob(primitive.NewObjectID(), JobScope{All: true})
	start := time.Now().UTC()

	JobPatch{
		Status:       Ptr(JobStatusRunning),
		WorkerHandle: Ptr("h-1"),
		StartTime:    &start,
		Progress:     Ptr(40),
	}.Apply(job)

	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, "h-1", job.WorkerHandle)
	assert.Equal(t, 40, job.Progress)
	require.NotNil(t, job.StartTime)

	JobPatch{ClearStartTime: true, StartTime: &start}.Apply(job)
	assert.Nil(t, job.StartTime)
}

func TestUserSettingsValidate(t *testing.T) {
	s := UserSettings{}
	require.NoError(t, s.Validate())
	assert.Equal(t, NotOpenRetry, s.NotOpenAction)
	assert.Equal(t, 1.0, s.Speed)

	s = UserSettings{NotOpenAction: "sometimes"}
	assert.ErrorIs(t, s.Validate(), ErrValidation)

	s = UserSettings{Oracle: OracleSettings{Provider: OracleHTTP}}
	assert.ErrorIs(t, s.Validate(), ErrValidation)

	s = UserSettings{Speed: 3}
	assert.ErrorIs(t, s.Validate(), ErrValidation)

	s = UserSettings{Notification: NotificationSettings{
		Provider:    NotifyWebhook,
		URL:         "https://hooks.example.com/jobs",
		RetryConfig: RetryConfig{MaxAttempts: 50},
	}}
	assert.ErrorIs(t, s.Validate(), ErrValidation)

	s.Notification.RetryConfig = RetryConfig{}
	require.NoError(t, s.Validate())
	assert.Equal(t, 3, s.Notification.RetryConfig.MaxAttempts)
}

func TestClampLogLimit(t *testing.T) {
	assert.Equal(t, DefaultLogLimit, ClampLogLimit(0))
	assert.Equal(t, 10, ClampLogLimit(10))
	assert.Equal(t, MaxLogLimit, ClampLogLimit(5000))
}
