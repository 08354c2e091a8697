// Package scheduler runs periodic maintenance: expired admission lock cleanup
// and the job-status gauge refresh.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dandantas/studyrunner/internal/metrics"
	"github.com/dandantas/studyrunner/internal/model"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// LockStore is the admission lock maintenance surface
type LockStore interface {
	CleanExpiredLocks(ctx context.Context) (int64, error)
	ReleaseInstanceLocks(ctx context.Context, instanceID string) error
}

// StatusCounter reports job counts per status
type StatusCounter interface {
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int64, error)
}

// Config holds the schedules, in robfig/cron syntax ("@every 1m", "*/5 * * * *")
type Config struct {
	Enabled      bool
	LockCleanup  string
	MetricsSweep string
	// TaskTimeout bounds a single maintenance run
	TaskTimeout time.Duration
}

// Scheduler runs maintenance tasks on this instance
type Scheduler struct {
	cfg        Config
	locks      LockStore
	jobs       StatusCounter
	instanceID string
	cron       *cron.Cron
}

// InstanceID identifies this process: the hostname (pod name in Kubernetes), or a UUID
func InstanceID() string {
	podID, err := os.Hostname()
	if err != nil || podID == "" {
		podID = uuid.New().String()
		slog.Warn("Failed to get hostname, using UUID as instance ID", "instance_id", podID)
	}
	return podID
}

// NewScheduler creates a new scheduler instance. Invalid schedules fail here.
func NewScheduler(cfg Config, locks LockStore, jobs StatusCounter, instanceID string) (*Scheduler, error) {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}

	s := &Scheduler{
		cfg:        cfg,
		locks:      locks,
		jobs:       jobs,
		instanceID: instanceID,
		cron:       cron.New(cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{}))),
	}

	if _, err := s.cron.AddFunc(cfg.LockCleanup, s.cleanLocks); err != nil {
		return nil, fmt.Errorf("invalid lock cleanup schedule %q: %w", cfg.LockCleanup, err)
	}
	if _, err := s.cron.AddFunc(cfg.MetricsSweep, s.refreshJobCounts); err != nil {
		return nil, fmt.Errorf("invalid metrics schedule %q: %w", cfg.MetricsSweep, err)
	}
	return s, nil
}

// Start begins running the schedules
func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		slog.Info("Scheduler is disabled by configuration")
		return
	}

	slog.Info("Starting scheduler",
		"instance_id", s.instanceID,
		"lock_cleanup", s.cfg.LockCleanup,
		"metrics_sweep", s.cfg.MetricsSweep,
	)

	s.refreshJobCounts()
	s.cron.Start()
}

// Stop waits for running tasks, bounded by ctx, and releases this instance's admission locks
func (s *Scheduler) Stop(ctx context.Context) {
	slog.Info("Stopping scheduler", "instance_id", s.instanceID)

	if s.cfg.Enabled {
		select {
		case <-s.cron.Stop().Done():
			slog.Info("All scheduled tasks completed")
		case <-ctx.Done():
			slog.Warn("Timeout waiting for scheduled tasks to complete")
		}
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.locks.ReleaseInstanceLocks(releaseCtx, s.instanceID); err != nil {
		slog.Error("Failed to release locks during shutdown", "error", err)
	}

	slog.Info("Scheduler stopped", "instance_id", s.instanceID)
}

func (s *Scheduler) cleanLocks() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
	defer cancel()

	cleaned, err := s.locks.CleanExpiredLocks(ctx)
	if err != nil {
		slog.Error("Failed to clean expired locks", "error", err)
		return
	}
	if cleaned > 0 {
		metrics.ExpiredLocks.Add(float64(cleaned))
		slog.Info("Cleaned expired locks", "count", cleaned)
	}
}

func (s *Scheduler) refreshJobCounts() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
	defer cancel()

	counts, err := s.jobs.CountJobsByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count jobs by status", "error", err)
		return
	}
	metrics.SetJobCounts(counts)
	slog.Debug("Refreshed job status gauges", "counts", counts)
}

// cronLogger routes robfig/cron's internal logging to slog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
