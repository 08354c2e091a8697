package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/studyrunner/internal/metrics"
	"github.com/dandantas/studyrunner/internal/model"
)

// sweepPageSize is the page size used to snapshot suspect jobs
const sweepPageSize = 500

// SweepReport summarizes one recovery sweep
type SweepReport struct {
	Scanned   int  `json:"scanned"`
	Recovered int  `json:"recovered"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	DryRun    bool `json:"dry_run"`
}

// RecoverySweep resubmits jobs left pending or running by a previous process
type RecoverySweep struct {
	jobs       *JobService
	users      UserStore
	dispatcher *Dispatcher
	epoch      time.Time
}

// NewRecoverySweep creates a sweep. Only jobs last updated before epoch are recovered,
// which makes repeated sweeps within one process lifetime a no-op for jobs it already handled.
func NewRecoverySweep(jobs *JobService, users UserStore, dispatcher *Dispatcher, epoch time.Time) *RecoverySweep {
	return &RecoverySweep{
		jobs:       jobs,
		users:      users,
		dispatcher: dispatcher,
		epoch:      epoch,
	}
}

// Run sweeps every suspect job. One bad job never stops the sweep.
func (s *RecoverySweep) Run(ctx context.Context, dryRun bool) (SweepReport, error) {
	report := SweepReport{DryRun: dryRun}

	suspects, err := s.snapshot(ctx)
	if err != nil {
		return report, err
	}

	slog.Info("Recovery sweep started",
		"suspect_jobs", len(suspects),
		"epoch", s.epoch.Format(time.RFC3339),
		"dry_run", dryRun,
	)

	for i := range suspects {
		job := &suspects[i]
		report.Scanned++

		if !job.UpdatedAt.Before(s.epoch) {
			report.Skipped++
			metrics.RecoveredJobs.WithLabelValues("skipped").Inc()
			continue
		}

		if reason := s.ownerProblem(ctx, job); reason != "" {
			report.Failed++
			metrics.RecoveredJobs.WithLabelValues("failed").Inc()
			if !dryRun {
				s.markFailed(ctx, job, reason)
			}
			continue
		}

		if dryRun {
			report.Recovered++
			continue
		}

		if err := s.recover(ctx, job); err != nil {
			slog.Error("Failed to recover job", "job_id", job.ID.Hex(), "error", err)
			report.Failed++
			metrics.RecoveredJobs.WithLabelValues("failed").Inc()
			s.markFailed(ctx, job, fmt.Sprintf("recovery failed: %v", err))
			continue
		}

		report.Recovered++
		metrics.RecoveredJobs.WithLabelValues("recovered").Inc()
	}

	slog.Info("Recovery sweep finished",
		"scanned", report.Scanned,
		"recovered", report.Recovered,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"dry_run", dryRun,
	)
	return report, nil
}

func (s *RecoverySweep) snapshot(ctx context.Context) ([]model.Job, error) {
	filter := model.JobFilter{Statuses: []model.JobStatus{model.JobStatusRunning, model.JobStatusPending}}

	var all []model.Job
	for page := 1; ; page++ {
		jobs, total, err := s.jobs.jobs.ListJobs(ctx, filter, page, sweepPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list suspect jobs: %w", err)
		}
		all = append(all, jobs...)
		if len(jobs) < sweepPageSize || int64(len(all)) >= total {
			return all, nil
		}
	}
}

func (s *RecoverySweep) ownerProblem(ctx context.Context, job *model.Job) string {
	user, err := s.users.GetUser(ctx, job.OwnerID)
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Sprintf("owner account %s not found", job.OwnerID.Hex())
	}
	if err != nil {
		return fmt.Sprintf("recovery failed: owner lookup: %v", err)
	}
	if !user.Active {
		return fmt.Sprintf("owner account %s is deactivated", user.Username)
	}
	return ""
}

func (s *RecoverySweep) recover(ctx context.Context, job *model.Job) error {
	reset, err := s.jobs.reset(ctx, job.ID, job.Status)
	if err != nil {
		return err
	}

	if _, err := s.dispatcher.Submit(ctx, reset, false); err != nil {
		return err
	}

	slog.Info("Job recovered", "job_id", job.ID.Hex(), "previous_status", job.Status)
	return nil
}

func (s *RecoverySweep) markFailed(ctx context.Context, job *model.Job, reason string) {
	if _, err := s.jobs.Transition(ctx, job.ID, model.JobStatusFailed, TransitionOpts{Error: reason}); err != nil {
		slog.Error("Failed to mark job failed during recovery", "job_id", job.ID.Hex(), "error", err)
		return
	}
	slog.Warn("Job failed during recovery", "job_id", job.ID.Hex(), "reason", reason)
}
