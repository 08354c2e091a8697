// Package traversal walks a course's chapters and drives the unit executor.
package traversal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/platform"
)

// StepBudgetFactor bounds the chapters visited per course to len(chapters)*StepBudgetFactor
const StepBudgetFactor = 9

var (
	// ErrOracleUnavailable aborts a course whose not-open policy is retry without a usable oracle
	ErrOracleUnavailable = errors.New("chapter not open and no submit-enabled answer oracle is configured")
	// ErrTraversalBudget aborts a course that keeps stepping back and forth
	ErrTraversalBudget = errors.New("traversal step budget exhausted")
)

// Outcome is how a course run ended
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeStopped   Outcome = "stopped"
)

// CourseResult summarizes one course run
type CourseResult struct {
	Outcome     Outcome
	FailedUnits int
	Rollbacks   int
	Err         error
}

// UnitRunner executes one unit and reports success
type UnitRunner interface {
	Execute(ctx context.Context, course model.Course, chapterID string, unit model.Unit, onProgress platform.ProgressFunc) bool
}

// StatusCheck reports whether the job was paused or cancelled and the run must stop
type StatusCheck func(ctx context.Context) bool

// Emitter receives structured progress. Percent is local to the course (0-100).
type Emitter func(level model.LogLevel, message string, event *model.ProgressEvent)

// Options configure an Engine
type Options struct {
	Policy      model.NotOpenAction
	OracleReady bool
	ShouldStop  StatusCheck
	Emit        Emitter
	Logger      *slog.Logger
}

// Engine runs the chapter loop for one job. Not safe for concurrent use.
type Engine struct {
	adapter platform.Adapter
	units   UnitRunner
	opts    Options
}

// New creates an engine
func New(adapter platform.Adapter, units UnitRunner, opts Options) *Engine {
	if opts.Policy == "" {
		opts.Policy = model.NotOpenRetry
	}
	if opts.ShouldStop == nil {
		opts.ShouldStop = func(context.Context) bool { return false }
	}
	if opts.Emit == nil {
		opts.Emit = func(model.LogLevel, string, *model.ProgressEvent) {}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{adapter: adapter, units: units, opts: opts}
}

// run holds per-course state
type run struct {
	course      model.Course
	chapters    []model.Chapter
	rollback    RollbackCounter
	autoSkip    bool
	failedUnits int
	rollbacks   int
}

// RunCourse fetches the course's chapters and walks them in order
func (e *Engine) RunCourse(ctx context.Context, course model.Course) CourseResult {
	chapters, err := e.adapter.FetchChapters(ctx, course)
	if err != nil {
		e.opts.Emit(model.LogLevelError, fmt.Sprintf("Failed to fetch chapters of %s: %v", courseLabel(course), err), nil)
		return CourseResult{Outcome: OutcomeAborted, Err: fmt.Errorf("failed to fetch chapters: %w", err)}
	}
	if len(chapters) == 0 {
		e.opts.Emit(model.LogLevelWarning, fmt.Sprintf("Course %s has no chapters", courseLabel(course)), nil)
		return CourseResult{Outcome: OutcomeCompleted}
	}
	return e.Walk(ctx, course, chapters)
}

// Walk runs the chapter loop over an already fetched chapter list
func (e *Engine) Walk(ctx context.Context, course model.Course, chapters []model.Chapter) CourseResult {
	r := &run{course: course, chapters: chapters}
	total := len(chapters)
	budget := total * StepBudgetFactor

	e.opts.Emit(model.LogLevelInfo, fmt.Sprintf("Course %s has %d chapters", courseLabel(course), total), nil)

	index, visited := 0, 0
	for index < total {
		if e.stopped(ctx) {
			return r.result(OutcomeStopped, nil)
		}

		visited++
		if visited > budget {
			err := fmt.Errorf("%w: %d chapters visited", ErrTraversalBudget, visited-1)
			e.opts.Emit(model.LogLevelError, fmt.Sprintf("Course %s aborted: %v", courseLabel(course), err), nil)
			return r.result(OutcomeAborted, err)
		}

		e.opts.Emit(model.LogLevelInfo, fmt.Sprintf("Chapter %d/%d: %s", index+1, total, chapters[index].Title), &model.ProgressEvent{
			Percent: index * 100 / total,
			Item:    chapters[index].Title,
			Detail:  map[string]string{"chapter": fmt.Sprintf("%d/%d", index+1, total)},
		})

		step, err := e.processChapter(ctx, r, index)
		if err != nil {
			e.opts.Emit(model.LogLevelError, fmt.Sprintf("Course %s aborted: %v", courseLabel(course), err), nil)
			return r.result(OutcomeAborted, err)
		}

		if e.stopped(ctx) {
			return r.result(OutcomeStopped, nil)
		}

		index += step
		if index < 0 {
			index = 0
		}
	}

	e.opts.Emit(model.LogLevelInfo, fmt.Sprintf("Course %s finished", courseLabel(course)), &model.ProgressEvent{Percent: 100})
	return r.result(OutcomeCompleted, nil)
}

// processChapter returns the index step: +1 to continue, -1 to retry the previous chapter
func (e *Engine) processChapter(ctx context.Context, r *run, index int) (int, error) {
	chapter := r.chapters[index]

	if chapter.Finished {
		e.opts.Emit(model.LogLevelInfo, fmt.Sprintf("Chapter %s already finished", chapter.Title), nil)
		return 1, nil
	}

	units, meta, err := e.adapter.FetchChapterUnits(ctx, r.course, chapter.ID)
	if err != nil {
		e.opts.Emit(model.LogLevelError, fmt.Sprintf("Failed to fetch units of chapter %s: %v", chapter.Title, err), nil)
		return 1, nil
	}

	if meta.NotOpen {
		return e.handleNotOpen(r, chapter, index)
	}

	r.autoSkip = false
	r.rollback.NewChapter(chapter.ID, index)

	if len(units) == 0 {
		if r.rollback.Count() > 0 {
			e.opts.Logger.Debug("Empty chapter while rolling back, touching empty page",
				"course_id", r.course.ID,
				"chapter_id", chapter.ID,
			)
			if !e.units.Execute(ctx, r.course, chapter.ID, model.Unit{ID: chapter.ID, Type: model.UnitEmptyPage}, nil) {
				r.failedUnits++
			}
		}
		return 1, nil
	}

	for i, unit := range units {
		if i > 0 && e.stopped(ctx) {
			break
		}

		e.opts.Emit(model.LogLevelInfo, fmt.Sprintf("Unit %s (%s)", unit.Label(), unit.Type), nil)
		if !e.units.Execute(ctx, r.course, chapter.ID, unit, e.mediaProgress(index, len(r.chapters), unit)) {
			r.failedUnits++
			e.opts.Emit(model.LogLevelWarning, fmt.Sprintf("Unit %s failed, skipped", unit.Label()), nil)
		}
	}
	return 1, nil
}

func (e *Engine) handleNotOpen(r *run, chapter model.Chapter, index int) (int, error) {
	switch e.opts.Policy {
	case model.NotOpenRetry:
		if !e.opts.OracleReady {
			e.opts.Emit(model.LogLevelError, fmt.Sprintf("Chapter %s is not open; finish the previous chapter manually or configure a submit-enabled answer oracle", chapter.Title), nil)
			return 0, ErrOracleUnavailable
		}
		if err := r.rollback.Add(chapter.ID, index); err != nil {
			return 0, err
		}
		r.rollbacks++
		e.opts.Emit(model.LogLevelWarning, fmt.Sprintf("Chapter %s is not open, retrying previous chapter (%d/%d)", chapter.Title, r.rollback.Count(), MaxRollbacks), nil)
		return -1, nil

	case model.NotOpenAsk:
		if !r.autoSkip {
			e.opts.Emit(model.LogLevelWarning, fmt.Sprintf("Chapter %s is not open", chapter.Title), nil)
			e.opts.Emit(model.LogLevelInfo, "Skipping not-open chapters for the rest of this run", nil)
			r.autoSkip = true
		} else {
			e.opts.Emit(model.LogLevelInfo, fmt.Sprintf("Chapter %s is not open, skipped", chapter.Title), nil)
		}
		return 1, nil

	default:
		e.opts.Emit(model.LogLevelInfo, fmt.Sprintf("Chapter %s is not open, skipped", chapter.Title), nil)
		return 1, nil
	}
}

func (e *Engine) mediaProgress(index, total int, unit model.Unit) platform.ProgressFunc {
	if unit.Type != model.UnitVideo && unit.Type != model.UnitAudio {
		return nil
	}

	return func(p platform.MediaProgress) {
		itemPercent := 0
		if p.Total > 0 {
			itemPercent = p.Elapsed * 100 / p.Total
		}
		elapsed, mediaTotal := p.Elapsed, p.Total
		e.opts.Emit(model.LogLevelDebug, fmt.Sprintf("%s %d/%ds", unit.Label(), p.Elapsed, p.Total), &model.ProgressEvent{
			Percent:     index * 100 / total,
			Item:        unit.Label(),
			ItemPercent: &itemPercent,
			Elapsed:     &elapsed,
			Total:       &mediaTotal,
		})
	}
}

func (e *Engine) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return e.opts.ShouldStop(ctx)
}

func (r *run) result(outcome Outcome, err error) CourseResult {
	return CourseResult{
		Outcome:     outcome,
		FailedUnits: r.failedUnits,
		Rollbacks:   r.rollbacks,
		Err:         err,
	}
}

func courseLabel(c model.Course) string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}
