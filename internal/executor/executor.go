// Package executor runs a single traversal unit against the remote platform.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/oracle"
	"github.com/dandantas/studyrunner/internal/platform"
)

// Executor dispatches on unit type. It has no retry policy of its own; the
// HTTP adapter retries transient failures per call.
type Executor struct {
	adapter platform.Adapter
	oracle  oracle.Oracle
	logger  *slog.Logger
}

// New creates an executor. o may be nil when no oracle is configured.
func New(adapter platform.Adapter, o oracle.Oracle, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{adapter: adapter, oracle: o, logger: logger}
}

// Execute performs the unit and reports success. It never returns an error or
// panics; failures are logged and reported as false.
func (e *Executor) Execute(ctx context.Context, course model.Course, chapterID string, unit model.Unit, onProgress platform.ProgressFunc) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Unit execution panicked",
				"course_id", course.ID,
				"chapter_id", chapterID,
				"unit_id", unit.ID,
				"unit_type", unit.Type,
				"panic", r,
			)
			ok = false
		}
	}()

	err := e.execute(ctx, course, chapterID, unit, onProgress)
	if err != nil {
		e.logger.Warn("Unit execution failed",
			"course_id", course.ID,
			"chapter_id", chapterID,
			"unit_id", unit.ID,
			"unit_type", unit.Type,
			"error", err,
		)
		return false
	}
	return true
}

func (e *Executor) execute(ctx context.Context, course model.Course, chapterID string, unit model.Unit, onProgress platform.ProgressFunc) error {
	switch unit.Type {
	case model.UnitVideo:
		err := e.adapter.ExecuteUnit(ctx, course, chapterID, unit, model.UnitVideo, onProgress)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		e.logger.Info("Video playback failed, retrying as audio",
			"course_id", course.ID,
			"unit_id", unit.ID,
			"wrong_media_type", errors.Is(err, platform.ErrWrongMediaType),
			"error", err,
		)
		return e.adapter.ExecuteUnit(ctx, course, chapterID, unit, model.UnitAudio, onProgress)

	case model.UnitAudio, model.UnitDocument, model.UnitEmptyPage:
		return e.adapter.ExecuteUnit(ctx, course, chapterID, unit, unit.Type, onProgress)

	case model.UnitQuiz:
		return e.quiz(ctx, course, unit)

	default:
		return fmt.Errorf("unsupported unit type %q", unit.Type)
	}
}

func (e *Executor) quiz(ctx context.Context, course model.Course, unit model.Unit) error {
	if e.oracle == nil || !e.oracle.Enabled() {
		return fmt.Errorf("no answer oracle configured for quiz %s", unit.ID)
	}

	questions, err := e.adapter.FetchQuiz(ctx, course, unit)
	if err != nil {
		return fmt.Errorf("failed to fetch quiz: %w", err)
	}

	answers := make([]model.Answer, 0, len(questions))
	unanswered := 0
	for _, q := range questions {
		value, ok, err := e.oracle.Answer(ctx, q)
		if err != nil {
			e.logger.Warn("Oracle lookup failed", "unit_id", unit.ID, "question_id", q.ID, "error", err)
		}
		if err != nil || !ok {
			unanswered++
			continue
		}
		answers = append(answers, model.Answer{QuestionID: q.ID, Value: value})
	}

	e.logger.Info("Quiz answered",
		"course_id", course.ID,
		"unit_id", unit.ID,
		"questions", len(questions),
		"unanswered", unanswered,
	)

	if !e.oracle.SubmitEnabled() {
		return fmt.Errorf("quiz %s left unsubmitted: submission disabled", unit.ID)
	}
	if unanswered > 0 {
		return fmt.Errorf("quiz %s left unsubmitted: %d of %d questions unanswered", unit.ID, unanswered, len(questions))
	}
	return e.adapter.SubmitQuiz(ctx, course, unit, answers)
}
