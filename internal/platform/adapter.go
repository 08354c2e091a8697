// Package platform talks to the remote learning platform.
package platform

import (
	"context"
	"errors"

	"github.com/dandantas/studyrunner/internal/model"
)

// ErrWrongMediaType is returned by ExecuteUnit when the unit is not playable in the requested mode
var ErrWrongMediaType = errors.New("unit is not playable as requested media type")

// MediaProgress reports playback position of a media unit
type MediaProgress struct {
	Elapsed int // seconds
	Total   int // seconds
}

// ProgressFunc receives media playback updates
type ProgressFunc func(MediaProgress)

// Account is the decrypted platform login
type Account struct {
	Username string
	Password string
}

// Adapter is one logged-in session against the remote platform.
// A session is not safe for concurrent use; one job owns one adapter.
type Adapter interface {
	Login(ctx context.Context, account Account) error
	FetchCourseList(ctx context.Context) ([]model.Course, error)
	FetchChapters(ctx context.Context, course model.Course) ([]model.Chapter, error)
	FetchChapterUnits(ctx context.Context, course model.Course, chapterID string) ([]model.Unit, model.ChapterMeta, error)
	// ExecuteUnit performs the interaction for unit. mode is the type to execute it as,
	// which differs from unit.Type when a video is retried as audio.
	ExecuteUnit(ctx context.Context, course model.Course, chapterID string, unit model.Unit, mode model.UnitType, onProgress ProgressFunc) error
	FetchQuiz(ctx context.Context, course model.Course, unit model.Unit) ([]model.Question, error)
	SubmitQuiz(ctx context.Context, course model.Course, unit model.Unit, answers []model.Answer) error
}

// Factory opens a fresh session for one job
type Factory interface {
	NewSession(settings model.UserSettings) Adapter
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(settings model.UserSettings) Adapter

// NewSession calls f
func (f FactoryFunc) NewSession(settings model.UserSettings) Adapter {
	return f(settings)
}
