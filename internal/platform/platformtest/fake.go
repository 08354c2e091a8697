// Package platformtest provides a scriptable in-memory platform adapter for tests.
package platformtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/platform"
)

// ErrScripted is returned by scripted failures
var ErrScripted = errors.New("scripted failure")

// Call records one adapter invocation
type Call struct {
	Method    string
	CourseID  string
	ChapterID string
	UnitID    string
	Mode      model.UnitType
}

// Adapter is a fake platform. Configure the exported fields before use.
type Adapter struct {
	mu sync.Mutex

	LoginErr   error
	Courses    []model.Course
	CoursesErr error

	// Chapters by course id
	Chapters    map[string][]model.Chapter
	ChaptersErr map[string]error

	// Units by chapter id
	Units map[string][]model.Unit
	// NotOpen is consumed one entry per fetch of the chapter; once empty the chapter is open
	NotOpen map[string][]bool
	// FetchErr fails every units fetch of the chapter
	FetchErr map[string]error

	// FailUnits fails execution of these unit ids in every mode
	FailUnits map[string]bool
	// AudioOnly units reject video mode with ErrWrongMediaType
	AudioOnly map[string]bool
	// PanicUnits panic when executed
	PanicUnits map[string]bool

	Questions map[string][]model.Question
	Submitted map[string][]model.Answer

	// OnChapterFetch runs on every units fetch, before it returns
	OnChapterFetch func(chapterID string)

	calls []Call
}

var _ platform.Adapter = (*Adapter)(nil)

func (a *Adapter) record(c Call) {
	a.mu.Lock()
	a.calls = append(a.calls, c)
	a.mu.Unlock()
}

// Calls returns the recorded calls
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// CallsTo returns the recorded calls of one method
func (a *Adapter) CallsTo(method string) []Call {
	var out []Call
	for _, c := range a.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Login records the call and returns LoginErr
func (a *Adapter) Login(ctx context.Context, account platform.Account) error {
	a.record(Call{Method: "Login"})
	return a.LoginErr
}

// FetchCourseList returns Courses
func (a *Adapter) FetchCourseList(ctx context.Context) ([]model.Course, error) {
	a.record(Call{Method: "FetchCourseList"})
	if a.CoursesErr != nil {
		return nil, a.CoursesErr
	}
	return append([]model.Course(nil), a.Courses...), nil
}

// FetchChapters returns the course's chapters
func (a *Adapter) FetchChapters(ctx context.Context, course model.Course) ([]model.Chapter, error) {
	a.record(Call{Method: "FetchChapters", CourseID: course.ID})
	if err := a.ChaptersErr[course.ID]; err != nil {
		return nil, err
	}
	return append([]model.Chapter(nil), a.Chapters[course.ID]...), nil
}

// FetchChapterUnits returns the chapter's units, consuming one NotOpen entry
func (a *Adapter) FetchChapterUnits(ctx context.Context, course model.Course, chapterID string) ([]model.Unit, model.ChapterMeta, error) {
	a.record(Call{Method: "FetchChapterUnits", CourseID: course.ID, ChapterID: chapterID})
	if a.OnChapterFetch != nil {
		a.OnChapterFetch(chapterID)
	}
	if err := a.FetchErr[chapterID]; err != nil {
		return nil, model.ChapterMeta{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if seq := a.NotOpen[chapterID]; len(seq) > 0 {
		notOpen := seq[0]
		a.NotOpen[chapterID] = seq[1:]
		if notOpen {
			return nil, model.ChapterMeta{NotOpen: true}, nil
		}
	}
	return append([]model.Unit(nil), a.Units[chapterID]...), model.ChapterMeta{}, nil
}

// ExecuteUnit applies the scripted failures and reports full progress for media
func (a *Adapter) ExecuteUnit(ctx context.Context, course model.Course, chapterID string, unit model.Unit, mode model.UnitType, onProgress platform.ProgressFunc) error {
	a.record(Call{Method: "ExecuteUnit", CourseID: course.ID, ChapterID: chapterID, UnitID: unit.ID, Mode: mode})

	if a.PanicUnits[unit.ID] {
		panic(fmt.Sprintf("unit %s exploded", unit.ID))
	}
	if a.FailUnits[unit.ID] {
		return ErrScripted
	}
	if mode == model.UnitVideo && a.AudioOnly[unit.ID] {
		return platform.ErrWrongMediaType
	}
	if onProgress != nil && (mode == model.UnitVideo || mode == model.UnitAudio) {
		onProgress(platform.MediaProgress{Elapsed: 10, Total: 10})
	}
	return nil
}

// FetchQuiz returns the unit's questions
func (a *Adapter) FetchQuiz(ctx context.Context, course model.Course, unit model.Unit) ([]model.Question, error) {
	a.record(Call{Method: "FetchQuiz", CourseID: course.ID, UnitID: unit.ID})
	if a.FailUnits[unit.ID] {
		return nil, ErrScripted
	}
	return a.Questions[unit.ID], nil
}

// SubmitQuiz stores the answers
func (a *Adapter) SubmitQuiz(ctx context.Context, course model.Course, unit model.Unit, answers []model.Answer) error {
	a.record(Call{Method: "SubmitQuiz", CourseID: course.ID, UnitID: unit.ID})

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Submitted == nil {
		a.Submitted = make(map[string][]model.Answer)
	}
	a.Submitted[unit.ID] = answers
	return nil
}

// Oracle is a fake answer oracle
type Oracle struct {
	Answers  map[string]string
	Disabled bool
	NoSubmit bool
}

// Answer looks the question id up in Answers
func (o *Oracle) Answer(ctx context.Context, q model.Question) (string, bool, error) {
	v, ok := o.Answers[q.ID]
	return v, ok, nil
}

// Enabled reports !Disabled
func (o *Oracle) Enabled() bool { return !o.Disabled }

// SubmitEnabled reports !NoSubmit
func (o *Oracle) SubmitEnabled() bool { return !o.NoSubmit }
