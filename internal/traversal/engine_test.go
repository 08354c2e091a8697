package traversal_test

import (
	"context"
	"strings"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dandantas/studyrunner/internal/executor"
	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/platform/platformtest"
	"github.com/dandantas/studyrunner/internal/traversal"
)

type emitted struct {
	level   model.LogLevel
	message string
	event   *model.ProgressEvent
}

func chapters(ids ...string) []model.Chapter {
	out := make([]model.Chapter, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Chapter{ID: id, Title: "Chapter " + id})
	}
	return out
}

func doc(id string) model.Unit {
	return model.Unit{ID: id, Type: model.UnitDocument}
}

func fetchedChapters(adapter *platformtest.Adapter) []string {
	var ids []string
	for _, c := range adapter.CallsTo("FetchChapterUnits") {
		ids = append(ids, c.ChapterID)
	}
	return ids
}

var _ = Describe("Engine", func() {
	var (
		ctx     context.Context
		adapter *platformtest.Adapter
		course  model.Course
		events  []emitted
		opts    traversal.Options
	)

	newEngine := func() *traversal.Engine {
		return traversal.New(adapter, executor.New(adapter, nil, nil), opts)
	}

	warnings := func(substr string) []string {
		var out []string
		for _, e := range events {
			if e.level == model.LogLevelWarning && strings.Contains(e.message, substr) {
				out = append(out, e.message)
			}
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		course = model.Course{ID: "c1", Title: "Course 1"}
		events = nil
		adapter = &platformtest.Adapter{
			Chapters: map[string][]model.Chapter{"c1": chapters("ch1", "ch2", "ch3")},
			Units: map[string][]model.Unit{
				"ch1": {doc("d1")},
				"ch2": {doc("d2")},
				"ch3": {doc("d3")},
			},
			NotOpen: map[string][]bool{},
		}
		opts = traversal.Options{
			Policy:      model.NotOpenRetry,
			OracleReady: true,
			Emit: func(level model.LogLevel, message string, event *model.ProgressEvent) {
				events = append(events, emitted{level, message, event})
			},
		}
	})

	Describe("retry policy", func() {
		Context("when a chapter is not open once", func() {
			It("steps back once and then finishes the course", func() {
				adapter.NotOpen["ch2"] = []bool{true}

				result := newEngine().RunCourse(ctx, course)

				Expect(result.Outcome).To(Equal(traversal.OutcomeCompleted))
				Expect(result.Err).NotTo(HaveOccurred())
				Expect(result.Rollbacks).To(Equal(1))
				Expect(fetchedChapters(adapter)).To(Equal([]string{"ch1", "ch2", "ch1", "ch2", "ch3"}))
			})
		})

		Context("when a chapter never opens", func() {
			It("aborts on the fourth retry of the same chapter", func() {
				adapter.NotOpen["ch2"] = []bool{true, true, true, true, true, true}

				result := newEngine().RunCourse(ctx, course)

				Expect(result.Outcome).To(Equal(traversal.OutcomeAborted))
				Expect(result.Err).To(MatchError(model.ErrMaxRollbackExceeded))
				Expect(result.Rollbacks).To(Equal(traversal.MaxRollbacks))
				Expect(fetchedChapters(adapter)).NotTo(ContainElement("ch3"))

				ch2Fetches := 0
				for _, id := range fetchedChapters(adapter) {
					if id == "ch2" {
						ch2Fetches++
					}
				}
				Expect(ch2Fetches).To(Equal(4))
			})
		})

		Context("without a usable oracle", func() {
			It("aborts the course", func() {
				opts.OracleReady = false
				adapter.NotOpen["ch2"] = []bool{true}

				result := newEngine().RunCourse(ctx, course)

				Expect(result.Outcome).To(Equal(traversal.OutcomeAborted))
				Expect(result.Err).To(MatchError(traversal.ErrOracleUnavailable))
				Expect(fetchedChapters(adapter)).To(Equal([]string{"ch1", "ch2"}))
			})
		})

		Context("when two chapters keep closing in turn", func() {
			It("stops at the step budget", func() {
				adapter.NotOpen["ch2"] = []bool{false}
				for i := 0; i < 40; i++ {
					adapter.NotOpen["ch2"] = append(adapter.NotOpen["ch2"], true, false)
					adapter.NotOpen["ch3"] = append(adapter.NotOpen["ch3"], true)
				}

				result := newEngine().RunCourse(ctx, course)

				Expect(result.Outcome).To(Equal(traversal.OutcomeAborted))
				Expect(result.Err).To(MatchError(traversal.ErrTraversalBudget))
			})
		})

		It("touches the empty page of an empty chapter while rolling back", func() {
			adapter.Units["ch1"] = nil
			adapter.NotOpen["ch2"] = []bool{true}

			result := newEngine().RunCourse(ctx, course)
			Expect(result.Outcome).To(Equal(traversal.OutcomeCompleted))

			var emptyPages []platformtest.Call
			for _, c := range adapter.CallsTo("ExecuteUnit") {
				if c.Mode == model.UnitEmptyPage {
					emptyPages = append(emptyPages, c)
				}
			}
			Expect(emptyPages).To(HaveLen(1))
			Expect(emptyPages[0].ChapterID).To(Equal("ch1"))
		})
	})

	Describe("ask policy", func() {
		BeforeEach(func() {
			opts.Policy = model.NotOpenAsk
			adapter.Chapters["c1"] = chapters("ch1", "ch2", "ch3", "ch4")
			adapter.NotOpen["ch1"] = []bool{true}
			adapter.NotOpen["ch2"] = []bool{true}
			adapter.NotOpen["ch4"] = []bool{true}
		})

		It("warns once per contiguous run of not-open chapters", func() {
			result := newEngine().RunCourse(ctx, course)

			Expect(result.Outcome).To(Equal(traversal.OutcomeCompleted))
			Expect(warnings("is not open")).To(HaveLen(2))
			Expect(warnings("Chapter ch1 is not open")).To(HaveLen(1))
			Expect(warnings("Chapter ch2 is not open")).To(BeEmpty())
			Expect(warnings("Chapter ch4 is not open")).To(HaveLen(1))
		})
	})

	Describe("continue policy", func() {
		It("skips not-open chapters without warning", func() {
			opts.Policy = model.NotOpenContinue
			adapter.NotOpen["ch1"] = []bool{true}
			adapter.NotOpen["ch2"] = []bool{true}

			result := newEngine().RunCourse(ctx, course)

			Expect(result.Outcome).To(Equal(traversal.OutcomeCompleted))
			Expect(warnings("is not open")).To(BeEmpty())
			Expect(adapter.CallsTo("ExecuteUnit")).To(HaveLen(1))
		})
	})

	Describe("failures", func() {
		It("skips a chapter whose units cannot be fetched", func() {
			adapter.FetchErr = map[string]error{"ch2": platformtest.ErrScripted}

			result := newEngine().RunCourse(ctx, course)

			Expect(result.Outcome).To(Equal(traversal.OutcomeCompleted))
			Expect(fetchedChapters(adapter)).To(Equal([]string{"ch1", "ch2", "ch3"}))
		})

		It("counts failed units without halting the chapter", func() {
			adapter.Units["ch1"] = []model.Unit{doc("d1"), doc("d1b")}
			adapter.FailUnits = map[string]bool{"d1": true}

			result := newEngine().RunCourse(ctx, course)

			Expect(result.Outcome).To(Equal(traversal.OutcomeCompleted))
			Expect(result.FailedUnits).To(Equal(1))
			Expect(adapter.CallsTo("ExecuteUnit")).To(HaveLen(4))
		})

		It("aborts when the chapter list cannot be fetched", func() {
			adapter.ChaptersErr = map[string]error{"c1": platformtest.ErrScripted}

			result := newEngine().RunCourse(ctx, course)

			Expect(result.Outcome).To(Equal(traversal.OutcomeAborted))
			Expect(result.Err).To(MatchError(platformtest.ErrScripted))
		})

		It("completes a course without chapters", func() {
			adapter.Chapters["c1"] = nil

			Expect(newEngine().RunCourse(ctx, course).Outcome).To(Equal(traversal.OutcomeCompleted))
		})
	})

	Describe("cooperative cancellation", func() {
		It("stops after the chapter during which the job was paused", func() {
			var paused atomic.Bool
			adapter.OnChapterFetch = func(chapterID string) {
				if chapterID == "ch1" {
					paused.Store(true)
				}
			}
			opts.ShouldStop = func(context.Context) bool { return paused.Load() }

			result := newEngine().RunCourse(ctx, course)

			Expect(result.Outcome).To(Equal(traversal.OutcomeStopped))
			Expect(fetchedChapters(adapter)).To(Equal([]string{"ch1"}))
		})

		It("stops when the context is cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			result := newEngine().RunCourse(cancelled, course)

			Expect(result.Outcome).To(Equal(traversal.OutcomeStopped))
			Expect(adapter.CallsTo("FetchChapterUnits")).To(BeEmpty())
		})
	})

	Describe("progress", func() {
		It("emits chapter progress and a final 100 percent", func() {
			newEngine().RunCourse(ctx, course)

			var percents []int
			for _, e := range events {
				if e.event != nil {
					percents = append(percents, e.event.Percent)
				}
			}
			Expect(percents).To(Equal([]int{0, 33, 66, 100}))
		})
	})
})
