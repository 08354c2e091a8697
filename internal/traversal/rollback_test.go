package traversal_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/dandantas/studyrunner/internal/traversal"
)

var _ = Describe("RollbackCounter", func() {
	var counter traversal.RollbackCounter

	BeforeEach(func() {
		counter = traversal.RollbackCounter{}
	})

	It("fails on the fourth consecutive retry of the same chapter", func() {
		for i := 0; i < traversal.MaxRollbacks; i++ {
			Expect(counter.Add("ch2", 1)).To(Succeed())
		}
		Expect(counter.Count()).To(Equal(3))
		Expect(counter.Add("ch2", 1)).To(MatchError(model.ErrMaxRollbackExceeded))
	})

	It("resets when a different chapter is retried", func() {
		Expect(counter.Add("ch2", 1)).To(Succeed())
		Expect(counter.Add("ch2", 1)).To(Succeed())
		Expect(counter.Add("ch3", 2)).To(Succeed())
		Expect(counter.Count()).To(Equal(1))
	})

	It("keeps the count while revisiting earlier chapters", func() {
		Expect(counter.Add("ch2", 1)).To(Succeed())
		counter.NewChapter("ch1", 0)
		Expect(counter.Count()).To(Equal(1))
	})

	It("keeps the count when the retried chapter opens", func() {
		Expect(counter.Add("ch2", 1)).To(Succeed())
		counter.NewChapter("ch2", 1)
		Expect(counter.Count()).To(Equal(1))
	})

	It("resets once a later chapter opens", func() {
		Expect(counter.Add("ch2", 1)).To(Succeed())
		counter.NewChapter("ch3", 2)
		Expect(counter.Count()).To(BeZero())
	})
})
