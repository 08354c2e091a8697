package traversal

import (
	"fmt"

	"github.com/dandantas/studyrunner/internal/model"
)

// MaxRollbacks is the number of consecutive step-backs allowed for one chapter
const MaxRollbacks = 3

// RollbackCounter counts consecutive step-backs caused by one not-open chapter.
// It is a plain value owned by a single course run.
type RollbackCounter struct {
	chapterID string
	index     int
	count     int
}

// Add records another retry of the chapter at index. The fourth consecutive
// retry of the same chapter returns ErrMaxRollbackExceeded.
func (c *RollbackCounter) Add(chapterID string, index int) error {
	if chapterID != c.chapterID {
		c.chapterID = chapterID
		c.index = index
		c.count = 0
	}
	if c.count >= MaxRollbacks {
		return fmt.Errorf("%w: chapter %s not open after %d retries", model.ErrMaxRollbackExceeded, chapterID, c.count)
	}
	c.count++
	return nil
}

// NewChapter is called for every open chapter. Chapters revisited behind the
// one being retried keep the count; reaching a different chapter at or past it resets.
func (c *RollbackCounter) NewChapter(chapterID string, index int) {
	if c.count > 0 && index < c.index {
		return
	}
	if chapterID != c.chapterID {
		c.chapterID = chapterID
		c.index = index
		c.count = 0
	}
}

// Count returns the current consecutive retry count
func (c RollbackCounter) Count() int {
	return c.count
}
