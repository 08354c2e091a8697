package model

// UnitType is the kind of a traversal unit
type UnitType string

const (
	UnitVideo     UnitType = "video"
	UnitAudio     UnitType = "audio"
	UnitDocument  UnitType = "document"
	UnitQuiz      UnitType = "quiz"
	UnitEmptyPage UnitType = "empty-page"
)

// Course is a course as listed by the remote platform
type Course struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	ClassID string `json:"class_id,omitempty"`
	CPI     string `json:"cpi,omitempty"`
}

// Chapter is an ordered unit of a course
type Chapter struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Finished bool   `json:"finished"`
}

// ChapterMeta is returned alongside a chapter's units
type ChapterMeta struct {
	NotOpen bool              `json:"not_open"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Unit is a single content item inside a chapter
type Unit struct {
	ID       string            `json:"id"`
	Type     UnitType          `json:"type"`
	Name     string            `json:"name,omitempty"`
	ObjectID string            `json:"object_id,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Label returns a human readable name for the unit
func (u Unit) Label() string {
	if u.Name != "" {
		return u.Name
	}
	return string(u.Type) + ":" + u.ID
}

// Question is one quiz question handed to the answer oracle
type Question struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Title   string   `json:"title"`
	Options []string `json:"options,omitempty"`
}

// Answer is a resolved answer for one question
type Answer struct {
	QuestionID string `json:"question_id"`
	Value      string `json:"value"`
}
