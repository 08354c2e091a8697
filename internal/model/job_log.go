package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LogLevel is the severity of a job log entry
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// ProgressEvent is a structured progress emission from a running job
type ProgressEvent struct {
	Percent     int               `json:"percent" bson:"percent"`
	Item        string            `json:"item,omitempty" bson:"item,omitempty"`
	ItemPercent *int              `json:"item_percent,omitempty" bson:"item_percent,omitempty"`
	Elapsed     *int              `json:"elapsed,omitempty" bson:"elapsed,omitempty"` // seconds
	Total       *int              `json:"total,omitempty" bson:"total,omitempty"`     // seconds
	Detail      map[string]string `json:"detail,omitempty" bson:"detail,omitempty"`
}

// JobLogEntry is an append-only log record attached to a job
type JobLogEntry struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	JobID     primitive.ObjectID `json:"job_id" bson:"job_id"`
	Level     LogLevel           `json:"level" bson:"level"`
	Message   string             `json:"message" bson:"message"`
	Timestamp time.Time          `json:"timestamp" bson:"timestamp"`
	Progress  *ProgressEvent     `json:"progress,omitempty" bson:"progress,omitempty"`
}

// Log listing bounds
const (
	DefaultLogLimit = 100
	MaxLogLimit     = 1000
)

// ClampLogLimit normalizes a requested log limit
func ClampLogLimit(limit int) int {
	if limit <= 0 {
		return DefaultLogLimit
	}
	if limit > MaxLogLimit {
		return MaxLogLimit
	}
	return limit
}
