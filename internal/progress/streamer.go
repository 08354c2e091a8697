package progress

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dandantas/studyrunner/internal/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LogAppender persists job log entries
type LogAppender interface {
	AppendLog(ctx context.Context, entry *model.JobLogEntry) error
}

// ProgressRecorder stores the latest percent on the job record
type ProgressRecorder interface {
	AdvanceProgress(ctx context.Context, jobID primitive.ObjectID, percent int, item string) error
}

// Publisher forwards messages to other instances
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// Streamer is the single write path for job progress: persist, update, deliver
type Streamer struct {
	logs     LogAppender
	progress ProgressRecorder
	hub      *Hub
	remote   Publisher
	origin   string

	mu    sync.Mutex
	locks map[primitive.ObjectID]*jobLock
}

// NewStreamer creates a streamer. progress and remote may be nil.
func NewStreamer(logs LogAppender, progress ProgressRecorder, hub *Hub) *Streamer {
	return &Streamer{
		logs:     logs,
		progress: progress,
		hub:      hub,
		locks:    make(map[primitive.ObjectID]*jobLock),
	}
}

// SetProgressRecorder wires the job record updater after construction
func (s *Streamer) SetProgressRecorder(p ProgressRecorder) {
	s.progress = p
}

// SetRemote enables cross-instance fan-out. origin tags messages from this instance.
func (s *Streamer) SetRemote(remote Publisher, origin string) {
	s.remote = remote
	s.origin = origin
}

func (s *Streamer) acquire(jobID primitive.ObjectID) *jobLock {
	s.mu.Lock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &jobLock{}
		s.locks[jobID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Streamer) release(jobID primitive.ObjectID, l *jobLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, jobID)
	}
	s.mu.Unlock()
}

// Emit appends a log entry, updates the job's percent when event is set and
// delivers the entry to subscribers. Only persistence errors are returned.
func (s *Streamer) Emit(ctx context.Context, jobID primitive.ObjectID, level model.LogLevel, message string, event *model.ProgressEvent) error {
	l := s.acquire(jobID)
	defer s.release(jobID, l)

	entry := &model.JobLogEntry{
		JobID:    jobID,
		Level:    level,
		Message:  message,
		Progress: event,
	}
	if err := s.logs.AppendLog(ctx, entry); err != nil {
		slog.Error("Failed to append job log", "job_id", jobID.Hex(), "error", err)
		return err
	}

	if event != nil && s.progress != nil {
		if err := s.progress.AdvanceProgress(ctx, jobID, event.Percent, event.Item); err != nil {
			slog.Warn("Failed to record job progress", "job_id", jobID.Hex(), "percent", event.Percent, "error", err)
		}
	}

	msg := Message{JobID: jobID.Hex(), Entry: *entry, Origin: s.origin}
	s.hub.Publish(msg)

	if s.remote != nil {
		if err := s.remote.Publish(ctx, msg); err != nil {
			slog.Warn("Failed to publish progress to bus", "job_id", msg.JobID, "error", err)
		}
	}
	return nil
}
