// Package progress persists job progress and fans it out to live subscribers.
package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dandantas/studyrunner/internal/model"
	"github.com/google/uuid"
)

// Message is one progress emission as delivered to subscribers
type Message struct {
	JobID  string            `json:"job_id"`
	Entry  model.JobLogEntry `json:"entry"`
	Origin string            `json:"origin,omitempty"`
}

// Subscription receives the messages of one job
type Subscription struct {
	ID    string
	JobID string

	ch chan Message
}

// Messages returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

// Hub maps job ids to their live subscribers
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]map[string]*Subscription
	buffer    int
	heartbeat time.Duration
}

// NewHub creates a hub whose subscriptions buffer up to buffer messages
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:      make(map[string]map[string]*Subscription),
		buffer:    buffer,
		heartbeat: 15 * time.Second,
	}
}

// Subscribe registers a listener for jobID
func (h *Hub) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		ID:    uuid.NewString(),
		JobID: jobID,
		ch:    make(chan Message, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[string]*Subscription)
	}
	h.subs[jobID][sub.ID] = sub

	slog.Debug("Progress subscriber added", "job_id", jobID, "subscription_id", sub.ID)
	return sub
}

// Unsubscribe removes the listener and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

// remove must be called with h.mu held
func (h *Hub) remove(sub *Subscription) {
	subs, ok := h.subs[sub.JobID]
	if !ok {
		return
	}
	if _, ok := subs[sub.ID]; !ok {
		return
	}

	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(h.subs, sub.JobID)
	}
	close(sub.ch)
}

// Publish delivers msg to every subscriber of its job without blocking.
// A subscriber whose buffer is full is dropped.
func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[msg.JobID] {
		select {
		case sub.ch <- msg:
		default:
			slog.Warn("Dropping slow progress subscriber", "job_id", msg.JobID, "subscription_id", sub.ID)
			h.remove(sub)
		}
	}
}

// SubscriberCount returns the number of live subscribers of jobID
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}

// ServeSSE streams the subscription as server-sent events until the client leaves
// or the subscription is dropped. It always unsubscribes before returning.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, sub *Subscription) {
	defer h.Unsubscribe(sub)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-sub.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg.Entry)
			if err != nil {
				slog.Warn("Failed to marshal progress message", "job_id", msg.JobID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
