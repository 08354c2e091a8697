package progress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dandantas/studyrunner/internal/database/memory"
	"github.com/dandantas/studyrunner/internal/model"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type recordedProgress struct {
	mu       sync.Mutex
	percents []int
}

func (r *recordedProgress) AdvanceProgress(_ context.Context, _ primitive.ObjectID, percent int, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percents = append(r.percents, percent)
	return nil
}

func TestHubPublishToSubscribers(t *testing.T) {
	hub := NewHub(4)
	a := hub.Subscribe("j1")
	b := hub.Subscribe("j1")
	other := hub.Subscribe("j2")

	hub.Publish(Message{JobID: "j1", Entry: model.JobLogEntry{Message: "hello"}})

	assert.Equal(t, "hello", (<-a.Messages()).Entry.Message)
	assert.Equal(t, "hello", (<-b.Messages()).Entry.Message)
	assert.Empty(t, other.Messages())
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(1)
	slow := hub.Subscribe("j1")

	hub.Publish(Message{JobID: "j1"})
	hub.Publish(Message{JobID: "j1"})

	assert.Equal(t, 0, hub.SubscriberCount("j1"))

	_, ok := <-slow.Messages()
	assert.True(t, ok)
	_, ok = <-slow.Messages()
	assert.False(t, ok)
}

func TestHubUnsubscribeTwice(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("j1")

	hub.Unsubscribe(sub)
	assert.NotPanics(t, func() { hub.Unsubscribe(sub) })
	assert.Equal(t, 0, hub.SubscriberCount("j1"))
}

func TestStreamerKeepsDuplicates(t *testing.T) {
	store := memory.NewStore()
	hub := NewHub(8)
	recorder := &recordedProgress{}
	streamer := NewStreamer(store, recorder, hub)

	jobID := primitive.NewObjectID()
	sub := hub.Subscribe(jobID.Hex())
	ctx := context.Background()

	event := &model.ProgressEvent{Percent: 40, Item: "Chapter 2"}
	require.NoError(t, streamer.Emit(ctx, jobID, model.LogLevelInfo, "Chapter 2/5", event))
	require.NoError(t, streamer.Emit(ctx, jobID, model.LogLevelInfo, "Chapter 2/5", event))

	logs, err := store.ListLogs(ctx, jobID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.NotEqual(t, logs[0].ID, logs[1].ID)

	assert.Equal(t, []int{40, 40}, recorder.percents)
	assert.Len(t, sub.Messages(), 2)
}

func TestStreamerPreservesOrderPerJob(t *testing.T) {
	store := memory.NewStore()
	hub := NewHub(100)
	streamer := NewStreamer(store, nil, hub)

	jobID := primitive.NewObjectID()
	sub := hub.Subscribe(jobID.Hex())

	for i := 0; i < 50; i++ {
		require.NoError(t, streamer.Emit(context.Background(), jobID, model.LogLevelInfo, "step", &model.ProgressEvent{Percent: i}))
	}

	for i := 0; i < 50; i++ {
		msg := <-sub.Messages()
		assert.Equal(t, i, msg.Entry.Progress.Percent)
	}
}

func TestStreamerSurvivesDroppedSubscriber(t *testing.T) {
	store := memory.NewStore()
	hub := NewHub(1)
	streamer := NewStreamer(store, nil, hub)

	jobID := primitive.NewObjectID()
	hub.Subscribe(jobID.Hex())

	for i := 0; i < 3; i++ {
		assert.NoError(t, streamer.Emit(context.Background(), jobID, model.LogLevelInfo, "step", nil))
	}
	assert.Equal(t, 0, hub.SubscriberCount(jobID.Hex()))
}

func TestServeSSE(t *testing.T) {
	hub := NewHub(4)
	hub.heartbeat = time.Hour
	sub := hub.Subscribe("j1")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	hub.Publish(Message{JobID: "j1", Entry: model.JobLogEntry{Message: "Chapter 1/3", Level: model.LogLevelInfo}})

	done := make(chan struct{})
	go func() {
		hub.ServeSSE(rec, req, sub)
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.SubscriberCount("j1") == 1 && len(sub.Messages()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: progress\ndata: "))
	assert.Contains(t, body, "Chapter 1/3")
	assert.Equal(t, 0, hub.SubscriberCount("j1"))
}

func TestNewRedisBusUnreachable(t *testing.T) {
	_, err := NewRedisBus(context.Background(), &goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}, "i1")
	assert.Error(t, err)
}
