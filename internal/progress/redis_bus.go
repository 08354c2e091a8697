package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel carrying progress messages
const DefaultChannel = "studyrunner:progress"

// RedisBus fans progress out across instances through Redis pub/sub
type RedisBus struct {
	rdb     *goredis.Client
	channel string
	origin  string
}

// NewRedisBus connects to Redis and verifies the connection
func NewRedisBus(ctx context.Context, opts *goredis.Options, origin string) (*RedisBus, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisBusWithClient(rdb, origin), nil
}

// NewRedisBusWithClient wraps an existing client
func NewRedisBusWithClient(rdb *goredis.Client, origin string) *RedisBus {
	return &RedisBus{rdb: rdb, channel: DefaultChannel, origin: origin}
}

// Publish sends msg to the channel
func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder replays messages from other instances into hub until ctx is done
func (b *RedisBus) StartForwarder(ctx context.Context, hub *Hub) error {
	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures the subscription is live before returning
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					slog.Warn("Bad progress payload on bus", "error", err)
					continue
				}
				if msg.Origin == b.origin {
					continue
				}
				hub.Publish(msg)
			}
		}
	}()

	return nil
}

// Ping checks the Redis connection
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close closes the client
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
