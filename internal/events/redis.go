package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// drainTimeout bounds how long Run keeps writing queued events after its
// context is cancelled.
const drainTimeout = 2 * time.Second

// RedisStream appends events to a Redis stream. Entries are never edited;
// the stream is capped approximately at maxLen when maxLen > 0.
//
// Emit only queues; a single writer started with Run performs the XADDs in
// emission order, so callers never wait on Redis.
type RedisStream struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	queue  chan Event
	logger *slog.Logger
}

// NewRedisStream creates a stream sink writing to the given key. Events are
// buffered until Run drains them.
func NewRedisStream(rdb *redis.Client, stream string, maxLen int64) *RedisStream {
	return &RedisStream{
		rdb:    rdb,
		stream: stream,
		maxLen: maxLen,
		queue:  make(chan Event, 1024),
		logger: slog.Default().With("sink", "redis", "stream", stream),
	}
}

// Emit queues e for the writer.
func (s *RedisStream) Emit(_ context.Context, e Event) {
	select {
	case s.queue <- e:
	default:
		// Drop if the writer has fallen behind rather than stall the engine.
		s.logger.Error("event queue full, dropping event", "event", e.Name, "id", e.ID)
	}
}

// Run writes queued events until ctx is cancelled, then flushes what is
// still queued within drainTimeout.
func (s *RedisStream) Run(ctx context.Context) error {
	for {
		select {
		case e := <-s.queue:
			s.write(ctx, e)
		case <-ctx.Done():
			s.drain()
			return nil
		}
	}
}

func (s *RedisStream) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case e := <-s.queue:
			s.write(ctx, e)
		default:
			return
		}
	}
}

// Pending returns the number of queued events not yet written.
func (s *RedisStream) Pending() int {
	return len(s.queue)
}

func (s *RedisStream) write(ctx context.Context, e Event) {
	params, err := json.Marshal(e.Params)
	if err != nil {
		s.logger.Error("encode event params", "event", e.Name, "err", err)
		return
	}

	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: map[string]any{
			"id":     e.ID.String(),
			"name":   e.Name,
			"params": string(params),
			"time":   e.Time.UnixMicro(),
		},
	}).Err()
	if err != nil {
		// The engine has already committed; a lost stream entry is logged,
		// not retried.
		s.logger.Error("append event", "event", e.Name, "id", e.ID, "err", err)
	}
}
