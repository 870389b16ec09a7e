package events

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Sink delivers one event. Implementations may see the same event twice.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// StreamSink appends events to a Redis stream.
type StreamSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewStreamSink(rdb *redis.Client, stream string) *StreamSink {
	return &StreamSink{rdb: rdb, stream: stream, maxLen: 100_000}
}

func (s *StreamSink) Deliver(ctx context.Context, e Event) error {
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":        string(e.Type),
			"record_id":   string(e.RecordID),
			"parcel_id":   string(e.ParcelID),
			"occurred_at": e.OccurredAt.Format(time.RFC3339Nano),
			"payload":     string(e.Payload),
		},
	}).Err()
	return errors.Wrapf(err, "xadd %s", s.stream)
}

// MemorySink records deliveries; used by tests and when Redis is disabled.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Deliver(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
