package assignment

import (
	"container/heap"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"lastmile/internal/types"
)

// Queue holds parcels waiting for evaluation. URGENT entries leave before
// every other entry; within a band the order is FIFO. An entry is held back
// until its NotBefore time.
type Queue interface {
	// Enqueue stores e at the tail of its band. An entry already queued for
	// the same parcel is replaced wholesale and moves to the tail.
	Enqueue(ctx context.Context, e QueueEntry) error
	// Dequeue removes the first entry that is due at now; false when none is.
	Dequeue(ctx context.Context, now time.Time) (QueueEntry, bool, error)
	// Withdraw removes a queued parcel; false when it was not queued.
	Withdraw(ctx context.Context, parcelID types.ID) (bool, error)
	// Peek returns entries start..stop (inclusive, 0-based, negative stop
	// counts from the end) in dequeue order without consuming them.
	Peek(ctx context.Context, start, stop int64) ([]QueueEntry, error)
	Len(ctx context.Context) (int64, error)
}

func band(e QueueEntry) int {
	if e.Request.IsUrgent() {
		return 0
	}
	return 1
}

// MemoryQueue is a heap ordered by (band, sequence).
type MemoryQueue struct {
	mu    sync.Mutex
	items queueHeap
	index map[types.ID]*queueItem
	seq   uint64
}

type queueItem struct {
	entry QueueEntry
	band  int
	seq   uint64
	pos   int
}

type queueHeap []*queueItem

func (h queueHeap) Len() int { return len(h) }
func (h queueHeap) Less(i, j int) bool {
	if h[i].band != h[j].band {
		return h[i].band < h[j].band
	}
	return h[i].seq < h[j].seq
}
func (h queueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}
func (h *queueHeap) Push(x any) {
	it := x.(*queueItem)
	it.pos = len(*h)
	*h = append(*h, it)
}
func (h *queueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{index: map[types.ID]*queueItem{}}
}

func (q *MemoryQueue) Enqueue(_ context.Context, e QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if old, ok := q.index[e.ParcelID()]; ok {
		heap.Remove(&q.items, old.pos)
	}
	q.seq++
	it := &queueItem{entry: e, band: band(e), seq: q.seq}
	heap.Push(&q.items, it)
	q.index[e.ParcelID()] = it
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, now time.Time) (QueueEntry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	best := -1
	for i, it := range q.items {
		if !it.entry.Due(now) {
			continue
		}
		if best < 0 || q.items.Less(i, best) {
			best = i
		}
	}
	if best < 0 {
		return QueueEntry{}, false, nil
	}
	it := heap.Remove(&q.items, best).(*queueItem)
	delete(q.index, it.entry.ParcelID())
	return it.entry, true, nil
}

func (q *MemoryQueue) Withdraw(_ context.Context, parcelID types.ID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.index[parcelID]
	if !ok {
		return false, nil
	}
	heap.Remove(&q.items, it.pos)
	delete(q.index, parcelID)
	return true, nil
}

func (q *MemoryQueue) Peek(_ context.Context, start, stop int64) ([]QueueEntry, error) {
	q.mu.Lock()
	ordered := append(queueHeap(nil), q.items...)
	q.mu.Unlock()
	sort.Slice(ordered, ordered.Less)

	lo, hi, ok := peekBounds(int64(len(ordered)), start, stop)
	if !ok {
		return []QueueEntry{}, nil
	}
	out := make([]QueueEntry, 0, hi-lo+1)
	for _, it := range ordered[lo : hi+1] {
		out = append(out, it.entry)
	}
	return out, nil
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.items.Len()), nil
}

// peekBounds resolves a Redis-style inclusive range against n elements.
func peekBounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return 0, 0, false
	}
	return start, stop, true
}

// RedisQueue keeps order in a sorted set (score = band*bandWidth + sequence),
// entry bodies in a hash and due times (unix ms) in a second hash. Every
// mutation is one Lua script.
type RedisQueue struct {
	rdb    *redis.Client
	order  string
	bodies string
	due    string
	seq    string
}

const bandWidth = 1e12

func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "dispatch:queue"
	}
	return &RedisQueue{rdb: rdb, order: prefix + ":order", bodies: prefix + ":entries", due: prefix + ":due", seq: prefix + ":seq"}
}

var enqueueScript = redis.NewScript(`
local seq = redis.call("INCR", KEYS[3])
redis.call("ZADD", KEYS[1], tonumber(ARGV[2]) * tonumber(ARGV[4]) + seq, ARGV[1])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[3])
redis.call("HSET", KEYS[4], ARGV[1], ARGV[5])
return seq
`)

var dequeueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, id in ipairs(ids) do
	local due = tonumber(redis.call("HGET", KEYS[3], id) or "0")
	if due <= now then
		redis.call("ZREM", KEYS[1], id)
		local body = redis.call("HGET", KEYS[2], id)
		redis.call("HDEL", KEYS[2], id)
		redis.call("HDEL", KEYS[3], id)
		return body
	end
end
return false
`)

var withdrawScript = redis.NewScript(`
local removed = redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[3], ARGV[1])
return removed
`)

func (q *RedisQueue) Enqueue(ctx context.Context, e QueueEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode queue entry")
	}
	err = enqueueScript.Run(ctx, q.rdb,
		[]string{q.order, q.bodies, q.seq, q.due},
		string(e.ParcelID()), band(e), string(body), int64(bandWidth), e.NotBefore.UnixMilli(),
	).Err()
	return errors.Wrapf(err, "enqueue %s", e.ParcelID())
}

func (q *RedisQueue) Dequeue(ctx context.Context, now time.Time) (QueueEntry, bool, error) {
	body, err := dequeueScript.Run(ctx, q.rdb, []string{q.order, q.bodies, q.due}, now.UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return QueueEntry{}, false, nil
	}
	if err != nil {
		return QueueEntry{}, false, errors.Wrap(err, "dequeue")
	}
	var e QueueEntry
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return QueueEntry{}, false, errors.Wrap(err, "decode queue entry")
	}
	return e, true, nil
}

func (q *RedisQueue) Withdraw(ctx context.Context, parcelID types.ID) (bool, error) {
	n, err := withdrawScript.Run(ctx, q.rdb, []string{q.order, q.bodies, q.due}, string(parcelID)).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "withdraw %s", parcelID)
	}
	return n == 1, nil
}

func (q *RedisQueue) Peek(ctx context.Context, start, stop int64) ([]QueueEntry, error) {
	ids, err := q.rdb.ZRange(ctx, q.order, start, stop).Result()
	if err != nil {
		return nil, errors.Wrap(err, "peek queue order")
	}
	out := make([]QueueEntry, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	bodies, err := q.rdb.HMGet(ctx, q.bodies, ids...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "peek queue entries")
	}
	for i, raw := range bodies {
		s, ok := raw.(string)
		if !ok {
			// dequeued between the two reads
			continue
		}
		var e QueueEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, errors.Wrapf(err, "decode queue entry %s", ids[i])
		}
		out = append(out, e)
	}
	return out, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.order).Result()
	return n, errors.Wrap(err, "queue length")
}
