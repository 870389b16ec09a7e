package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Journal is durable storage for events awaiting delivery. An event is
// identified by (Type, RecordID); appending it twice keeps one row.
type Journal interface {
	Append(ctx context.Context, e Event) error
	// Claim hands out up to limit undelivered events, oldest first, and hides
	// them from other claims for ttl.
	Claim(ctx context.Context, limit int, ttl time.Duration) ([]Event, error)
	MarkDelivered(ctx context.Context, e Event) error
	// MarkFailed records a failed delivery and releases the claim. Once
	// maxAttempts failures are reached the event is dead-lettered and dead
	// is true.
	MarkFailed(ctx context.Context, e Event, cause string, maxAttempts int) (dead bool, err error)
}

type journalKey struct {
	t  Type
	id string
}

func keyOf(e Event) journalKey {
	return journalKey{t: e.Type, id: string(e.RecordID)}
}

type journalRow struct {
	event        Event
	seq          uint64
	attempts     int
	lastError    string
	claimedUntil time.Time
	delivered    bool
	dead         bool
}

// MemoryJournal keeps the journal in process; events do not survive a
// restart. Used by tests and when no database is configured.
type MemoryJournal struct {
	mu    sync.Mutex
	rows  map[journalKey]*journalRow
	seq   uint64
	clock func() time.Time
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{rows: map[journalKey]*journalRow{}, clock: time.Now}
}

func (j *MemoryJournal) Append(_ context.Context, e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	k := keyOf(e)
	if _, ok := j.rows[k]; ok {
		return nil
	}
	j.seq++
	j.rows[k] = &journalRow{event: e, seq: j.seq}
	return nil
}

func (j *MemoryJournal) Claim(_ context.Context, limit int, ttl time.Duration) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.clock()
	var open []*journalRow
	for _, r := range j.rows {
		if r.delivered || r.dead || now.Before(r.claimedUntil) {
			continue
		}
		open = append(open, r)
	}
	sort.Slice(open, func(a, b int) bool { return open[a].seq < open[b].seq })
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	out := make([]Event, len(open))
	for i, r := range open {
		r.claimedUntil = now.Add(ttl)
		out[i] = r.event
	}
	return out, nil
}

func (j *MemoryJournal) MarkDelivered(_ context.Context, e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if r, ok := j.rows[keyOf(e)]; ok {
		r.delivered = true
	}
	return nil
}

func (j *MemoryJournal) MarkFailed(_ context.Context, e Event, cause string, maxAttempts int) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, ok := j.rows[keyOf(e)]
	if !ok {
		return false, nil
	}
	r.attempts++
	r.lastError = cause
	r.claimedUntil = time.Time{}
	if maxAttempts > 0 && r.attempts >= maxAttempts {
		r.dead = true
	}
	return r.dead, nil
}

// Undelivered counts events neither delivered nor dead-lettered.
func (j *MemoryJournal) Undelivered() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, r := range j.rows {
		if !r.delivered && !r.dead {
			n++
		}
	}
	return n
}

// DeadLettered counts events that ran out of delivery attempts.
func (j *MemoryJournal) DeadLettered() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, r := range j.rows {
		if r.dead {
			n++
		}
	}
	return n
}
