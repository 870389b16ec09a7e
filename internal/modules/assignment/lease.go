package assignment

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"lastmile/internal/types"
)

// Token proves ownership of a parcel lease.
type Token struct {
	ParcelID types.ID
	Value    string
}

// Lease is an exclusive, self-expiring lock per parcel. Acquire is a single
// atomic check-and-set and never waits for a holder.
type Lease interface {
	Acquire(ctx context.Context, parcelID types.ID, ttl time.Duration) (Token, bool, error)
	// Renew extends the lease to ttl from now if token still owns it. False
	// means the lease expired or passed to another holder.
	Renew(ctx context.Context, token Token, ttl time.Duration) (bool, error)
	// Release frees the lease only if token still owns it.
	Release(ctx context.Context, token Token) error
}

// MemoryLease serves a single process.
type MemoryLease struct {
	mu    sync.Mutex
	held  map[types.ID]memoryHold
	clock func() time.Time
}

type memoryHold struct {
	value     string
	expiresAt time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{held: map[types.ID]memoryHold{}, clock: time.Now}
}

func (l *MemoryLease) Acquire(_ context.Context, parcelID types.ID, ttl time.Duration) (Token, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if h, ok := l.held[parcelID]; ok && now.Before(h.expiresAt) {
		return Token{}, false, nil
	}
	tok := Token{ParcelID: parcelID, Value: string(types.NewID())}
	l.held[parcelID] = memoryHold{value: tok.Value, expiresAt: now.Add(ttl)}
	return tok, true, nil
}

func (l *MemoryLease) Renew(_ context.Context, token Token, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	h, ok := l.held[token.ParcelID]
	if !ok || h.value != token.Value || !now.Before(h.expiresAt) {
		return false, nil
	}
	l.held[token.ParcelID] = memoryHold{value: h.value, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLease) Release(_ context.Context, token Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[token.ParcelID]; ok && h.value == token.Value {
		delete(l.held, token.ParcelID)
	}
	return nil
}

// RedisLease serves many processes sharing one Redis.
type RedisLease struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLease(rdb *redis.Client, prefix string) *RedisLease {
	if prefix == "" {
		prefix = "dispatch:lease"
	}
	return &RedisLease{rdb: rdb, prefix: prefix}
}

func (l *RedisLease) key(parcelID types.ID) string {
	return l.prefix + ":" + string(parcelID)
}

func (l *RedisLease) Acquire(ctx context.Context, parcelID types.ID, ttl time.Duration) (Token, bool, error) {
	tok := Token{ParcelID: parcelID, Value: string(types.NewID())}
	ok, err := l.rdb.SetNX(ctx, l.key(parcelID), tok.Value, ttl).Result()
	if err != nil {
		return Token{}, false, errors.Wrapf(err, "acquire lease for %s", parcelID)
	}
	if !ok {
		return Token{}, false, nil
	}
	return tok, true, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func (l *RedisLease) Renew(ctx context.Context, token Token, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key(token.ParcelID)}, token.Value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "renew lease for %s", token.ParcelID)
	}
	return n == 1, nil
}

func (l *RedisLease) Release(ctx context.Context, token Token) error {
	err := releaseScript.Run(ctx, l.rdb, []string{l.key(token.ParcelID)}, token.Value).Err()
	return errors.Wrapf(err, "release lease for %s", token.ParcelID)
}
