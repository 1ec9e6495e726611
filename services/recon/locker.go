package recon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another run holds the report's lock.
var ErrLocked = errors.New("recon: report is locked by another run")

// Locker serialises reconciliation of a single report across runs and
// replicas. Lock never blocks: a held lock yields ErrLocked.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// LocalLocker holds locks in process memory.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocalLocker returns an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) Lock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return nil, ErrLocked
	}
	expiry := now.Add(ttl)
	l.held[key] = expiry
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// A lock that expired and was taken over belongs to someone else.
		if l.held[key].Equal(expiry) {
			delete(l.held, key)
		}
		return nil
	}, nil
}

// RedisLocker shares locks between replicas through Redis.
type RedisLocker struct {
	client *redislock.Client
	prefix string
}

// NewRedisLocker wraps an existing go-redis client.
func NewRedisLocker(rdb *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "solfind:recon"
	}
	return &RedisLocker{client: redislock.New(rdb), prefix: prefix}
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, fmt.Sprintf("%s:%s", l.prefix, key), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("recon: obtain lock: %w", err)
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
