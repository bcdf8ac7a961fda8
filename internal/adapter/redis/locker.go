package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	portlocker "github.com/alanyang/dispatch-mesh/internal/port/locker"
)

var _ portlocker.AdvisoryLocker = (*Locker)(nil)

const (
	keyPrefix        = "dispatch:lock:"
	defaultLockTTL   = 30 * time.Second
	defaultLockRetry = 50 * time.Millisecond
)

// store defines the operations used by Locker.
type store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// Locker implements port/locker.AdvisoryLocker with a Redis SETNX owner lock.
// WithLock polls until the key is free or ctx is done. The TTL bounds how long
// a crashed holder can block others, so it must exceed the longest critical
// section.
type Locker struct {
	client store
	ttl    time.Duration
	retry  time.Duration
}

func NewLocker(client store, ttl, retry time.Duration) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if retry <= 0 {
		retry = defaultLockRetry
	}
	return &Locker{client: client, ttl: ttl, retry: retry}, nil
}

func (l *Locker) WithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error {
	name := keyPrefix + strconv.FormatInt(key, 10)
	owner := uuid.NewString()

	if err := l.acquire(ctx, name, owner); err != nil {
		return err
	}
	// Release with a fresh context so a cancelled ctx still frees the key.
	defer l.release(context.Background(), name, owner) //nolint:errcheck

	return fn(ctx)
}

func (l *Locker) acquire(ctx context.Context, name, owner string) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, name, owner, l.ttl)
		if err != nil {
			return fmt.Errorf("setnx %s: %w: %w", name, domaindispatch.ErrStoreUnavailable, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// release frees the lock only if the owner value still matches.
func (l *Locker) release(ctx context.Context, name, owner string) error {
	value, err := l.client.Get(ctx, name)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != owner {
		return nil
	}
	if err := l.client.Del(ctx, name); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}
