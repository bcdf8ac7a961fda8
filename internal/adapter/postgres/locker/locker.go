package locker

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/dispatch-mesh/internal/adapter/memory"
	"github.com/alanyang/dispatch-mesh/internal/adapter/postgres"
	portlocker "github.com/alanyang/dispatch-mesh/internal/port/locker"
)

var _ portlocker.AdvisoryLocker = (*Locker)(nil)

// Locker implements port/locker.AdvisoryLocker using Postgres session advisory locks.
// All lock/unlock operations occur on the same acquired connection, which is required
// because pg_advisory_lock is session-level: unlock on a different connection is a no-op.
//
// Waiters in this process queue on an in-memory gate before taking a pool
// connection, so blocked callers never hold the connections the lock holder
// needs for its own queries.
type Locker struct {
	pool  *pgxpool.Pool
	local *memory.Locker
}

func New(pool *pgxpool.Pool) *Locker {
	return &Locker{pool: pool, local: memory.NewLocker()}
}

func (l *Locker) WithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error {
	return l.local.WithLock(ctx, key, func(ctx context.Context) error {
		conn, err := l.pool.Acquire(ctx)
		if err != nil {
			return postgres.StoreErr("acquire connection for advisory lock", err)
		}
		defer conn.Release()

		if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
			return postgres.StoreErr("acquire advisory lock", err)
		}
		// Unlock on the same connection before releasing it back to the pool.
		// context.Background() ensures unlock fires even if ctx was cancelled mid-fn.
		defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key) //nolint:errcheck

		return fn(ctx)
	})
}
