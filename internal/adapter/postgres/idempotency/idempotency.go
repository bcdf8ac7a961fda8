package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/dispatch-mesh/internal/adapter/postgres"
	portidempotency "github.com/alanyang/dispatch-mesh/internal/port/idempotency"
)

var _ portidempotency.Store = (*Repository)(nil)

// DefaultPendingTimeout is how long a reservation without a result blocks its
// key. After that a crashed request's key can be claimed again.
const DefaultPendingTimeout = time.Minute

type Repository struct {
	pool           *pgxpool.Pool
	pendingTimeout time.Duration
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, pendingTimeout: DefaultPendingTimeout}
}

// Reserve inserts a pending row for key. A pending row older than the pending
// timeout is taken over; any other existing row wins.
func (r *Repository) Reserve(ctx context.Context, key, operation string) (bool, error) {
	query := `
		INSERT INTO processed_operations (idempotency_key, operation_type, result_jsonb, created_at)
		VALUES ($1, $2, NULL, NOW())
		ON CONFLICT (idempotency_key) DO UPDATE
		SET operation_type = EXCLUDED.operation_type, created_at = NOW()
		WHERE processed_operations.result_jsonb IS NULL
		  AND processed_operations.created_at < $3`

	tag, err := r.pool.Exec(ctx, query, key, operation, time.Now().Add(-r.pendingTimeout).UTC())
	if err != nil {
		return false, postgres.StoreErr("reserving idempotency key", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Check looks up an existing idempotency key. Returns the stored result JSON,
// whether the key exists, and any error.
func (r *Repository) Check(ctx context.Context, key string) ([]byte, bool, error) {
	query := `SELECT result_jsonb FROM processed_operations WHERE idempotency_key = $1`

	var result []byte
	err := r.pool.QueryRow(ctx, query, key).Scan(&result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, postgres.StoreErr("checking idempotency key", err)
	}
	return result, true, nil
}

// Save records a processed operation keyed by the idempotency key. It fills a
// pending reservation; the first stored result wins.
func (r *Repository) Save(ctx context.Context, key, operation string, result []byte) error {
	query := `
		INSERT INTO processed_operations (idempotency_key, operation_type, result_jsonb, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (idempotency_key) DO UPDATE
		SET result_jsonb = EXCLUDED.result_jsonb
		WHERE processed_operations.result_jsonb IS NULL`

	if _, err := r.pool.Exec(ctx, query, key, operation, result); err != nil {
		return postgres.StoreErr("storing idempotency key", err)
	}
	return nil
}

func (r *Repository) Release(ctx context.Context, key string) error {
	query := `DELETE FROM processed_operations WHERE idempotency_key = $1 AND result_jsonb IS NULL`

	if _, err := r.pool.Exec(ctx, query, key); err != nil {
		return postgres.StoreErr("releasing idempotency key", err)
	}
	return nil
}
