package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/dispatch-mesh/internal/adapter/postgres"
	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	domainqueue "github.com/alanyang/dispatch-mesh/internal/domain/queue"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Columns is the select list ScanRow expects.
const Columns = `id, order_id, priority, queued_at, processed_at`

func (r *Repository) ListLive(ctx context.Context) ([]domainqueue.Entry, error) {
	query := `
		SELECT ` + Columns + `
		FROM queue_entries
		WHERE processed_at IS NULL
		ORDER BY priority DESC, queued_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, postgres.StoreErr("listing queue", err)
	}
	defer rows.Close()

	entries := []domainqueue.Entry{}
	for rows.Next() {
		e, err := ScanRow(rows)
		if err != nil {
			return nil, postgres.StoreErr("scanning queue row", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreErr("iterating queue rows", err)
	}
	return entries, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, entryID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE queue_entries SET processed_at = COALESCE(processed_at, NOW()) WHERE id = $1`, entryID)
	if err != nil {
		return postgres.StoreErr("marking queue entry processed", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue entry %s: %w", entryID, domaindispatch.ErrNotFound)
	}
	return nil
}

// ScanRow reads one queue entry selected with Columns.
func ScanRow(row pgx.Row) (domainqueue.Entry, error) {
	var e domainqueue.Entry
	err := row.Scan(&e.ID, &e.OrderID, &e.Priority, &e.QueuedAt, &e.ProcessedAt)
	return e, err
}
