package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/dispatch-mesh/internal/adapter/postgres"
	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Columns is the select list ScanRow expects.
const Columns = `id, customer_id, status, agent_id, priority,
	assigned_at, created_at, updated_at, completed_at`

func (r *Repository) Create(ctx context.Context, o domainorder.Order) (domainorder.Order, error) {
	query := `
		INSERT INTO orders (` + Columns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING ` + Columns

	created, err := ScanRow(r.pool.QueryRow(ctx, query,
		o.ID, o.CustomerID, o.Status, o.AgentID, o.Priority,
		o.AssignedAt, o.CreatedAt, o.UpdatedAt, o.CompletedAt,
	))
	if err != nil {
		return domainorder.Order{}, postgres.StoreErr("inserting order", err)
	}
	return created, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domainorder.Order, error) {
	query := `SELECT ` + Columns + ` FROM orders WHERE id = $1`

	o, err := ScanRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainorder.Order{}, fmt.Errorf("order %s: %w", id, domaindispatch.ErrNotFound)
		}
		return domainorder.Order{}, postgres.StoreErr("querying order", err)
	}
	return o, nil
}

func (r *Repository) List(ctx context.Context, filters domainorder.ListFilters) ([]domainorder.Order, error) {
	query := `SELECT ` + Columns + ` FROM orders WHERE 1=1`

	args := []interface{}{}
	argIdx := 1

	if filters.AgentID != nil {
		query += fmt.Sprintf(" AND agent_id = $%d", argIdx)
		args = append(args, *filters.AgentID)
		argIdx++
	}
	if len(filters.Statuses) > 0 {
		statuses := make([]string, len(filters.Statuses))
		for i, s := range filters.Statuses {
			statuses[i] = string(s)
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, statuses)
		argIdx++
	}

	if filters.OldestFirst {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id ASC"
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, postgres.StoreErr("listing orders", err)
	}
	defer rows.Close()

	orders := []domainorder.Order{}
	for rows.Next() {
		o, err := ScanRow(rows)
		if err != nil {
			return nil, postgres.StoreErr("scanning order row", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreErr("iterating order rows", err)
	}
	return orders, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domainorder.Status) error {
	now := time.Now().UTC()
	query := `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`

	tag, err := r.pool.Exec(ctx, query, string(to), now, id, string(from))
	if err != nil {
		return postgres.StoreErr("updating order status", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("order %s status CAS failed: expected status %s: %w", id, from, domaindispatch.ErrStaleOrder)
	}
	return nil
}

// ScanRow reads one order row selected with Columns.
func ScanRow(row pgx.Row) (domainorder.Order, error) {
	var o domainorder.Order
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Status, &o.AgentID, &o.Priority,
		&o.AssignedAt, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt,
	)
	return o, err
}
