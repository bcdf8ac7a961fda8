package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/dispatch-mesh/internal/adapter/postgres"
	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
)

// Repository implements both port/agent.Repository and port/agent.AgentAvailabilityReader.
// [LSP] Both interfaces are satisfied; consumers depend only on the interface they need.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Columns is the select list ScanRow expects.
const Columns = `id, user_id, name, availability, account_status,
	current_order_count, max_order_capacity, last_heartbeat_at, created_at`

func (r *Repository) Create(ctx context.Context, a domainagent.Agent) (domainagent.Agent, error) {
	query := `
		INSERT INTO agents (` + Columns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING ` + Columns

	created, err := ScanRow(r.pool.QueryRow(ctx, query,
		a.ID, a.UserID, a.Name, a.Availability, a.AccountStatus,
		a.CurrentOrderCount, a.MaxOrderCapacity, a.LastHeartbeatAt, a.CreatedAt,
	))
	if err != nil {
		return domainagent.Agent{}, postgres.StoreErr("inserting agent", err)
	}
	return created, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domainagent.Agent, error) {
	query := `SELECT ` + Columns + ` FROM agents WHERE id = $1`

	a, err := ScanRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainagent.Agent{}, fmt.Errorf("agent %s: %w", id, domaindispatch.ErrNotFound)
		}
		return domainagent.Agent{}, postgres.StoreErr("querying agent", err)
	}
	return a, nil
}

func (r *Repository) List(ctx context.Context, filters domainagent.ListFilters) ([]domainagent.Agent, error) {
	query := `SELECT ` + Columns + ` FROM agents WHERE 1=1`

	args := []interface{}{}
	argIdx := 1

	if filters.Availability != nil {
		query += fmt.Sprintf(" AND availability = $%d", argIdx)
		args = append(args, string(*filters.Availability))
		argIdx++
	}
	if filters.AccountStatus != nil {
		query += fmt.Sprintf(" AND account_status = $%d", argIdx)
		args = append(args, string(*filters.AccountStatus))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, postgres.StoreErr("listing agents", err)
	}
	defer rows.Close()

	return scanAgents(rows)
}

func (r *Repository) ListEligible(ctx context.Context) ([]domainagent.Agent, error) {
	query := `
		SELECT ` + Columns + `
		FROM agents
		WHERE availability = 'online'
		  AND account_status = 'active'
		  AND current_order_count < max_order_capacity
		ORDER BY current_order_count ASC, created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, postgres.StoreErr("listing eligible agents", err)
	}
	defer rows.Close()

	return scanAgents(rows)
}

func (r *Repository) UpdateAvailability(ctx context.Context, id uuid.UUID, availability domainagent.Availability, at time.Time) error {
	return r.exec(ctx, "updating agent availability", `
		UPDATE agents
		SET availability = $1,
		    last_heartbeat_at = CASE WHEN $1 = 'online' THEN $2::timestamptz ELSE last_heartbeat_at END
		WHERE id = $3`, id, string(availability), at.UTC(), id)
}

func (r *Repository) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domainagent.AccountStatus) error {
	return r.exec(ctx, "updating agent account status",
		`UPDATE agents SET account_status = $1 WHERE id = $2`, id, string(status), id)
}

func (r *Repository) RecordHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, "recording heartbeat",
		`UPDATE agents SET last_heartbeat_at = $1 WHERE id = $2`, id, at.UTC(), id)
}

func (r *Repository) ListStale(ctx context.Context, cutoff time.Time) ([]domainagent.Agent, error) {
	query := `
		SELECT ` + Columns + `
		FROM agents
		WHERE availability = 'online'
		  AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $1)
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, cutoff.UTC())
	if err != nil {
		return nil, postgres.StoreErr("listing stale agents", err)
	}
	defer rows.Close()

	return scanAgents(rows)
}

func (r *Repository) exec(ctx context.Context, op, query string, id uuid.UUID, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return postgres.StoreErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", id, domaindispatch.ErrNotFound)
	}
	return nil
}

// ScanRow reads one agent row selected with Columns.
func ScanRow(row pgx.Row) (domainagent.Agent, error) {
	var a domainagent.Agent
	err := row.Scan(
		&a.ID, &a.UserID, &a.Name, &a.Availability, &a.AccountStatus,
		&a.CurrentOrderCount, &a.MaxOrderCapacity, &a.LastHeartbeatAt, &a.CreatedAt,
	)
	return a, err
}

func scanAgents(rows pgx.Rows) ([]domainagent.Agent, error) {
	agents := []domainagent.Agent{}
	for rows.Next() {
		a, err := ScanRow(rows)
		if err != nil {
			return nil, postgres.StoreErr("scanning agent row", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, postgres.StoreErr("iterating agent rows", err)
	}
	return agents, nil
}
