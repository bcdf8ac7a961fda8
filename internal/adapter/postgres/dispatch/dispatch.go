package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyang/dispatch-mesh/internal/adapter/postgres"
	pgagent "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/agent"
	pgorder "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/order"
	pgqueue "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/queue"
	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	domainqueue "github.com/alanyang/dispatch-mesh/internal/domain/queue"
)

// checkViolation is the SQLSTATE for a failed CHECK constraint.
const checkViolation = "23514"

// Store implements port/dispatch.Store. Each method runs in one transaction
// holding row locks on the order and every agent whose load it touches.
// Agent rows are locked in id order so concurrent reassignments cannot
// deadlock.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CommitAssignment(ctx context.Context, c domaindispatch.Commit) (domainorder.Order, error) {
	var out domainorder.Order
	err := s.inTx(ctx, "commit assignment", func(tx pgx.Tx) error {
		ord, err := lockOrder(ctx, tx, c.OrderID)
		if err != nil {
			return err
		}
		if err := checkOwnership(ord, c.PreviousAgentID); err != nil {
			return err
		}

		agents, err := lockAgents(ctx, tx, c.AgentID, c.PreviousAgentID)
		if err != nil {
			return err
		}
		target, ok := agents[c.AgentID]
		if !ok {
			return fmt.Errorf("agent %s: %w", c.AgentID, domaindispatch.ErrNotFound)
		}
		if !target.IsEligible() {
			return fmt.Errorf("agent %s (%d/%d, %s): %w",
				target.ID, target.CurrentOrderCount, target.MaxOrderCapacity, target.Availability,
				domaindispatch.ErrCapacityExceeded)
		}

		if c.PreviousAgentID != nil {
			if err := adjustLoad(ctx, tx, *c.PreviousAgentID, -1); err != nil {
				return err
			}
		}
		if err := adjustLoad(ctx, tx, c.AgentID, +1); err != nil {
			return err
		}

		at := c.At.UTC()
		row := tx.QueryRow(ctx, `
			UPDATE orders
			SET agent_id = $1, status = $2, assigned_at = $3, updated_at = $3
			WHERE id = $4
			RETURNING `+pgorder.Columns,
			c.AgentID, string(domainorder.StatusAssigned), at, c.OrderID)
		out, err = pgorder.ScanRow(row)
		if err != nil {
			return postgres.StoreErr("updating order", err)
		}

		return stampLiveEntry(ctx, tx, c.OrderID, at)
	})
	return out, err
}

func (s *Store) Enqueue(ctx context.Context, r domaindispatch.Requeue) (domainqueue.Entry, bool, error) {
	var entry domainqueue.Entry
	var created bool
	err := s.inTx(ctx, "enqueue order", func(tx pgx.Tx) error {
		ord, err := lockOrder(ctx, tx, r.OrderID)
		if err != nil {
			return err
		}
		if err := checkOwnership(ord, r.PreviousAgentID); err != nil {
			return err
		}

		if r.PreviousAgentID != nil {
			if _, err := lockAgents(ctx, tx, *r.PreviousAgentID, nil); err != nil {
				return err
			}
			if err := adjustLoad(ctx, tx, *r.PreviousAgentID, -1); err != nil {
				return err
			}
		}

		at := r.At.UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = $1, agent_id = NULL, updated_at = $2 WHERE id = $3`,
			string(domainorder.StatusQueued), at, r.OrderID); err != nil {
			return postgres.StoreErr("queueing order", err)
		}

		existing, err := pgqueue.ScanRow(tx.QueryRow(ctx,
			`SELECT `+pgqueue.Columns+` FROM queue_entries WHERE order_id = $1 AND processed_at IS NULL`,
			r.OrderID))
		if err == nil {
			entry = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return postgres.StoreErr("querying live queue entry", err)
		}

		e := domainqueue.New(r.OrderID, r.Priority, at)
		entry, err = pgqueue.ScanRow(tx.QueryRow(ctx, `
			INSERT INTO queue_entries (id, order_id, priority, queued_at)
			VALUES ($1, $2, $3, $4)
			RETURNING `+pgqueue.Columns,
			e.ID, e.OrderID, e.Priority, e.QueuedAt))
		if err != nil {
			return postgres.StoreErr("inserting queue entry", err)
		}
		created = true
		return nil
	})
	return entry, created, err
}

func (s *Store) Release(ctx context.Context, orderID uuid.UUID, to domainorder.Status, at time.Time) (domainorder.Order, error) {
	var out domainorder.Order
	err := s.inTx(ctx, "release order", func(tx pgx.Tx) error {
		ord, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !to.IsTerminal() || !ord.Status.CanTransitionTo(to) {
			return fmt.Errorf("order %s %s -> %s: %w", orderID, ord.Status, to, domaindispatch.ErrInvalidTransition)
		}

		at = at.UTC()
		if ord.Status.IsActive() && ord.AgentID != nil {
			if _, err := lockAgents(ctx, tx, *ord.AgentID, nil); err != nil {
				return err
			}
			if err := adjustLoad(ctx, tx, *ord.AgentID, -1); err != nil {
				return err
			}
		}
		if ord.Status == domainorder.StatusQueued {
			if err := stampLiveEntry(ctx, tx, orderID, at); err != nil {
				return err
			}
		}

		query := `
			UPDATE orders SET status = $1, updated_at = $2, completed_at = $2
			WHERE id = $3
			RETURNING ` + pgorder.Columns
		if to == domainorder.StatusCancelled {
			query = `
				UPDATE orders SET status = $1, updated_at = $2, completed_at = $2, agent_id = NULL
				WHERE id = $3
				RETURNING ` + pgorder.Columns
		}
		out, err = pgorder.ScanRow(tx.QueryRow(ctx, query, string(to), at, orderID))
		if err != nil {
			return postgres.StoreErr("releasing order", err)
		}
		return nil
	})
	return out, err
}

// inTx runs fn in a transaction and commits only if fn returns nil. Driver
// errors from begin/commit are tagged as store failures.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return postgres.StoreErr(op+": begin", err)
	}
	defer tx.Rollback(context.Background()) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return postgres.StoreErr(op+": commit", err)
	}
	return nil
}

func lockOrder(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domainorder.Order, error) {
	ord, err := pgorder.ScanRow(tx.QueryRow(ctx,
		`SELECT `+pgorder.Columns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainorder.Order{}, fmt.Errorf("order %s: %w", id, domaindispatch.ErrNotFound)
		}
		return domainorder.Order{}, postgres.StoreErr("locking order", err)
	}
	return ord, nil
}

// lockAgents locks the given agent rows in id order and returns them by id.
func lockAgents(ctx context.Context, tx pgx.Tx, id uuid.UUID, other *uuid.UUID) (map[uuid.UUID]domainagent.Agent, error) {
	ids := []uuid.UUID{id}
	if other != nil && *other != id {
		ids = append(ids, *other)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	out := make(map[uuid.UUID]domainagent.Agent, len(ids))
	for _, agentID := range ids {
		a, err := pgagent.ScanRow(tx.QueryRow(ctx,
			`SELECT `+pgagent.Columns+` FROM agents WHERE id = $1 FOR UPDATE`, agentID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, postgres.StoreErr("locking agent", err)
		}
		out[agentID] = a
	}
	return out, nil
}

// adjustLoad moves current_order_count by delta. The table's check constraint
// rejects a load below zero or past max_order_capacity, which aborts the
// transaction as ErrCapacityExceeded.
func adjustLoad(ctx context.Context, tx pgx.Tx, agentID uuid.UUID, delta int) error {
	_, err := tx.Exec(ctx,
		`UPDATE agents SET current_order_count = current_order_count + $1 WHERE id = $2`,
		delta, agentID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == checkViolation {
			return fmt.Errorf("agent %s load %+d rejected by %s: %w",
				agentID, delta, pgErr.ConstraintName, domaindispatch.ErrCapacityExceeded)
		}
		return postgres.StoreErr("adjusting agent load", err)
	}
	return nil
}

func stampLiveEntry(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, at time.Time) error {
	if _, err := tx.Exec(ctx,
		`UPDATE queue_entries SET processed_at = $1 WHERE order_id = $2 AND processed_at IS NULL`,
		at, orderID); err != nil {
		return postgres.StoreErr("stamping queue entry", err)
	}
	return nil
}

func checkOwnership(ord domainorder.Order, previous *uuid.UUID) error {
	if previous == nil {
		if !ord.Status.IsAssignable() {
			return fmt.Errorf("order %s is %s: %w", ord.ID, ord.Status, domaindispatch.ErrStaleOrder)
		}
		return nil
	}
	if !ord.Status.IsActive() || !ord.OwnedBy(*previous) {
		return fmt.Errorf("order %s no longer held by agent %s: %w", ord.ID, *previous, domaindispatch.ErrStaleOrder)
	}
	return nil
}
