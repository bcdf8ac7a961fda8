package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	domainqueue "github.com/alanyang/dispatch-mesh/internal/domain/queue"
)

// Store performs the writes that touch an order and an agent's load together.
// Every method is one transaction: either all of its effects commit or none do.
type Store interface {
	// CommitAssignment pairs an order with an agent. It re-checks the agent's
	// eligibility and capacity under a row lock and returns
	// ErrCapacityExceeded rather than commit an over-capacity state.
	CommitAssignment(ctx context.Context, c domaindispatch.Commit) (domainorder.Order, error)

	// Enqueue moves the order to queued and inserts a queue entry unless a
	// live one already exists, in which case that entry is returned with
	// created=false.
	Enqueue(ctx context.Context, r domaindispatch.Requeue) (entry domainqueue.Entry, created bool, err error)

	// Release moves an order to a terminal status and decrements its agent's
	// load if the order was active. A queued order's live entry is stamped
	// processed.
	Release(ctx context.Context, orderID uuid.UUID, to domainorder.Status, at time.Time) (domainorder.Order, error)
}
