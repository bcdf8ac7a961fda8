package dispatch

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrStoreUnavailable marks any failed read or write against the order,
	// agent or queue stores. Nothing was committed; the call is safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned when an order or agent id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCapacityExceeded means a commit would have moved an agent's load
	// outside [0, max order capacity]. The store aborts instead.
	ErrCapacityExceeded = errors.New("agent capacity exceeded")

	// ErrOrderNotAssignable is returned when assignment is requested for an
	// order that is neither placed nor queued.
	ErrOrderNotAssignable = errors.New("order not assignable")

	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStaleOrder means the order changed between read and commit.
	ErrStaleOrder = errors.New("order changed concurrently")
)

// IsStoreFailure reports whether err belongs to the retryable store class.
func IsStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrCapacityExceeded)
}

// Assignment is the outcome of assigning one order.
type Assignment struct {
	OrderID uuid.UUID  `json:"order_id"`
	AgentID *uuid.UUID `json:"agent_id,omitempty"`
	Queued  bool       `json:"queued"`
}

func Assigned(orderID, agentID uuid.UUID) Assignment {
	return Assignment{OrderID: orderID, AgentID: &agentID}
}

func Queued(orderID uuid.UUID) Assignment {
	return Assignment{OrderID: orderID, Queued: true}
}

// Commit is one atomic order/agent pairing. When PreviousAgentID is set the
// order moves from that agent to AgentID (-1 / +1); otherwise the order must
// be placed or queued. Any live queue entry for the order is stamped
// processed in the same transaction.
type Commit struct {
	OrderID         uuid.UUID
	AgentID         uuid.UUID
	PreviousAgentID *uuid.UUID
	At              time.Time
}

// Requeue parks an order in the backlog. When PreviousAgentID is set that
// agent is relieved of the order in the same transaction.
type Requeue struct {
	OrderID         uuid.UUID
	Priority        int
	PreviousAgentID *uuid.UUID
	At              time.Time
}
