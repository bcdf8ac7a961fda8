package order

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPlaced    Status = "placed"
	StatusQueued    Status = "queued"
	StatusAssigned  Status = "assigned"
	StatusPicked    Status = "picked"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Reassignment (→assigned) and requeue (→queued) are legal from every status
// in which an agent holds the order.
var validTransitions = map[Status][]Status{
	StatusPlaced:    {StatusQueued, StatusAssigned, StatusCancelled},
	StatusQueued:    {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusPicked, StatusAssigned, StatusQueued, StatusCancelled},
	StatusPicked:    {StatusInTransit, StatusAssigned, StatusQueued, StatusCancelled},
	StatusInTransit: {StatusDelivered, StatusAssigned, StatusQueued, StatusCancelled},
	StatusDelivered: {StatusCompleted, StatusAssigned, StatusQueued},
	StatusCompleted: {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsActive reports whether an agent is currently holding the order. Only
// active orders count toward an agent's load.
func (s Status) IsActive() bool {
	switch s {
	case StatusAssigned, StatusPicked, StatusInTransit, StatusDelivered:
		return true
	}
	return false
}

// IsAssignable reports whether the order is waiting for an agent.
func (s Status) IsAssignable() bool {
	return s == StatusPlaced || s == StatusQueued
}

// ActiveStatuses lists the statuses that hold agent capacity.
func ActiveStatuses() []Status {
	return []Status{StatusAssigned, StatusPicked, StatusInTransit, StatusDelivered}
}

type Order struct {
	ID          uuid.UUID  `json:"id"`
	CustomerID  uuid.UUID  `json:"customer_id"`
	Status      Status     `json:"status"`
	AgentID     *uuid.UUID `json:"agent_id,omitempty"`
	Priority    int        `json:"priority"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func New(customerID uuid.UUID, priority int) Order {
	now := time.Now().UTC()
	return Order{
		ID:         uuid.New(),
		CustomerID: customerID,
		Status:     StatusPlaced,
		Priority:   priority,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// OwnedBy reports whether agentID is the order's current agent.
func (o Order) OwnedBy(agentID uuid.UUID) bool {
	return o.AgentID != nil && *o.AgentID == agentID
}

type ListFilters struct {
	AgentID  *uuid.UUID
	Statuses []Status
	// OldestFirst orders by created_at ASC (default is DESC).
	OldestFirst bool
}
