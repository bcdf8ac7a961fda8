package agent

import (
	"time"

	"github.com/google/uuid"
)

type Availability string

const (
	AvailabilityOnline  Availability = "online"
	AvailabilityOffline Availability = "offline"
)

func (a Availability) Valid() bool {
	return a == AvailabilityOnline || a == AvailabilityOffline
}

// AccountStatus mirrors the owning user account. Inactive accounts are never
// selected, even while their agent reports online.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

func (s AccountStatus) Valid() bool {
	return s == AccountActive || s == AccountInactive
}

const DefaultMaxOrderCapacity = 3

type Agent struct {
	ID                uuid.UUID     `json:"id"`
	UserID            uuid.UUID     `json:"user_id"`
	Name              string        `json:"name"`
	Availability      Availability  `json:"availability"`
	AccountStatus     AccountStatus `json:"account_status"`
	CurrentOrderCount int           `json:"current_order_count"`
	MaxOrderCapacity  int           `json:"max_order_capacity"`
	LastHeartbeatAt   *time.Time    `json:"last_heartbeat_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// New builds an offline agent with no load. A non-positive capacity falls back
// to DefaultMaxOrderCapacity.
func New(userID uuid.UUID, name string, maxCapacity int) Agent {
	if maxCapacity <= 0 {
		maxCapacity = DefaultMaxOrderCapacity
	}
	return Agent{
		ID:               uuid.New(),
		UserID:           userID,
		Name:             name,
		Availability:     AvailabilityOffline,
		AccountStatus:    AccountActive,
		MaxOrderCapacity: maxCapacity,
		CreatedAt:        time.Now().UTC(),
	}
}

func (a *Agent) HasCapacity() bool {
	return a.CurrentOrderCount < a.MaxOrderCapacity
}

// IsEligible reports whether the agent may receive a new order right now.
func (a *Agent) IsEligible() bool {
	return a.Availability == AvailabilityOnline &&
		a.AccountStatus == AccountActive &&
		a.HasCapacity()
}

func (a *Agent) RecordHeartbeat(at time.Time) {
	t := at.UTC()
	a.LastHeartbeatAt = &t
}

// SetAvailability flips the agent. Coming online counts as a heartbeat.
func (a *Agent) SetAvailability(availability Availability, at time.Time) {
	a.Availability = availability
	if availability == AvailabilityOnline {
		a.RecordHeartbeat(at)
	}
}

// IsStale reports whether an online agent has been silent since before cutoff.
func (a *Agent) IsStale(cutoff time.Time) bool {
	if a.Availability != AvailabilityOnline {
		return false
	}
	return a.LastHeartbeatAt == nil || a.LastHeartbeatAt.Before(cutoff)
}

type ListFilters struct {
	Availability  *Availability
	AccountStatus *AccountStatus
}
