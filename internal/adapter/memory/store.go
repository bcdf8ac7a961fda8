package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	domainqueue "github.com/alanyang/dispatch-mesh/internal/domain/queue"
	portagent "github.com/alanyang/dispatch-mesh/internal/port/agent"
	portdispatch "github.com/alanyang/dispatch-mesh/internal/port/dispatch"
	portorder "github.com/alanyang/dispatch-mesh/internal/port/order"
	portqueue "github.com/alanyang/dispatch-mesh/internal/port/queue"
)

var (
	_ portagent.Repository              = (*Agents)(nil)
	_ portagent.AgentAvailabilityReader = (*Agents)(nil)
	_ portorder.Repository              = (*Orders)(nil)
	_ portqueue.Repository              = (*Store)(nil)
	_ portdispatch.Store                = (*Store)(nil)
)

// Store keeps agents, orders and queue entries in process memory behind one
// mutex, so every method is trivially a single transaction.
type Store struct {
	mu      sync.Mutex
	agents  map[uuid.UUID]domainagent.Agent
	orders  map[uuid.UUID]domainorder.Order
	entries map[uuid.UUID]domainqueue.Entry

	// failNext makes the next call fail with ErrStoreUnavailable (tests).
	failNext error
}

func NewStore() *Store {
	return &Store{
		agents:  make(map[uuid.UUID]domainagent.Agent),
		orders:  make(map[uuid.UUID]domainorder.Order),
		entries: make(map[uuid.UUID]domainqueue.Entry),
	}
}

// FailNext makes the next store call return err wrapped as a store failure.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// takeFailure must be called with mu held.
func (s *Store) takeFailure() error {
	if s.failNext == nil {
		return nil
	}
	err := s.failNext
	s.failNext = nil
	return fmt.Errorf("%w: %w", domaindispatch.ErrStoreUnavailable, err)
}

// ── agents ────────────────────────────────────────────────────────────────────

// Agents exposes the agent repository view of the store.
func (s *Store) Agents() *Agents { return &Agents{s: s} }

// Agents implements port/agent.Repository and AgentAvailabilityReader.
type Agents struct{ s *Store }

func (r *Agents) Create(ctx context.Context, a domainagent.Agent) (domainagent.Agent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return domainagent.Agent{}, err
	}
	if _, ok := s.agents[a.ID]; ok {
		return domainagent.Agent{}, fmt.Errorf("agent %s already exists", a.ID)
	}
	s.agents[a.ID] = a
	return a, nil
}

func (r *Agents) GetByID(ctx context.Context, id uuid.UUID) (domainagent.Agent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return domainagent.Agent{}, err
	}
	a, ok := s.agents[id]
	if !ok {
		return domainagent.Agent{}, fmt.Errorf("agent %s: %w", id, domaindispatch.ErrNotFound)
	}
	return a, nil
}

func (r *Agents) List(ctx context.Context, filters domainagent.ListFilters) ([]domainagent.Agent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]domainagent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if filters.Availability != nil && a.Availability != *filters.Availability {
			continue
		}
		if filters.AccountStatus != nil && a.AccountStatus != *filters.AccountStatus {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Agents) ListEligible(ctx context.Context) ([]domainagent.Agent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]domainagent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if a.IsEligible() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentOrderCount != out[j].CurrentOrderCount {
			return out[i].CurrentOrderCount < out[j].CurrentOrderCount
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *Agents) UpdateAvailability(ctx context.Context, id uuid.UUID, availability domainagent.Availability, at time.Time) error {
	return r.mutateAgent(id, func(a *domainagent.Agent) { a.SetAvailability(availability, at) })
}

func (r *Agents) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domainagent.AccountStatus) error {
	return r.mutateAgent(id, func(a *domainagent.Agent) { a.AccountStatus = status })
}

func (r *Agents) RecordHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.mutateAgent(id, func(a *domainagent.Agent) { a.RecordHeartbeat(at) })
}

func (r *Agents) ListStale(ctx context.Context, cutoff time.Time) ([]domainagent.Agent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	var out []domainagent.Agent
	for _, a := range s.agents {
		if a.IsStale(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Agents) mutateAgent(id uuid.UUID, fn func(a *domainagent.Agent)) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domaindispatch.ErrNotFound)
	}
	fn(&a)
	s.agents[id] = a
	return nil
}

// ── orders ────────────────────────────────────────────────────────────────────

// Orders exposes the order repository view of the store.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Orders implements port/order.Repository on top of Store.
type Orders struct{ s *Store }

func (o *Orders) Create(ctx context.Context, ord domainorder.Order) (domainorder.Order, error) {
	s := o.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return domainorder.Order{}, err
	}
	if _, ok := s.orders[ord.ID]; ok {
		return domainorder.Order{}, fmt.Errorf("order %s already exists", ord.ID)
	}
	s.orders[ord.ID] = ord
	return ord, nil
}

func (o *Orders) GetByID(ctx context.Context, id uuid.UUID) (domainorder.Order, error) {
	s := o.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return domainorder.Order{}, err
	}
	ord, ok := s.orders[id]
	if !ok {
		return domainorder.Order{}, fmt.Errorf("order %s: %w", id, domaindispatch.ErrNotFound)
	}
	return ord, nil
}

func (o *Orders) List(ctx context.Context, filters domainorder.ListFilters) ([]domainorder.Order, error) {
	s := o.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]domainorder.Order, 0)
	for _, ord := range s.orders {
		if filters.AgentID != nil && !ord.OwnedBy(*filters.AgentID) {
			continue
		}
		if len(filters.Statuses) > 0 && !containsStatus(filters.Statuses, ord.Status) {
			continue
		}
		out = append(out, ord)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		if filters.OldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (o *Orders) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domainorder.Status) error {
	s := o.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	ord, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, domaindispatch.ErrNotFound)
	}
	if ord.Status != from {
		return fmt.Errorf("order %s status CAS failed: expected %s: %w", id, from, domaindispatch.ErrStaleOrder)
	}
	ord.Status = to
	ord.UpdatedAt = time.Now().UTC()
	s.orders[id] = ord
	return nil
}

func containsStatus(set []domainorder.Status, s domainorder.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// ── queue ─────────────────────────────────────────────────────────────────────

func (s *Store) ListLive(ctx context.Context) ([]domainqueue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]domainqueue.Entry, 0)
	for _, e := range s.entries {
		if e.IsLive() {
			out = append(out, e)
		}
	}
	domainqueue.Sort(out)
	return out, nil
}

func (s *Store) MarkProcessed(ctx context.Context, entryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	e, ok := s.entries[entryID]
	if !ok {
		return fmt.Errorf("queue entry %s: %w", entryID, domaindispatch.ErrNotFound)
	}
	if e.IsLive() {
		now := time.Now().UTC()
		e.ProcessedAt = &now
		s.entries[entryID] = e
	}
	return nil
}

// AllEntries returns every queue entry, processed ones included (tests/audit).
func (s *Store) AllEntries() []domainqueue.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domainqueue.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	domainqueue.Sort(out)
	return out
}

func (s *Store) liveEntryLocked(orderID uuid.UUID) (domainqueue.Entry, bool) {
	for _, e := range s.entries {
		if e.OrderID == orderID && e.IsLive() {
			return e, true
		}
	}
	return domainqueue.Entry{}, false
}

func (s *Store) stampLiveEntryLocked(orderID uuid.UUID, at time.Time) {
	if e, ok := s.liveEntryLocked(orderID); ok {
		t := at.UTC()
		e.ProcessedAt = &t
		s.entries[e.ID] = e
	}
}

// ── atomic dispatch writes ────────────────────────────────────────────────────

func (s *Store) CommitAssignment(ctx context.Context, c domaindispatch.Commit) (domainorder.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return domainorder.Order{}, err
	}

	ord, ok := s.orders[c.OrderID]
	if !ok {
		return domainorder.Order{}, fmt.Errorf("order %s: %w", c.OrderID, domaindispatch.ErrNotFound)
	}
	if err := checkOwnership(ord, c.PreviousAgentID); err != nil {
		return domainorder.Order{}, err
	}

	target, ok := s.agents[c.AgentID]
	if !ok {
		return domainorder.Order{}, fmt.Errorf("agent %s: %w", c.AgentID, domaindispatch.ErrNotFound)
	}
	if !target.IsEligible() {
		return domainorder.Order{}, fmt.Errorf("agent %s (%d/%d, %s): %w",
			target.ID, target.CurrentOrderCount, target.MaxOrderCapacity, target.Availability,
			domaindispatch.ErrCapacityExceeded)
	}

	if c.PreviousAgentID != nil {
		if err := s.moveLoadLocked(*c.PreviousAgentID, -1); err != nil {
			return domainorder.Order{}, err
		}
	}
	if err := s.moveLoadLocked(target.ID, +1); err != nil {
		return domainorder.Order{}, err
	}

	at := c.At.UTC()
	agentID := c.AgentID
	ord.AgentID = &agentID
	ord.Status = domainorder.StatusAssigned
	ord.AssignedAt = &at
	ord.UpdatedAt = at
	s.orders[ord.ID] = ord

	s.stampLiveEntryLocked(ord.ID, at)
	return ord, nil
}

func (s *Store) Enqueue(ctx context.Context, r domaindispatch.Requeue) (domainqueue.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return domainqueue.Entry{}, false, err
	}

	ord, ok := s.orders[r.OrderID]
	if !ok {
		return domainqueue.Entry{}, false, fmt.Errorf("order %s: %w", r.OrderID, domaindispatch.ErrNotFound)
	}
	if err := checkOwnership(ord, r.PreviousAgentID); err != nil {
		return domainqueue.Entry{}, false, err
	}

	if r.PreviousAgentID != nil {
		if err := s.moveLoadLocked(*r.PreviousAgentID, -1); err != nil {
			return domainqueue.Entry{}, false, err
		}
	}

	at := r.At.UTC()
	ord.Status = domainorder.StatusQueued
	ord.AgentID = nil
	ord.UpdatedAt = at
	s.orders[ord.ID] = ord

	if existing, ok := s.liveEntryLocked(ord.ID); ok {
		return existing, false, nil
	}
	entry := domainqueue.New(ord.ID, r.Priority, at)
	s.entries[entry.ID] = entry
	return entry, true, nil
}

func (s *Store) Release(ctx context.Context, orderID uuid.UUID, to domainorder.Status, at time.Time) (domainorder.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return domainorder.Order{}, err
	}

	ord, ok := s.orders[orderID]
	if !ok {
		return domainorder.Order{}, fmt.Errorf("order %s: %w", orderID, domaindispatch.ErrNotFound)
	}
	if !to.IsTerminal() || !ord.Status.CanTransitionTo(to) {
		return domainorder.Order{}, fmt.Errorf("order %s %s -> %s: %w", orderID, ord.Status, to, domaindispatch.ErrInvalidTransition)
	}

	if ord.Status.IsActive() && ord.AgentID != nil {
		if err := s.moveLoadLocked(*ord.AgentID, -1); err != nil {
			return domainorder.Order{}, err
		}
	}
	if ord.Status == domainorder.StatusQueued {
		s.stampLiveEntryLocked(ord.ID, at)
	}

	at = at.UTC()
	ord.Status = to
	ord.UpdatedAt = at
	ord.CompletedAt = &at
	if to == domainorder.StatusCancelled {
		ord.AgentID = nil
	}
	s.orders[ord.ID] = ord
	return ord, nil
}

// moveLoadLocked shifts an agent's load by delta. A result outside
// [0, max_order_capacity] is refused and nothing changes. Must be called with
// mu held.
func (s *Store) moveLoadLocked(id uuid.UUID, delta int) error {
	a, ok := s.agents[id]
	if !ok {
		return nil
	}
	next := a.CurrentOrderCount + delta
	if next < 0 || next > a.MaxOrderCapacity {
		return fmt.Errorf("agent %s load %d%+d outside [0,%d]: %w",
			id, a.CurrentOrderCount, delta, a.MaxOrderCapacity, domaindispatch.ErrCapacityExceeded)
	}
	a.CurrentOrderCount = next
	s.agents[id] = a
	return nil
}

// checkOwnership enforces the Commit/Requeue contract: with no previous agent
// the order must be waiting; otherwise it must be active and held by that agent.
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
