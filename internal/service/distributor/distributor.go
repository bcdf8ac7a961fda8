package distributor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	"github.com/alanyang/dispatch-mesh/internal/domain/event"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	domainqueue "github.com/alanyang/dispatch-mesh/internal/domain/queue"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	portdispatch "github.com/alanyang/dispatch-mesh/internal/port/dispatch"
	portdist "github.com/alanyang/dispatch-mesh/internal/port/distributor"
	portbus "github.com/alanyang/dispatch-mesh/internal/port/eventbus"
	portnotifier "github.com/alanyang/dispatch-mesh/internal/port/notifier"
)

var _ portdist.Assigner = (*Service)(nil)

// OrderReader is the one order lookup the engine needs.
type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (domainorder.Order, error)
}

// Directory lists candidate agents, least loaded first.
type Directory interface {
	ListEligible(ctx context.Context, exclude ...uuid.UUID) ([]domainagent.Agent, error)
}

// Queuer parks orders no agent can take.
type Queuer interface {
	Enqueue(ctx context.Context, orderID uuid.UUID, priority int, previousAgent *uuid.UUID) (domainqueue.Entry, bool, error)
}

const (
	msgAssigned   = "New order assigned"
	msgReassigned = "Order reassigned to you"
)

// Service is the assignment engine: it picks one agent per order by rotating
// a cursor over the eligible list and commits the pairing atomically.
//
// The cursor advances modulo the length of whatever list the directory returns
// on each call, so rotation is only fair within a burst against a stable
// candidate set. Callers serialise Assign/Reassign through the coordinator.
// [SRP] Selection and commit only. Queue replay lives in the queue service.
type Service struct {
	orders    OrderReader
	directory Directory
	queue     Queuer
	store     portdispatch.Store
	notifier  portnotifier.AgentNotifier
	bus       portbus.EventBus
	log       *logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	cursor int
}

type Option func(*Service)

// WithClock overrides time.Now for assigned_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	orders OrderReader,
	directory Directory,
	queue Queuer,
	store portdispatch.Store,
	notifier portnotifier.AgentNotifier,
	bus portbus.EventBus,
	log *logger.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		orders:    orders,
		directory: directory,
		queue:     queue,
		store:     store,
		notifier:  notifier,
		bus:       bus,
		log:       log,
		now:       time.Now,
		cursor:    -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assign gives a placed or queued order to the next eligible agent, or queues
// it when the pool is empty.
func (s *Service) Assign(ctx context.Context, orderID uuid.UUID) (domaindispatch.Assignment, error) {
	ord, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return domaindispatch.Assignment{}, fmt.Errorf("get order: %w", err)
	}
	if !ord.Status.IsAssignable() {
		return domaindispatch.Assignment{}, fmt.Errorf("order %s is %s: %w", ord.ID, ord.Status, domaindispatch.ErrOrderNotAssignable)
	}

	candidates, err := s.directory.ListEligible(ctx)
	if err != nil {
		return domaindispatch.Assignment{}, err
	}
	if len(candidates) == 0 {
		if _, _, err := s.queue.Enqueue(ctx, ord.ID, ord.Priority, nil); err != nil {
			return domaindispatch.Assignment{}, fmt.Errorf("queue order: %w", err)
		}
		return domaindispatch.Queued(ord.ID), nil
	}

	selected := s.next(candidates)
	committed, err := s.store.CommitAssignment(ctx, domaindispatch.Commit{
		OrderID: ord.ID,
		AgentID: selected.ID,
		At:      s.now(),
	})
	if err != nil {
		return domaindispatch.Assignment{}, fmt.Errorf("commit assignment: %w", err)
	}

	s.announce(ctx, committed.ID, selected, event.TypeOrderAssigned, msgAssigned)
	return domaindispatch.Assigned(committed.ID, selected.ID), nil
}

// Reassign moves an active order off its current agent: to the next eligible
// agent if any, otherwise back into the queue. Either way the previous agent's
// load drops by one in the same transaction.
func (s *Service) Reassign(ctx context.Context, ord domainorder.Order) (domaindispatch.Assignment, error) {
	if !ord.Status.IsActive() || ord.AgentID == nil {
		return domaindispatch.Assignment{}, fmt.Errorf("order %s is %s: %w", ord.ID, ord.Status, domaindispatch.ErrOrderNotAssignable)
	}
	previous := *ord.AgentID

	candidates, err := s.directory.ListEligible(ctx, previous)
	if err != nil {
		return domaindispatch.Assignment{}, err
	}
	if len(candidates) == 0 {
		if _, _, err := s.queue.Enqueue(ctx, ord.ID, ord.Priority, &previous); err != nil {
			return domaindispatch.Assignment{}, fmt.Errorf("requeue order: %w", err)
		}
		return domaindispatch.Queued(ord.ID), nil
	}

	selected := s.next(candidates)
	committed, err := s.store.CommitAssignment(ctx, domaindispatch.Commit{
		OrderID:         ord.ID,
		AgentID:         selected.ID,
		PreviousAgentID: &previous,
		At:              s.now(),
	})
	if err != nil {
		return domaindispatch.Assignment{}, fmt.Errorf("commit reassignment: %w", err)
	}

	s.announce(ctx, committed.ID, selected, event.TypeOrderReassigned, msgReassigned)
	return domaindispatch.Assigned(committed.ID, selected.ID), nil
}

func (s *Service) next(candidates []domainagent.Agent) domainagent.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = (s.cursor + 1) % len(candidates)
	return candidates[s.cursor]
}

// announce is best-effort: a failed push or publish never undoes the commit.
func (s *Service) announce(ctx context.Context, orderID uuid.UUID, to domainagent.Agent, t event.Type, msg string) {
	ctx = s.log.WithFields(ctx, map[string]any{
		"order_id": orderID.String(),
		"agent_id": to.ID.String(),
	})
	if err := s.notifier.Notify(ctx, to.UserID, orderID, msg); err != nil {
		s.log.Error(ctx, "failed to notify agent", err)
	}
	if err := s.bus.Publish(ctx, event.New(t, orderID)); err != nil {
		s.log.Error(ctx, "failed to publish "+string(t)+" event", err)
	}
	s.log.Info(ctx, string(t))
}
