package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	"github.com/alanyang/dispatch-mesh/internal/domain/event"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	domainqueue "github.com/alanyang/dispatch-mesh/internal/domain/queue"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	"github.com/alanyang/dispatch-mesh/internal/metrics"
	portdist "github.com/alanyang/dispatch-mesh/internal/port/distributor"
	portbus "github.com/alanyang/dispatch-mesh/internal/port/eventbus"
	portlocker "github.com/alanyang/dispatch-mesh/internal/port/locker"
	portorder "github.com/alanyang/dispatch-mesh/internal/port/order"
)

// Engine is the assignment engine as the coordinator sees it.
type Engine interface {
	portdist.Assigner
	Reassign(ctx context.Context, ord domainorder.Order) (domaindispatch.Assignment, error)
}

// Backlog is the queue manager as the coordinator sees it.
type Backlog interface {
	Drain(ctx context.Context, assigner portdist.Assigner) (int, error)
	Pending(ctx context.Context) ([]domainqueue.Entry, error)
}

type AgentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (domainagent.Agent, error)
}

type Releaser interface {
	Release(ctx context.Context, orderID uuid.UUID, to domainorder.Status, at time.Time) (domainorder.Order, error)
}

// Operation names used for duration metrics.
const (
	OpAssignOrder = "assign_order"
	OpProcess     = "process_queue"
	OpReassign    = "reassign_agent_orders"
	OpRelease     = "release_order"
)

// Service is the only entry point that mutates dispatch state. Every operation
// runs under one global advisory lock, so selection, commit and drain never
// interleave across requests or processes.
type Service struct {
	engine  Engine
	backlog Backlog
	orders  portorder.Repository
	agents  AgentReader
	store   Releaser
	locker  portlocker.AdvisoryLocker
	bus     portbus.EventBus
	metrics *metrics.DispatchMetrics
	log     *logger.Logger
	now     func() time.Time
}

func NewService(
	engine Engine,
	backlog Backlog,
	orders portorder.Repository,
	agents AgentReader,
	store Releaser,
	locker portlocker.AdvisoryLocker,
	bus portbus.EventBus,
	m *metrics.DispatchMetrics,
	log *logger.Logger,
) *Service {
	return &Service{
		engine:  engine,
		backlog: backlog,
		orders:  orders,
		agents:  agents,
		store:   store,
		locker:  locker,
		bus:     bus,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// dispatchKey is the single advisory lock key every operation shares.
var dispatchKey = advisoryKey("dispatch-mesh/coordinator")

// advisoryKey hashes a name to a stable int64 for pg_advisory_lock.
func advisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// AssignOrder assigns a placed or queued order, or queues it.
func (s *Service) AssignOrder(ctx context.Context, orderID uuid.UUID) (domaindispatch.Assignment, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDuration(OpAssignOrder, time.Since(start)) }()

	var res domaindispatch.Assignment
	err := s.locker.WithLock(ctx, dispatchKey, func(ctx context.Context) error {
		var err error
		res, err = s.engine.Assign(ctx, orderID)
		return err
	})
	if err != nil {
		s.metrics.ObserveAssignment(metrics.OutcomeFailed)
		s.log.Error(s.log.WithField(ctx, "order_id", orderID.String()), "assign order failed", err)
		return domaindispatch.Assignment{}, fmt.Errorf("assign order: %w", err)
	}

	if res.Queued {
		s.metrics.ObserveAssignment(metrics.OutcomeQueued)
	} else {
		s.metrics.ObserveAssignment(metrics.OutcomeAssigned)
	}
	s.refreshBacklog(ctx)
	return res, nil
}

// ProcessQueue replays the backlog and returns how many orders were assigned.
// Call it whenever capacity grows: an agent comes online or an order ends.
func (s *Service) ProcessQueue(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDuration(OpProcess, time.Since(start)) }()

	var processed int
	err := s.locker.WithLock(ctx, dispatchKey, func(ctx context.Context) error {
		var err error
		processed, err = s.drain(ctx)
		return err
	})
	if err != nil {
		return processed, fmt.Errorf("process queue: %w", err)
	}
	s.refreshBacklog(ctx)
	return processed, nil
}

// ReassignAgentOrders moves every order the agent holds (assigned through
// delivered, oldest first) to another agent or back into the queue. It returns
// the number of orders moved. Queued orders hold no agent and are not counted.
func (s *Service) ReassignAgentOrders(ctx context.Context, agentID uuid.UUID) (int, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDuration(OpReassign, time.Since(start)) }()

	ctx = s.log.WithField(ctx, "agent_id", agentID.String())
	var moved int
	err := s.locker.WithLock(ctx, dispatchKey, func(ctx context.Context) error {
		if _, err := s.agents.GetByID(ctx, agentID); err != nil {
			return fmt.Errorf("get agent: %w", err)
		}

		held, err := s.orders.List(ctx, domainorder.ListFilters{
			AgentID:     &agentID,
			Statuses:    domainorder.ActiveStatuses(),
			OldestFirst: true,
		})
		if err != nil {
			return fmt.Errorf("list agent orders: %w", err)
		}

		for _, ord := range held {
			res, err := s.engine.Reassign(ctx, ord)
			if err != nil {
				return fmt.Errorf("reassign order %s: %w", ord.ID, err)
			}
			s.metrics.ObserveReassignment(res.Queued)
			moved++
		}
		return nil
	})
	if err != nil {
		s.log.Error(ctx, "reassign agent orders failed", err)
		return moved, fmt.Errorf("reassign agent orders: %w", err)
	}

	if moved > 0 {
		s.log.Info(s.log.WithField(ctx, "moved", moved), "agent orders reassigned")
	}
	s.refreshBacklog(ctx)
	return moved, nil
}

// ReleaseOrder moves an order to completed or cancelled, frees its agent's
// slot exactly once, then drains the queue into the freed capacity.
func (s *Service) ReleaseOrder(ctx context.Context, orderID uuid.UUID, to domainorder.Status) (domainorder.Order, int, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDuration(OpRelease, time.Since(start)) }()

	if !to.IsTerminal() {
		return domainorder.Order{}, 0, fmt.Errorf("release order to %s: %w", to, domaindispatch.ErrInvalidTransition)
	}

	var released domainorder.Order
	var drained int
	err := s.locker.WithLock(ctx, dispatchKey, func(ctx context.Context) error {
		var err error
		released, err = s.store.Release(ctx, orderID, to, s.now())
		if err != nil {
			return err
		}
		if err := s.bus.Publish(ctx, event.New(event.TypeOrderReleased, orderID)); err != nil {
			s.log.Error(s.log.WithField(ctx, "order_id", orderID.String()), "failed to publish order_released event", err)
		}
		drained, err = s.drain(ctx)
		return err
	})
	if err != nil {
		if released.ID != uuid.Nil {
			// Released but the follow-up drain failed; the sweeper retries it.
			s.log.Error(s.log.WithField(ctx, "order_id", orderID.String()), "drain after release failed", err)
			return released, drained, nil
		}
		return domainorder.Order{}, 0, fmt.Errorf("release order: %w", err)
	}
	s.refreshBacklog(ctx)
	return released, drained, nil
}

// Pending lists the live backlog in drain order.
func (s *Service) Pending(ctx context.Context) ([]domainqueue.Entry, error) {
	return s.backlog.Pending(ctx)
}

// drain must run under dispatchKey.
func (s *Service) drain(ctx context.Context) (int, error) {
	n, err := s.backlog.Drain(ctx, s.engine)
	s.metrics.AddDrained(n)
	return n, err
}

func (s *Service) refreshBacklog(ctx context.Context) {
	entries, err := s.backlog.Pending(ctx)
	if err != nil {
		s.log.Warn(ctx, "could not refresh queue backlog gauge: "+err.Error())
		return
	}
	s.metrics.SetBacklog(len(entries))
}
