package order

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	"github.com/alanyang/dispatch-mesh/internal/domain/event"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	portbus "github.com/alanyang/dispatch-mesh/internal/port/eventbus"
	portorder "github.com/alanyang/dispatch-mesh/internal/port/order"
)

// Dispatcher is the slice of the coordinator the order lifecycle triggers.
type Dispatcher interface {
	AssignOrder(ctx context.Context, orderID uuid.UUID) (domaindispatch.Assignment, error)
	ReleaseOrder(ctx context.Context, orderID uuid.UUID, to domainorder.Status) (domainorder.Order, int, error)
}

// Service drives an order from placement to a terminal status. Transitions
// that move agent load are delegated to the coordinator.
type Service struct {
	repo       portorder.Repository
	dispatcher Dispatcher
	bus        portbus.EventBus
	log        *logger.Logger
}

func NewService(repo portorder.Repository, dispatcher Dispatcher, bus portbus.EventBus, log *logger.Logger) *Service {
	return &Service{repo: repo, dispatcher: dispatcher, bus: bus, log: log}
}

// Place creates an order and assigns it inline, so the caller always learns
// whether it was assigned or queued. If assignment fails the order stays
// placed and is returned with the error; POST /orders/:id/assign retries it.
func (s *Service) Place(ctx context.Context, customerID uuid.UUID, priority int) (domainorder.Order, domaindispatch.Assignment, error) {
	created, err := s.repo.Create(ctx, domainorder.New(customerID, priority))
	if err != nil {
		return domainorder.Order{}, domaindispatch.Assignment{}, fmt.Errorf("create order: %w", err)
	}

	ctx = s.log.WithField(ctx, "order_id", created.ID.String())
	if err := s.bus.Publish(ctx, event.New(event.TypeOrderPlaced, created.ID)); err != nil {
		s.log.Error(ctx, "failed to publish order_placed event", err)
	}

	res, err := s.dispatcher.AssignOrder(ctx, created.ID)
	if err != nil {
		return created, domaindispatch.Assignment{}, fmt.Errorf("place order: %w", err)
	}

	current, err := s.repo.GetByID(ctx, created.ID)
	if err != nil {
		return created, res, fmt.Errorf("reload order: %w", err)
	}
	return current, res, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domainorder.Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domainorder.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// ListByAgent returns the agent's orders, oldest first. No statuses means all.
func (s *Service) ListByAgent(ctx context.Context, agentID uuid.UUID, statuses ...domainorder.Status) ([]domainorder.Order, error) {
	orders, err := s.repo.List(ctx, domainorder.ListFilters{
		AgentID:     &agentID,
		Statuses:    statuses,
		OldestFirst: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list agent orders: %w", err)
	}
	return orders, nil
}

// Advance moves an order along its delivery path. picked, in_transit and
// delivered are plain CAS updates; completed and cancelled go through the
// coordinator so the agent's slot is freed and the queue drained. queued and
// assigned are reachable only through dispatch operations. The returned int is
// the number of queued orders assigned into freed capacity.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, from, to domainorder.Status) (domainorder.Order, int, error) {
	if !from.Valid() || !to.Valid() || !from.CanTransitionTo(to) {
		return domainorder.Order{}, 0, fmt.Errorf("order %s %s -> %s: %w", id, from, to, domaindispatch.ErrInvalidTransition)
	}
	ctx = s.log.WithFields(ctx, map[string]any{"order_id": id.String(), "from": string(from), "to": string(to)})

	switch to {
	case domainorder.StatusPicked, domainorder.StatusInTransit, domainorder.StatusDelivered:
		if err := s.repo.UpdateStatus(ctx, id, from, to); err != nil {
			return domainorder.Order{}, 0, fmt.Errorf("advance order: %w", err)
		}
		if err := s.bus.Publish(ctx, event.New(event.TypeOrderUpdated, id)); err != nil {
			s.log.Error(ctx, "failed to publish order_updated event", err)
		}
		o, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return domainorder.Order{}, 0, fmt.Errorf("reload order: %w", err)
		}
		return o, 0, nil

	case domainorder.StatusCompleted, domainorder.StatusCancelled:
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return domainorder.Order{}, 0, fmt.Errorf("get order: %w", err)
		}
		if current.Status != from {
			return domainorder.Order{}, 0, fmt.Errorf("order %s is %s, expected %s: %w", id, current.Status, from, domaindispatch.ErrStaleOrder)
		}
		released, drained, err := s.dispatcher.ReleaseOrder(ctx, id, to)
		if err != nil {
			return domainorder.Order{}, 0, fmt.Errorf("advance order: %w", err)
		}
		s.log.Info(ctx, "order released")
		return released, drained, nil
	}

	return domainorder.Order{}, 0, fmt.Errorf("order %s -> %s is dispatch-owned: %w", id, to, domaindispatch.ErrInvalidTransition)
}

// ConfirmPayment closes a delivered order.
func (s *Service) ConfirmPayment(ctx context.Context, id uuid.UUID) (domainorder.Order, int, error) {
	return s.Advance(ctx, id, domainorder.StatusDelivered, domainorder.StatusCompleted)
}

// Cancel cancels an order from whatever non-terminal status it is in.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (domainorder.Order, int, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domainorder.Order{}, 0, fmt.Errorf("get order: %w", err)
	}
	return s.Advance(ctx, id, current.Status, domainorder.StatusCancelled)
}
