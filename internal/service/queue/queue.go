package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	"github.com/alanyang/dispatch-mesh/internal/domain/event"
	domainqueue "github.com/alanyang/dispatch-mesh/internal/domain/queue"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	portdist "github.com/alanyang/dispatch-mesh/internal/port/distributor"
	portbus "github.com/alanyang/dispatch-mesh/internal/port/eventbus"
	portqueue "github.com/alanyang/dispatch-mesh/internal/port/queue"
)

// EnqueueStore is the slice of port/dispatch.Store the queue writes through.
type EnqueueStore interface {
	Enqueue(ctx context.Context, r domaindispatch.Requeue) (domainqueue.Entry, bool, error)
}

// Service owns the backlog of orders no agent could take.
// [SRP] Parking and ordered replay only. Agent selection is the Assigner's.
type Service struct {
	store   EnqueueStore
	entries portqueue.Repository
	bus     portbus.EventBus
	log     *logger.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now for queued_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store EnqueueStore, entries portqueue.Repository, bus portbus.EventBus, log *logger.Logger, opts ...Option) *Service {
	s := &Service{store: store, entries: entries, bus: bus, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue moves the order to queued and records a live entry for it. A second
// call for an order that already has a live entry returns that entry with
// created=false. previousAgent, when set, is relieved of the order atomically.
func (s *Service) Enqueue(ctx context.Context, orderID uuid.UUID, priority int, previousAgent *uuid.UUID) (domainqueue.Entry, bool, error) {
	entry, created, err := s.store.Enqueue(ctx, domaindispatch.Requeue{
		OrderID:         orderID,
		Priority:        priority,
		PreviousAgentID: previousAgent,
		At:              s.now(),
	})
	if err != nil {
		return domainqueue.Entry{}, false, fmt.Errorf("enqueue order %s: %w", orderID, err)
	}

	ctx = s.log.WithField(ctx, "order_id", orderID.String())
	if created {
		if err := s.bus.Publish(ctx, event.New(event.TypeOrderQueued, orderID)); err != nil {
			s.log.Error(ctx, "failed to publish order_queued event", err)
		}
		s.log.Info(ctx, "order queued")
	}
	return entry, created, nil
}

// Drain replays live entries in priority DESC, queued_at ASC order through
// assigner and returns how many were assigned.
//
// It stops at the first entry that comes back queued: a later entry never
// jumps an earlier one while capacity is exhausted (head-of-line blocking).
// Entries whose order can no longer be assigned (cancelled meanwhile) are
// retired and skipped.
func (s *Service) Drain(ctx context.Context, assigner portdist.Assigner) (int, error) {
	entries, err := s.entries.ListLive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queue: %w", err)
	}

	processed := 0
	for _, entry := range entries {
		res, err := assigner.Assign(ctx, entry.OrderID)
		if err != nil {
			if errors.Is(err, domaindispatch.ErrOrderNotAssignable) {
				if err := s.entries.MarkProcessed(ctx, entry.ID); err != nil {
					return processed, fmt.Errorf("retire queue entry %s: %w", entry.ID, err)
				}
				continue
			}
			return processed, fmt.Errorf("assign queued order %s: %w", entry.OrderID, err)
		}
		if res.Queued {
			break
		}
		processed++
	}

	if processed > 0 {
		if err := s.bus.Publish(ctx, event.New(event.TypeQueueDrained, uuid.Nil)); err != nil {
			s.log.Error(ctx, "failed to publish queue_drained event", err)
		}
		s.log.Info(s.log.WithField(ctx, "processed", processed), "queue drained")
	}
	return processed, nil
}

// Pending lists the live backlog in drain order.
func (s *Service) Pending(ctx context.Context) ([]domainqueue.Entry, error) {
	entries, err := s.entries.ListLive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return entries, nil
}
