package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	"github.com/alanyang/dispatch-mesh/internal/domain/event"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	portagent "github.com/alanyang/dispatch-mesh/internal/port/agent"
	portbus "github.com/alanyang/dispatch-mesh/internal/port/eventbus"
)

// Dispatcher is the slice of the coordinator agent state changes trigger.
type Dispatcher interface {
	ProcessQueue(ctx context.Context) (int, error)
	ReassignAgentOrders(ctx context.Context, agentID uuid.UUID) (int, error)
}

// Service manages agent lifecycle: registration, availability and stale
// heartbeat recovery. Every capacity change is followed by the matching
// dispatch operation.
type Service struct {
	repo       portagent.Repository
	dispatcher Dispatcher
	bus        portbus.EventBus
	log        *logger.Logger
	now        func() time.Time
}

func NewService(repo portagent.Repository, dispatcher Dispatcher, bus portbus.EventBus, log *logger.Logger) *Service {
	return &Service{repo: repo, dispatcher: dispatcher, bus: bus, log: log, now: time.Now}
}

// Register creates an offline agent. It takes orders once it goes online.
func (s *Service) Register(ctx context.Context, userID uuid.UUID, name string, maxCapacity int) (domainagent.Agent, error) {
	created, err := s.repo.Create(ctx, domainagent.New(userID, name, maxCapacity))
	if err != nil {
		return domainagent.Agent{}, fmt.Errorf("register agent: %w", err)
	}
	s.log.Info(s.log.WithField(ctx, "agent_id", created.ID.String()), "agent registered")
	return created, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (domainagent.Agent, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domainagent.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, filters domainagent.ListFilters) ([]domainagent.Agent, error) {
	agents, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// SetAvailability flips an agent online or offline. Going online counts as a
// heartbeat and drains the queue into the new capacity; going offline moves
// the agent's orders away.
// The returned count is orders drained or moved respectively.
func (s *Service) SetAvailability(ctx context.Context, id uuid.UUID, availability domainagent.Availability) (domainagent.Agent, int, error) {
	if !availability.Valid() {
		return domainagent.Agent{}, 0, fmt.Errorf("invalid availability %q", availability)
	}
	if err := s.repo.UpdateAvailability(ctx, id, availability, s.now()); err != nil {
		return domainagent.Agent{}, 0, fmt.Errorf("set agent availability: %w", err)
	}

	ctx = s.log.WithFields(ctx, map[string]any{"agent_id": id.String(), "availability": string(availability)})
	et := event.TypeAgentOnline
	if availability == domainagent.AvailabilityOffline {
		et = event.TypeAgentOffline
	}
	if err := s.bus.Publish(ctx, event.New(et, id)); err != nil {
		s.log.Error(ctx, "failed to publish "+string(et)+" event", err)
	}

	var n int
	var err error
	if availability == domainagent.AvailabilityOnline {
		n, err = s.dispatcher.ProcessQueue(ctx)
	} else {
		n, err = s.dispatcher.ReassignAgentOrders(ctx, id)
	}
	if err != nil {
		return domainagent.Agent{}, n, fmt.Errorf("set agent availability: %w", err)
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domainagent.Agent{}, n, fmt.Errorf("reload agent: %w", err)
	}
	return a, n, nil
}

// SetAccountStatus mirrors the owning account. Deactivation moves the agent's
// orders away; reactivation drains the queue.
func (s *Service) SetAccountStatus(ctx context.Context, id uuid.UUID, status domainagent.AccountStatus) (int, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("invalid account status %q", status)
	}
	if err := s.repo.UpdateAccountStatus(ctx, id, status); err != nil {
		return 0, fmt.Errorf("set account status: %w", err)
	}
	if status == domainagent.AccountInactive {
		return s.dispatcher.ReassignAgentOrders(ctx, id)
	}
	return s.dispatcher.ProcessQueue(ctx)
}

func (s *Service) Heartbeat(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.RecordHeartbeat(ctx, id, s.now()); err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	if err := s.bus.Publish(ctx, event.New(event.TypeAgentHeartbeat, id)); err != nil {
		s.log.Error(s.log.WithField(ctx, "agent_id", id.String()), "failed to publish agent_heartbeat event", err)
	}
	return nil
}

// ReapStale takes offline every online agent whose last heartbeat is older
// than timeout and reassigns its orders. It returns how many agents were
// reaped; per-agent failures are collected and do not stop the sweep.
func (s *Service) ReapStale(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		return 0, nil
	}
	stale, err := s.repo.ListStale(ctx, s.now().Add(-timeout))
	if err != nil {
		return 0, fmt.Errorf("list stale agents: %w", err)
	}

	reaped := 0
	var errs error
	for _, a := range stale {
		if _, _, err := s.SetAvailability(ctx, a.ID, domainagent.AvailabilityOffline); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reap agent %s: %w", a.ID, err))
			continue
		}
		reaped++
		s.log.Warn(s.log.WithField(ctx, "agent_id", a.ID.String()), "reaped agent with stale heartbeat")
	}
	return reaped, errs
}

