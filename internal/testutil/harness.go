package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/dispatch-mesh/internal/adapter/memory"
	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	"github.com/alanyang/dispatch-mesh/internal/metrics"
	portlocker "github.com/alanyang/dispatch-mesh/internal/port/locker"
	portnotifier "github.com/alanyang/dispatch-mesh/internal/port/notifier"
	agentsvc "github.com/alanyang/dispatch-mesh/internal/service/agent"
	"github.com/alanyang/dispatch-mesh/internal/service/directory"
	dispatchsvc "github.com/alanyang/dispatch-mesh/internal/service/dispatch"
	"github.com/alanyang/dispatch-mesh/internal/service/distributor"
	ordersvc "github.com/alanyang/dispatch-mesh/internal/service/order"
	queuesvc "github.com/alanyang/dispatch-mesh/internal/service/queue"
)

// Clock is a fake clock that moves forward one millisecond per reading, so
// successive queue stamps are strictly ordered.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// Harness is the full dispatch graph over in-memory adapters.
type Harness struct {
	Store     *memory.Store
	Bus       *memory.EventBus
	Notifier  *CaptureNotifier
	Clock     *Clock
	Directory *directory.Service
	Engine    *distributor.Service
	Queue     *queuesvc.Service
	Dispatch  *dispatchsvc.Service
	Orders    *ordersvc.Service
	Agents    *agentsvc.Service
}

type harnessOptions struct {
	notifier portnotifier.AgentNotifier
	locker   portlocker.AdvisoryLocker
	metrics  *metrics.DispatchMetrics
}

type HarnessOption func(*harnessOptions)

// WithNotifier replaces the capturing notifier (e.g. with a gomock mock).
func WithNotifier(n portnotifier.AgentNotifier) HarnessOption {
	return func(o *harnessOptions) { o.notifier = n }
}

func WithLocker(l portlocker.AdvisoryLocker) HarnessOption {
	return func(o *harnessOptions) { o.locker = l }
}

func WithMetrics(m *metrics.DispatchMetrics) HarnessOption {
	return func(o *harnessOptions) { o.metrics = m }
}

func NewHarness(t testing.TB, opts ...HarnessOption) *Harness {
	t.Helper()
	h := &Harness{
		Store:    memory.NewStore(),
		Bus:      memory.NewEventBus(),
		Notifier: &CaptureNotifier{},
		Clock:    NewClock(),
	}
	o := harnessOptions{notifier: h.Notifier, locker: memory.NewLocker()}
	for _, opt := range opts {
		opt(&o)
	}

	log := logger.Nop()
	orders := h.Store.Orders()
	agents := h.Store.Agents()

	h.Directory = directory.NewService(agents)
	h.Queue = queuesvc.NewService(h.Store, h.Store, h.Bus, log, queuesvc.WithClock(h.Clock.Now))
	h.Engine = distributor.NewService(orders, h.Directory, h.Queue, h.Store, o.notifier, h.Bus, log,
		distributor.WithClock(h.Clock.Now))
	h.Dispatch = dispatchsvc.NewService(h.Engine, h.Queue, orders, agents, h.Store, o.locker, h.Bus, o.metrics, log)
	h.Orders = ordersvc.NewService(orders, h.Dispatch, h.Bus, log)
	h.Agents = agentsvc.NewService(agents, h.Dispatch, h.Bus, log)
	return h
}

// OnlineAgent registers an agent and brings it online without triggering a drain.
// Its heartbeat carries the fake clock's time, so ReapStale against the wall
// clock treats it as silent until Heartbeat is called.
func (h *Harness) OnlineAgent(t testing.TB, capacity int) domainagent.Agent {
	t.Helper()
	ctx := context.Background()
	a := domainagent.New(uuid.New(), "rider", capacity)
	a.CreatedAt = h.Clock.Now()
	a, err := h.Store.Agents().Create(ctx, a)
	require.NoError(t, err)
	require.NoError(t, h.Store.Agents().UpdateAvailability(ctx, a.ID, domainagent.AvailabilityOnline, h.Clock.Now()))
	a.Availability = domainagent.AvailabilityOnline
	return a
}

// PlacedOrder stores a placed order without assigning it.
func (h *Harness) PlacedOrder(t testing.TB, priority int) domainorder.Order {
	t.Helper()
	o := domainorder.New(uuid.New(), priority)
	o.CreatedAt = h.Clock.Now()
	o.UpdatedAt = o.CreatedAt
	created, err := h.Store.Orders().Create(context.Background(), o)
	require.NoError(t, err)
	return created
}

func (h *Harness) Agent(t testing.TB, id uuid.UUID) domainagent.Agent {
	t.Helper()
	a, err := h.Store.Agents().GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (h *Harness) Order(t testing.TB, id uuid.UUID) domainorder.Order {
	t.Helper()
	o, err := h.Store.Orders().GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

// AssertLoadsConsistent checks that every agent's load equals the number of
// active orders it holds and never exceeds its capacity.
func (h *Harness) AssertLoadsConsistent(t testing.TB) {
	t.Helper()
	ctx := context.Background()
	agents, err := h.Store.Agents().List(ctx, domainagent.ListFilters{})
	require.NoError(t, err)
	for _, a := range agents {
		held, err := h.Store.Orders().List(ctx, domainorder.ListFilters{
			AgentID:  &a.ID,
			Statuses: domainorder.ActiveStatuses(),
		})
		require.NoError(t, err)
		require.Equalf(t, len(held), a.CurrentOrderCount, "agent %s load", a.ID)
		require.LessOrEqualf(t, a.CurrentOrderCount, a.MaxOrderCapacity, "agent %s over capacity", a.ID)
		require.GreaterOrEqualf(t, a.CurrentOrderCount, 0, "agent %s negative load", a.ID)
	}
}
