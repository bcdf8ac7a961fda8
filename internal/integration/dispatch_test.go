//go:build integration

package integration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgagent "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/agent"
	pgdispatch "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/dispatch"
	pgeventbus "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/eventbus"
	pgidempotency "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/idempotency"
	pglocker "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/locker"
	pgorder "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/order"
	pgqueue "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/queue"
	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	"github.com/alanyang/dispatch-mesh/internal/domain/event"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	agentsvc "github.com/alanyang/dispatch-mesh/internal/service/agent"
	"github.com/alanyang/dispatch-mesh/internal/service/directory"
	dispatchsvc "github.com/alanyang/dispatch-mesh/internal/service/dispatch"
	"github.com/alanyang/dispatch-mesh/internal/service/distributor"
	ordersvc "github.com/alanyang/dispatch-mesh/internal/service/order"
	queuesvc "github.com/alanyang/dispatch-mesh/internal/service/queue"
	"github.com/alanyang/dispatch-mesh/internal/testutil"
)

// ── test harness ──────────────────────────────────────────────────────────────

type testServices struct {
	pool      *pgxpool.Pool
	agentRepo *pgagent.Repository
	orderRepo *pgorder.Repository
	bus       *pgeventbus.EventBus
	agents    *agentsvc.Service
	orders    *ordersvc.Service
	dispatch  *dispatchsvc.Service
	notifier  *testutil.CaptureNotifier
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	pool := testutil.SetupTestDB(t)
	log := logger.Nop()

	agentRepo := pgagent.New(pool)
	orderRepo := pgorder.New(pool)
	store := pgdispatch.New(pool)
	bus := pgeventbus.New(pool)
	notifier := &testutil.CaptureNotifier{}

	dir := directory.NewService(agentRepo)
	backlog := queuesvc.NewService(store, pgqueue.New(pool), bus, log)
	engine := distributor.NewService(orderRepo, dir, backlog, store, notifier, bus, log)
	dispatch := dispatchsvc.NewService(engine, backlog, orderRepo, agentRepo, store, pglocker.New(pool), bus, nil, log)

	return &testServices{
		pool:      pool,
		agentRepo: agentRepo,
		orderRepo: orderRepo,
		bus:       bus,
		agents:    agentsvc.NewService(agentRepo, dispatch, bus, log),
		orders:    ordersvc.NewService(orderRepo, dispatch, bus, log),
		dispatch:  dispatch,
		notifier:  notifier,
	}
}

// onlineAgent registers an agent and brings it online (draining the queue).
func (s *testServices) onlineAgent(t *testing.T, ctx context.Context, capacity int) domainagent.Agent {
	t.Helper()
	a, err := s.agents.Register(ctx, uuid.New(), "rider", capacity)
	require.NoError(t, err)
	a, _, err = s.agents.SetAvailability(ctx, a.ID, domainagent.AvailabilityOnline)
	require.NoError(t, err)
	return a
}

func (s *testServices) place(t *testing.T, ctx context.Context, priority int) (domainorder.Order, domaindispatch.Assignment) {
	t.Helper()
	o, res, err := s.orders.Place(ctx, uuid.New(), priority)
	require.NoError(t, err)
	return o, res
}

func (s *testServices) order(t *testing.T, ctx context.Context, id uuid.UUID) domainorder.Order {
	t.Helper()
	o, err := s.orderRepo.GetByID(ctx, id)
	require.NoError(t, err)
	return o
}

func (s *testServices) agent(t *testing.T, ctx context.Context, id uuid.UUID) domainagent.Agent {
	t.Helper()
	a, err := s.agentRepo.GetByID(ctx, id)
	require.NoError(t, err)
	return a
}

// assertLoadsConsistent checks the stored load of every agent against the
// active orders that reference it.
func (s *testServices) assertLoadsConsistent(t *testing.T, ctx context.Context) {
	t.Helper()
	agents, err := s.agentRepo.List(ctx, domainagent.ListFilters{})
	require.NoError(t, err)
	for _, a := range agents {
		held, err := s.orderRepo.List(ctx, domainorder.ListFilters{AgentID: &a.ID, Statuses: domainorder.ActiveStatuses()})
		require.NoError(t, err)
		assert.Equalf(t, len(held), a.CurrentOrderCount, "agent %s load", a.ID)
		assert.LessOrEqualf(t, a.CurrentOrderCount, a.MaxOrderCapacity, "agent %s capacity", a.ID)
	}
}

// ── Scenario 1: placement ─────────────────────────────────────────────────────

func TestScenario1_PlaceAssignsLeastLoadedThenQueues(t *testing.T) {
	ctx := context.Background()
	s := newTestServices(t)

	a1 := s.onlineAgent(t, ctx, 2)
	a2 := s.onlineAgent(t, ctx, 2)

	var holders []uuid.UUID
	for i := 0; i < 4; i++ {
		_, res := s.place(t, ctx, 0)
		require.False(t, res.Queued)
		holders = append(holders, *res.AgentID)
	}
	assert.ElementsMatch(t, []uuid.UUID{a1.ID, a2.ID, a1.ID, a2.ID}, holders)

	o, res := s.place(t, ctx, 0)
	assert.True(t, res.Queued)
	assert.Equal(t, domainorder.StatusQueued, s.order(t, ctx, o.ID).Status)

	assert.Len(t, s.notifier.ForUser(a1.UserID), 2)
	s.assertLoadsConsistent(t, ctx)
}

// ── Scenario 2: concurrent placement never overfills ──────────────────────────

func TestScenario2_ConcurrentPlacementRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	s := newTestServices(t)
	s.onlineAgent(t, ctx, 3)
	s.onlineAgent(t, ctx, 3)

	const n = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		queued int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, res, err := s.orders.Place(ctx, uuid.New(), 0)
			if !assert.NoError(t, err) {
				return
			}
			if res.Queued {
				mu.Lock()
				queued++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n-6, queued)
	pending, err := s.dispatch.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, n-6)
	s.assertLoadsConsistent(t, ctx)
}

// ── Scenario 3: release drains the queue in priority order ────────────────────

func TestScenario3_CancelFreesSlotForHighestPriority(t *testing.T) {
	ctx := context.Background()
	s := newTestServices(t)
	a := s.onlineAgent(t, ctx, 1)

	held, _ := s.place(t, ctx, 0)
	low, _ := s.place(t, ctx, 1)
	high, _ := s.place(t, ctx, 9)

	_, drained, err := s.orders.Cancel(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, drained)

	assert.True(t, s.order(t, ctx, high.ID).OwnedBy(a.ID))
	assert.Equal(t, domainorder.StatusQueued, s.order(t, ctx, low.ID).Status)
	assert.Equal(t, domainorder.StatusCancelled, s.order(t, ctx, held.ID).Status)
	s.assertLoadsConsistent(t, ctx)
}

func TestScenario3_DeliveredKeepsSlotUntilPayment(t *testing.T) {
	ctx := context.Background()
	s := newTestServices(t)
	a := s.onlineAgent(t, ctx, 1)
	o, _ := s.place(t, ctx, 0)
	waiting, _ := s.place(t, ctx, 0)

	for _, step := range [][2]domainorder.Status{
		{domainorder.StatusAssigned, domainorder.StatusPicked},
		{domainorder.StatusPicked, domainorder.StatusInTransit},
		{domainorder.StatusInTransit, domainorder.StatusDelivered},
	} {
		_, _, err := s.orders.Advance(ctx, o.ID, step[0], step[1])
		require.NoError(t, err)
	}
	assert.Equal(t, 1, s.agent(t, ctx, a.ID).CurrentOrderCount)
	assert.Equal(t, domainorder.StatusQueued, s.order(t, ctx, waiting.ID).Status)

	_, drained, err := s.orders.ConfirmPayment(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, drained)
	assert.True(t, s.order(t, ctx, waiting.ID).OwnedBy(a.ID))
	s.assertLoadsConsistent(t, ctx)
}

func TestScenario3_DriftedLoadIsRejectedNotClamped(t *testing.T) {
	ctx := context.Background()
	s := newTestServices(t)
	a := s.onlineAgent(t, ctx, 1)
	o, _ := s.place(t, ctx, 0)

	_, err := s.pool.Exec(ctx, `UPDATE agents SET current_order_count = 0 WHERE id = $1`, a.ID)
	require.NoError(t, err)

	_, _, err = s.orders.Cancel(ctx, o.ID)
	require.ErrorIs(t, err, domaindispatch.ErrCapacityExceeded)
	assert.True(t, s.order(t, ctx, o.ID).OwnedBy(a.ID))
}

// ── Scenario 4: agent goes offline ────────────────────────────────────────────

func TestScenario4_OfflineMovesOrdersAndRequeuesOverflow(t *testing.T) {
	ctx := context.Background()
	s := newTestServices(t)
	leaving := s.onlineAgent(t, ctx, 2)
	o1, _ := s.place(t, ctx, 0)
	o2, _ := s.place(t, ctx, 0)
	staying := s.onlineAgent(t, ctx, 1)

	_, moved, err := s.agents.SetAvailability(ctx, leaving.ID, domainagent.AvailabilityOffline)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	first, second := s.order(t, ctx, o1.ID), s.order(t, ctx, o2.ID)
	assert.True(t, first.OwnedBy(staying.ID), "oldest order moves first")
	assert.Equal(t, domainorder.StatusQueued, second.Status)
	assert.Zero(t, s.agent(t, ctx, leaving.ID).CurrentOrderCount)
	s.assertLoadsConsistent(t, ctx)
}

func TestScenario4_ReapStaleAgents(t *testing.T) {
	ctx := context.Background()
	s := newTestServices(t)
	silent := s.onlineAgent(t, ctx, 1)
	o, _ := s.place(t, ctx, 0)
	fresh := s.onlineAgent(t, ctx, 1)

	// Coming online counts as a heartbeat, so only the backdated agent is silent.
	require.NoError(t, s.agentRepo.RecordHeartbeat(ctx, silent.ID, time.Now().Add(-time.Hour)))

	reaped, err := s.agents.ReapStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, domainagent.AvailabilityOffline, s.agent(t, ctx, silent.ID).Availability)
	assert.Equal(t, domainagent.AvailabilityOnline, s.agent(t, ctx, fresh.ID).Availability)
	assert.True(t, s.order(t, ctx, o.ID).OwnedBy(fresh.ID))
}

// ── Scenario 5: supporting adapters ───────────────────────────────────────────

func TestScenario5_IdempotencyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestServices(t)
	repo := pgidempotency.New(s.pool)

	_, found, err := repo.Check(ctx, "checkout-1")
	require.NoError(t, err)
	assert.False(t, found)

	reserved, err := repo.Reserve(ctx, "checkout-1", "place_order")
	require.NoError(t, err)
	require.True(t, reserved)
	reserved, err = repo.Reserve(ctx, "checkout-1", "place_order")
	require.NoError(t, err)
	assert.False(t, reserved, "a held key cannot be reserved twice")

	pending, found, err := repo.Check(ctx, "checkout-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, pending)

	require.NoError(t, repo.Save(ctx, "checkout-1", "place_order", []byte(`{"status":201}`)))
	require.NoError(t, repo.Release(ctx, "checkout-1"))
	got, found, err := repo.Check(ctx, "checkout-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"status":201}`, string(got))

	reserved, err = repo.Reserve(ctx, "checkout-2", "place_order")
	require.NoError(t, err)
	require.True(t, reserved)
	require.NoError(t, repo.Release(ctx, "checkout-2"))
	reserved, err = repo.Reserve(ctx, "checkout-2", "place_order")
	require.NoError(t, err)
	assert.True(t, reserved, "a released key is free again")
}

func TestScenario5_EventBusDeliversOrderEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestServices(t)

	received := make(chan event.Event, 8)
	sub, err := s.bus.Subscribe(ctx, event.ChannelOrder, func(_ context.Context, e event.Event) {
		received <- e
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	o, _ := s.place(t, ctx, 0)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-received:
			if e.EntityID == o.ID {
				return
			}
		case <-deadline:
			t.Fatal("no order event received over LISTEN/NOTIFY")
		}
	}
}
