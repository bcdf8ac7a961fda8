package distributor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/alanyang/dispatch-mesh/internal/adapter/memory"
	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	"github.com/alanyang/dispatch-mesh/internal/mocks"
	"github.com/alanyang/dispatch-mesh/internal/service/distributor"
	"github.com/alanyang/dispatch-mesh/internal/testutil"
)

// ── helpers ───────────────────────────────────────────────────────────────────

// fixedDirectory returns the same candidate list on every call, minus excludes,
// so cursor movement is visible independent of load sorting.
type fixedDirectory struct {
	agents []domainagent.Agent
}

func (d *fixedDirectory) ListEligible(_ context.Context, exclude ...uuid.UUID) ([]domainagent.Agent, error) {
	out := []domainagent.Agent{}
	for _, a := range d.agents {
		skip := false
		for _, x := range exclude {
			if x == a.ID {
				skip = true
			}
		}
		if !skip {
			out = append(out, a)
		}
	}
	return out, nil
}

type failingCommitStore struct {
	*memory.Store
	err error
}

func (s failingCommitStore) CommitAssignment(context.Context, domaindispatch.Commit) (domainorder.Order, error) {
	return domainorder.Order{}, s.err
}

func newEngine(h *testutil.Harness, dir distributor.Directory) *distributor.Service {
	return distributor.NewService(h.Store.Orders(), dir, h.Queue, h.Store, h.Notifier, h.Bus, logger.Nop(),
		distributor.WithClock(h.Clock.Now))
}

// ── Assign ────────────────────────────────────────────────────────────────────

func TestAssign_RotatesCursorOverCandidates(t *testing.T) {
	h := testutil.NewHarness(t)
	a := h.OnlineAgent(t, 10)
	b := h.OnlineAgent(t, 10)
	c := h.OnlineAgent(t, 10)
	engine := newEngine(h, &fixedDirectory{agents: []domainagent.Agent{a, b, c}})

	var got []uuid.UUID
	for i := 0; i < 4; i++ {
		o := h.PlacedOrder(t, 0)
		res, err := engine.Assign(context.Background(), o.ID)
		require.NoError(t, err)
		require.False(t, res.Queued)
		got = append(got, *res.AgentID)
	}

	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID, a.ID}, got)
	h.AssertLoadsConsistent(t)
}

func TestAssign_CursorWrapsOnShrinkingList(t *testing.T) {
	// The cursor is taken modulo whatever list length the current call sees.
	h := testutil.NewHarness(t)
	a := h.OnlineAgent(t, 10)
	b := h.OnlineAgent(t, 10)
	c := h.OnlineAgent(t, 10)

	dir := &fixedDirectory{agents: []domainagent.Agent{a, b, c}}
	engine := newEngine(h, dir)
	for i := 0; i < 2; i++ {
		_, err := engine.Assign(context.Background(), h.PlacedOrder(t, 0).ID)
		require.NoError(t, err)
	}
	// cursor is now 1; with two candidates the next pick is index (1+1)%2 = 0.
	dir.agents = []domainagent.Agent{a, c}
	res, err := engine.Assign(context.Background(), h.PlacedOrder(t, 0).ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, *res.AgentID)
}

func TestAssign_LeastLoadedFirstOnFreshEngine(t *testing.T) {
	h := testutil.NewHarness(t)
	busy := h.OnlineAgent(t, 3)
	idle := h.OnlineAgent(t, 3)

	_, err := h.Store.CommitAssignment(context.Background(), domaindispatch.Commit{
		OrderID: h.PlacedOrder(t, 0).ID, AgentID: busy.ID, At: h.Clock.Now(),
	})
	require.NoError(t, err)

	res, err := h.Engine.Assign(context.Background(), h.PlacedOrder(t, 0).ID)
	require.NoError(t, err)
	assert.Equal(t, idle.ID, *res.AgentID)
}

func TestAssign_CommitsOrderAndLoadTogether(t *testing.T) {
	h := testutil.NewHarness(t)
	a := h.OnlineAgent(t, 2)
	o := h.PlacedOrder(t, 0)

	res, err := h.Engine.Assign(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domaindispatch.Assigned(o.ID, a.ID), res)

	got := h.Order(t, o.ID)
	assert.Equal(t, domainorder.StatusAssigned, got.Status)
	assert.True(t, got.OwnedBy(a.ID))
	require.NotNil(t, got.AssignedAt)
	assert.Equal(t, 1, h.Agent(t, a.ID).CurrentOrderCount)

	calls := h.Notifier.ForUser(a.UserID)
	require.Len(t, calls, 1)
	assert.Equal(t, o.ID, calls[0].OrderID)
	assert.Equal(t, "New order assigned", calls[0].Message)
}

func TestAssign_EmptyPoolQueuesIdempotently(t *testing.T) {
	h := testutil.NewHarness(t)
	o := h.PlacedOrder(t, 2)

	first, err := h.Engine.Assign(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, first.Queued)
	assert.Nil(t, first.AgentID)

	second, err := h.Engine.Assign(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, second.Queued)

	live, err := h.Queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, o.ID, live[0].OrderID)
	assert.Equal(t, 2, live[0].Priority)
	assert.Equal(t, domainorder.StatusQueued, h.Order(t, o.ID).Status)
	assert.Zero(t, h.Notifier.Len())
}

func TestAssign_Errors(t *testing.T) {
	tests := []struct {
		name    string
		orderID func(t *testing.T, h *testutil.Harness) uuid.UUID
		wantErr error
	}{
		{
			name:    "unknown order",
			orderID: func(*testing.T, *testutil.Harness) uuid.UUID { return uuid.New() },
			wantErr: domaindispatch.ErrNotFound,
		},
		{
			name: "already assigned",
			orderID: func(t *testing.T, h *testutil.Harness) uuid.UUID {
				a := h.OnlineAgent(t, 3)
				o := h.PlacedOrder(t, 0)
				_, err := h.Store.CommitAssignment(context.Background(), domaindispatch.Commit{OrderID: o.ID, AgentID: a.ID, At: h.Clock.Now()})
				require.NoError(t, err)
				return o.ID
			},
			wantErr: domaindispatch.ErrOrderNotAssignable,
		},
		{
			name: "cancelled",
			orderID: func(t *testing.T, h *testutil.Harness) uuid.UUID {
				o := h.PlacedOrder(t, 0)
				_, err := h.Store.Release(context.Background(), o.ID, domainorder.StatusCancelled, h.Clock.Now())
				require.NoError(t, err)
				return o.ID
			},
			wantErr: domaindispatch.ErrOrderNotAssignable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testutil.NewHarness(t)
			_, err := h.Engine.Assign(context.Background(), tt.orderID(t, h))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAssign_CommitFailureLeavesOrderPlaced(t *testing.T) {
	h := testutil.NewHarness(t)
	a := h.OnlineAgent(t, 3)
	o := h.PlacedOrder(t, 0)

	store := failingCommitStore{Store: h.Store, err: fmt.Errorf("%w: conn reset", domaindispatch.ErrStoreUnavailable)}
	engine := distributor.NewService(h.Store.Orders(), h.Directory, h.Queue, store, h.Notifier, h.Bus, logger.Nop())

	_, err := engine.Assign(context.Background(), o.ID)
	require.ErrorIs(t, err, domaindispatch.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "commit assignment")

	assert.Equal(t, domainorder.StatusPlaced, h.Order(t, o.ID).Status)
	assert.Zero(t, h.Agent(t, a.ID).CurrentOrderCount)
	assert.Zero(t, h.Notifier.Len())
}

func TestAssign_NotificationFailureIsNonFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockAgentNotifier(ctrl)
	h := testutil.NewHarness(t, testutil.WithNotifier(notifier))
	a := h.OnlineAgent(t, 3)
	o := h.PlacedOrder(t, 0)

	notifier.EXPECT().
		Notify(gomock.Any(), a.UserID, o.ID, "New order assigned").
		Return(errors.New("push gateway down"))

	res, err := h.Engine.Assign(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, *res.AgentID)
	assert.Equal(t, domainorder.StatusAssigned, h.Order(t, o.ID).Status)
	assert.Equal(t, 1, h.Agent(t, a.ID).CurrentOrderCount)
}

// ── Reassign ──────────────────────────────────────────────────────────────────

func TestReassign_MovesLoadToOtherAgent(t *testing.T) {
	h := testutil.NewHarness(t)
	from := h.OnlineAgent(t, 3)
	to := h.OnlineAgent(t, 3)
	o := h.PlacedOrder(t, 0)

	_, err := h.Store.CommitAssignment(context.Background(), domaindispatch.Commit{OrderID: o.ID, AgentID: from.ID, At: h.Clock.Now()})
	require.NoError(t, err)

	res, err := h.Engine.Reassign(context.Background(), h.Order(t, o.ID))
	require.NoError(t, err)
	require.False(t, res.Queued)
	assert.Equal(t, to.ID, *res.AgentID)

	assert.Zero(t, h.Agent(t, from.ID).CurrentOrderCount)
	assert.Equal(t, 1, h.Agent(t, to.ID).CurrentOrderCount)
	assert.Equal(t, "Order reassigned to you", h.Notifier.ForUser(to.UserID)[0].Message)
	h.AssertLoadsConsistent(t)
}

func TestReassign_RequeuesWhenNoOtherAgent(t *testing.T) {
	h := testutil.NewHarness(t)
	only := h.OnlineAgent(t, 3)
	o := h.PlacedOrder(t, 5)

	_, err := h.Store.CommitAssignment(context.Background(), domaindispatch.Commit{OrderID: o.ID, AgentID: only.ID, At: h.Clock.Now()})
	require.NoError(t, err)

	res, err := h.Engine.Reassign(context.Background(), h.Order(t, o.ID))
	require.NoError(t, err)
	assert.True(t, res.Queued)

	got := h.Order(t, o.ID)
	assert.Equal(t, domainorder.StatusQueued, got.Status)
	assert.Nil(t, got.AgentID)
	assert.Zero(t, h.Agent(t, only.ID).CurrentOrderCount)

	live, err := h.Queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, 5, live[0].Priority)
}

func TestReassign_RejectsOrderWithoutAgent(t *testing.T) {
	h := testutil.NewHarness(t)
	o := h.PlacedOrder(t, 0)

	_, err := h.Engine.Reassign(context.Background(), o)
	assert.ErrorIs(t, err, domaindispatch.ErrOrderNotAssignable)
}
