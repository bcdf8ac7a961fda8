package queue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	"github.com/alanyang/dispatch-mesh/internal/mocks"
	"github.com/alanyang/dispatch-mesh/internal/testutil"
)

func queueAll(t *testing.T, h *testutil.Harness, priorities ...int) []domainorder.Order {
	t.Helper()
	out := make([]domainorder.Order, 0, len(priorities))
	for _, p := range priorities {
		o := h.PlacedOrder(t, p)
		_, created, err := h.Queue.Enqueue(context.Background(), o.ID, o.Priority, nil)
		require.NoError(t, err)
		require.True(t, created)
		out = append(out, o)
	}
	return out
}

func TestEnqueue_ReusesLiveEntry(t *testing.T) {
	h := testutil.NewHarness(t)
	o := h.PlacedOrder(t, 1)

	first, created, err := h.Queue.Enqueue(context.Background(), o.ID, 1, nil)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := h.Queue.Enqueue(context.Background(), o.ID, 1, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, h.Store.AllEntries(), 1)
	assert.Equal(t, domainorder.StatusQueued, h.Order(t, o.ID).Status)
}

func TestEnqueue_StoreFailure(t *testing.T) {
	h := testutil.NewHarness(t)
	o := h.PlacedOrder(t, 0)
	h.Store.FailNext(errors.New("disk full"))

	_, _, err := h.Queue.Enqueue(context.Background(), o.ID, 0, nil)
	assert.ErrorIs(t, err, domaindispatch.ErrStoreUnavailable)
}

func TestPending_PriorityThenArrival(t *testing.T) {
	h := testutil.NewHarness(t)
	orders := queueAll(t, h, 0, 5, 0, 5)

	live, err := h.Queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 4)

	got := []uuid.UUID{live[0].OrderID, live[1].OrderID, live[2].OrderID, live[3].OrderID}
	want := []uuid.UUID{orders[1].ID, orders[3].ID, orders[0].ID, orders[2].ID}
	assert.Equal(t, want, got)
}

func TestDrain_AssignsInQueueOrder(t *testing.T) {
	h := testutil.NewHarness(t)
	orders := queueAll(t, h, 0, 0, 0)
	a := h.OnlineAgent(t, 5)

	processed, err := h.Queue.Drain(context.Background(), h.Engine)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	for _, o := range orders {
		got := h.Order(t, o.ID)
		assert.Equal(t, domainorder.StatusAssigned, got.Status)
		assert.True(t, got.OwnedBy(a.ID))
	}
	for _, e := range h.Store.AllEntries() {
		assert.False(t, e.IsLive(), "entry %s still live", e.ID)
	}
	h.AssertLoadsConsistent(t)
}

func TestDrain_HeadOfLineBlocking(t *testing.T) {
	h := testutil.NewHarness(t)
	orders := queueAll(t, h, 9, 0, 0)
	h.OnlineAgent(t, 1)

	processed, err := h.Queue.Drain(context.Background(), h.Engine)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	assert.Equal(t, domainorder.StatusAssigned, h.Order(t, orders[0].ID).Status)
	assert.Equal(t, domainorder.StatusQueued, h.Order(t, orders[1].ID).Status)
	assert.Equal(t, domainorder.StatusQueued, h.Order(t, orders[2].ID).Status)

	live, err := h.Queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, orders[1].ID, live[0].OrderID)
}

func TestDrain_StopsAtFirstQueuedResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	assigner := mocks.NewMockAssigner(ctrl)
	h := testutil.NewHarness(t)
	orders := queueAll(t, h, 0, 0, 0)

	gomock.InOrder(
		assigner.EXPECT().Assign(gomock.Any(), orders[0].ID).Return(domaindispatch.Assigned(orders[0].ID, uuid.New()), nil),
		assigner.EXPECT().Assign(gomock.Any(), orders[1].ID).Return(domaindispatch.Queued(orders[1].ID), nil),
	)

	processed, err := h.Queue.Drain(context.Background(), assigner)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
}

func TestDrain_RetiresUnassignableEntries(t *testing.T) {
	h := testutil.NewHarness(t)
	orders := queueAll(t, h, 0, 0)
	_, err := h.Store.Release(context.Background(), orders[0].ID, domainorder.StatusCancelled, h.Clock.Now())
	require.NoError(t, err)
	a := h.OnlineAgent(t, 1)

	processed, err := h.Queue.Drain(context.Background(), h.Engine)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.True(t, h.Order(t, orders[1].ID).OwnedBy(a.ID))

	live, err := h.Queue.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestDrain_MarksStaleEntryForOrderTakenElsewhere(t *testing.T) {
	ctrl := gomock.NewController(t)
	assigner := mocks.NewMockAssigner(ctrl)
	h := testutil.NewHarness(t)
	orders := queueAll(t, h, 0)

	assigner.EXPECT().Assign(gomock.Any(), orders[0].ID).
		Return(domaindispatch.Assignment{}, domaindispatch.ErrOrderNotAssignable)

	processed, err := h.Queue.Drain(context.Background(), assigner)
	require.NoError(t, err)
	assert.Zero(t, processed)

	live, err := h.Queue.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestDrain_PropagatesAssignFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	assigner := mocks.NewMockAssigner(ctrl)
	h := testutil.NewHarness(t)
	orders := queueAll(t, h, 0, 0)

	assigner.EXPECT().Assign(gomock.Any(), orders[0].ID).
		Return(domaindispatch.Assignment{}, domaindispatch.ErrStoreUnavailable)

	processed, err := h.Queue.Drain(context.Background(), assigner)
	require.ErrorIs(t, err, domaindispatch.ErrStoreUnavailable)
	assert.Zero(t, processed)

	live, err := h.Queue.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestDrain_EmptyQueue(t *testing.T) {
	h := testutil.NewHarness(t)
	h.OnlineAgent(t, 1)

	processed, err := h.Queue.Drain(context.Background(), h.Engine)
	require.NoError(t, err)
	assert.Zero(t, processed)
}
