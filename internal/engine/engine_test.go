package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mealwave/ordernotify/internal/model"
	"github.com/mealwave/ordernotify/internal/storage"
)

// countingStore wraps a MemoryStore and counts persistence calls.
type countingStore struct {
	*storage.MemoryStore
	historySaves int
	viewedSaves  int
}

func (c *countingStore) SaveHistory(ctx context.Context, history []model.Order) error {
	c.historySaves++
	return c.MemoryStore.SaveHistory(ctx, history)
}

func (c *countingStore) SaveViewed(ctx context.Context, viewed []string) error {
	c.viewedSaves++
	return c.MemoryStore.SaveViewed(ctx, viewed)
}

func newTestEngine(t *testing.T, store storage.Store, limit int) *Engine {
	t.Helper()
	e, err := New(context.Background(), store, zap.NewNop(), limit)
	require.NoError(t, err)
	return e
}

func order(id string, status model.OrderStatus) model.Order {
	return model.Order{ID: id, OrderNumber: "N" + id, Status: status}
}

func TestReconcileIdempotent(t *testing.T) {
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	input := []model.Order{order("a", model.StatusPending), order("b", model.StatusPreparing)}

	first := e.Reconcile(ctx, input)
	savesAfterFirst := store.historySaves + store.viewedSaves

	second := e.Reconcile(ctx, input)

	assert.Equal(t, first.Snapshot, second.Snapshot, "snapshot must not change on identical input")
	assert.Empty(t, second.Notices, "no transitions means no notices")
	assert.Empty(t, second.Prompts)
	assert.Equal(t, savesAfterFirst, store.historySaves+store.viewedSaves,
		"second identical cycle must not persist anything")
}

func TestHistoryCapRetainsMostRecentlyInserted(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, 3)
	ctx := context.Background()

	e.Reconcile(ctx, []model.Order{
		order("a", model.StatusPending),
		order("b", model.StatusPending),
		order("c", model.StatusPending),
	})

	res := e.Reconcile(ctx, []model.Order{order("d", model.StatusPending)})
	require.Len(t, res.Snapshot.History, 3)
	assert.Equal(t, []string{"d", "c", "b"}, historyIDs(res.Snapshot))

	// Updating b must keep its insertion position, so the next insertion
	// still evicts it: retention is by insertion recency, not update recency.
	e.Reconcile(ctx, []model.Order{order("b", model.StatusReady)})
	res = e.Reconcile(ctx, []model.Order{order("e", model.StatusPending)})

	require.Len(t, res.Snapshot.History, 3)
	assert.Equal(t, []string{"e", "d", "c"}, historyIDs(res.Snapshot))
}

func TestHistoryUpdateInPlacePreservesPosition(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	e.Reconcile(ctx, []model.Order{order("a", model.StatusPending)})
	e.Reconcile(ctx, []model.Order{order("a", model.StatusPending), order("b", model.StatusPending)})

	res := e.Reconcile(ctx, []model.Order{order("a", model.StatusReady), order("b", model.StatusPending)})

	assert.Equal(t, []string{"b", "a"}, historyIDs(res.Snapshot))
	assert.Equal(t, model.StatusReady, res.Snapshot.History[1].Status, "snapshot must be replaced in place")
}

func TestHistoryCapAcrossManyOrders(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		e.Reconcile(ctx, []model.Order{order(fmt.Sprintf("o%03d", i), model.StatusPending)})
	}

	snap := e.Snapshot()
	require.Len(t, snap.History, DefaultHistoryLimit)
	assert.Equal(t, "o119", snap.History[0].ID)
	assert.Equal(t, "o070", snap.History[DefaultHistoryLimit-1].ID)
}

func TestUnviewedAccounting(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveViewed(context.Background(), []string{"a"}))

	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	res := e.Reconcile(ctx, []model.Order{
		order("a", model.StatusPending),
		order("b", model.StatusPending),
		order("c", model.StatusPending),
	})

	// a carried over as viewed, b and c default to unviewed.
	assert.Equal(t, 2, res.Snapshot.UnviewedCount)
	assert.Equal(t, 3, res.Snapshot.ActiveCount)

	// The count never references ids outside the active set.
	res = e.Reconcile(ctx, nil)
	assert.Equal(t, 0, res.Snapshot.UnviewedCount)
	assert.Equal(t, 0, res.Snapshot.ActiveCount)
}

func TestFirstCycleExemption(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveViewed(context.Background(), []string{"a"}))

	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	// First cycle: neither a nor b is force-unviewed; a keeps its persisted
	// viewed state, b defaults to unviewed because it was never viewed.
	res := e.Reconcile(ctx, []model.Order{
		order("a", model.StatusPending),
		order("b", model.StatusPending),
	})
	assert.Equal(t, 1, res.Snapshot.UnviewedCount)
	assert.Empty(t, res.Notices)
}

func TestFirstCycleScenarioFromEmptyState(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	res := e.Reconcile(ctx, []model.Order{order("a", model.StatusPending)})
	assert.Equal(t, 1, res.Snapshot.UnviewedCount, "a was never viewed, defaults to unviewed")

	// Second cycle in the same session: b is new and not exempted.
	res = e.Reconcile(ctx, []model.Order{
		order("a", model.StatusPending),
		order("b", model.StatusPending),
	})
	assert.Equal(t, 2, res.Snapshot.UnviewedCount)
}

func TestNewOrderAfterFirstCycleResetsViewed(t *testing.T) {
	store := storage.NewMemoryStore()
	// b was viewed in an earlier session but left the tracked set; it shows
	// up again mid-session and must start unviewed.
	require.NoError(t, store.SaveViewed(context.Background(), []string{"b"}))
	require.NoError(t, store.SaveHistory(context.Background(), []model.Order{order("b", model.StatusPending)}))

	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	e.Reconcile(ctx, []model.Order{order("a", model.StatusPending)})

	res := e.Reconcile(ctx, []model.Order{
		order("a", model.StatusPending),
		order("b", model.StatusPending),
	})
	assert.Equal(t, 2, res.Snapshot.UnviewedCount, "b reappearing mid-session must be unviewed")
}

func TestTransitionReflagsViewedOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	e.Reconcile(ctx, []model.Order{order("x", model.StatusPreparing)})
	e.MarkAllViewed(ctx)
	require.Equal(t, 0, e.Snapshot().UnviewedCount)

	res := e.Reconcile(ctx, []model.Order{order("x", model.StatusReady)})

	assert.Equal(t, 1, res.Snapshot.UnviewedCount, "a transition always resets viewed state")
	require.Len(t, res.Notices, 1)
	assert.Equal(t, "x", res.Notices[0].OrderID)
	assert.Equal(t, model.StatusReady, res.Notices[0].NewStatus)
	assert.NotEmpty(t, res.Notices[0].ID)
	assert.Contains(t, res.Notices[0].Message, "Nx")
}

func TestDeliverTriggerExactlyOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	delivered := order("d", model.StatusDelivered)

	prompts := 0
	for i := 0; i < 5; i++ {
		res := e.Reconcile(ctx, []model.Order{delivered})
		prompts += len(res.Prompts)
	}

	assert.Equal(t, 1, prompts, "deliver trigger must fire exactly once per order per session")
}

func TestNoDeliverTriggerWhenAlreadyRated(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	delivered := order("d", model.StatusDelivered)
	delivered.HasFeedback = true

	res := e.Reconcile(ctx, []model.Order{delivered})
	assert.Empty(t, res.Prompts)
}

func TestDeliverTriggerIndependentOfTransitionCheck(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	// Order appears already delivered on the very first cycle: no transition
	// was observed, the prompt must still fire.
	res := e.Reconcile(ctx, []model.Order{order("d", model.StatusDelivered)})
	require.Len(t, res.Prompts, 1)
	assert.Equal(t, "d", res.Prompts[0].ID)
	assert.Empty(t, res.Notices)
}

func TestDrawerOpenAcknowledgment(t *testing.T) {
	store := storage.NewMemoryStore()
	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	e.Reconcile(ctx, []model.Order{
		order("a", model.StatusPending),
		order("b", model.StatusPending),
		order("c", model.StatusPending),
	})
	historyBefore := e.Snapshot().History
	require.Equal(t, 3, e.Snapshot().UnviewedCount)

	snap := e.MarkAllViewed(ctx)

	assert.Equal(t, 0, snap.UnviewedCount)
	assert.Equal(t, historyBefore, snap.History, "drawer pass must not touch history")

	st, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, st.Viewed, "acknowledgment must be persisted")
}

func TestViewedSetGarbageCollection(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveViewed(context.Background(), []string{"stale", "a"}))

	e := newTestEngine(t, store, 0)
	ctx := context.Background()

	e.Reconcile(ctx, []model.Order{order("a", model.StatusPending)})

	st, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, st.Viewed,
		"ids outside active orders and history must be dropped")
}

func TestRehydratedHistoryRespectsLimit(t *testing.T) {
	store := storage.NewMemoryStore()
	var big []model.Order
	for i := 0; i < 10; i++ {
		big = append(big, order(fmt.Sprintf("h%d", i), model.StatusPending))
	}
	require.NoError(t, store.SaveHistory(context.Background(), big))

	e := newTestEngine(t, store, 4)

	snap := e.Snapshot()
	require.Len(t, snap.History, 4)
	assert.Equal(t, "h0", snap.History[0].ID, "front of persisted history is retained")
}

func historyIDs(s Snapshot) []string {
	ids := make([]string, 0, len(s.History))
	for _, o := range s.History {
		ids = append(ids, o.ID)
	}
	return ids
}
