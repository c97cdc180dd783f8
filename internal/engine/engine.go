// Package engine reconciles push-triggered and polled active-order snapshots
// into a single notification state: a capped most-recent-first history, a
// per-order viewed set, unviewed/active counts and feedback-prompt triggers.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mealwave/ordernotify/internal/model"
	"github.com/mealwave/ordernotify/internal/storage"
)

// DefaultHistoryLimit caps the notification history at the 50 most recently
// inserted orders.
const DefaultHistoryLimit = 50

// Notice is a status-change notification emitted during reconciliation.
type Notice struct {
	ID          string            `json:"id"`
	OrderID     string            `json:"orderId"`
	OrderNumber string            `json:"orderNumber"`
	NewStatus   model.OrderStatus `json:"newStatus"`
	Message     string            `json:"message"`
	At          time.Time         `json:"at"`
}

// Snapshot is the published output of the engine, consumed by the
// presentation boundary.
type Snapshot struct {
	ActiveOrders  []model.Order `json:"activeOrders"`
	History       []model.Order `json:"history"`
	UnviewedCount int           `json:"unviewedCount"`
	ActiveCount   int           `json:"activeCount"`
}

// Result carries the outputs of one reconciliation cycle. Prompts lists
// orders for which the delivered-feedback prompt must be raised; each order
// appears here at most once per engine lifetime.
type Result struct {
	Snapshot Snapshot
	Notices  []Notice
	Prompts  []model.Order
}

// Engine holds the notification state. History and viewed set are rehydrated
// from storage at construction and persisted back on every mutation; the
// previous-observation map and the prompt markers live only for the lifetime
// of the instance. Prompt markers being non-durable means a restart can
// re-prompt for an already-prompted delivered order; that matches the
// session-scoped semantics of the prompt.
type Engine struct {
	mu     sync.Mutex
	store  storage.Store
	logger *zap.Logger
	limit  int

	history  []model.Order          // most-recent-first by insertion
	viewed   map[string]struct{}    // persisted acknowledgment markers
	prev     map[string]model.Order // last snapshot seen this session
	prompted map[string]struct{}    // session-scoped prompt markers
	active   []model.Order          // last reconciled snapshot
	first    bool                   // no cycle has run yet
}

// New creates an engine rehydrated from the given store.
func New(ctx context.Context, store storage.Store, logger *zap.Logger, limit int) (*Engine, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	st, err := store.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	e := &Engine{
		store:    store,
		logger:   logger,
		limit:    limit,
		history:  append([]model.Order(nil), st.History...),
		viewed:   make(map[string]struct{}, len(st.Viewed)),
		prev:     make(map[string]model.Order),
		prompted: make(map[string]struct{}),
		first:    true,
	}
	for _, id := range st.Viewed {
		e.viewed[id] = struct{}{}
	}
	if len(e.history) > limit {
		e.history = e.history[:limit]
	}

	return e, nil
}

// Reconcile merges one freshly fetched active-order snapshot into the
// notification state. The whole cycle runs atomically; callers fetch first
// and pass the result in, so no network wait happens under the lock.
// Reconcile is idempotent for identical input.
func (e *Engine) Reconcile(ctx context.Context, newOrders []model.Order) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.mergeHistory(ctx, newOrders)
	notices, prompts, viewedChanged := e.detectTransitions(newOrders)
	e.collectViewed(ctx, newOrders, viewedChanged)

	// Session-state update: the first-cycle exemption ends here.
	e.prev = make(map[string]model.Order, len(newOrders))
	for _, o := range newOrders {
		e.prev[o.ID] = o
	}
	e.first = false

	e.active = append([]model.Order(nil), newOrders...)

	return Result{
		Snapshot: e.snapshotLocked(),
		Notices:  notices,
		Prompts:  prompts,
	}
}

// mergeHistory applies step 1: update-in-place for known orders (keeping
// their insertion position), front insertion for new ones, cap enforcement,
// persistence only when something changed.
func (e *Engine) mergeHistory(ctx context.Context, newOrders []model.Order) {
	prevLen := len(e.history)
	changed := false

	index := make(map[string]int, len(e.history))
	for i, o := range e.history {
		index[o.ID] = i
	}

	for _, o := range newOrders {
		if i, ok := index[o.ID]; ok {
			if !ordersEqual(e.history[i], o) {
				changed = true
			}
			e.history[i] = o
			continue
		}

		e.history = append([]model.Order{o}, e.history...)
		for id := range index {
			index[id]++
		}
		index[o.ID] = 0
		changed = true
	}

	if len(e.history) > e.limit {
		e.history = e.history[:e.limit]
		changed = true
	}

	if changed || len(e.history) != prevLen {
		if err := e.store.SaveHistory(ctx, e.history); err != nil {
			e.logger.Error("persist history failed", zap.Error(err))
		}
	}
}

// detectTransitions applies step 2 over newOrders in input order: status
// transitions emit a notice and reset the viewed marker; orders first seen
// after the initial cycle start unviewed; on the very first cycle absent
// orders keep whatever viewed state persisted storage carried over. The
// delivered-feedback trigger is independent of the transition check.
func (e *Engine) detectTransitions(newOrders []model.Order) ([]Notice, []model.Order, bool) {
	var notices []Notice
	var prompts []model.Order
	viewedChanged := false

	unview := func(id string) {
		if _, ok := e.viewed[id]; ok {
			delete(e.viewed, id)
			viewedChanged = true
		}
	}

	for _, o := range newOrders {
		prev, seen := e.prev[o.ID]

		switch {
		case seen && prev.Status != o.Status:
			notices = append(notices, Notice{
				ID:          uuid.NewString(),
				OrderID:     o.ID,
				OrderNumber: o.OrderNumber,
				NewStatus:   o.Status,
				Message:     fmt.Sprintf("Order #%s is now %s", o.OrderNumber, o.Status),
				At:          time.Now(),
			})
			unview(o.ID)
		case !seen && !e.first:
			unview(o.ID)
		}

		if o.Status == model.StatusDelivered && !o.HasFeedback {
			if _, done := e.prompted[o.ID]; !done {
				e.prompted[o.ID] = struct{}{}
				prompts = append(prompts, o)
			}
		}
	}

	return notices, prompts, viewedChanged
}

// collectViewed applies step 4: drop viewed markers for ids that belong to
// neither the current active set nor the retained history, then persist the
// set if this cycle mutated it.
func (e *Engine) collectViewed(ctx context.Context, newOrders []model.Order, mutated bool) {
	retained := make(map[string]struct{}, len(newOrders)+len(e.history))
	for _, o := range newOrders {
		retained[o.ID] = struct{}{}
	}
	for _, o := range e.history {
		retained[o.ID] = struct{}{}
	}

	for id := range e.viewed {
		if _, keep := retained[id]; !keep {
			delete(e.viewed, id)
			mutated = true
		}
	}

	if mutated {
		e.persistViewed(ctx)
	}
}

// MarkAllViewed is the drawer-open acknowledgment pass: every currently
// active order becomes viewed and the count drops to zero. It performs no
// history merge and no transition detection.
func (e *Engine) MarkAllViewed(ctx context.Context) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := false
	for _, o := range e.active {
		if _, ok := e.viewed[o.ID]; !ok {
			e.viewed[o.ID] = struct{}{}
			changed = true
		}
	}
	if changed {
		e.persistViewed(ctx)
	}

	return e.snapshotLocked()
}

// Snapshot returns the last published outputs.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	unviewed := 0
	for _, o := range e.active {
		if _, ok := e.viewed[o.ID]; !ok {
			unviewed++
		}
	}

	return Snapshot{
		ActiveOrders:  append([]model.Order(nil), e.active...),
		History:       append([]model.Order(nil), e.history...),
		UnviewedCount: unviewed,
		ActiveCount:   len(e.active),
	}
}

func (e *Engine) persistViewed(ctx context.Context) {
	ids := make([]string, 0, len(e.viewed))
	for id := range e.viewed {
		ids = append(ids, id)
	}
	if err := e.store.SaveViewed(ctx, ids); err != nil {
		e.logger.Error("persist viewed set failed", zap.Error(err))
	}
}

// ordersEqual compares the fields that matter for display. Item and history
// details only ever change together with these.
func ordersEqual(a, b model.Order) bool {
	return a.ID == b.ID &&
		a.OrderNumber == b.OrderNumber &&
		a.Status == b.Status &&
		a.HasFeedback == b.HasFeedback &&
		a.GrandTotal == b.GrandTotal &&
		len(a.Items) == len(b.Items) &&
		len(a.StatusHistory) == len(b.StatusHistory)
}
