// Package service runs the reconciliation loop of the agent: it pulls
// active-order snapshots on poll ticks, push wake-ups and manual wakes, feeds
// them to the merge engine and fans the resulting events out to subscribers.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mealwave/ordernotify/internal/engine"
	"github.com/mealwave/ordernotify/internal/model"
	"github.com/mealwave/ordernotify/internal/push"
)

// Event types published to subscribers.
const (
	EventStatusChanged  = "statusChanged"
	EventFeedbackPrompt = "feedbackPrompt"
)

// Event is one notification delivered to the presentation boundary.
type Event struct {
	Type   string         `json:"type"`
	Notice *engine.Notice `json:"notice,omitempty"`
	Order  *model.Order   `json:"order,omitempty"`
}

// OrdersClient describes the backend access used by the service.
type OrdersClient interface {
	FetchActiveOrders(ctx context.Context) ([]model.Order, error)
	SubmitFeedback(ctx context.Context, fs model.FeedbackSubmission) error
}

// Options tune the reconciliation loop.
type Options struct {
	// PollInterval is the unconditional fetch-and-reconcile cadence. Polling
	// is the correctness backstop when push delivery is lost.
	PollInterval time.Duration

	// PromptDelay postpones feedback-prompt delivery so a status-change
	// notification can settle first. Presentation policy, not correctness.
	PromptDelay time.Duration
}

// Service orchestrates the engine, the backend client and the push source.
type Service struct {
	client OrdersClient
	engine *engine.Engine
	source push.Source
	logger *zap.Logger
	opts   Options

	wake chan struct{}

	mu      sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// New creates the service. source may be nil for polling-only mode.
func New(client OrdersClient, eng *engine.Engine, source push.Source, logger *zap.Logger, opts Options) *Service {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.PromptDelay < 0 {
		opts.PromptDelay = 0
	}

	return &Service{
		client: client,
		engine: eng,
		source: source,
		logger: logger,
		opts:   opts,
		wake:   make(chan struct{}, 1),
		subs:   make(map[int]chan Event),
	}
}

// Run executes the reconciliation loop until ctx is cancelled. One immediate
// cycle runs at startup so consumers see state without waiting a full tick.
func (s *Service) Run(ctx context.Context) error {
	if s.source != nil {
		go func() {
			if err := s.source.Run(ctx, s.wake); err != nil && ctx.Err() == nil {
				s.logger.Error("push source stopped", zap.Error(err))
			}
		}()
	}

	s.cycle(ctx)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.cycle(ctx)
		case <-s.wake:
			s.cycle(ctx)
		}
	}
}

// Wake triggers one immediate reconciliation cycle, e.g. right after this
// client placed an order itself.
func (s *Service) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// cycle fetches the active-order snapshot and reconciles it. A failed fetch
// is logged and leaves all published state untouched.
func (s *Service) cycle(ctx context.Context) {
	orders, err := s.client.FetchActiveOrders(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("fetch active orders failed", zap.Error(err))
		}
		return
	}

	res := s.engine.Reconcile(ctx, orders)

	for i := range res.Notices {
		n := res.Notices[i]
		s.publish(Event{Type: EventStatusChanged, Notice: &n})
	}

	for i := range res.Prompts {
		o := res.Prompts[i]
		if s.opts.PromptDelay <= 0 {
			s.publish(Event{Type: EventFeedbackPrompt, Order: &o})
			continue
		}
		time.AfterFunc(s.opts.PromptDelay, func() {
			s.publish(Event{Type: EventFeedbackPrompt, Order: &o})
		})
	}
}

// SubmitFeedback forwards one feedback submission and, on success, runs an
// immediate cycle so the order leaves delivered-but-unrated tracking.
func (s *Service) SubmitFeedback(ctx context.Context, fs model.FeedbackSubmission) error {
	if err := s.client.SubmitFeedback(ctx, fs); err != nil {
		return err
	}
	s.cycle(ctx)
	return nil
}

// Snapshot returns the engine's last published outputs.
func (s *Service) Snapshot() engine.Snapshot {
	return s.engine.Snapshot()
}

// MarkAllViewed runs the drawer-open acknowledgment pass.
func (s *Service) MarkAllViewed(ctx context.Context) engine.Snapshot {
	return s.engine.MarkAllViewed(ctx)
}

// Subscribe registers an event consumer. The returned cancel func must be
// called when the consumer goes away.
func (s *Service) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++

	ch := make(chan Event, 16)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish delivers an event to every subscriber without ever blocking the
// reconciliation loop. A subscriber with a full buffer loses the event.
func (s *Service) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("subscriber buffer full, event dropped",
				zap.Int("subscriber", id),
				zap.String("type", ev.Type),
			)
		}
	}
}
