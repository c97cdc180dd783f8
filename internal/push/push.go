// Package push supplies low-latency wake-up signals for reconciliation.
// Push payloads are never merged directly: every event only triggers a
// fetch-and-reconcile cycle, so the polled snapshot stays the source of truth.
// Losing the push channel degrades latency, not correctness, because polling
// keeps running regardless.
package push

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// reconnectDelay paces redial attempts after a connection failure.
const reconnectDelay = 5 * time.Second

// Source is a push transport. Run blocks until ctx is cancelled, signalling
// wake once per received order event. Sends to wake must never block.
type Source interface {
	Run(ctx context.Context, wake chan<- struct{}) error
}

// Open selects a push transport from the address scheme. An empty address
// means polling-only mode and returns a nil Source.
func Open(addr, token, userID string, logger *zap.Logger) (Source, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}

	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse push address: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "ws", "wss":
		return NewWebSocketSource(addr, token, userID, logger), nil
	case "amqp", "amqps":
		return NewAMQPSource(addr, userID, logger), nil
	default:
		return nil, fmt.Errorf("unsupported push scheme: %s", parsed.Scheme)
	}
}

// signal performs the non-blocking wake send shared by all sources. A cycle
// already pending makes additional signals redundant, so dropping is fine.
func signal(wake chan<- struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
