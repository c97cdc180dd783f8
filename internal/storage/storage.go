// Package storage persists the agent's notification state: the notification
// history and the set of viewed order ids. Each record is written under its
// own key, so a failed write of one never corrupts the other.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/mealwave/ordernotify/internal/model"
)

// ErrConflict is returned when a concurrent writer already holds a record.
var ErrConflict = errors.New("state record conflict")

// State is the durable portion of the engine's state.
type State struct {
	History []model.Order `json:"history"`
	Viewed  []string      `json:"viewed"`
}

// Store describes the persistence contract used by the merge engine.
// Implementations must treat malformed persisted data as absent rather than
// failing: a corrupted record loads as empty.
type Store interface {
	LoadState(ctx context.Context) (*State, error)
	SaveHistory(ctx context.Context, history []model.Order) error
	SaveViewed(ctx context.Context, viewed []string) error
	Close() error
}

// Open selects a Store implementation from the DSN scheme: an empty scheme or
// file:// opens a directory-backed JSON store, postgres:// opens the database
// store, memory: an in-memory one.
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty state DSN")
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return NewFileStore(dsn)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "", "file":
		path := parsed.Path
		if parsed.Opaque != "" {
			path = parsed.Opaque
		}
		if path == "" {
			path = dsn
		}
		return NewFileStore(path)
	case "memory", "mem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported state DSN scheme: %s", parsed.Scheme)
	}
}

// MemoryStore keeps state in memory only. Used in tests and as a stand-in
// when durability is not wanted.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadState returns a copy of the held state.
func (m *MemoryStore) LoadState(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		History: append([]model.Order(nil), m.state.History...),
		Viewed:  append([]string(nil), m.state.Viewed...),
	}
	return &st, nil
}

// SaveHistory replaces the held history record.
func (m *MemoryStore) SaveHistory(_ context.Context, history []model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.History = append([]model.Order(nil), history...)
	return nil
}

// SaveViewed replaces the held viewed record.
func (m *MemoryStore) SaveViewed(_ context.Context, viewed []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Viewed = append([]string(nil), viewed...)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
