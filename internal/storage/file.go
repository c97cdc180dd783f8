package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mealwave/ordernotify/internal/model"
)

const (
	historyFileName = "notification_history.json"
	viewedFileName  = "viewed_orders.json"
)

// FileStore keeps each record as a JSON document inside a state directory.
// Writes go through a temp file and rename, so a crash mid-write leaves the
// previous document intact.
type FileStore struct {
	dir string
}

// NewFileStore creates the state directory if needed and returns a store
// backed by it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// LoadState reads both records. A missing or unreadable document loads as
// empty: prior corruption must not be fatal.
func (f *FileStore) LoadState(_ context.Context) (*State, error) {
	st := &State{}

	var history []model.Order
	if readJSONFile(filepath.Join(f.dir, historyFileName), &history) {
		st.History = history
	}

	var viewed []string
	if readJSONFile(filepath.Join(f.dir, viewedFileName), &viewed) {
		st.Viewed = viewed
	}

	return st, nil
}

// SaveHistory writes the history record.
func (f *FileStore) SaveHistory(_ context.Context, history []model.Order) error {
	if history == nil {
		history = []model.Order{}
	}
	return writeJSONFile(filepath.Join(f.dir, historyFileName), history)
}

// SaveViewed writes the viewed-ids record.
func (f *FileStore) SaveViewed(_ context.Context, viewed []string) error {
	if viewed == nil {
		viewed = []string{}
	}
	return writeJSONFile(filepath.Join(f.dir, viewedFileName), viewed)
}

// Close is a no-op for the file store.
func (f *FileStore) Close() error { return nil }

func readJSONFile(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
