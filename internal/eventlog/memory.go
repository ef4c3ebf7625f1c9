package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/artista/market-ledger/internal/domain"
)

// memoryLog is an in-memory Log for embedded use and tests
type memoryLog struct {
	mu     sync.RWMutex
	events []domain.Event
}

// NewMemoryLog creates an empty in-memory event log
func NewMemoryLog() Log {
	return &memoryLog{}
}

// Append stores events at the end of the log
func (l *memoryLog) Append(ctx context.Context, events ...domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range events {
		if n := len(l.events); n > 0 && !l.events[n-1].Ordinal.Before(e.Ordinal) {
			return fmt.Errorf("ordinal %v is not after log tail %v", e.Ordinal, l.events[n-1].Ordinal)
		}
		l.events = append(l.events, e)
	}
	return nil
}

// ScanFrom streams events with ordinal >= from in ascending order.
// The scan iterates over a snapshot of the committed prefix, so readers
// never observe a torn append.
func (l *memoryLog) ScanFrom(ctx context.Context, from domain.Ordinal, fn func(domain.Event) error) error {
	l.mu.RLock()
	snapshot := l.events
	l.mu.RUnlock()

	for _, e := range snapshot {
		if e.Ordinal.Before(from) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// memoryCursorStore is an in-memory CursorStore for embedded use and tests
type memoryCursorStore struct {
	mu      sync.RWMutex
	cursors map[string]domain.Ordinal
}

// NewMemoryCursorStore creates an empty in-memory cursor store
func NewMemoryCursorStore() CursorStore {
	return &memoryCursorStore{cursors: make(map[string]domain.Ordinal)}
}

// GetViewCursor retrieves the saved cursor for a view
func (s *memoryCursorStore) GetViewCursor(ctx context.Context, view string) (domain.Ordinal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[view], nil
}

// SetViewCursor stores the cursor for a view
func (s *memoryCursorStore) SetViewCursor(ctx context.Context, view string, cursor domain.Ordinal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[view] = cursor
	return nil
}
