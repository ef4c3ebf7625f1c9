// Package eventlog defines the append-only, totally ordered record of
// domain events emitted by the ledgers. The log is the sole discovery
// mechanism for consumers without ledger-wide query access; events are
// never mutated, deleted or reordered.
package eventlog

import (
	"context"

	"github.com/artista/market-ledger/internal/domain"
)

// Log defines the append-only event log interface
//
//go:generate mockgen -source=log.go -destination=../mocks/eventlog.go -package=mocks -mock_names=Log=MockEventLog
type Log interface {
	// Append stores events at the end of the log. Called only by the
	// sequencer as a side effect of a successful mutation; events arrive
	// with their ordinals already assigned, in ascending order.
	Append(ctx context.Context, events ...domain.Event) error

	// ScanFrom streams events with ordinal >= from in ascending ordinal
	// order, invoking fn for each. A non-nil error from fn stops the scan
	// and is returned. Scans are finite and restartable.
	ScanFrom(ctx context.Context, from domain.Ordinal, fn func(domain.Event) error) error
}

// CursorStore persists the last folded ordinal per projection view so
// incremental scans can resume without replaying the full log
type CursorStore interface {
	// GetViewCursor retrieves the saved cursor for a view, or the zero
	// ordinal if none was saved yet
	GetViewCursor(ctx context.Context, view string) (domain.Ordinal, error)
	// SetViewCursor stores the cursor for a view
	SetViewCursor(ctx context.Context, view string, cursor domain.Ordinal) error
}
