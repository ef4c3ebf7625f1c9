// Package ledger implements the authoritative ownership and marketplace
// ledgers: the token registry, the per-token escrow state machine, the
// access predicates, and the sequencer that serializes every mutation
// into a total order.
package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/artista/market-ledger/internal/domain"
	"github.com/artista/market-ledger/internal/eventlog"
	"github.com/artista/market-ledger/internal/logger"
	"github.com/artista/market-ledger/internal/messaging"
)

// Txn collects the effects of a single mutating operation. The mutation
// callback validates all preconditions first, then emits events and stages
// state changes; staged changes run only after the event append succeeds,
// so a failed operation leaves no partial effect behind.
type Txn struct {
	now     time.Time
	events  []domain.Event
	applies []func()
}

// Emit records a domain event to be appended on commit. Ordinals are
// assigned by the sequencer in emission order.
func (t *Txn) Emit(e domain.Event) {
	e.Timestamp = t.now
	t.events = append(t.events, e)
}

// Stage records a state change to run once the commit is durable.
// Staged functions must not fail.
func (t *Txn) Stage(apply func()) {
	t.applies = append(t.applies, apply)
}

// Sequencer serializes mutating operations system-wide and assigns each
// committed operation a block height, with an intra-block sequence for
// operations that emit more than one event. It stands in for the
// total-order consensus layer beneath the ledgers: at most one mutation
// executes at a time, and each either fully commits (state change plus
// event append) or fully aborts.
type Sequencer struct {
	mu        sync.Mutex
	height    uint64
	log       eventlog.Log
	publisher messaging.Publisher
	clock     func() time.Time
}

// SequencerOption configures a Sequencer
type SequencerOption func(*Sequencer)

// WithPublisher fans committed events out to a message broker.
// Publishing is best-effort and never fails a commit.
func WithPublisher(p messaging.Publisher) SequencerOption {
	return func(s *Sequencer) { s.publisher = p }
}

// WithClock overrides the commit timestamp source
func WithClock(clock func() time.Time) SequencerOption {
	return func(s *Sequencer) { s.clock = clock }
}

// NewSequencer creates a sequencer committing to the given event log
func NewSequencer(log eventlog.Log, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		log:   log,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Height returns the current block height
func (s *Sequencer) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

// Commit runs a mutating operation under the global serialization lock.
// If mutate returns an error the operation aborts with no effect. On
// success the emitted events are appended to the log under the next block
// height and the staged state changes are applied.
func (s *Sequencer) Commit(ctx context.Context, mutate func(txn *Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := &Txn{now: s.clock().UTC()}
	if err := mutate(txn); err != nil {
		return err
	}

	block := s.height + 1
	for i := range txn.events {
		txn.events[i].Ordinal = domain.Ordinal{Block: block, Seq: uint32(i)}
	}

	if len(txn.events) > 0 {
		if err := s.log.Append(ctx, txn.events...); err != nil {
			return domain.Transient(err)
		}
	}

	s.height = block
	for _, apply := range txn.applies {
		apply()
	}

	if s.publisher != nil {
		for i := range txn.events {
			if err := s.publisher.PublishEvent(ctx, &txn.events[i]); err != nil {
				logger.Warn("failed to publish committed event",
					zap.Error(err),
					zap.String("kind", string(txn.events[i].Kind)),
					zap.Uint64("block", txn.events[i].Ordinal.Block),
				)
			}
		}
	}

	return nil
}
