package messaging

import (
	"context"

	"github.com/artista/market-ledger/internal/domain"
)

// Publisher defines the interface for fanning committed domain events out
// to external observers over a message broker. Publishing is best-effort:
// the event log, not the broker, is the source of truth.
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishEvent publishes a committed domain event to the broker
	PublishEvent(ctx context.Context, event *domain.Event) error
	// Close closes the broker connection
	Close()
}
