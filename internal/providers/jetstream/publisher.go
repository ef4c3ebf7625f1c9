// Package jetstream publishes committed ledger events to NATS JetStream
// for downstream consumers. The event log, not the broker, is the source
// of truth; publishing is best effort.
package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/artista/market-ledger/internal/domain"
	"github.com/artista/market-ledger/internal/logger"
	"github.com/artista/market-ledger/internal/messaging"
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

const subjectPrefix = "ledger.events"

// envelope is the published message body. ID is a fresh ULID per publish
// for tracing; broker-side deduplication keys on the event ordinal.
type envelope struct {
	ID    string        `json:"id"`
	Event *domain.Event `json:"event"`
}

type publisher struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	streamName string
	entropy    *ulid.MonotonicEntropy
}

// NewPublisher connects to NATS and ensures the ledger event stream exists
func NewPublisher(ctx context.Context, cfg Config) (messaging.Publisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{subjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.StreamName, err)
	}

	return &publisher{
		nc:         nc,
		js:         js,
		streamName: cfg.StreamName,
		entropy:    ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), //nolint:gosec
	}, nil
}

// PublishEvent publishes a committed ledger event. The message ID is the
// event ordinal, so broker-side deduplication absorbs republishes.
func (p *publisher) PublishEvent(ctx context.Context, event *domain.Event) error {
	body := envelope{
		ID:    ulid.MustNew(ulid.Timestamp(time.Now()), p.entropy).String(),
		Event: event,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.js.Publish(ctx, buildSubject(event), data,
		jetstream.WithMsgID(messageID(event)))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// buildSubject constructs the NATS subject for an event.
// Format: ledger.events.{kind}, e.g. ledger.events.minted
func buildSubject(event *domain.Event) string {
	return fmt.Sprintf("%s.%s", subjectPrefix, event.Kind)
}

// messageID derives the broker deduplication key from the event ordinal
func messageID(event *domain.Event) string {
	return fmt.Sprintf("%d-%d", event.Ordinal.Block, event.Ordinal.Seq)
}

// Close closes the NATS connection
func (p *publisher) Close() {
	if p.nc == nil {
		return
	}
	p.nc.Close()
}
