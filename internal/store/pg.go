// Package store provides the PostgreSQL persistence layer: the durable
// event log and the projection cursor store, both implementing the
// interfaces in internal/eventlog.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/artista/market-ledger/internal/domain"
	"github.com/artista/market-ledger/internal/eventlog"
	"github.com/artista/market-ledger/internal/store/schema"
)

// scanBatchSize bounds how many event rows a single scan query loads
const scanBatchSize = 500

type pgEventLog struct {
	db *gorm.DB
}

// NewPGEventLog creates a PostgreSQL-backed event log
func NewPGEventLog(db *gorm.DB) eventlog.Log {
	return &pgEventLog{db: db}
}

// Migrate creates or updates the tables used by this package
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&schema.Event{}, &schema.KeyValueStore{})
}

// ConfigureConnectionPool configures the connection pool settings for a
// GORM database connection, applying defaults for zero values
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// Append inserts events at the end of the log. The unique (block, seq)
// index rejects any attempt to rewrite history.
func (l *pgEventLog) Append(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]schema.Event, 0, len(events))
	for i := range events {
		row, err := toRow(&events[i])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	if err := l.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to append events: %w", err)
	}
	return nil
}

// ScanFrom streams events with ordinal >= from in ascending order,
// loading rows in batches so arbitrarily long logs stay scannable
func (l *pgEventLog) ScanFrom(ctx context.Context, from domain.Ordinal, fn func(domain.Event) error) error {
	var scanErr error
	result := l.db.WithContext(ctx).
		Where("block > ? OR (block = ? AND seq >= ?)", from.Block, from.Block, from.Seq).
		Order("block ASC, seq ASC").
		FindInBatches(&[]schema.Event{}, scanBatchSize, func(tx *gorm.DB, _ int) error {
			rows, ok := tx.Statement.Dest.(*[]schema.Event)
			if !ok {
				return errors.New("unexpected batch destination type")
			}
			for i := range *rows {
				event, err := fromRow(&(*rows)[i])
				if err != nil {
					return err
				}
				if err := fn(event); err != nil {
					scanErr = err
					return err
				}
			}
			return nil
		})

	if scanErr != nil {
		return scanErr
	}
	if result.Error != nil {
		return fmt.Errorf("failed to scan events: %w", result.Error)
	}
	return nil
}

type pgCursorStore struct {
	db *gorm.DB
}

// NewPGCursorStore creates a PostgreSQL-backed projection cursor store
func NewPGCursorStore(db *gorm.DB) eventlog.CursorStore {
	return &pgCursorStore{db: db}
}

// GetViewCursor retrieves the saved cursor for a view, or the zero ordinal
// if none was saved yet
func (s *pgCursorStore) GetViewCursor(ctx context.Context, view string) (domain.Ordinal, error) {
	key := fmt.Sprintf("view_cursor:%s", view)

	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Ordinal{}, nil
		}
		return domain.Ordinal{}, fmt.Errorf("failed to get view cursor: %w", err)
	}

	return parseCursor(kv.Value)
}

// SetViewCursor stores the cursor for a view
func (s *pgCursorStore) SetViewCursor(ctx context.Context, view string, cursor domain.Ordinal) error {
	kv := schema.KeyValueStore{
		Key:       fmt.Sprintf("view_cursor:%s", view),
		Value:     fmt.Sprintf("%d:%d", cursor.Block, cursor.Seq),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Save(&kv).Error; err != nil {
		return fmt.Errorf("failed to set view cursor: %w", err)
	}
	return nil
}

func parseCursor(value string) (domain.Ordinal, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return domain.Ordinal{}, fmt.Errorf("malformed view cursor %q", value)
	}
	block, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return domain.Ordinal{}, fmt.Errorf("malformed view cursor block: %w", err)
	}
	seq, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return domain.Ordinal{}, fmt.Errorf("malformed view cursor seq: %w", err)
	}
	return domain.Ordinal{Block: block, Seq: uint32(seq)}, nil
}

func toRow(e *domain.Event) (schema.Event, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return schema.Event{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return schema.Event{
		Block:       e.Ordinal.Block,
		Seq:         e.Ordinal.Seq,
		Kind:        string(e.Kind),
		TokenID:     uint64(e.TokenID),
		FromAddress: identityColumn(e.From),
		ToAddress:   identityColumn(e.To),
		Seller:      identityColumn(e.Seller),
		Buyer:       identityColumn(e.Buyer),
		Price:       amountColumn(e.Price),
		Fee:         amountColumn(e.Fee),
		MetadataRef: refColumn(e.MetadataRef),
		Timestamp:   e.Timestamp,
		Raw:         raw,
	}, nil
}

func fromRow(row *schema.Event) (domain.Event, error) {
	event := domain.Event{
		Ordinal:   domain.Ordinal{Block: row.Block, Seq: row.Seq},
		Kind:      domain.EventKind(row.Kind),
		TokenID:   domain.TokenID(row.TokenID),
		Timestamp: row.Timestamp,
	}

	var err error
	if event.From, err = identityValue(row.FromAddress); err != nil {
		return domain.Event{}, err
	}
	if event.To, err = identityValue(row.ToAddress); err != nil {
		return domain.Event{}, err
	}
	if event.Seller, err = identityValue(row.Seller); err != nil {
		return domain.Event{}, err
	}
	if event.Buyer, err = identityValue(row.Buyer); err != nil {
		return domain.Event{}, err
	}
	if row.Price != nil {
		event.Price = domain.AmountPtr(domain.Amount(*row.Price))
	}
	if row.Fee != nil {
		event.Fee = domain.AmountPtr(domain.Amount(*row.Fee))
	}
	if row.MetadataRef != nil {
		event.MetadataRef = domain.MetadataRefPtr(domain.MetadataRef(*row.MetadataRef))
	}
	return event, nil
}

func identityColumn(id *domain.Identity) *string {
	if id == nil {
		return nil
	}
	s := id.Hex()
	return &s
}

func identityValue(s *string) (*domain.Identity, error) {
	if s == nil {
		return nil, nil
	}
	id, ok := domain.ParseIdentity(*s)
	if !ok {
		return nil, fmt.Errorf("malformed identity column %q", *s)
	}
	return domain.IdentityPtr(id), nil
}

func amountColumn(a *domain.Amount) *uint64 {
	if a == nil {
		return nil
	}
	v := uint64(*a)
	return &v
}

func refColumn(r *domain.MetadataRef) *string {
	if r == nil {
		return nil
	}
	s := string(*r)
	return &s
}
