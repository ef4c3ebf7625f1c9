package schema

import (
	"time"

	"gorm.io/datatypes"
)

// Event represents the events table - the durable append-only domain event
// log. Rows are only ever inserted; the (block, seq) pair is the global
// total order.
type Event struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Block is the commit block height assigned by the sequencer
	Block uint64 `gorm:"column:block;not null;uniqueIndex:idx_events_ordinal,priority:1;index:idx_events_block"`
	// Seq is the intra-block sequence for multi-event commits
	Seq uint32 `gorm:"column:seq;not null;uniqueIndex:idx_events_ordinal,priority:2"`
	// Kind identifies the domain event type (minted, transferred, ...)
	Kind string `gorm:"column:kind;not null;type:text;index:idx_events_kind"`
	// TokenID is the token the event relates to
	TokenID uint64 `gorm:"column:token_id;not null;index:idx_events_token"`
	// FromAddress is the previous owner (transferred only)
	FromAddress *string `gorm:"column:from_address;type:text"`
	// ToAddress is the minted owner or transfer recipient
	ToAddress *string `gorm:"column:to_address;type:text"`
	// Seller is the listing creator (listing_created, listing_cancelled)
	Seller *string `gorm:"column:seller;type:text"`
	// Buyer is the purchaser (item_bought)
	Buyer *string `gorm:"column:buyer;type:text;index:idx_events_buyer"`
	// Price is the listing price in the smallest unit
	Price *uint64 `gorm:"column:price;type:bigint"`
	// Fee is the escrowed listing fee in the smallest unit
	Fee *uint64 `gorm:"column:fee;type:bigint"`
	// MetadataRef is the content-addressed metadata pointer (minted only)
	MetadataRef *string `gorm:"column:metadata_ref;type:text"`
	// Timestamp is the commit time assigned by the sequencer
	Timestamp time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	// Raw contains the complete event envelope as JSON
	Raw datatypes.JSON `gorm:"column:raw;type:jsonb"`
	// CreatedAt is the timestamp when this row was written
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Event model
func (Event) TableName() string {
	return "events"
}
