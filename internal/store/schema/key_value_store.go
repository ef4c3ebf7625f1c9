package schema

import "time"

// KeyValueStore represents the key_value_store table - small operational
// state such as projection view cursors
type KeyValueStore struct {
	// Key is the unique lookup key (e.g. "view_cursor:all_listings")
	Key string `gorm:"column:key;primaryKey;type:text"`
	// Value is the stored value, encoding defined by the writer
	Value string `gorm:"column:value;not null;type:text"`
	// UpdatedAt is the timestamp of the last write
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the KeyValueStore model
func (KeyValueStore) TableName() string {
	return "key_value_store"
}
