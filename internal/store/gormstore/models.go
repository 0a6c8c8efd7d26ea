package gormstore

import "time"

// settingRow is the relational form of a setting.
// The column is called name because key is a reserved word on MySQL.
type settingRow struct {
	// ID is the unique identifier for the row.
	ID uint `gorm:"primaryKey"`
	// Name is the dotted setting key, unique per store.
	Name string `gorm:"uniqueIndex;size:255;not null"`
	// RawValue is the canonical stored string form, NULL when unset.
	RawValue *string `gorm:"type:text"`
	// ValueType declares how RawValue is coerced on read.
	ValueType string `gorm:"size:20;not null"`
	// Description provides a human-readable explanation of the setting.
	Description string `gorm:"size:255"`
	// Deleted marks the row as a tombstone kept for history.
	Deleted bool `gorm:"not null;index"`
	// CreatedAt is the timestamp when the row was created (managed by GORM).
	CreatedAt time.Time
	// UpdatedAt is the timestamp when the row was last updated (managed by GORM).
	// Indexed because the incremental refresh path filters on it.
	UpdatedAt time.Time `gorm:"index"`
}

// TableName specifies the database table name for the settingRow model.
// This overrides GORM's default pluralized table naming.
func (settingRow) TableName() string {
	return "settings"
}

// historyRow is one append-only snapshot of a past setting state.
type historyRow struct {
	// ID is the unique identifier for the entry, also its order per key.
	ID uint `gorm:"primaryKey"`
	// Name is the dotted setting key the entry belongs to.
	Name string `gorm:"size:255;not null;index"`
	// Value is the recorded plaintext, NULL for secrets, tombstones and
	// redacted entries.
	Value *string `gorm:"type:text"`
	// ChangedBy records who made the change.
	ChangedBy string `gorm:"size:100"`
	// Deleted marks the entry as recording a deletion.
	Deleted bool `gorm:"not null"`
	// CreatedAt is the timestamp of the recorded change.
	CreatedAt time.Time
}

// TableName specifies the database table name for the historyRow model.
// This overrides GORM's default pluralized table naming.
func (historyRow) TableName() string {
	return "setting_histories"
}
