// Package gormstore implements store.Adapter on a relational database via
// GORM. One adapter serves sqlite, mysql and postgres; the driver is
// selected from the store configuration.
package gormstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/go-settings-admin/go-settings-admin/internal/config"
	"github.com/go-settings-admin/go-settings-admin/internal/setting"
	"github.com/go-settings-admin/go-settings-admin/internal/store"
)

const (
	nameQueryPattern = "name = ?"
)

// Store is a relational settings store.
type Store struct {
	db *gorm.DB
}

// compile-time contract check
var _ store.Adapter = (*Store)(nil)

// Open connects to the configured relational backend and migrates the
// settings tables.
func Open(backend string, cfg config.DB) (*Store, error) {
	var dialector gorm.Dialector

	switch backend {
	case config.BackendSQLite:
		dialector = sqlite.Open(cfg.Path)
	case config.BackendMySQL:
		dialector = gormmysql.Open(mysqlDSN(cfg))
	case config.BackendPostgres:
		dialector = gormpostgres.Open(postgresDSN(cfg))
	default:
		return nil, errors.Wrap(ErrUnsupportedBackend, backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	return New(db)
}

// New wraps an open gorm handle and migrates the settings tables.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	if err := db.AutoMigrate(&settingRow{}, &historyRow{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate settings tables")
	}

	return &Store{db: db}, nil
}

// All returns every setting, tombstones included.
func (s *Store) All(ctx context.Context) ([]setting.Setting, error) {
	return s.find(ctx, s.db.WithContext(ctx))
}

// Active returns only non-deleted settings.
func (s *Store) Active(ctx context.Context) ([]setting.Setting, error) {
	return s.find(ctx, s.db.WithContext(ctx).Where("deleted = ?", false))
}

// UpdatedSince returns settings updated strictly after since, tombstones
// included.
func (s *Store) UpdatedSince(ctx context.Context, since time.Time) ([]setting.Setting, error) {
	return s.find(ctx, s.db.WithContext(ctx).Where("updated_at > ?", since))
}

// LastUpdatedAt returns MAX(updated_at) or nil when the table is empty.
func (s *Store) LastUpdatedAt(ctx context.Context) (*time.Time, error) {
	var max sql.NullTime

	result := s.db.WithContext(ctx).Model(&settingRow{}).Select("MAX(updated_at)").Scan(&max)
	if result.Error != nil {
		return nil, store.Unavailable(result.Error)
	}

	if !max.Valid {
		return nil, nil
	}

	t := max.Time

	return &t, nil
}

// FindByKey returns the setting or store.ErrNotFound.
func (s *Store) FindByKey(ctx context.Context, key string) (*setting.Setting, error) {
	var row settingRow

	result := s.db.WithContext(ctx).Where(nameQueryPattern, key).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}

		return nil, store.Unavailable(result.Error)
	}

	item := toSetting(row)

	return &item, nil
}

// Persist validates and upserts the setting. GORM bumps updated_at on
// save; the new timestamps are copied back into the given record.
func (s *Store) Persist(ctx context.Context, item *setting.Setting) error {
	item.Normalize()

	if err := item.Validate(); err != nil {
		return err
	}

	var row settingRow

	result := s.db.WithContext(ctx).Where(nameQueryPattern, item.Key).First(&row)

	switch {
	case errors.Is(result.Error, gorm.ErrRecordNotFound):
		row = settingRow{Name: item.Key}
	case result.Error != nil:
		return store.Unavailable(result.Error)
	}

	row.RawValue = item.RawValue
	row.ValueType = string(item.ValueType)
	row.Description = item.Description
	row.Deleted = item.Deleted

	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return store.Unavailable(err)
	}

	item.CreatedAt = row.CreatedAt
	item.UpdatedAt = row.UpdatedAt

	return nil
}

// CreateHistory appends a history entry.
func (s *Store) CreateHistory(ctx context.Context, entry setting.HistoryEntry) error {
	row := historyRow{
		Name:      entry.Key,
		Value:     entry.Value,
		ChangedBy: entry.ChangedBy,
		Deleted:   entry.Deleted,
		CreatedAt: entry.CreatedAt,
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return store.Unavailable(err)
	}

	return nil
}

// History returns the recorded entries of a key, oldest first.
func (s *Store) History(ctx context.Context, key string) ([]setting.HistoryEntry, error) {
	var rows []historyRow

	result := s.db.WithContext(ctx).Where(nameQueryPattern, key).Order("id").Find(&rows)
	if result.Error != nil {
		return nil, store.Unavailable(result.Error)
	}

	entries := make([]setting.HistoryEntry, 0, len(rows))

	for _, row := range rows {
		entries = append(entries, setting.HistoryEntry{
			Key:       row.Name,
			Value:     row.Value,
			ChangedBy: row.ChangedBy,
			Deleted:   row.Deleted,
			CreatedAt: row.CreatedAt,
		})
	}

	return entries, nil
}

// RedactHistory nulls every recorded value of the key while keeping
// attribution and timestamps.
func (s *Store) RedactHistory(ctx context.Context, key string) error {
	result := s.db.WithContext(ctx).
		Model(&historyRow{}).
		Where(nameQueryPattern, key).
		Update("value", nil)
	if result.Error != nil {
		return store.Unavailable(result.Error)
	}

	return nil
}

// find runs the prepared query and maps the rows.
func (s *Store) find(_ context.Context, tx *gorm.DB) ([]setting.Setting, error) {
	var rows []settingRow

	result := tx.Order("name").Find(&rows)
	if result.Error != nil {
		return nil, store.Unavailable(result.Error)
	}

	items := make([]setting.Setting, 0, len(rows))

	for _, row := range rows {
		items = append(items, toSetting(row))
	}

	return items, nil
}

func toSetting(row settingRow) setting.Setting {
	return setting.Setting{
		Key:         row.Name,
		RawValue:    row.RawValue,
		ValueType:   setting.ValueType(row.ValueType),
		Description: row.Description,
		Deleted:     row.Deleted,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

// mysqlDSN builds the Data Source Name for the mysql driver.
func mysqlDSN(cfg config.DB) string {
	extras := cfg.Extras
	if extras == "" {
		extras = "parseTime=true"
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		extras,
	)
}

// postgresDSN builds the Data Source Name for the postgres driver.
func postgresDSN(cfg config.DB) string {
	out := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
	)

	if cfg.Extras != "" {
		out += " " + cfg.Extras
	}

	return out
}
