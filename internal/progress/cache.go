package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingCachePath = errors.New("progress: cache path required")

// Entry is the device-local progress of one document.
type Entry struct {
	LastPage    int
	TotalPages  int
	LastUpdated time.Time
}

// LocalCache is the device tier of reading progress, keyed by document only.
type LocalCache interface {
	Load(ctx context.Context, documentKey string) (Entry, bool, error)
	Store(ctx context.Context, documentKey string, entry Entry) error
}

type cacheRecord struct {
	DocumentKey        string `gorm:"column:document_key;primaryKey;size:190;not null"`
	LastPage           int    `gorm:"column:last_page;not null"`
	TotalPages         int    `gorm:"column:total_pages;not null;default:0"`
	LastUpdatedSeconds int64  `gorm:"column:last_updated_s;not null"`
}

func (cacheRecord) TableName() string {
	return "local_progress"
}

// SQLiteCache keeps the local tier in a SQLite file on the device.
type SQLiteCache struct {
	db *gorm.DB
}

// OpenSQLiteCache opens (or creates) the cache file.
func OpenSQLiteCache(path string, logger *zap.Logger) (*SQLiteCache, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errMissingCachePath
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("progress: open cache: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	cache, err := NewSQLiteCache(db)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debug("local progress cache opened", zap.String("path", trimmed))
	}
	return cache, nil
}

// NewSQLiteCache uses an existing connection and ensures the table exists.
func NewSQLiteCache(db *gorm.DB) (*SQLiteCache, error) {
	if db == nil {
		return nil, errors.New("progress: database handle required")
	}
	if err := db.AutoMigrate(&cacheRecord{}); err != nil {
		return nil, fmt.Errorf("progress: migrate cache: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Load returns the entry for the document; found is false when none exists.
func (cache *SQLiteCache) Load(ctx context.Context, documentKey string) (Entry, bool, error) {
	var record cacheRecord
	err := cache.db.WithContext(ctx).Where("document_key = ?", documentKey).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{
		LastPage:    record.LastPage,
		TotalPages:  record.TotalPages,
		LastUpdated: time.Unix(record.LastUpdatedSeconds, 0).UTC(),
	}, true, nil
}

// Store overwrites the entry in a single upsert statement.
func (cache *SQLiteCache) Store(ctx context.Context, documentKey string, entry Entry) error {
	record := cacheRecord{
		DocumentKey:        documentKey,
		LastPage:           entry.LastPage,
		TotalPages:         entry.TotalPages,
		LastUpdatedSeconds: entry.LastUpdated.UTC().Unix(),
	}
	return cache.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_page", "total_pages", "last_updated_s"}),
	}).Create(&record).Error
}

// Close releases the underlying connection.
func (cache *SQLiteCache) Close() error {
	sqlDB, err := cache.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
