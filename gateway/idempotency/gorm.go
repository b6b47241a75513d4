package idempotency

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyKey is the relational row backing GormStore.
type IdempotencyKey struct {
	Key         string `gorm:"primaryKey;size:200"`
	RequestID   string `gorm:"size:64"`
	Fingerprint string `gorm:"size:64"`
	Method      string `gorm:"size:8"`
	Path        string `gorm:"size:255"`
	Status      int
	ContentType string `gorm:"size:128"`
	Response    []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time `gorm:"index"`
}

// GormStore keeps records in a relational database.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects to Postgres and migrates the schema.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return NewGormStore(db)
}

// NewGormStore migrates the schema on db and wraps it.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&IdempotencyKey{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, key string, now time.Time) (*Record, error) {
	var row IdempotencyKey
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	record := &Record{
		Key:         row.Key,
		RequestID:   row.RequestID,
		Fingerprint: row.Fingerprint,
		Method:      row.Method,
		Path:        row.Path,
		Status:      row.Status,
		ContentType: row.ContentType,
		Body:        row.Response,
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}
	if record.Expired(now) {
		if err := s.db.WithContext(ctx).Delete(&IdempotencyKey{}, "key = ?", key).Error; err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return record, nil
}

// Put stores record. A concurrent first writer wins.
func (s *GormStore) Put(ctx context.Context, record *Record) error {
	row := IdempotencyKey{
		Key:         record.Key,
		RequestID:   record.RequestID,
		Fingerprint: record.Fingerprint,
		Method:      record.Method,
		Path:        record.Path,
		Status:      record.Status,
		ContentType: record.ContentType,
		Response:    record.Body,
		CreatedAt:   record.CreatedAt,
		ExpiresAt:   record.ExpiresAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// Purge removes every record that expired before now.
func (s *GormStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&IdempotencyKey{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
