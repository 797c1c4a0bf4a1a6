package store

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteStore implements LocalStore on top of gorm and SQLite.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, log *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, log); err != nil {
		return nil, err
	}

	if log != nil {
		log.Info("local store initialized", zap.String("path", path))
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate creates the local schema and applies pending repair migrations.
func Migrate(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(&notes.Collection{}, &notes.Note{}, &notes.ChecklistItem{}, &stateRecord{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, log)
}

// NewSQLiteStore wraps an already migrated gorm handle.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, ErrMissingDatabase
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying gorm handle.
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// View runs fn inside a transaction that is always rolled back afterwards.
func (s *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	if s == nil || s.db == nil {
		return ErrMissingDatabase
	}
	transaction := s.db.WithContext(ctx).Begin()
	if transaction.Error != nil {
		return transaction.Error
	}
	defer transaction.Rollback()
	return fn(&gormTx{db: transaction})
}

// Update runs fn inside one atomic transaction.
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	if s == nil || s.db == nil {
		return ErrMissingDatabase
	}
	return s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(&gormTx{db: transaction})
	})
}
