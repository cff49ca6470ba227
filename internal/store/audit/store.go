// Package audit 持久化每次调度请求的操作日志，供 ReconciliationFailed 之后的人工对账使用。
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxListLimit = 500

type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return FromDB(db)
}

func FromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&Operation{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

// Record appends op, filling ID and CreatedAt when empty.
func (s *Store) Record(ctx context.Context, op *Operation) error {
	if op == nil {
		return nil
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(op).Error
}

// ListRecent returns the newest operations first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Operation, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var ops []Operation
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

// ListByTicket returns the history of one ticket, newest first.
func (s *Store) ListByTicket(ctx context.Context, ticket string, limit int) ([]Operation, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var ops []Operation
	if err := s.db.WithContext(ctx).Where("ticket = ?", ticket).Order("created_at DESC").Limit(limit).Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
