package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqliteDriver "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sessionRow is one storage slot.
type sessionRow struct {
	Key       string `gorm:"primaryKey;size:191"`
	Data      []byte
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "widget_sessions" }

type sqlBackend struct {
	db    *gorm.DB
	owned bool
}

func newSQLBackend(cfg *storeConfig) (*sqlBackend, error) {
	db := cfg.gormDB
	owned := false
	if db == nil {
		var err error
		db, err = openGorm(cfg.sqlDriver, strings.TrimSpace(cfg.sqlDSN))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		owned = true
	}
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		if owned {
			closeGorm(db)
		}
		return nil, fmt.Errorf("migrate widget_sessions: %w", err)
	}
	return &sqlBackend{db: db, owned: owned}, nil
}

func (b *sqlBackend) get(ctx context.Context, key string) ([]byte, error) {
	var row sessionRow
	err := b.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

func (b *sqlBackend) set(ctx context.Context, key string, val []byte) error {
	row := sessionRow{Key: key, Data: val, UpdatedAt: time.Now().UTC()}
	return b.db.WithContext(ctx).Save(&row).Error
}

func (b *sqlBackend) del(ctx context.Context, key string) error {
	return b.db.WithContext(ctx).Where("key = ?", key).Delete(&sessionRow{}).Error
}

func (b *sqlBackend) close() error {
	if !b.owned {
		return nil
	}
	return closeGorm(b.db)
}

func closeGorm(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// openGorm opens the SQL store's database. Plain sqlite paths get their
// directory created; "file:" URIs and ":memory:" are passed through as is.
func openGorm(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if dsn == "" {
			dsn = "widget.db"
		}
		if path, _, _ := strings.Cut(dsn, "?"); path != ":memory:" && !strings.HasPrefix(path, "file:") {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite db dir: %w", err)
			}
		}
		return gorm.Open(sqliteDriver.Open(dsn), cfg)
	case "postgres":
		if dsn == "" {
			return nil, errors.New("dsn is required for postgres")
		}
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}
