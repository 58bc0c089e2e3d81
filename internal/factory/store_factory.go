package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/store"
	"github.com/mikey/phish-ledger/internal/config"
)

// StoreFactory opens the ledger database
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore opens the configured database and applies the schema
func (f *StoreFactory) CreateStore(ctx context.Context) (*store.SQLStore, error) {
	dbCfg, err := f.cfg.GetDatabase()
	if err != nil {
		return nil, err
	}

	if dbCfg.Driver == store.DriverSQLite || dbCfg.Driver == store.DriverSQLite3 {
		if path := sqlitePath(dbCfg.DSN); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
			}
		}
	}

	return store.Open(ctx, store.Config{
		Driver:          dbCfg.Driver,
		DSN:             dbCfg.DSN,
		MaxOpenConns:    dbCfg.MaxOpenConns,
		MaxIdleConns:    dbCfg.MaxIdleConns,
		ConnMaxLifetime: dbCfg.ConnMaxLifetime,
	}, f.logger)
}

// sqlitePath returns the file path of a SQLite DSN, or "" for in-memory databases
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}
