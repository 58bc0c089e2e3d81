package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/metrics"
)

// Config describes how to reach the database
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// querier is the subset of *sql.DB and *sql.Tx the repositories need
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLStore implements core.Store on top of database/sql. It owns the
// connection pool and replaces it after a connection failure.
type SQLStore struct {
	cfg        Config
	driverName string
	dsn        string
	dialect    dialect
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	db     *sql.DB
	broken bool
}

// Option customises an SQLStore
type Option func(*SQLStore)

// WithClock replaces the clock used for row timestamps
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) {
		s.now = now
	}
}

// Open connects to the database and creates the schema if needed
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) (*SQLStore, error) {
	driverName, d, dsn, err := resolveDriver(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	s := &SQLStore{
		cfg:        cfg,
		driverName: driverName,
		dsn:        dsn,
		dialect:    d,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db

	logger.Info("Opened ledger database",
		zap.String("driver", cfg.Driver),
		zap.String("dialect", d.String()))
	return s, nil
}

func (s *SQLStore) connect(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(s.driverName, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", s.cfg.Driver, err)
	}

	if s.dialect == dialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		if s.cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		}
		if s.cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(s.cfg.MaxIdleConns)
		}
	}
	if s.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w: %w", s.cfg.Driver, core.ErrConnection, err)
	}
	return db, nil
}

func (s *SQLStore) migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// handle returns the live pool, reconnecting first when the last call
// observed a connection failure.
func (s *SQLStore) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("ledger store is closed: %w", core.ErrConnection)
	}
	if !s.broken {
		return s.db, nil
	}

	if err := s.db.PingContext(ctx); err == nil {
		s.broken = false
		return s.db, nil
	}

	s.logger.Warn("Reconnecting to ledger database", zap.String("driver", s.cfg.Driver))
	db, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reconnect: %w", err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close stale database handle", zap.Error(err))
	}
	s.db = db
	s.broken = false
	metrics.IncrementReconnects()
	return db, nil
}

func (s *SQLStore) markBroken() {
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}

// classify tags connection failures with core.ErrConnection and schedules
// a reconnect.
func (s *SQLStore) classify(err error) error {
	if err == nil || errors.Is(err, core.ErrConnection) {
		return err
	}
	if isConnectionError(err) {
		s.markBroken()
		return fmt.Errorf("%w: %w", core.ErrConnection, err)
	}
	return err
}

// RunInTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back on error or panic.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return s.txError("failed to begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, s.view(tx, true)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("Failed to roll back transaction", zap.Error(rbErr))
			if isConnectionError(rbErr) {
				s.markBroken()
			}
		}
		return s.txError("transaction rolled back", err)
	}

	if err := tx.Commit(); err != nil {
		return s.txError("failed to commit transaction", err)
	}
	return nil
}

func (s *SQLStore) txError(msg string, err error) error {
	if errors.Is(err, core.ErrConnection) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if isConnectionError(err) {
		s.markBroken()
		return fmt.Errorf("%s: %w: %w", msg, core.ErrConnection, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, core.ErrTransaction, err)
}

// Reader returns repositories that run each statement on its own
func (s *SQLStore) Reader() core.Tx {
	return s.view(poolQuerier{s: s}, false)
}

func (s *SQLStore) view(q querier, inTx bool) *txView {
	base := repoBase{
		q:       q,
		d:       s.dialect,
		now:     s.timestamp,
		locking: inTx,
	}
	return &txView{
		emails:   &emailRepo{base},
		findings: &findingRepo{base},
		ledger:   &ledgerRepo{base},
	}
}

func (s *SQLStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Ping checks that the database is reachable
func (s *SQLStore) Ping(ctx context.Context) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	return s.classify(db.PingContext(ctx))
}

// Close releases the connection pool
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close ledger database: %w", err)
	}
	return nil
}

type txView struct {
	emails   *emailRepo
	findings *findingRepo
	ledger   *ledgerRepo
}

func (v *txView) Emails() core.EmailStore     { return v.emails }
func (v *txView) Findings() core.FindingStore { return v.findings }
func (v *txView) Ledger() core.PhraseLedger   { return v.ledger }

// poolQuerier runs statements directly on the pool
type poolQuerier struct {
	s *SQLStore
}

func (q poolQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := q.s.handle(ctx)
	if err != nil {
		return nil, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	return res, q.s.classify(err)
}

func (q poolQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db, err := q.s.handle(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	return rows, q.s.classify(err)
}

var _ core.Store = (*SQLStore)(nil)
