package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteErrorClassification(t *testing.T) {
	ctx := context.Background()

	missing, err := sql.Open(DriverSQLite, filepath.Join(t.TempDir(), "absent", "ledger.db"))
	require.NoError(t, err)
	defer missing.Close()
	err = missing.PingContext(ctx)
	require.Error(t, err)
	assert.True(t, isConnectionError(err), "cannot open: %v", err)

	db, err := sql.Open(DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, `CREATE TABLE t (v TEXT UNIQUE)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO t (v) VALUES ('x')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO t (v) VALUES ('x')`)
	require.Error(t, err)
	assert.False(t, isConnectionError(err), "constraint: %v", err)
}

func TestConnectionErrorKinds(t *testing.T) {
	assert.False(t, isConnectionError(nil))
	assert.False(t, isConnectionError(context.Canceled))
	assert.False(t, isConnectionError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, isConnectionError(errors.New("syntax error")))
	assert.True(t, isConnectionError(fmt.Errorf("query: %w", sql.ErrConnDone)))
	assert.True(t, isConnectionError(mysql.ErrInvalidConn))

	assert.True(t, sqliteConnectionCode(14))
	assert.False(t, sqliteConnectionCode(5), "busy is contention")
	assert.False(t, sqliteConnectionCode(6), "locked is contention")
}
