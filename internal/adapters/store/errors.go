package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// isConnectionError reports whether err means the connection to the
// database is gone and the handle should be re-established.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	// Caller cancellations are not connection failures even though
	// DeadlineExceeded satisfies net.Error.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception, 57P0x is operator intervention
		return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:4] == "57P0")
	}
	if code, ok := sqliteCode(err); ok {
		return sqliteConnectionCode(code)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// sqliteCode extracts the primary result code from either SQLite driver
func sqliteCode(err error) (int, bool) {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() & 0xff, true
	}
	return cgoSQLiteCode(err)
}

// sqliteConnectionCode reports whether the database file itself is unreachable.
// SQLITE_BUSY and SQLITE_LOCKED are lock contention and stay transaction failures.
func sqliteConnectionCode(code int) bool {
	switch code {
	case sqlitelib.SQLITE_CANTOPEN, sqlitelib.SQLITE_IOERR, sqlitelib.SQLITE_NOTADB:
		return true
	default:
		return false
	}
}
