package store

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Supported values of database.driver
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite3  = "sqlite3" // github.com/mattn/go-sqlite3, cgo
	DriverSQLite   = "sqlite"  // modernc.org/sqlite, pure Go
)

const sqliteBusyTimeoutMS = 5000

type dialect int

const (
	dialectPostgres dialect = iota
	dialectMySQL
	dialectSQLite
)

func (d dialect) String() string {
	switch d {
	case dialectPostgres:
		return "postgres"
	case dialectMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// rowLocks reports whether SELECT ... FOR UPDATE is available. SQLite
// serializes writers through its database lock instead.
func (d dialect) rowLocks() bool {
	return d != dialectSQLite
}

func (d dialect) forUpdate(locking bool) string {
	if locking && d.rowLocks() {
		return " FOR UPDATE"
	}
	return ""
}

// rebind rewrites ? placeholders into $n for postgres
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// resolveDriver maps database.driver to the database/sql driver name, the
// dialect and the DSN the driver expects.
func resolveDriver(driver, dsn string) (string, dialect, string, error) {
	switch driver {
	case DriverPostgres, "pgx":
		return "pgx", dialectPostgres, dsn, nil
	case DriverMySQL:
		normalized, err := mysqlDSN(dsn)
		if err != nil {
			return "", 0, "", err
		}
		return "mysql", dialectMySQL, normalized, nil
	case DriverSQLite3:
		return "sqlite3", dialectSQLite, sqliteDSN(dsn, url.Values{
			"_foreign_keys": {"1"},
			"_busy_timeout": {strconv.Itoa(sqliteBusyTimeoutMS)},
			"_journal_mode": {"WAL"},
			"_txlock":       {"immediate"},
		}), nil
	case DriverSQLite:
		return "sqlite", dialectSQLite, sqliteDSN(dsn, url.Values{
			"_pragma": {
				"foreign_keys(1)",
				fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeoutMS),
				"journal_mode(WAL)",
			},
			"_txlock":      {"immediate"},
			"_time_format": {"sqlite"},
		}), nil
	default:
		return "", 0, "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// mysqlDSN forces time parsing in UTC and found-rows semantics so that
// RowsAffected reports matched rows.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("failed to parse MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func sqliteDSN(dsn string, params url.Values) string {
	path, query, _ := strings.Cut(dsn, "?")
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	existing, err := url.ParseQuery(query)
	if err != nil {
		existing = url.Values{}
	}
	for k, v := range params {
		if _, ok := existing[k]; !ok {
			existing[k] = v
		}
	}
	return path + "?" + existing.Encode()
}

func (d dialect) schema() []string {
	switch d {
	case dialectPostgres:
		return postgresSchema
	case dialectMySQL:
		return mysqlSchema
	default:
		return sqliteSchema
	}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS flagged_emails (
		id BIGSERIAL PRIMARY KEY,
		content_fingerprint CHAR(64) NOT NULL UNIQUE,
		subject VARCHAR(500) NOT NULL DEFAULT '',
		sender VARCHAR(200) NOT NULL DEFAULT '',
		recipient VARCHAR(200) NOT NULL DEFAULT '',
		message_date TIMESTAMPTZ,
		total_findings INTEGER NOT NULL DEFAULT 0,
		raw_content TEXT NOT NULL DEFAULT '',
		risk_level VARCHAR(20) NOT NULL DEFAULT 'medium',
		times_analyzed INTEGER NOT NULL DEFAULT 1,
		flagged_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_flagged_emails_flagged_at ON flagged_emails(flagged_at)`,
	`CREATE TABLE IF NOT EXISTS findings (
		id BIGSERIAL PRIMARY KEY,
		flagged_email_id BIGINT NOT NULL REFERENCES flagged_emails(id) ON DELETE CASCADE,
		phrase VARCHAR(500) NOT NULL,
		segment VARCHAR(100) NOT NULL DEFAULT '',
		line_number INTEGER,
		context TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_email_phrase ON findings(flagged_email_id, phrase)`,
	`CREATE TABLE IF NOT EXISTS phrase_statistics (
		id BIGSERIAL PRIMARY KEY,
		phrase VARCHAR(500) NOT NULL UNIQUE,
		total_occurrences INTEGER NOT NULL DEFAULT 0,
		emails_affected INTEGER NOT NULL DEFAULT 0,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_phrase_statistics_rank ON phrase_statistics(total_occurrences DESC, last_seen DESC)`,
}

// Phrases are grouped and made unique byte for byte, matching the Go side,
// so the tables use a binary collation instead of the case-folding default.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS flagged_emails (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		content_fingerprint CHAR(64) NOT NULL,
		subject VARCHAR(500) NOT NULL DEFAULT '',
		sender VARCHAR(200) NOT NULL DEFAULT '',
		recipient VARCHAR(200) NOT NULL DEFAULT '',
		message_date DATETIME(6) NULL,
		total_findings INT NOT NULL DEFAULT 0,
		raw_content LONGTEXT NOT NULL,
		risk_level VARCHAR(20) NOT NULL DEFAULT 'medium',
		times_analyzed INT NOT NULL DEFAULT 1,
		flagged_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_flagged_emails_fingerprint (content_fingerprint),
		INDEX idx_flagged_emails_flagged_at (flagged_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS findings (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		flagged_email_id BIGINT NOT NULL,
		phrase VARCHAR(500) NOT NULL,
		segment VARCHAR(100) NOT NULL DEFAULT '',
		line_number INT NULL,
		context TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_findings_email_phrase (flagged_email_id, phrase(191)),
		CONSTRAINT fk_findings_email FOREIGN KEY (flagged_email_id)
			REFERENCES flagged_emails(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS phrase_statistics (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		phrase VARCHAR(500) NOT NULL,
		total_occurrences INT NOT NULL DEFAULT 0,
		emails_affected INT NOT NULL DEFAULT 0,
		first_seen DATETIME(6) NOT NULL,
		last_seen DATETIME(6) NOT NULL,
		UNIQUE KEY uq_phrase_statistics_phrase (phrase),
		INDEX idx_phrase_statistics_rank (total_occurrences, last_seen)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS flagged_emails (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_fingerprint TEXT NOT NULL UNIQUE,
		subject TEXT NOT NULL DEFAULT '',
		sender TEXT NOT NULL DEFAULT '',
		recipient TEXT NOT NULL DEFAULT '',
		message_date TIMESTAMP,
		total_findings INTEGER NOT NULL DEFAULT 0,
		raw_content TEXT NOT NULL DEFAULT '',
		risk_level TEXT NOT NULL DEFAULT 'medium',
		times_analyzed INTEGER NOT NULL DEFAULT 1,
		flagged_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_flagged_emails_flagged_at ON flagged_emails(flagged_at)`,
	`CREATE TABLE IF NOT EXISTS findings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		flagged_email_id INTEGER NOT NULL REFERENCES flagged_emails(id) ON DELETE CASCADE,
		phrase TEXT NOT NULL,
		segment TEXT NOT NULL DEFAULT '',
		line_number INTEGER,
		context TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_email_phrase ON findings(flagged_email_id, phrase)`,
	`CREATE TABLE IF NOT EXISTS phrase_statistics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		phrase TEXT NOT NULL UNIQUE,
		total_occurrences INTEGER NOT NULL DEFAULT 0,
		emails_affected INTEGER NOT NULL DEFAULT 0,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_phrase_statistics_rank ON phrase_statistics(total_occurrences DESC, last_seen DESC)`,
}
