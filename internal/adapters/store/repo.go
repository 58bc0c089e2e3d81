package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mikey/phish-ledger/internal/core"
)

// idChunkSize bounds the number of ids bound into a single IN clause
const idChunkSize = 500

type repoBase struct {
	q       querier
	d       dialect
	now     func() time.Time
	locking bool
}

func (r repoBase) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.d.rebind(query), args...)
}

func (r repoBase) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.d.rebind(query), args...)
}

// queryRow scans the first row into dest and reports whether there was one
func (r repoBase) queryRow(ctx context.Context, query string, args []any, dest ...any) (bool, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return false, rows.Err()
	}
	if err := rows.Scan(dest...); err != nil {
		return false, err
	}
	return true, rows.Err()
}

func chunkIDs(ids []int64) [][]int64 {
	var chunks [][]int64
	for len(ids) > idChunkSize {
		chunks = append(chunks, ids[:idChunkSize])
		ids = ids[idChunkSize:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")", args
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// Field conversions for UpdateFields. Values usually come from JSON or CLI
// flags, so strings and float64 are accepted where they make sense.

func stringField(name string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %s must be a string, got %T: %w", name, v, core.ErrValidation)
	}
	return s, nil
}

func timeField(name string, v any) (sql.NullTime, error) {
	switch t := v.(type) {
	case nil:
		return sql.NullTime{}, nil
	case time.Time:
		return nullTime(&t), nil
	case *time.Time:
		return nullTime(t), nil
	case string:
		if t == "" {
			return sql.NullTime{}, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return nullTime(&parsed), nil
			}
		}
		return sql.NullTime{}, fmt.Errorf("field %s has unparseable time %q: %w", name, t, core.ErrValidation)
	default:
		return sql.NullTime{}, fmt.Errorf("field %s must be a time, got %T: %w", name, v, core.ErrValidation)
	}
}

func intField(name string, v any) (sql.NullInt64, error) {
	switch n := v.(type) {
	case nil:
		return sql.NullInt64{}, nil
	case int:
		return sql.NullInt64{Int64: int64(n), Valid: true}, nil
	case int32:
		return sql.NullInt64{Int64: int64(n), Valid: true}, nil
	case int64:
		return sql.NullInt64{Int64: n, Valid: true}, nil
	case *int:
		return nullInt(n), nil
	case float64:
		if n != float64(int64(n)) {
			return sql.NullInt64{}, fmt.Errorf("field %s must be a whole number: %w", name, core.ErrValidation)
		}
		return sql.NullInt64{Int64: int64(n), Valid: true}, nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return sql.NullInt64{}, fmt.Errorf("field %s must be an integer: %w", name, core.ErrValidation)
		}
		return sql.NullInt64{Int64: parsed, Valid: true}, nil
	default:
		return sql.NullInt64{}, fmt.Errorf("field %s must be an integer, got %T: %w", name, v, core.ErrValidation)
	}
}
