//go:build cgo

package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

func cgoSQLiteCode(err error) (int, bool) {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return int(liteErr.Code), true
	}
	return 0, false
}
