//go:build !cgo

package store

// go-sqlite3 is a stub without cgo and never returns typed errors
func cgoSQLiteCode(error) (int, bool) {
	return 0, false
}
