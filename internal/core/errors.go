package core

import "errors"

var (
	// ErrConnection is returned when the database connection was lost.
	// The store reconnects on the next call.
	ErrConnection = errors.New("database connection failure")

	// ErrTransaction is returned when a transactional operation failed and was rolled back
	ErrTransaction = errors.New("transaction failed")

	// ErrValidation is returned for input the ledger refuses to accept
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned by adapters when a lookup has no result
	ErrNotFound = errors.New("not found")
)
