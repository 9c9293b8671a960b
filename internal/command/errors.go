package command

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the engine answers 404 to a search or
	// scroll, i.e. the index or scroll context does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMissingQuery is returned by DeleteByQuery when the request has no
	// query clause.
	ErrMissingQuery = errors.New("delete by query requires a query")

	// ErrEmptyBulk is returned when executing a bulk batch without actions.
	ErrEmptyBulk = errors.New("bulk batch has no actions")
)

// StaleResourceError reports an optimistic concurrency conflict: the engine
// rejected a conditional write with 409.
type StaleResourceError struct {
	Index string
	ID    string
	Err   error
}

func (e *StaleResourceError) Error() string {
	return fmt.Sprintf("stale document %s/%s: %v", e.Index, e.ID, e.Err)
}

func (e *StaleResourceError) Unwrap() error { return e.Err }
