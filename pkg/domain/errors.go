package domain

import "fmt"

// PersistenceError reports a failed save or load against a durable backend.
// Backends surface these instead of discarding them; the caller decides
// whether to retry, log, or fall back to an empty collection.
type PersistenceError struct {
	Op  string // "encode", "decode", "write", "read", "open"
	Key string // bucket or blob key involved, when known
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotFoundError is returned when an operation requires an entity that is not
// present in the committed state.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
