package collection

import "errors"

var (
	// ErrClosed is returned by operations on a closed Collection.
	ErrClosed = errors.New("collection: closed")

	// ErrSettled is returned when a PendingMutation is committed or
	// rolled back a second time.
	ErrSettled = errors.New("collection: mutation already settled")

	// ErrKindMismatch is returned when the record type does not match the
	// collection's kind.
	ErrKindMismatch = errors.New("collection: record type does not match collection")
)
