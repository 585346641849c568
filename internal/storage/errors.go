package storage

import "errors"

var (
	// ErrKeyNotFound is returned when a key doesn't exist in the index.
	ErrKeyNotFound = errors.New("key not found")

	// ErrCorruptedWAL is returned when a WAL entry's payload is shorter than
	// the lengths it declares. Replay stops at such an entry, as it does at
	// a checksum mismatch, and does not surface the error.
	ErrCorruptedWAL = errors.New("corrupted WAL entry")

	// ErrKeyMismatch is returned when a record read from the data file at an
	// indexed offset does not carry the key the index says it should.
	ErrKeyMismatch = errors.New("stored key does not match indexed key")

	// ErrClosed names the closed-store condition. No Store method returns
	// it: operations after Close do not check whether the store is closed.
	ErrClosed = errors.New("store is closed")

	// ErrLengthMismatch is a batch_put precondition violation.
	ErrLengthMismatch = errors.New("keys and values must have the same length")
)
