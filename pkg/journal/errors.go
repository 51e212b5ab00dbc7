// Package journal is an append-only, checksummed log of serialized patches.
//
// The database itself performs no I/O; a host that wants durability appends
// every patch it applies and periodically writes a checkpoint holding the
// full state. Recovery replays the last checkpoint and every patch after it.
package journal

import "errors"

var (
	// ErrCorrupted indicates a record failing its CRC or framing checks
	ErrCorrupted = errors.New("journal: corrupted record")

	// ErrTruncated indicates a record cut short
	ErrTruncated = errors.New("journal: truncated record")

	// ErrClosed indicates an operation on a closed journal
	ErrClosed = errors.New("journal: closed")

	// ErrTooLarge indicates a patch that would not fit one record
	ErrTooLarge = errors.New("journal: record too large")
)
