package wal

import "errors"

// WAL-specific errors.
var (
	ErrInvalidEntry     = errors.New("wal: invalid entry format")
	ErrChecksumMismatch = errors.New("wal: entry checksum mismatch")
)
