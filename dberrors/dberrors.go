// Package dberrors classifies the engine's error taxonomy (spec.md §7),
// adapted from errors/error_handler.go's ErrorCategory/MantisError shape:
// a single wrapped error type carrying a category and a retryability bit,
// trimmed to the categories this engine actually surfaces.
package dberrors

import (
	"errors"
	"fmt"
)

// Category classifies an Error for callers that want to branch on it
// without string-matching Error().
type Category int

const (
	// CategoryPushFailed means a blocking transaction's push resolved to
	// an outcome the requester could not commit through — surfaced to the
	// caller as Committed: false rather than this error type in practice,
	// but retained for callers that construct one directly.
	CategoryPushFailed Category = iota
	// CategoryWriteTooOld means a commit's read refresh failed after a
	// write-timestamp bump; the transaction was aborted instead.
	CategoryWriteTooOld
	// CategoryInvariant means a broken internal invariant was detected —
	// always fatal, never retried.
	CategoryInvariant
	// CategoryStorage wraps an I/O error from the underlying Engine.
	CategoryStorage
)

func (c Category) String() string {
	switch c {
	case CategoryPushFailed:
		return "PUSH_FAILED"
	case CategoryWriteTooOld:
		return "WRITE_TOO_OLD"
	case CategoryInvariant:
		return "INVARIANT"
	case CategoryStorage:
		return "STORAGE"
	default:
		return "UNKNOWN"
	}
}

// ErrNotFound is never wrapped in an Error: a missing key on read is
// Option::None, not an error (spec.md §7), so callers see it only as a
// false "found" return. It exists here for code that needs a sentinel
// value rather than a boolean, such as a future CLI or RPC layer.
var ErrNotFound = errors.New("dberrors: key not found")

// Error is a classified, wrapped error carrying the operation that
// failed and whether a caller may retry it.
type Error struct {
	Op        string
	Category  Category
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dberrors: %s: %s: %v", e.Category, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PushFailed wraps err as a failed push during commit/read resolution.
func PushFailed(op string, err error) *Error {
	return &Error{Op: op, Category: CategoryPushFailed, Retryable: false, Err: err}
}

// WriteTooOld wraps err as a commit aborted by a failed read refresh.
func WriteTooOld(op string, err error) *Error {
	return &Error{Op: op, Category: CategoryWriteTooOld, Retryable: false, Err: err}
}

// Storage wraps err as a passthrough storage I/O failure.
func Storage(op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Category: CategoryStorage, Retryable: false, Err: err}
}

// IsRetryable reports whether err, or anything it wraps, is a retryable
// classified Error. Conflicts the executor resolves through its own
// retry loop never reach this far, so in practice this is always false
// for errors callers observe; it exists for the taxonomy's completeness.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Invariant panics with a CategoryInvariant Error. A broken internal
// invariant (lock table corruption, an impossible MVCC state) is a bug,
// not a recoverable condition, the same way the teacher's storage
// integrity checks treat corruption as fatal rather than retryable.
func Invariant(op, msg string) {
	panic(&Error{Op: op, Category: CategoryInvariant, Retryable: false, Err: errors.New(msg)})
}
