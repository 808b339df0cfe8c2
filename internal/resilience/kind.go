// Package resilience wraps persistence calls with classified retries.
//
// Every error coming out of the persistence adapter is mapped to a closed set
// of kinds. Transient connection failures and stale prepared statements are
// retried with a linear backoff; every other kind is returned to the caller
// immediately as a *Error so the HTTP layer can map it without inspecting
// driver messages.
package resilience

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the classification of a persistence failure.
type Kind int

const (
	// KindFatal is anything the executor must not retry. It is the zero value
	// so that unclassified errors are never retried by accident.
	KindFatal Kind = iota
	// KindTransientConnection covers dropped connections, timeouts,
	// deadlocks and lock waits.
	KindTransientConnection
	// KindStatementConflict means a cached prepared statement no longer
	// matches the schema; the pool must be reset before retrying.
	KindStatementConflict
	// KindNotFound means the addressed row does not exist.
	KindNotFound
	// KindConflict is a uniqueness violation.
	KindConflict
	// KindValidation is a constraint or input rejected by the database.
	KindValidation
)

var kindNames = [...]string{
	KindFatal:               "fatal",
	KindTransientConnection: "transient_connection",
	KindStatementConflict:   "statement_conflict",
	KindNotFound:            "not_found",
	KindConflict:            "conflict",
	KindValidation:          "validation",
}

// String returns the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Retryable reports whether the executor retries failures of this kind.
func (k Kind) Retryable() bool {
	return k == KindTransientConnection || k == KindStatementConflict
}

// Error is returned by Executor.Do for every failure. It carries the
// classification, the logical operation name, and how many attempts ran.
type Error struct {
	Kind     Kind
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", e.Op, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind of err. Errors that did not go through an
// executor are treated as fatal; nil has no kind and reports KindFatal too,
// so callers should check err != nil first.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindFatal
}

// IsKind reports whether err was classified as k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsTransient reports whether err is a retryable failure that survived every
// attempt. Read paths use it to decide between degrading and failing.
func IsTransient(err error) bool {
	return err != nil && KindOf(err).Retryable()
}

// Classifier maps a raw driver/ORM error to a Kind.
type Classifier func(error) Kind

// defaultClassify keeps kinds of already wrapped errors and treats everything
// else as fatal.
func defaultClassify(err error) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindFatal
	}
	return KindOf(err)
}
