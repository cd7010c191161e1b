// Package perr declares Pointline's error taxonomy.
//
// Errors carry a structured payload rather than leaning on string
// matching; callers use errors.As to recover the concrete type and
// KindOf to map a failure to one of the Kind values below for
// retry/escalation decisions.
package perr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/escalation policy.
type Kind uint8

const (
	KindIO Kind = iota
	KindParse
	KindValidation
	KindConflict
	KindNotFound
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IOError wraps a failure reading or writing raw files, storage paths,
// or transaction logs. Retryable by the caller for transient classes.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Kind() Kind { return KindIO }

// ParseError means a vendor file was rejected outright. Not retried
// automatically; the caller's manifest entry becomes "failed".
type ParseError struct {
	Vendor   string
	DataType string
	Path     string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: %s/%s %s: %s", e.Vendor, e.DataType, e.Path, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Kind() Kind { return KindParse }

// ValidationError is a file-level escalation of row-level rejection,
// raised only when a fatal invariant is violated (e.g. unparseable
// timestamps exceeding a threshold share of the file). Ordinary
// per-row rejections never surface as this type -- they are routed to
// quarantine and counted instead.
type ValidationError struct {
	Table  string
	Rule   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: table=%s rule=%s: %s", e.Table, e.Rule, e.Reason)
}

func (e *ValidationError) Kind() Kind { return KindValidation }

// ConflictError means an optimistic-concurrency commit failed -- the
// registry or a storage transaction log advanced past the caller's
// expected version. Retryable after a fresh snapshot read.
type ConflictError struct {
	Resource        string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s expected version %d, found %d", e.Resource, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConflictError) Kind() Kind { return KindConflict }

// NotFoundError covers a referenced symbol version, partition, or file
// id missing where one was expected to exist -- a data-integrity or
// programming error, not a normal control-flow outcome.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s %s", e.Resource, e.Key)
}

func (e *NotFoundError) Kind() Kind { return KindNotFound }

// CancelledError means an operation was aborted by a cancellation
// signal or deadline before it committed any side effects.
type CancelledError struct {
	Op     string
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("cancelled: %s", e.Op)
	}
	return fmt.Sprintf("cancelled: %s (%s)", e.Op, e.Reason)
}

func (e *CancelledError) Kind() Kind { return KindCancelled }

// TimeoutReason is the status_reason recorded on a manifest entry when
// an operation is cancelled by deadline rather than an explicit signal.
const TimeoutReason = "timeout"

// kindError is satisfied by every taxonomy member above.
type kindError interface {
	error
	Kind() Kind
}

// KindOf extracts the Kind of err if it (or something it wraps)
// implements kindError, else false.
func KindOf(err error) (Kind, bool) {
	var ke kindError
	if errors.As(err, &ke) {
		return ke.Kind(), true
	}
	return 0, false
}
