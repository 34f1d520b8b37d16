package types

import (
	"errors"
	"fmt"
)

// FaultKind classifies a failure so callers can pick a retry policy
type FaultKind string

const (
	// FaultValidation rejects malformed input before it reaches a worker
	FaultValidation FaultKind = "validation"

	// FaultTransient covers runtime hiccups worth retrying locally
	FaultTransient FaultKind = "transient"

	// FaultGone means the container no longer exists; authoritative
	FaultGone FaultKind = "gone"

	// FaultNotReady means the session did not reach running in time
	FaultNotReady FaultKind = "session_not_ready"

	// FaultBusy means a dispatch is already in flight for the session
	FaultBusy FaultKind = "busy"

	// FaultDangerous rejects instructions matching blocked patterns
	FaultDangerous FaultKind = "dangerous"

	// FaultExhausted means retries or recovery attempts are used up
	FaultExhausted FaultKind = "exhausted"
)

// Fault is a classified error carried across component boundaries
type Fault struct {
	Kind FaultKind
	Op   string // operation that failed, e.g. "session.dispatch"
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// NewFault wraps err with a kind tag
func NewFault(kind FaultKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// Faultf builds a Fault from a format string
func Faultf(kind FaultKind, op, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// FaultKindOf walks the error chain and returns the first fault kind found.
// Unclassified errors report as transient so the retry policy stays safe.
func FaultKindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return FaultTransient
}

// IsFault reports whether err carries the given kind
func IsFault(err error, kind FaultKind) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// Retryable reports whether the queue should re-attempt a job that failed
// with err. Validation and dangerous faults never retry; gone is terminal.
func Retryable(err error) bool {
	switch FaultKindOf(err) {
	case FaultValidation, FaultDangerous, FaultGone, FaultExhausted:
		return false
	default:
		return true
	}
}
