// Package errkind defines the tracker's error sum-type (spec.md §7): a
// small closed set of error kinds, each carrying an optional chained cause
// and a free-form diagnostic string, modeled without inheritance per the
// "deep result hierarchies" design note in spec.md §9.
package errkind

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is one of the error kinds spec.md §7 names.
type Kind uint8

const (
	// UnknownMachine: the id is not present in the cluster state (or was
	// reclaimed out from under a stale heartbeat).
	UnknownMachine Kind = iota + 1
	// NoShards: the sharding scheme was asked to resolve a key with zero
	// available shard entries.
	NoShards
	// Transient: a network or quota error; the caller should retry with
	// backoff.
	Transient
	// PermanentRejected: the request was well-formed but refused; never
	// retried.
	PermanentRejected
	// Cancelled: cooperative cancellation via context.Context.
	Cancelled
	// Corrupted: a serialization mismatch. Fatal to the affected
	// operation but never crashes the process.
	Corrupted
)

func (k Kind) String() string {
	switch k {
	case UnknownMachine:
		return "UnknownMachine"
	case NoShards:
		return "NoShards"
	case Transient:
		return "Transient"
	case PermanentRejected:
		return "PermanentRejected"
	case Cancelled:
		return "Cancelled"
	case Corrupted:
		return "Corrupted"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every tracker operation returns on
// failure. Op names the operation that failed ("RegisterMachine",
// "GetLocations", ...); Diagnostic is a human-readable detail;
// Cause, if set, chains the underlying error (e.g. a gRPC transport
// failure) so logging can unwrap the full story.
type Error struct {
	Kind       Kind
	Op         string
	Diagnostic string
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error with no chained cause.
func New(kind Kind, op, diagnostic string) *Error {
	return &Error{Kind: kind, Op: op, Diagnostic: diagnostic}
}

// Wrap chains cause under op/kind, using pkg/errors so the resulting
// error's %+v prints a stack trace from the original failure site —
// useful once a hop's Transient error has been retried to exhaustion and
// needs to be logged with full context.
func Wrap(cause error, kind Kind, op, diagnostic string) *Error {
	return &Error{Kind: kind, Op: op, Diagnostic: diagnostic, Cause: pkgerrors.WithStack(cause)}
}

// Is reports whether err is an *Error of the given kind, unwrapping
// chained causes along the way.
func Is(err error, kind Kind) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	return te.Kind == kind
}
