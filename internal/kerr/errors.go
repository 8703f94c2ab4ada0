// Package kerr provides the structured error taxonomy used across kernelcore:
// programmer invariant violations panic, hardware mismatches and
// protocol-level drops return/log as structured errors, resource contention
// panics, retryable conditions are plain errors callers inspect with IsCode.
package kerr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error for programmatic handling.
type Code string

const (
	CodeHardwareMismatch Code = "hardware configuration mismatch"
	CodeProtocolDrop     Code = "protocol-level drop"
	CodeRetryable        Code = "retryable"
	CodeInvalidArgument  Code = "invalid argument"
	CodeNotFound         Code = "not found"
	CodeTimeout          Code = "timeout"
)

// Error is a structured kernelcore error with enough context to log and to
// match programmatically via errors.Is/errors.As.
type Error struct {
	Op    string // operation that failed, e.g. "uhci.reset"
	Code  Code
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Msg, e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Msg, e.Code)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison by Code against another *Error.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// New creates a structured error.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// Wrap attaches op/context to an existing error without losing its cause.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return &Error{Op: op, Code: e.Code, Msg: e.Msg, Inner: e}
	}
	return &Error{Op: op, Code: CodeRetryable, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err (or anything it wraps) carries the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Invariant panics on a programmer invariant violation (§7): a non-monotonic
// free list, a reused task id, a double-booked IoAllocator range, and similar
// conditions where continuing would corrupt kernel state rather than produce
// a sensible error.
func Invariant(op, msg string) {
	panic(fmt.Sprintf("kernelcore invariant violation in %s: %s", op, msg))
}

// ResourceExhausted panics on resource contention treated as fatal
// misconfiguration rather than a recoverable error — e.g. a full run-queue
// ring rejecting a wake().
func ResourceExhausted(op, msg string) {
	panic(fmt.Sprintf("kernelcore resource exhausted in %s: %s", op, msg))
}
