package backend

import (
	"fmt"

	"github.com/pkg/errors"
)

// LogicError signals a programming or configuration fault: a malformed map
// file, an invalid checksum tag topology, a request against an unknown
// register path, or similar. LogicErrors are raised during construction and
// precondition checks; they never involve transport I/O (spec.md §7).
type LogicError struct {
	Register  string
	Direction string
	cause     error
}

func (e *LogicError) Error() string {
	prefix := "backend: logic error"
	if e.Register != "" {
		prefix += fmt.Sprintf(" (register %s", e.Register)
		if e.Direction != "" {
			prefix += fmt.Sprintf(", %s", e.Direction)
		}
		prefix += ")"
	}
	return prefix + ": " + e.cause.Error()
}

func (e *LogicError) Unwrap() error { return e.cause }

// newLogicErrorFor wraps cause (or builds a new one from msg if cause is nil)
// scoped to a register path and direction; either may be left empty.
func newLogicErrorFor(register, direction, msg string, cause error) *LogicError {
	var err error
	if cause != nil {
		err = errors.Wrap(cause, msg)
	} else {
		err = errors.New(msg)
	}
	return &LogicError{Register: register, Direction: direction, cause: err}
}

func newLogicError(msg string, cause error) *LogicError {
	return newLogicErrorFor("", "", msg, cause)
}

// RuntimeError signals a transient or environmental fault: a transport
// failure, a timeout, a regex non-match against a received payload, or a
// numeric overflow. RuntimeErrors propagate to the caller; this package
// never retries locally (spec.md §7).
type RuntimeError struct {
	Register string
	// Partial holds any data collected before the failure (e.g. lines read
	// before a per-line timeout), for diagnosis.
	Partial []string
	cause   error
}

func (e *RuntimeError) Error() string {
	msg := "backend: runtime error"
	if e.Register != "" {
		msg += fmt.Sprintf(" (register %s)", e.Register)
	}
	msg += ": " + e.cause.Error()
	if len(e.Partial) > 0 {
		msg += fmt.Sprintf(" (partial: %q)", e.Partial)
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.cause }

func newRuntimeError(msg string, cause error) *RuntimeError {
	var err error
	if cause != nil {
		err = errors.Wrap(cause, msg)
	} else {
		err = errors.New(msg)
	}
	return &RuntimeError{cause: err}
}

func newRuntimeErrorFor(register, msg string, cause error, partial []string) *RuntimeError {
	e := newRuntimeError(msg, cause)
	e.Register = register
	e.Partial = partial
	return e
}

// Cause exposes the pkg/errors causer chain so callers can unwrap to the
// original stdlib error (e.g. to errors.Is against io.EOF / context.Canceled).
func Cause(err error) error {
	for {
		switch e := err.(type) {
		case *LogicError:
			err = e.cause
		case *RuntimeError:
			err = e.cause
		default:
			c, ok := err.(interface{ Cause() error })
			if !ok {
				return err
			}
			err = c.Cause()
		}
	}
}
