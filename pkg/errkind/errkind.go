// Package errkind classifies failures across jobcore into a closed set of
// kinds so callers at every layer — store, queue, agent loop, job service —
// can decide retry/escalate/terminal behavior from one switch instead of
// string-sniffing error messages. Generalizes a prior
// config.ValidationError/config.LoadError wrapping pattern to a single Kind
// enum shared module-wide.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is a closed classification of why an operation failed.
type Kind string

// Supported kinds. Every error raised by jobcore's domain packages carries
// exactly one of these.
const (
	// Validation means the caller supplied malformed or out-of-range input.
	Validation Kind = "VALIDATION"
	// Conflict means the operation lost a race — e.g. a claim already taken,
	// a state transition attempted from the wrong source state.
	Conflict Kind = "CONFLICT"
	// NotFound means the referenced job, event, or conversation does not exist.
	NotFound Kind = "NOT_FOUND"
	// Retryable means a transient failure (e.g. a dropped connection) that a
	// caller may retry without changing any input.
	Retryable Kind = "RETRYABLE"
	// ToolRecoverable means a tool call failed in a way the agent loop can
	// feed back to the planner and continue from.
	ToolRecoverable Kind = "TOOL_RECOVERABLE"
	// ToolFatal means a tool call failed in a way that must end the job.
	ToolFatal Kind = "TOOL_FATAL"
	// BudgetExhausted means a budget cap (steps, tokens, cost, wall clock)
	// was hit.
	BudgetExhausted Kind = "BUDGET_EXHAUSTED"
	// Cancelled means the job was cancelled, by operator request or shutdown.
	Cancelled Kind = "CANCELLED"
	// Escalated means the agent loop handed control to a human.
	Escalated Kind = "ESCALATED"
	// Unexpected means an error jobcore did not anticipate; treated as fatal
	// until a human reclassifies it.
	Unexpected Kind = "UNEXPECTED"
	// Fatal means the job cannot proceed and must not be retried.
	Fatal Kind = "FATAL"
)

// Error is a jobcore domain error: a Kind plus context and an optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an *Error with no underlying cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an *Error that wraps an underlying cause.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Unexpected when err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unexpected
}

// Terminal reports whether a Kind always ends a job (no retry, no further
// agent-loop steps).
func Terminal(k Kind) bool {
	switch k {
	case BudgetExhausted, Cancelled, Escalated, ToolFatal, Unexpected, Fatal:
		return true
	default:
		return false
	}
}
