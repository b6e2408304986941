package errors

import (
	"fmt"
	"strings"

	"github.com/dimworks/modhost/world"
)

// Phase indicates where in the module lifecycle the error occurred
type Phase string

const (
	PhaseCompile  Phase = "compile"  // bytecode compilation
	PhaseLoad     Phase = "load"     // instance installation
	PhaseDispatch Phase = "dispatch" // event delivery
	PhaseUnload   Phase = "unload"   // teardown
	PhaseRuntime  Phase = "runtime"  // everything else
	PhaseConfig   Phase = "config"   // manifest / environment parsing
)

// Kind categorizes the error
type Kind string

const (
	KindCompileFailure  Kind = "compile_failure"
	KindGuestPanic      Kind = "guest_panic"
	KindRuntimeError    Kind = "runtime_error"
	KindTooManyErrors   Kind = "too_many_errors"
	KindNotRunning      Kind = "not_running"
	KindInvalidBytecode Kind = "invalid_bytecode"
	KindStaleLoad       Kind = "stale_load"
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
)

// Error is the structured error type used throughout the host
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Module world.EntityID
	Event  string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Module != world.Nil {
		fmt.Fprintf(&b, " module %d", e.Module)
	}
	if e.Event != "" {
		b.WriteString(" event ")
		b.WriteString(e.Event)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Module sets the owning module id
func (b *Builder) Module(id world.EntityID) *Builder {
	b.err.Module = id
	return b
}

// Event sets the event name being delivered
func (b *Builder) Event(name string) *Builder {
	b.err.Event = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// CompileFailure creates a compilation failure error
func CompileFailure(module world.EntityID, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindCompileFailure,
		Module: module,
		Cause:  cause,
	}
}

// GuestPanic creates an abnormal-termination error from recovered panic text
func GuestPanic(phase Phase, module world.EntityID, text string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindGuestPanic,
		Module: module,
		Detail: text,
	}
}

// RuntimeError creates a normal guest failure error
func RuntimeError(module world.EntityID, event string, cause error) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindRuntimeError,
		Module: module,
		Event:  event,
		Cause:  cause,
	}
}

// TooManyErrors creates the threshold-exceeded error
func TooManyErrors(module world.EntityID, count int) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTooManyErrors,
		Module: module,
		Detail: fmt.Sprintf("accumulated %d errors", count),
	}
}

// NotRunning creates an error for operations on an unloaded module
func NotRunning(module world.EntityID) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindNotRunning,
		Module: module,
	}
}

// InvalidBytecode creates an error for rejected bytecode
func InvalidBytecode(module world.EntityID, detail string) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindInvalidBytecode,
		Module: module,
		Detail: detail,
	}
}

// NotFound creates an error for a missing module or export
func NotFound(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: what,
	}
}

// InvalidInput creates a validation error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an error with phase and kind context
func Wrap(phase Phase, kind Kind, err error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Cause:  err,
		Detail: detail,
	}
}
