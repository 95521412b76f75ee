package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes an engine error
type Kind string

const (
	KindCompile          Kind = "compile"
	KindPoolExhausted    Kind = "pool_exhausted"
	KindExecutionTimeout Kind = "execution_timeout"
	KindOutOfRange       Kind = "out_of_range"
	KindTypeMismatch     Kind = "type_mismatch"
	KindInternalFault    Kind = "internal_fault"
	KindReleased         Kind = "released"
	KindScript           Kind = "script"
	KindClosed           Kind = "closed"
)

// Sentinels for errors.Is matching by kind
var (
	ErrCompile          = &Error{Kind: KindCompile}
	ErrPoolExhausted    = &Error{Kind: KindPoolExhausted}
	ErrExecutionTimeout = &Error{Kind: KindExecutionTimeout}
	ErrOutOfRange       = &Error{Kind: KindOutOfRange}
	ErrTypeMismatch     = &Error{Kind: KindTypeMismatch}
	ErrInternalFault    = &Error{Kind: KindInternalFault}
	ErrReleased         = &Error{Kind: KindReleased}
	ErrScript           = &Error{Kind: KindScript}
	ErrClosed           = &Error{Kind: KindClosed}
)

// Error is the structured error type returned by every engine component
type Error struct {
	Cause  error
	Kind   Kind
	Op     string // operation that failed, e.g. "readUInt32BE"
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Kind))
	b.WriteByte(']')

	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
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

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// New creates an error of the given kind
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Compile reports a malformed script. The compiler message is kept verbatim.
func Compile(cause error) *Error {
	return &Error{Kind: KindCompile, Op: "compile", Detail: cause.Error()}
}

// PoolExhausted reports that no instance became available in time
func PoolExhausted(size int, waited fmt.Stringer) *Error {
	return New(KindPoolExhausted, "acquire", "no instance available in pool of %d after %s", size, waited)
}

// ExecutionTimeout reports a script that exceeded its budget
func ExecutionTimeout(limit fmt.Stringer) *Error {
	return New(KindExecutionTimeout, "execute", "script exceeded its %s budget", limit)
}

// OutOfRange reports a bounds violation of an accessor or allocation
func OutOfRange(op, format string, args ...any) *Error {
	return New(KindOutOfRange, op, format, args...)
}

// TypeMismatch reports an argument of the wrong kind or shape
func TypeMismatch(op, format string, args ...any) *Error {
	return New(KindTypeMismatch, op, format, args...)
}

// InternalFault reports an unrecoverable instance state
func InternalFault(op string, cause error) *Error {
	return Wrap(KindInternalFault, op, cause)
}

// Released reports an access to a buffer whose region is gone
func Released(op string) *Error {
	return New(KindReleased, op, "buffer has been released")
}
