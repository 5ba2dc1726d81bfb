package statectx

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrDuplicateWriter is returned when a second writer mounts a resolved key.
	ErrDuplicateWriter = errors.New("root is mounted more than once")
	// ErrNotMounted is returned when a reader asks for a key with no writer.
	ErrNotMounted = errors.New("root is not mounted")
	// ErrReadWindowClosed is raised when a selective subscriber is read outside
	// an open read window.
	ErrReadWindowClosed = errors.New("read outside of an open read window")
	// ErrNonPrimitiveParam is returned for parameter values that are not
	// strings, numbers, booleans or nil.
	ErrNonPrimitiveParam = errors.New("parameter must be a primitive value")
	// ErrScopeDisposed is returned by operations on a disposed scope.
	ErrScopeDisposed = errors.New("scope is disposed")
)

// ErrorKind categorizes an Error.
type ErrorKind int

const (
	// KindConfiguration marks programming mistakes in how roots and params
	// are declared: duplicate writers, non-primitive params.
	KindConfiguration ErrorKind = iota
	// KindWiring marks a reader asking for a key that has no writer.
	KindWiring
	// KindUsage marks API misuse, such as reading a closed read window.
	KindUsage
	// KindDiagnostic marks non-fatal findings such as dependency cycles.
	KindDiagnostic
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindWiring:
		return "wiring"
	case KindUsage:
		return "usage"
	case KindDiagnostic:
		return "diagnostic"
	default:
		return "unknown"
	}
}

// Error is the structured error returned by statectx operations.
type Error struct {
	// Op is the operation that failed, e.g. "Root.Mount".
	Op   string
	Kind ErrorKind
	// Key is the resolved store name or parameter involved, if any.
	Key string
	Err error
	// StackTrace is captured where the error was created, or where the
	// offending reader was declared for deferred wiring reports.
	StackTrace []byte
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s [%s] %s: %v", e.Op, e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, kind ErrorKind, key string, err error) *Error {
	return &Error{
		Op:         op,
		Kind:       kind,
		Key:        key,
		Err:        err,
		StackTrace: debug.Stack(),
	}
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
