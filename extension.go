package statectx

import "context"

// Extension provides hooks into the instance lifecycle of a scope.
type Extension interface {
	// Name returns the extension's name
	Name() string

	// Order determines extension execution order (lower = earlier)
	Order() int

	// Init is called when the extension is registered to a scope
	Init(scope *Scope) error

	// Wrap intercepts operations (mount, evaluate, evict). The context passed
	// to next becomes the parent of operations started inside it.
	Wrap(ctx context.Context, next func(context.Context) error, op *Operation) error

	// OnError handles errors raised by wrapped operations and by the
	// manager's background mounts
	OnError(err error, op *Operation, scope *Scope)

	// OnCycle is called when the dependency tracker detects a cycle.
	// path starts and ends with the same store name.
	OnCycle(path []string, scope *Scope)

	// OnCleanupError handles cleanup failures
	// Returns true if the error was handled, false to use default behavior
	OnCleanupError(err *CleanupError) bool

	// Dispose is called when the scope is disposed
	Dispose(scope *Scope) error
}

// CleanupError contains information about a cleanup failure
type CleanupError struct {
	Key string
	Err error
	// Context is "unmount" or "dispose"
	Context string
}

func (e *CleanupError) Error() string {
	return "cleanup of " + e.Key + " during " + e.Context + ": " + e.Err.Error()
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// BaseExtension provides default implementations for Extension methods
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a new base extension with the given name
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e *BaseExtension) Name() string {
	return e.name
}

func (e *BaseExtension) Order() int {
	return 100
}

func (e *BaseExtension) Init(scope *Scope) error {
	return nil
}

func (e *BaseExtension) Wrap(ctx context.Context, next func(context.Context) error, op *Operation) error {
	return next(ctx)
}

func (e *BaseExtension) OnError(err error, op *Operation, scope *Scope) {
}

func (e *BaseExtension) OnCycle(path []string, scope *Scope) {
}

func (e *BaseExtension) OnCleanupError(err *CleanupError) bool {
	return false
}

func (e *BaseExtension) Dispose(scope *Scope) error {
	return nil
}

// Operation describes what operation is happening
type Operation struct {
	Kind OperationKind
	// Key is the resolved store name of the instance
	Key string
	// InstanceID identifies the live instance, empty before mount succeeds
	InstanceID string
	Scope      *Scope
}

// OperationKind represents the type of operation
type OperationKind string

const (
	// OpMount indicates a root instance being set up and first evaluated
	OpMount OperationKind = "mount"
	// OpEvaluate indicates a re-evaluation of a live instance
	OpEvaluate OperationKind = "evaluate"
	// OpEvict indicates the manager tearing down a drained instance
	OpEvict OperationKind = "evict"
)
