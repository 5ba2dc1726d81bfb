package statectx

import (
	"fmt"

	"github.com/google/uuid"
)

// Computation sets up a live instance of a root. It runs once per instance,
// warm-started with the store's previous snapshot, and returns the evaluator
// that produces the value on every (re-)evaluation.
type Computation[V any] func(cc *ComputeCtx, params Params, prev Snapshot) (func() V, error)

// Binding publishes one field of a computed value.
type Binding[V any] struct {
	name    string
	publish func(st *Store, v V) bool
}

// Bind maps field to the part of V returned by get.
func Bind[V, T any](field Field[T], get func(V) T) Binding[V] {
	return Binding[V]{
		name: field.Name(),
		publish: func(st *Store, v V) bool {
			return field.Publish(st, get(v))
		},
	}
}

// Schema lists the fields a root publishes.
type Schema[V any] struct {
	bindings []Binding[V]
}

func NewSchema[V any](bindings ...Binding[V]) *Schema[V] {
	return &Schema[V]{bindings: bindings}
}

// Fields returns the published field names in declaration order.
func (s *Schema[V]) Fields() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.bindings))
	for i, b := range s.bindings {
		names[i] = b.name
	}
	return names
}

func (s *Schema[V]) publish(st *Store, v V) int {
	if s == nil {
		return 0
	}
	changed := 0
	for _, b := range s.bindings {
		if b.publish(st, v) {
			changed++
		}
	}
	return changed
}

// AnyRoot is the type-erased view of a Root used by the manager.
type AnyRoot interface {
	Name() string
	ResolveName(s *Scope, params Params) (string, error)
	MountAny(s *Scope, params Params) (AnyController, error)
}

// Root binds a computation to a named, parameterized store. At most one
// instance per resolved name may be mounted in a scope.
type Root[V any] struct {
	name    string
	schema  *Schema[V]
	compute Computation[V]
}

// NewRoot declares a root. Roots hold no state and can be package-level
// values shared by every scope.
func NewRoot[V any](name string, schema *Schema[V], compute Computation[V]) *Root[V] {
	return &Root[V]{
		name:    name,
		schema:  schema,
		compute: compute,
	}
}

func (r *Root[V]) Name() string {
	return r.name
}

func (r *Root[V]) Schema() *Schema[V] {
	return r.schema
}

// ResolveName returns the store name for params: the root name, followed by
// "?" and the params id when it is not empty, prefixed by the scope id.
func (r *Root[V]) ResolveName(s *Scope, params Params) (string, error) {
	id, err := ParamsToID(params)
	if err != nil {
		return "", err
	}
	return s.scopedName(resolveName(r.name, id)), nil
}

// IsMounted reports whether a writer is mounted for params.
func (r *Root[V]) IsMounted(s *Scope, params Params) bool {
	key, err := r.ResolveName(s, params)
	if err != nil {
		return false
	}
	_, ok := s.mounted[key]
	return ok
}

// Mount starts the single writer for params: it runs setup and the first
// evaluation and publishes every schema field. Mounting a name that already
// has a writer fails with ErrDuplicateWriter.
func (r *Root[V]) Mount(s *Scope, params Params) (*Controller[V], error) {
	if s.disposed {
		return nil, newError("Root.Mount", KindUsage, r.name, ErrScopeDisposed)
	}
	key, err := r.ResolveName(s, params)
	if err != nil {
		return nil, err
	}
	if _, ok := s.mounted[key]; ok {
		return nil, newError("Root.Mount", KindConfiguration, key, ErrDuplicateWriter)
	}

	store, releaseStore := s.Acquire(key)
	inst := &instance{
		id:           uuid.NewString(),
		key:          key,
		scope:        s,
		store:        store,
		releaseStore: releaseStore,
		mounted:      true,
	}
	inst.cc = newComputeCtx(s, inst, params)
	ctrl := &Controller[V]{inst: inst}

	s.mounted[key] = inst
	inst.unregister = store.Register(r.schema.Fields()...)

	op := &Operation{
		Kind:       OpMount,
		Key:        key,
		InstanceID: inst.id,
		Scope:      s,
	}
	err = s.wrap(op, func() error {
		s.tracker.Enter(key)
		defer s.tracker.Leave()

		eval, err := r.compute(inst.cc, params, store.Snapshot())
		if err != nil {
			return err
		}
		inst.eval = func() {
			ctrl.value = eval()
			r.schema.publish(store, ctrl.value)
		}
		inst.eval()
		return nil
	})
	if err != nil {
		_ = inst.unmount("mount")
		return nil, fmt.Errorf("mount %s: %w", key, err)
	}

	s.logger.Debug("instance mounted", "key", key, "id", inst.id)
	return ctrl, nil
}

// MountAny implements AnyRoot.
func (r *Root[V]) MountAny(s *Scope, params Params) (AnyController, error) {
	ctrl, err := r.Mount(s, params)
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}

// Strict returns the store for params and fails with ErrNotMounted when no
// writer is mounted for it.
func (r *Root[V]) Strict(s *Scope, params Params) (*Store, error) {
	key, err := r.ResolveName(s, params)
	if err != nil {
		return nil, err
	}
	if _, ok := s.mounted[key]; !ok {
		return nil, newError("Root.Strict", KindWiring, key, ErrNotMounted)
	}
	return s.Lookup(key), nil
}

// Lenient returns the store for params without requiring a writer yet. If
// none is mounted within Config.LenientTolerance, a wiring error with the
// caller's stack is logged. The returned func cancels the check.
func (r *Root[V]) Lenient(s *Scope, params Params) (*Store, func(), error) {
	key, err := r.ResolveName(s, params)
	if err != nil {
		return nil, func() {}, err
	}
	return s.Lookup(key), s.checkMountedLater("Root.Lenient", key), nil
}
