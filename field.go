package statectx

import (
	"reflect"
)

// Field is a typed, named value within a store.
type Field[T any] struct {
	name  string
	equal func(a, b T) bool
}

// FieldOption configures a Field.
type FieldOption[T any] func(*Field[T])

// WithEqual replaces the shallow equality used to dedupe publishes.
func WithEqual[T any](equal func(a, b T) bool) FieldOption[T] {
	return func(f *Field[T]) {
		f.equal = equal
	}
}

// NewField declares a field with the given name.
func NewField[T any](name string, opts ...FieldOption[T]) Field[T] {
	f := Field[T]{name: name}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// Name returns the field's key in the store.
func (f Field[T]) Name() string {
	return f.name
}

// Get returns the field's current value in s.
func (f Field[T]) Get(s *Store) (T, bool) {
	v, ok := s.Get(f.name)
	return cast[T](v, ok)
}

// From reads the field from a snapshot.
func (f Field[T]) From(snap Snapshot) (T, bool) {
	v, ok := snap[f.name]
	return cast[T](v, ok)
}

// Publish stores v in s, notifying subscribers when it differs from the
// current value.
func (f Field[T]) Publish(s *Store, v T) bool {
	return s.publish(f.name, v, f.equalAny)
}

// Subscribe registers fn for changes of the field, replaying the current value
// if the field was ever published.
func (f Field[T]) Subscribe(s *Store, fn func(T)) Unsubscribe {
	return s.Subscribe(f.name, func(v any) {
		t, _ := cast[T](v, true)
		fn(t)
	})
}

func (f Field[T]) equalAny(a, b any) bool {
	if f.equal == nil {
		return shallowEqual(a, b)
	}
	ta, okA := a.(T)
	tb, okB := b.(T)
	if !okA || !okB {
		return shallowEqual(a, b)
	}
	return f.equal(ta, tb)
}

func cast[T any](v any, ok bool) (T, bool) {
	if !ok || v == nil {
		var zero T
		return zero, ok
	}
	t, isT := v.(T)
	return t, isT
}

// Snapshot is a copy of a store's field values.
type Snapshot map[string]any

// shallowEqual is the publish dedup check. Maps, pointers and channels compare
// by identity, slices by backing array and length, funcs never compare equal,
// other comparable values with ==. Deep-equal values with distinct identity
// are different.
func shallowEqual(a, b any) (equal bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}

	switch ta.Kind() {
	case reflect.Func:
		return false
	case reflect.Slice:
		va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
		return va.IsNil() == vb.IsNil() && va.Len() == vb.Len() && va.Pointer() == vb.Pointer()
	case reflect.Map, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	if !ta.Comparable() {
		return false
	}

	// Interface-typed struct fields or array elements can still hold
	// incomparable values.
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}
