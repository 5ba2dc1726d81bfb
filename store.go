package statectx

import (
	"log/slog"
	"runtime/debug"

	"github.com/pumped-fn/statectx/clock"
)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

type fieldListener struct {
	fn     func(any)
	active bool
}

type anyListener struct {
	fn     func(field string, snap Snapshot)
	active bool
}

// Store is a named table of field values with per-field change notification.
// Stores are memoized per scope by name; see Scope.Lookup and Scope.Acquire.
//
// A Store belongs to its scope's owner goroutine.
type Store struct {
	name      string
	scope     *Scope
	data      map[string]any
	listeners map[string][]*fieldListener
	all       []*anyListener
	registry  map[string]int
	readers   int
	purge     clock.Timer
}

func newStore(scope *Scope, name string) *Store {
	return &Store{
		name:      name,
		scope:     scope,
		data:      make(map[string]any),
		listeners: make(map[string][]*fieldListener),
		registry:  make(map[string]int),
	}
}

// Name returns the store's resolved name.
func (s *Store) Name() string {
	return s.name
}

// Get returns the current value of field.
func (s *Store) Get(field string) (any, bool) {
	v, ok := s.data[field]
	return v, ok
}

// Has reports whether field was ever published.
func (s *Store) Has(field string) bool {
	_, ok := s.data[field]
	return ok
}

// Snapshot returns a copy of every field value.
func (s *Store) Snapshot() Snapshot {
	snap := make(Snapshot, len(s.data))
	for k, v := range s.data {
		snap[k] = v
	}
	return snap
}

// Readers returns the number of live reader references.
func (s *Store) Readers() int {
	return s.readers
}

// Publish stores value under field if it differs from the current value,
// then notifies the field's listeners in registration order followed by the
// any-field listeners. It reports whether anything changed.
func (s *Store) Publish(field string, value any) bool {
	return s.publish(field, value, shallowEqual)
}

func (s *Store) publish(field string, value any, equal func(a, b any) bool) bool {
	old, had := s.data[field]
	if had {
		if equal(old, value) {
			return false
		}
	} else if value == nil {
		return false
	}

	s.data[field] = value

	for _, l := range append([]*fieldListener(nil), s.listeners[field]...) {
		if l.active {
			l.fn(value)
		}
	}

	if len(s.all) > 0 {
		snap := s.Snapshot()
		for _, l := range append([]*anyListener(nil), s.all...) {
			if l.active {
				l.fn(field, snap)
			}
		}
	}
	return true
}

// Subscribe registers fn for changes of field. If the field already has a
// value, fn is called with it before Subscribe returns.
func (s *Store) Subscribe(field string, fn func(value any)) Unsubscribe {
	l := &fieldListener{fn: fn, active: true}
	s.listeners[field] = append(s.listeners[field], l)

	if v, ok := s.data[field]; ok {
		fn(v)
	}

	return func() {
		if !l.active {
			return
		}
		l.active = false
		list := s.listeners[field]
		for i, existing := range list {
			if existing == l {
				s.listeners[field] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(s.listeners[field]) == 0 {
			delete(s.listeners, field)
		}
	}
}

// SubscribeAll registers fn for every field change. fn receives the changed
// field and a snapshot taken after the change.
func (s *Store) SubscribeAll(fn func(field string, snap Snapshot)) Unsubscribe {
	l := &anyListener{fn: fn, active: true}
	s.all = append(s.all, l)

	return func() {
		if !l.active {
			return
		}
		l.active = false
		for i, existing := range s.all {
			if existing == l {
				s.all = append(s.all[:i:i], s.all[i+1:]...)
				break
			}
		}
	}
}

// ListenerCount returns the number of active listeners on field.
func (s *Store) ListenerCount(field string) int {
	return len(s.listeners[field])
}

// Register marks fields as written by one writer. Registering a field that is
// already registered is logged as an error but not prevented. The returned
// func releases the registration.
func (s *Store) Register(fields ...string) func() {
	var dup []string
	for _, f := range fields {
		if s.registry[f] > 0 {
			dup = append(dup, f)
		}
		s.registry[f]++
	}
	if len(dup) > 0 {
		s.scope.logger.Error("field registered by more than one writer",
			slog.String("store", s.name),
			slog.Any("fields", dup),
			slog.String("stack", string(debug.Stack())),
		)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		for _, f := range fields {
			if s.registry[f]--; s.registry[f] <= 0 {
				delete(s.registry, f)
			}
		}
	}
}
