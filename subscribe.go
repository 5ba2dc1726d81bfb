package statectx

import "time"

// SubOption configures SubscribeField.
type SubOption func(*subOptions)

type subOptions struct {
	debounce time.Duration
}

// WithDebounce delays the re-render until d has passed without a change and
// then exposes only the last value.
func WithDebounce(d time.Duration) SubOption {
	return func(o *subOptions) {
		o.debounce = d
	}
}

// FieldSub follows one field of a store.
type FieldSub[T any] struct {
	field    Field[T]
	store    *Store
	rerender func()

	value T
	has   bool

	epoch    uint64
	unsub    Unsubscribe
	debounce *debouncer
	closed   bool
}

// SubscribeField subscribes to field in st and calls rerender whenever its
// value changes.
func SubscribeField[T any](st *Store, field Field[T], rerender func(), opts ...SubOption) *FieldSub[T] {
	var o subOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &FieldSub[T]{
		field:    field,
		rerender: rerender,
	}
	if o.debounce > 0 {
		s.debounce = newDebouncer(st.scope, o.debounce)
	}
	s.attach(st)
	return s
}

func (s *FieldSub[T]) attach(st *Store) {
	s.epoch++
	epoch := s.epoch
	s.store = st
	s.value, s.has = s.field.Get(st)

	replaying := true
	s.unsub = s.field.Subscribe(st, func(v T) {
		if epoch != s.epoch || replaying {
			return
		}
		if s.debounce == nil {
			s.value, s.has = v, true
			s.rerender()
			return
		}
		s.debounce.call(func() {
			if epoch != s.epoch {
				return
			}
			s.value, s.has = v, true
			s.rerender()
		})
	})
	replaying = false
}

func (s *FieldSub[T]) detach() {
	s.epoch++
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	if s.debounce != nil {
		s.debounce.stop()
	}
}

// Value returns the value the host should render.
func (s *FieldSub[T]) Value() (T, bool) {
	return s.value, s.has
}

func (s *FieldSub[T]) Store() *Store {
	return s.store
}

// Retarget moves the subscription to st, dropping pending timers and
// callbacks of the previous store.
func (s *FieldSub[T]) Retarget(st *Store) {
	if s.closed || st == s.store {
		return
	}
	s.detach()
	s.attach(st)
}

// Close removes the subscription. Calling it again is a no-op.
func (s *FieldSub[T]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.detach()
}

// multiSub compares several fields at commit time, at most once per commit
// generation.
type multiSub struct {
	store    *Store
	fields   []string
	rerender func()
	trigger  func()

	last          []any
	epoch         uint64
	unsubs        []Unsubscribe
	lastScheduled uint64
	closed        bool
}

func (s *multiSub) attach(st *Store) {
	s.epoch++
	epoch := s.epoch
	s.store = st
	s.last = s.current()

	replaying := true
	s.unsubs = s.unsubs[:0]
	for _, f := range s.fields {
		s.unsubs = append(s.unsubs, st.Subscribe(f, func(any) {
			if epoch != s.epoch || replaying {
				return
			}
			s.trigger()
		}))
	}
	replaying = false

	// catches publishes between the host reading the values and subscribing
	s.schedule()
}

func (s *multiSub) detach() {
	s.epoch++
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.lastScheduled = 0
}

func (s *multiSub) current() []any {
	values := make([]any, len(s.fields))
	for i, f := range s.fields {
		values[i], _ = s.store.Get(f)
	}
	return values
}

func (s *multiSub) schedule() {
	scope := s.store.scope
	if s.lastScheduled == scope.generation {
		return
	}
	s.lastScheduled = scope.generation
	epoch := s.epoch
	scope.deferCommit(func() {
		if epoch != s.epoch || s.closed {
			return
		}
		s.check()
	})
}

func (s *multiSub) check() {
	cur := s.current()
	changed := false
	for i := range cur {
		if !shallowEqual(cur[i], s.last[i]) {
			changed = true
			break
		}
	}
	if changed {
		s.last = cur
		s.rerender()
	}
}

func (s *multiSub) get(field string) (any, bool) {
	for i, f := range s.fields {
		if f == field {
			return s.last[i], s.last[i] != nil
		}
	}
	return nil, false
}

// BatchSub follows several fields of a store and re-renders at most once per
// commit, however many of them changed.
type BatchSub struct {
	multiSub
}

// SubscribeBatch subscribes to fields in st. Changes are compared with the
// last rendered values once per commit generation.
func SubscribeBatch(st *Store, rerender func(), fields ...string) *BatchSub {
	s := &BatchSub{multiSub{
		fields:   append([]string(nil), fields...),
		rerender: rerender,
	}}
	s.trigger = s.schedule
	s.attach(st)
	return s
}

// Values returns the last rendered values in field order.
func (s *BatchSub) Values() []any {
	return append([]any(nil), s.last...)
}

// Get returns the last rendered value of field.
func (s *BatchSub) Get(field string) (any, bool) {
	return s.get(field)
}

func (s *BatchSub) Store() *Store {
	return s.store
}

// Retarget moves every subscription to st.
func (s *BatchSub) Retarget(st *Store) {
	if s.closed || st == s.store {
		return
	}
	s.detach()
	s.attach(st)
}

// Close removes every subscription. Calling it again is a no-op.
func (s *BatchSub) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.detach()
}

// ThrottledSub is a BatchSub whose checks run at most once per interval,
// with a leading and a trailing edge.
type ThrottledSub struct {
	multiSub
	throttle *throttler
}

// SubscribeThrottled subscribes to fields in st and checks them at most once
// per interval.
func SubscribeThrottled(st *Store, interval time.Duration, rerender func(), fields ...string) *ThrottledSub {
	s := &ThrottledSub{
		multiSub: multiSub{
			fields:   append([]string(nil), fields...),
			rerender: rerender,
		},
		throttle: newThrottler(st.scope, interval),
	}
	s.trigger = func() {
		s.throttle.call(s.schedule)
	}
	s.attach(st)
	return s
}

// Values returns the last rendered values in field order.
func (s *ThrottledSub) Values() []any {
	return append([]any(nil), s.last...)
}

// Get returns the last rendered value of field.
func (s *ThrottledSub) Get(field string) (any, bool) {
	return s.get(field)
}

func (s *ThrottledSub) Store() *Store {
	return s.store
}

// Retarget moves every subscription to st and drops pending throttle timers.
func (s *ThrottledSub) Retarget(st *Store) {
	if s.closed || st == s.store {
		return
	}
	s.throttle.stop()
	s.detach()
	s.throttle = newThrottler(st.scope, s.throttle.interval)
	s.attach(st)
}

// Close removes every subscription and pending timer.
func (s *ThrottledSub) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.throttle.stop()
	s.detach()
}

// TransformSub follows a projection of one field.
type TransformSub[T, R any] struct {
	field     Field[T]
	transform func(T) R
	equal     func(a, b R) bool
	store     *Store
	rerender  func()

	result        R
	epoch         uint64
	unsub         Unsubscribe
	lastScheduled uint64
	closed        bool
}

// SubscribeTransform subscribes to field in st and re-renders only when
// transform of its value changes. equal compares results; nil means shallow
// equality.
func SubscribeTransform[T, R any](st *Store, field Field[T], transform func(T) R, rerender func(), equal func(a, b R) bool) *TransformSub[T, R] {
	s := &TransformSub[T, R]{
		field:     field,
		transform: transform,
		equal:     equal,
		rerender:  rerender,
	}
	if s.equal == nil {
		s.equal = func(a, b R) bool {
			return shallowEqual(a, b)
		}
	}
	s.attach(st)
	return s
}

func (s *TransformSub[T, R]) attach(st *Store) {
	s.epoch++
	epoch := s.epoch
	s.store = st
	v, _ := s.field.Get(st)
	s.result = s.transform(v)

	replaying := true
	s.unsub = s.field.Subscribe(st, func(T) {
		if epoch != s.epoch || replaying {
			return
		}
		s.schedule()
	})
	replaying = false
}

func (s *TransformSub[T, R]) schedule() {
	scope := s.store.scope
	if s.lastScheduled == scope.generation {
		return
	}
	s.lastScheduled = scope.generation
	epoch := s.epoch
	scope.deferCommit(func() {
		if epoch != s.epoch || s.closed {
			return
		}
		v, _ := s.field.Get(s.store)
		next := s.transform(v)
		if s.equal(s.result, next) {
			return
		}
		s.result = next
		s.rerender()
	})
}

func (s *TransformSub[T, R]) detach() {
	s.epoch++
	s.lastScheduled = 0
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

// Value returns the current projected value.
func (s *TransformSub[T, R]) Value() R {
	return s.result
}

func (s *TransformSub[T, R]) Store() *Store {
	return s.store
}

// Retarget moves the subscription to st and recomputes the projection.
func (s *TransformSub[T, R]) Retarget(st *Store) {
	if s.closed || st == s.store {
		return
	}
	s.detach()
	s.attach(st)
}

// Close removes the subscription. Calling it again is a no-op.
func (s *TransformSub[T, R]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.detach()
}
