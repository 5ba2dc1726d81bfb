package statectx

import "sort"

// Selective subscribes to exactly the fields a consumer read during its last
// read window. The host opens a window with Begin before rendering, reads
// through Get or Read, and the window closes at the end of the current commit
// phase (or earlier with End). Changes to a subscribed field schedule one
// re-check per commit; onStale is called if any read value went stale.
type Selective struct {
	store   *Store
	onStale func()

	open    bool
	window  uint64
	tracked map[string]any

	// values read in the last closed window, and their subscriptions
	snapshots map[string]any
	subs      map[string]Unsubscribe

	epoch         uint64
	lastScheduled uint64
	closed        bool
}

func NewSelective(st *Store, onStale func()) *Selective {
	return &Selective{
		store:     st,
		onStale:   onStale,
		snapshots: make(map[string]any),
		subs:      make(map[string]Unsubscribe),
	}
}

func (s *Selective) Store() *Store {
	return s.store
}

// Begin opens a read window and forgets the reads of the previous one.
func (s *Selective) Begin() {
	if s.closed {
		return
	}
	s.open = true
	s.window++
	s.tracked = make(map[string]any)

	window := s.window
	s.store.scope.deferCommit(func() {
		if window == s.window {
			s.End()
		}
	})
}

// End closes the read window: fields read in it get subscribed, fields no
// longer read get unsubscribed. A re-check against the store is scheduled for
// the next commit.
func (s *Selective) End() {
	if !s.open {
		return
	}
	s.open = false

	for field, unsub := range s.subs {
		if _, ok := s.tracked[field]; !ok {
			unsub()
			delete(s.subs, field)
		}
	}
	for field := range s.tracked {
		if _, ok := s.subs[field]; !ok {
			s.subs[field] = s.subscribe(field)
		}
	}
	s.snapshots = s.tracked
	s.tracked = nil

	// a write between a read and the subscription is only visible here
	if len(s.snapshots) > 0 {
		s.schedule()
	}
}

// Open reports whether a read window is open.
func (s *Selective) Open() bool {
	return s.open
}

// Get reads field and records it. It panics with ErrReadWindowClosed when no
// window is open.
func (s *Selective) Get(field string) (any, bool) {
	if !s.open {
		panic(newError("Selective.Get", KindUsage, field, ErrReadWindowClosed))
	}
	v, ok := s.store.Get(field)
	s.tracked[field] = v
	return v, ok
}

// Read is the typed form of Selective.Get.
func Read[T any](sel *Selective, field Field[T]) (T, bool) {
	v, ok := sel.Get(field.Name())
	return cast[T](v, ok)
}

// Subscribed returns the subscribed fields, sorted.
func (s *Selective) Subscribed() []string {
	fields := make([]string, 0, len(s.subs))
	for f := range s.subs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func (s *Selective) subscribe(field string) Unsubscribe {
	epoch := s.epoch
	replaying := true
	unsub := s.store.Subscribe(field, func(any) {
		if epoch != s.epoch || replaying {
			return
		}
		s.schedule()
	})
	replaying = false
	return unsub
}

func (s *Selective) schedule() {
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
		if s.Stale() {
			s.onStale()
		}
	})
}

// Stale reports whether any value read in the last window differs from the
// store.
func (s *Selective) Stale() bool {
	for field, seen := range s.snapshots {
		cur, _ := s.store.Get(field)
		if !shallowEqual(cur, seen) {
			return true
		}
	}
	return false
}

func (s *Selective) unsubscribeAll() {
	s.epoch++
	s.lastScheduled = 0
	for field, unsub := range s.subs {
		unsub()
		delete(s.subs, field)
	}
}

// Retarget moves the subscriptions to st. The values read from the old store
// are compared against st at the next commit.
func (s *Selective) Retarget(st *Store) {
	if s.closed || st == s.store {
		return
	}
	s.unsubscribeAll()
	s.store = st
	for field := range s.snapshots {
		s.subs[field] = s.subscribe(field)
	}
	s.schedule()
}

// Close drops every subscription. Calling it again is a no-op.
func (s *Selective) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.open = false
	s.window++
	s.unsubscribeAll()
}
