package statectx

import "time"

// AutoOption configures an Auto.
type AutoOption func(*autoOptions)

type autoOptions struct {
	grace     *time.Duration
	companion Companion
}

// WithGracePeriod keeps the instance alive for d after its last reader
// leaves. Without it the scope's Config.DefaultGracePeriod applies.
func WithGracePeriod(d time.Duration) AutoOption {
	return func(o *autoOptions) {
		o.grace = &d
	}
}

// WithCompanion starts c next to every instance the manager mounts.
func WithCompanion(c Companion) AutoOption {
	return func(o *autoOptions) {
		o.companion = c
	}
}

// Auto is the acquire-style accessor of a root: readers never mount it
// themselves, the scope's manager does while anyone holds it.
type Auto[V any] struct {
	root *Root[V]
	opts autoOptions
}

func NewAuto[V any](root *Root[V], opts ...AutoOption) *Auto[V] {
	a := &Auto[V]{root: root}
	for _, opt := range opts {
		opt(&a.opts)
	}
	return a
}

func (a *Auto[V]) Root() *Root[V] {
	return a.root
}

// Acquire takes a reader reference on the instance for params. See
// Manager.Acquire.
func (a *Auto[V]) Acquire(s *Scope, params Params) (*Store, func(), error) {
	grace := s.cfg.DefaultGracePeriod
	if a.opts.grace != nil {
		grace = *a.opts.grace
	}
	return s.manager.Acquire(a.root, params, AcquireOptions{
		GracePeriod: grace,
		Companion:   a.opts.companion,
	})
}

// Selective acquires the instance for params and wraps its store in a
// selective subscriber. The returned release closes the subscriber and drops
// the reader reference.
func (a *Auto[V]) Selective(s *Scope, params Params, onStale func()) (*Selective, func(), error) {
	st, release, err := a.Acquire(s, params)
	if err != nil {
		return nil, func() {}, err
	}
	sel := NewSelective(st, onStale)
	return sel, func() {
		sel.Close()
		release()
	}, nil
}
