package statectx

import (
	"time"

	"github.com/pumped-fn/statectx/clock"
)

type cleanupEntry struct {
	fn    func() error
	order int
}

// Source is anything a computation can read another store through.
// *Auto implements it.
type Source interface {
	Acquire(s *Scope, params Params) (*Store, func(), error)
}

type use struct {
	store       *Store
	release     func()
	unsubscribe Unsubscribe
}

// ComputeCtx is handed to a Computation's setup. It lives as long as the
// instance and is torn down on unmount.
type ComputeCtx struct {
	scope    *Scope
	inst     *instance
	params   Params
	cleanups []cleanupEntry
	uses     map[string]*use
	closed   bool

	// pending AfterFunc timers, removed when they fire or are stopped
	timers    map[uint64]clock.Timer
	nextTimer uint64
}

func newComputeCtx(scope *Scope, inst *instance, params Params) *ComputeCtx {
	return &ComputeCtx{
		scope:  scope,
		inst:   inst,
		params: params,
		uses:   make(map[string]*use),
		timers: make(map[uint64]clock.Timer),
	}
}

func (c *ComputeCtx) Scope() *Scope {
	return c.scope
}

// Name returns the resolved store name of the instance.
func (c *ComputeCtx) Name() string {
	return c.inst.key
}

func (c *ComputeCtx) Params() Params {
	return c.params
}

// InstanceID returns the id of the live instance.
func (c *ComputeCtx) InstanceID() string {
	return c.inst.id
}

// Invalidate schedules a re-evaluation on the next flush pass.
func (c *ComputeCtx) Invalidate() {
	c.scope.markDirty(c.inst)
}

// OnCleanup registers a cleanup function to be called when the instance is
// unmounted. Cleanups run in reverse registration order.
func (c *ComputeCtx) OnCleanup(fn func() error) {
	entry := cleanupEntry{
		fn:    fn,
		order: len(c.cleanups),
	}
	c.cleanups = append(c.cleanups, entry)
}

// AfterFunc runs fn on the owner goroutine once d has elapsed, unless the
// returned stop func is called or the instance is unmounted first.
func (c *ComputeCtx) AfterFunc(d time.Duration, fn func()) func() {
	if c.closed {
		return func() {}
	}
	c.nextTimer++
	id := c.nextTimer

	c.timers[id] = c.scope.clock.AfterFunc(d, func() {
		c.scope.Post(func() {
			if _, pending := c.timers[id]; !pending || !c.inst.mounted {
				return
			}
			delete(c.timers, id)
			fn()
		})
	})

	return func() {
		if timer, pending := c.timers[id]; pending {
			timer.Stop()
			delete(c.timers, id)
		}
	}
}

// PendingTimers returns the number of AfterFunc callbacks not yet run or
// stopped.
func (c *ComputeCtx) PendingTimers() int {
	return len(c.timers)
}

// Use acquires the store of src for params and keeps it for the lifetime of
// the instance. Any change to it invalidates this instance. When called during
// evaluation, the read is recorded in the dependency tracker.
func (c *ComputeCtx) Use(src Source, params Params) (*Store, error) {
	st, release, err := src.Acquire(c.scope, params)
	if err != nil {
		return nil, err
	}
	name := st.Name()

	if c.scope.tracker.Current() == c.inst.key {
		c.scope.tracker.AddDependency(name)
	}

	if u, ok := c.uses[name]; ok {
		release()
		return u.store, nil
	}

	u := &use{store: st, release: release}
	u.unsubscribe = st.SubscribeAll(func(string, Snapshot) {
		c.Invalidate()
	})
	c.uses[name] = u
	return st, nil
}

// close releases every used store, then runs cleanups LIFO.
func (c *ComputeCtx) close(cleanupContext string) error {
	if c.closed {
		return nil
	}
	c.closed = true

	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}

	for _, u := range c.uses {
		u.unsubscribe()
		u.release()
	}
	c.uses = nil

	entries := c.cleanups
	c.cleanups = nil
	return c.scope.runCleanups(entries, c.inst.key, cleanupContext)
}
