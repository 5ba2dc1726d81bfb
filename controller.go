package statectx

// instance is one live evaluation of a root for a resolved name.
type instance struct {
	id           string
	key          string
	scope        *Scope
	store        *Store
	cc           *ComputeCtx
	eval         func()
	releaseStore func()
	unregister   func()
	mounted      bool
	dirty        bool
}

func (i *instance) reevaluate() {
	i.dirty = false
	if !i.mounted || i.eval == nil {
		return
	}

	op := &Operation{
		Kind:       OpEvaluate,
		Key:        i.key,
		InstanceID: i.id,
		Scope:      i.scope,
	}
	_ = i.scope.wrap(op, func() error {
		i.scope.tracker.Enter(i.key)
		defer i.scope.tracker.Leave()
		i.eval()
		return nil
	})
}

func (i *instance) unmount(cleanupContext string) error {
	if !i.mounted {
		return nil
	}
	i.mounted = false
	i.dirty = false
	if cur, ok := i.scope.mounted[i.key]; ok && cur == i {
		delete(i.scope.mounted, i.key)
	}

	err := i.cc.close(cleanupContext)
	if i.unregister != nil {
		i.unregister()
	}
	i.releaseStore()
	return err
}

// AnyController is the type-erased view of a Controller.
type AnyController interface {
	ID() string
	Key() string
	Store() *Store
	Mounted() bool
	Invalidate()
	Unmount() error
}

// Controller provides lifecycle control for a mounted root instance
type Controller[V any] struct {
	inst  *instance
	value V
}

// ID returns the unique id of this live instance.
func (c *Controller[V]) ID() string {
	return c.inst.id
}

// Key returns the resolved store name.
func (c *Controller[V]) Key() string {
	return c.inst.key
}

// Store returns the store the instance publishes into.
func (c *Controller[V]) Store() *Store {
	return c.inst.store
}

// Value returns the result of the latest evaluation.
func (c *Controller[V]) Value() V {
	return c.value
}

// Mounted reports whether the instance is still live.
func (c *Controller[V]) Mounted() bool {
	return c.inst.mounted
}

// Invalidate schedules a re-evaluation on the next flush pass.
func (c *Controller[V]) Invalidate() {
	c.inst.scope.markDirty(c.inst)
}

// Unmount runs the instance's cleanups in reverse order, frees the resolved
// name for another writer and releases the store. Calling it again is a
// no-op.
func (c *Controller[V]) Unmount() error {
	return c.inst.unmount("unmount")
}
