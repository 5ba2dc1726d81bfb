package statectx

import (
	"sort"
	"sync"
)

// storeCache memoizes stores by resolved name.
type storeCache struct {
	data sync.Map
}

func (c *storeCache) Load(name string) (*Store, bool) {
	value, ok := c.data.Load(name)
	if !ok {
		return nil, false
	}
	return value.(*Store), true
}

// LoadOrCreate returns the memoized store, creating it with create on a miss.
func (c *storeCache) LoadOrCreate(name string, create func() *Store) (*Store, bool) {
	if st, ok := c.Load(name); ok {
		return st, false
	}
	st := create()
	actual, loaded := c.data.LoadOrStore(name, st)
	return actual.(*Store), !loaded
}

func (c *storeCache) Delete(name string) {
	c.data.Delete(name)
}

func (c *storeCache) Range(fn func(name string, st *Store) bool) {
	c.data.Range(func(key, value any) bool {
		return fn(key.(string), value.(*Store))
	})
}

// Names returns the memoized store names in sorted order.
func (c *storeCache) Names() []string {
	var names []string
	c.Range(func(name string, _ *Store) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

func (c *storeCache) Size() int {
	count := 0
	c.data.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}
