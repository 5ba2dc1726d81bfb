package statectx

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/pumped-fn/statectx/clock"
)

// ManagerStoreName is the store the manager publishes its instance list to.
const ManagerStoreName = "statectx/manager"

// InstancesField holds the manager's []InstanceInfo in ManagerStoreName.
var InstancesField = NewField[[]InstanceInfo]("instances")

// Companion runs alongside an auto-mounted instance, e.g. to wire up a
// subscription feeding it. It is started once the instance is mounted and
// stopped with the returned func before it is unmounted.
type Companion func(st *Store, params Params) (stop func())

// AcquireOptions configures Manager.Acquire.
type AcquireOptions struct {
	// GracePeriod is how long the instance outlives its last reader.
	GracePeriod time.Duration
	Companion   Companion
}

// InstanceState is the lifecycle state of a manager record.
type InstanceState string

const (
	// StateActive means at least one reader holds the instance.
	StateActive InstanceState = "active"
	// StateDraining means the last reader left and the grace period runs.
	StateDraining InstanceState = "draining"
)

// InstanceInfo describes one manager record.
type InstanceInfo struct {
	Name       string        `yaml:"name"`
	InstanceID string        `yaml:"instance_id,omitempty"`
	Readers    int           `yaml:"readers"`
	State      InstanceState `yaml:"state"`
	KeepUntil  time.Time     `yaml:"keep_until,omitempty"`
}

type recordKey struct {
	root AnyRoot
	id   string
}

// record is immutable once stored; changes replace it with a derived copy.
type record struct {
	name          string
	root          AnyRoot
	params        Params
	counter       int
	keepUntil     time.Time
	grace         time.Duration
	companion     Companion
	ctrl          AnyController
	stopCompanion func()
	mountErr      error
}

func (r record) live(now time.Time) bool {
	return r.counter > 0 || now.Before(r.keepUntil)
}

// Manager keeps exactly one instance running per (root, params) while it has
// readers, plus a grace period after the last one leaves.
type Manager struct {
	scope     *Scope
	records   map[recordKey]record
	timer     clock.Timer
	timerAt   time.Time
	version   uint64
	published uint64
}

func newManager(scope *Scope) *Manager {
	return &Manager{
		scope:   scope,
		records: make(map[recordKey]record),
	}
}

// Acquire registers a reader of root for params and returns its store. The
// instance is mounted on the next flush pass. The returned release is
// idempotent.
func (m *Manager) Acquire(root AnyRoot, params Params, opts AcquireOptions) (*Store, func(), error) {
	if m.scope.disposed {
		return nil, func() {}, newError("Manager.Acquire", KindUsage, root.Name(), ErrScopeDisposed)
	}
	id, err := ParamsToID(params)
	if err != nil {
		return nil, func() {}, err
	}

	k := recordKey{root: root, id: id}
	r, ok := m.records[k]
	if !ok {
		r = record{
			name:   m.scope.scopedName(resolveName(root.Name(), id)),
			root:   root,
			params: copyParams(params),
		}
		m.scope.logger.Debug("instance requested", slog.String("key", r.name))
	}
	r.counter++
	r.keepUntil = time.Time{}
	r.grace = opts.GracePeriod
	r.mountErr = nil
	if opts.Companion != nil {
		r.companion = opts.Companion
	}
	m.update(k, r)

	st, releaseStore := m.scope.Acquire(r.name)
	cancel := m.scope.checkMountedLater("Manager.Acquire", r.name)

	released := false
	return st, func() {
		if released {
			return
		}
		released = true
		cancel()
		releaseStore()
		m.release(k)
	}, nil
}

func (m *Manager) release(k recordKey) {
	r, ok := m.records[k]
	if !ok {
		return
	}
	if r.counter > 0 {
		r.counter--
	}
	if r.counter == 0 {
		r.keepUntil = m.scope.clock.Now().Add(r.grace)
	}
	m.update(k, r)
}

func (m *Manager) update(k recordKey, r record) {
	m.records[k] = r
	m.version++
	m.reschedule()
	m.scope.Wake()
}

// drive mounts records that are live and purges the ones whose grace period
// has expired. It reports whether any instance was mounted or purged.
func (m *Manager) drive() bool {
	now := m.scope.clock.Now()
	changed := false

	for _, k := range m.sortedKeys() {
		r := m.records[k]
		switch {
		case r.live(now) && r.ctrl == nil && r.mountErr == nil:
			ctrl, err := r.root.MountAny(m.scope, r.params)
			// setup may acquire through the manager, including this key
			r = m.records[k]
			if err != nil {
				m.scope.logger.Error("auto-mount failed",
					slog.String("key", r.name),
					slog.Any("error", err),
				)
				r.mountErr = err
			} else {
				r.ctrl = ctrl
				if r.companion != nil {
					r.stopCompanion = r.companion(ctrl.Store(), r.params)
				}
			}
			m.records[k] = r
			changed = true
		case !r.live(now):
			_ = m.evict(r)
			delete(m.records, k)
			changed = true
		}
	}

	if changed {
		m.version++
	}
	m.reschedule()
	m.publish()
	return changed
}

func (m *Manager) evict(r record) error {
	if r.ctrl == nil {
		return nil
	}

	op := &Operation{
		Kind:       OpEvict,
		Key:        r.name,
		InstanceID: r.ctrl.ID(),
		Scope:      m.scope,
	}
	return m.scope.wrap(op, func() error {
		if r.stopCompanion != nil {
			r.stopCompanion()
		}
		err := r.ctrl.Unmount()
		m.scope.logger.Debug("instance evicted", slog.String("key", r.name))
		return err
	})
}

// reschedule keeps one timer armed for the earliest keepUntil among drained
// records. The timer only wakes the scope; drive does the purging.
func (m *Manager) reschedule() {
	var next time.Time
	found := false
	for _, r := range m.records {
		if r.counter > 0 || r.keepUntil.IsZero() {
			continue
		}
		if !found || r.keepUntil.Before(next) {
			next = r.keepUntil
			found = true
		}
	}

	if !found {
		m.stopTimer()
		return
	}
	if m.timer != nil && m.timerAt.Equal(next) {
		return
	}

	m.stopTimer()
	m.timerAt = next
	var timer clock.Timer
	timer = m.scope.clock.AfterFunc(next.Sub(m.scope.clock.Now()), func() {
		m.scope.Post(func() {
			if m.timer == timer {
				m.timer = nil
			}
		})
	})
	m.timer = timer
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// TimerPending reports whether an eviction timer is armed.
func (m *Manager) TimerPending() bool {
	return m.timer != nil
}

func (m *Manager) publish() {
	if m.published == m.version {
		return
	}
	m.published = m.version
	InstancesField.Publish(m.scope.Lookup(m.scope.scopedName(ManagerStoreName)), m.Instances())
}

func (m *Manager) sortedKeys() []recordKey {
	keys := make([]recordKey, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.records[keys[i]].name < m.records[keys[j]].name
	})
	return keys
}

// Instances lists every record, sorted by name.
func (m *Manager) Instances() []InstanceInfo {
	out := make([]InstanceInfo, 0, len(m.records))
	for _, k := range m.sortedKeys() {
		out = append(out, m.records[k].info())
	}
	return out
}

// Instance returns the record for a resolved name.
func (m *Manager) Instance(name string) (InstanceInfo, bool) {
	for _, r := range m.records {
		if r.name == name {
			return r.info(), true
		}
	}
	return InstanceInfo{}, false
}

func (r record) info() InstanceInfo {
	info := InstanceInfo{
		Name:      r.name,
		Readers:   r.counter,
		State:     StateActive,
		KeepUntil: r.keepUntil,
	}
	if r.counter == 0 {
		info.State = StateDraining
	}
	if r.ctrl != nil {
		info.InstanceID = r.ctrl.ID()
	}
	return info
}

func (m *Manager) dispose() error {
	m.stopTimer()

	var errs []error
	for _, k := range m.sortedKeys() {
		if err := m.evict(m.records[k]); err != nil {
			errs = append(errs, err)
		}
	}
	m.records = make(map[recordKey]record)
	// unmounting released cross-store uses, which re-armed the timer
	m.stopTimer()
	return errors.Join(errs...)
}

func copyParams(p Params) Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
