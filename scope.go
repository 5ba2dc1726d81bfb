package statectx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/pumped-fn/statectx/clock"
)

// Scope is the runtime handle that owns every store, mounted instance and
// manager record. A Scope belongs to one goroutine; only Post and Wake may be
// called from others.
type Scope struct {
	id     string
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	stores  storeCache
	mounted map[string]*instance
	tracker *DependencyTracker
	manager *Manager

	extMu      sync.RWMutex
	extensions []Extension

	taskMu sync.Mutex
	tasks  []func()
	wake   chan struct{}

	generation uint64
	commit     []func()
	dirty      []*instance
	flushing   bool
	disposed   bool

	// context of the innermost wrapped operation
	opCtx context.Context

	// extensions from options, initialized once the scope is complete
	initial []Extension
}

// ScopeOption is a modifier for scopes
type ScopeOption func(*Scope)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) ScopeOption {
	return func(s *Scope) {
		s.cfg = cfg
	}
}

// WithClock sets the time source used by every timer of the scope.
func WithClock(c clock.Clock) ScopeOption {
	return func(s *Scope) {
		s.clock = c
	}
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) ScopeOption {
	return func(s *Scope) {
		s.logger = l
	}
}

// WithScopeID prefixes every resolved store name with "id/", so that nested
// scopes can share one inspector without colliding.
func WithScopeID(id string) ScopeOption {
	return func(s *Scope) {
		s.id = id
	}
}

// WithExtension returns an option that registers an extension to a scope
func WithExtension(ext Extension) ScopeOption {
	return func(s *Scope) {
		s.initial = append(s.initial, ext)
	}
}

// NewScope creates a new scope with optional configuration
func NewScope(opts ...ScopeOption) *Scope {
	s := &Scope{
		cfg:     DefaultConfig(),
		clock:   clock.Real(),
		logger:  slog.Default(),
		mounted: make(map[string]*instance),
		wake:    make(chan struct{}, 1),
		// consumers start at generation 0, so the first pass always schedules
		generation: 1,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cfg.MaxFlushPasses <= 0 {
		s.cfg.MaxFlushPasses = DefaultConfig().MaxFlushPasses
	}
	s.tracker = newDependencyTracker(s, s.cfg.Diagnostics)
	s.manager = newManager(s)

	for _, ext := range s.initial {
		if err := s.UseExtension(ext); err != nil {
			panic(err)
		}
	}
	s.initial = nil

	return s
}

// ID returns the scope prefix set with WithScopeID.
func (s *Scope) ID() string {
	return s.id
}

func (s *Scope) Config() Config {
	return s.cfg
}

func (s *Scope) Clock() clock.Clock {
	return s.clock
}

func (s *Scope) Logger() *slog.Logger {
	return s.logger
}

// Tracker returns the dependency tracker of the scope.
func (s *Scope) Tracker() *DependencyTracker {
	return s.tracker
}

// Manager returns the auto-mount manager of the scope.
func (s *Scope) Manager() *Manager {
	return s.manager
}

// Generation returns the current commit generation. It increases once per
// flush pass.
func (s *Scope) Generation() uint64 {
	return s.generation
}

func (s *Scope) scopedName(name string) string {
	if s.id == "" {
		return name
	}
	return s.id + "/" + name
}

// Lookup returns the memoized store for name, creating it on first use.
func (s *Scope) Lookup(name string) *Store {
	st, created := s.stores.LoadOrCreate(name, func() *Store {
		return newStore(s, name)
	})
	if created {
		s.logger.Debug("store created", slog.String("store", name))
	}
	return st
}

// Acquire looks up name and takes a live reader reference on it. Releasing
// the last reference schedules a purge after Config.StorePurgeDelay; the
// store is dropped only if it still has no readers by then.
func (s *Scope) Acquire(name string) (*Store, func()) {
	st := s.Lookup(name)
	st.readers++
	if st.purge != nil {
		st.purge.Stop()
		st.purge = nil
	}

	released := false
	return st, func() {
		if released {
			return
		}
		released = true
		if st.readers > 0 {
			st.readers--
		}
		if st.readers == 0 {
			s.schedulePurge(st)
		}
	}
}

func (s *Scope) schedulePurge(st *Store) {
	if st.purge != nil {
		st.purge.Stop()
	}

	var timer clock.Timer
	timer = s.clock.AfterFunc(s.cfg.StorePurgeDelay, func() {
		s.Post(func() {
			if st.purge == timer {
				st.purge = nil
			}
			if st.readers > 0 {
				return
			}
			if cur, ok := s.stores.Load(st.name); ok && cur == st {
				s.stores.Delete(st.name)
				s.logger.Debug("store purged", slog.String("store", st.name))
			}
		})
	})
	st.purge = timer
}

// StoreNames returns the names of the memoized stores, sorted.
func (s *Scope) StoreNames() []string {
	return s.stores.Names()
}

// Post queues fn to run on the owner goroutine during the next Flush. It is
// safe to call from any goroutine.
func (s *Scope) Post(fn func()) {
	s.taskMu.Lock()
	s.tasks = append(s.tasks, fn)
	s.taskMu.Unlock()
	s.Wake()
}

// Wake signals Run that there is work to flush.
func (s *Scope) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scope) takeTasks() []func() {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	tasks := s.tasks
	s.tasks = nil
	return tasks
}

// deferCommit queues fn for the commit phase of the current flush pass.
func (s *Scope) deferCommit(fn func()) {
	s.commit = append(s.commit, fn)
	s.Wake()
}

func (s *Scope) markDirty(inst *instance) {
	if inst.dirty || !inst.mounted {
		return
	}
	inst.dirty = true
	s.dirty = append(s.dirty, inst)
	s.Wake()
}

// Flush runs passes of posted tasks, manager drive, dirty evaluations and
// commit callbacks until nothing is left or Config.MaxFlushPasses is hit.
// A Flush started from inside a Flush returns immediately.
func (s *Scope) Flush() {
	if s.flushing || s.disposed {
		return
	}
	s.flushing = true
	defer func() { s.flushing = false }()

	for pass := 0; pass < s.cfg.MaxFlushPasses; pass++ {
		worked := false

		for _, task := range s.takeTasks() {
			task()
			worked = true
		}

		if s.manager.drive() {
			worked = true
		}

		dirty := s.dirty
		s.dirty = nil
		for _, inst := range dirty {
			inst.reevaluate()
			worked = true
		}

		commit := s.commit
		s.commit = nil
		s.generation++
		for _, fn := range commit {
			fn()
			worked = true
		}

		if !worked {
			return
		}
	}

	if s.pending() {
		s.logger.Error("flush did not settle",
			slog.Int("passes", s.cfg.MaxFlushPasses),
			slog.Int("dirty", len(s.dirty)),
			slog.Int("commit", len(s.commit)),
		)
	}
}

func (s *Scope) pending() bool {
	s.taskMu.Lock()
	tasks := len(s.tasks)
	s.taskMu.Unlock()
	return tasks > 0 || len(s.dirty) > 0 || len(s.commit) > 0
}

// Run makes the calling goroutine the owner of the scope and flushes every
// time work is posted, until ctx is done.
func (s *Scope) Run(ctx context.Context) error {
	for {
		s.Flush()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// UseExtension registers an extension to the scope
func (s *Scope) UseExtension(ext Extension) error {
	s.extMu.Lock()
	s.extensions = append(s.extensions, ext)
	sort.SliceStable(s.extensions, func(i, j int) bool {
		return s.extensions[i].Order() < s.extensions[j].Order()
	})
	s.extMu.Unlock()

	return ext.Init(s)
}

func (s *Scope) extensionsSnapshot() []Extension {
	s.extMu.RLock()
	defer s.extMu.RUnlock()
	exts := make([]Extension, len(s.extensions))
	copy(exts, s.extensions)
	return exts
}

// OperationContext returns the context of the operation currently running
// through the extension chain, or context.Background() outside of one.
func (s *Scope) OperationContext() context.Context {
	if s.opCtx == nil {
		return context.Background()
	}
	return s.opCtx
}

// wrap runs fn through every extension's Wrap and reports a failure to
// OnError. Operations started inside fn see the context handed to it as
// their parent.
func (s *Scope) wrap(op *Operation, fn func() error) error {
	exts := s.extensionsSnapshot()

	next := func(ctx context.Context) error {
		prev := s.opCtx
		s.opCtx = ctx
		defer func() { s.opCtx = prev }()
		return fn()
	}
	// Apply extensions in reverse order (last registered wraps first)
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		currentNext := next
		next = func(ctx context.Context) error {
			return ext.Wrap(ctx, currentNext, op)
		}
	}

	err := next(s.OperationContext())
	if err != nil {
		s.reportError(err, op)
	}
	return err
}

func (s *Scope) reportError(err error, op *Operation) {
	for _, ext := range s.extensionsSnapshot() {
		ext.OnError(err, op, s)
	}
}

func (s *Scope) runCleanups(entries []cleanupEntry, key, cleanupContext string) error {
	exts := s.extensionsSnapshot()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]

		if err := entry.fn(); err != nil {
			cleanupErr := &CleanupError{
				Key:     key,
				Err:     err,
				Context: cleanupContext,
			}

			handled := false
			for _, ext := range exts {
				if ext.OnCleanupError(cleanupErr) {
					handled = true
					break
				}
			}
			if !handled {
				s.logger.Error("cleanup failed",
					slog.String("key", key),
					slog.String("context", cleanupContext),
					slog.Any("error", err),
				)
				errs = append(errs, cleanupErr)
			}
		}
	}
	return errors.Join(errs...)
}

// checkMountedLater arms a wiring check for key: if no writer is mounted for
// it after Config.LenientTolerance, an error carrying the caller's stack is
// logged. The returned func cancels the check.
func (s *Scope) checkMountedLater(op, key string) func() {
	if _, ok := s.mounted[key]; ok {
		return func() {}
	}

	stack := debug.Stack()
	cancelled := false
	check := func() {
		if cancelled || s.disposed {
			return
		}
		if _, ok := s.mounted[key]; ok {
			return
		}
		err := &Error{Op: op, Kind: KindWiring, Key: key, Err: ErrNotMounted, StackTrace: stack}
		s.logger.Error(err.Error(),
			slog.String("key", key),
			slog.String("stack", string(stack)),
		)
		s.reportError(err, &Operation{Kind: OpMount, Key: key, Scope: s})
	}

	// checked at commit so a manager mount in the same pass counts
	timer := s.clock.AfterFunc(s.cfg.LenientTolerance, func() {
		s.Post(func() { s.deferCommit(check) })
	})

	return func() {
		cancelled = true
		timer.Stop()
	}
}

// Dispose unmounts every instance, stops the scope's timers and disposes
// the extensions. The scope is unusable afterwards.
func (s *Scope) Dispose() error {
	if s.disposed {
		return nil
	}

	var errs []error
	if err := s.manager.dispose(); err != nil {
		errs = append(errs, err)
	}

	keys := make([]string, 0, len(s.mounted))
	for key := range s.mounted {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i := len(keys) - 1; i >= 0; i-- {
		if inst, ok := s.mounted[keys[i]]; ok {
			if err := inst.unmount("dispose"); err != nil {
				errs = append(errs, err)
			}
		}
	}

	s.stores.Range(func(_ string, st *Store) bool {
		if st.purge != nil {
			st.purge.Stop()
			st.purge = nil
		}
		return true
	})

	s.disposed = true
	s.dirty = nil
	s.commit = nil
	s.takeTasks()

	for _, ext := range s.extensionsSnapshot() {
		if err := ext.Dispose(s); err != nil {
			errs = append(errs, fmt.Errorf("disposing extension %s: %w", ext.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// Disposed reports whether Dispose was called.
func (s *Scope) Disposed() bool {
	return s.disposed
}
