package statectx

import (
	"time"

	"github.com/pumped-fn/statectx/clock"
)

// debouncer runs the latest fn once d has passed without another call.
// Timer callbacks only post to the scope; fn runs on the owner goroutine.
type debouncer struct {
	scope *Scope
	d     time.Duration
	timer clock.Timer
	seq   uint64
}

func newDebouncer(scope *Scope, d time.Duration) *debouncer {
	return &debouncer{scope: scope, d: d}
}

func (d *debouncer) call(fn func()) {
	d.stop()
	seq := d.seq
	d.timer = d.scope.clock.AfterFunc(d.d, func() {
		d.scope.Post(func() {
			if seq != d.seq {
				return
			}
			d.timer = nil
			fn()
		})
	})
}

func (d *debouncer) stop() {
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// throttler runs fn at most once per interval, on the leading edge and once
// more on the trailing edge if calls arrived in between.
type throttler struct {
	scope    *Scope
	interval time.Duration
	timer    clock.Timer
	pending  bool
	fn       func()
	seq      uint64
}

func newThrottler(scope *Scope, interval time.Duration) *throttler {
	return &throttler{scope: scope, interval: interval}
}

func (t *throttler) call(fn func()) {
	t.fn = fn
	if t.timer != nil {
		t.pending = true
		return
	}
	fn()
	t.arm()
}

func (t *throttler) arm() {
	t.seq++
	seq := t.seq
	t.timer = t.scope.clock.AfterFunc(t.interval, func() {
		t.scope.Post(func() {
			if seq != t.seq {
				return
			}
			t.timer = nil
			if t.pending {
				t.pending = false
				t.fn()
				t.arm()
			}
		})
	})
}

func (t *throttler) stop() {
	t.seq++
	t.pending = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
