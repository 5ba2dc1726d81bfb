package statectx

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pumped-fn/statectx/clock"
)

// logRecorder is a slog.Handler that keeps every record for assertions.
type logRecorder struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (h *logRecorder) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *logRecorder) WithGroup(string) slog.Handler      { return h }

// messages returns the messages logged at level, in order.
func (h *logRecorder) messages(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.records {
		if r.Level == level {
			out = append(out, r.Message)
		}
	}
	return out
}

func (h *logRecorder) count(level slog.Level, substr string) int {
	n := 0
	for _, msg := range h.messages(level) {
		if strings.Contains(msg, substr) {
			n++
		}
	}
	return n
}

// attr returns the value of key on the first record whose message contains
// substr.
func (h *logRecorder) attr(substr, key string) (slog.Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if !strings.Contains(r.Message, substr) {
			continue
		}
		var found slog.Value
		ok := false
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == key {
				found, ok = a.Value, true
				return false
			}
			return true
		})
		if ok {
			return found, true
		}
	}
	return slog.Value{}, false
}

type testEnv struct {
	scope *Scope
	clock *clock.Fake
	logs  *logRecorder
}

func newTestEnv(t *testing.T, opts ...ScopeOption) *testEnv {
	t.Helper()
	env := &testEnv{
		clock: clock.NewFake(),
		logs:  &logRecorder{},
	}
	base := []ScopeOption{
		WithClock(env.clock),
		WithLogger(slog.New(env.logs)),
	}
	env.scope = NewScope(append(base, opts...)...)
	t.Cleanup(func() { _ = env.scope.Dispose() })
	return env
}

// advance moves the fake clock and flushes the posted timer callbacks.
func (e *testEnv) advance(d time.Duration) {
	e.clock.Advance(d)
	e.scope.Flush()
}

// Fixtures shared by the tests.

var (
	countField = NewField[int]("count")
	labelField = NewField[string]("label")
)

type counterValue struct {
	Count int
	Label string
}

var counterSchema = NewSchema(
	Bind(countField, func(v counterValue) int { return v.Count }),
	Bind(labelField, func(v counterValue) string { return v.Label }),
)

// counterRoot publishes a count that starts at params["start"] (or the
// previous snapshot) and increases by one on every evaluation.
func newCounterRoot(name string) *Root[counterValue] {
	return NewRoot(name, counterSchema,
		func(cc *ComputeCtx, params Params, prev Snapshot) (func() counterValue, error) {
			n, ok := countField.From(prev)
			if !ok {
				if start, has := params["start"].(int); has {
					n = start
				}
			}
			n--
			return func() counterValue {
				n++
				return counterValue{Count: n, Label: name}
			}, nil
		})
}
