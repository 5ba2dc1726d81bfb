package statectx

import (
	"errors"
	"log/slog"
	"testing"
)

// newCleanupRoot registers one cleanup per label, each appending to cleaned.
func newCleanupRoot(name string, cleaned *[]string, labels ...string) *Root[string] {
	return NewRoot(name, nil, func(cc *ComputeCtx, params Params, prev Snapshot) (func() string, error) {
		for _, label := range labels {
			label := label
			cc.OnCleanup(func() error {
				*cleaned = append(*cleaned, label)
				return nil
			})
		}
		return func() string { return "value" }, nil
	})
}

func TestCleanup_Basic(t *testing.T) {
	scope := NewScope()

	cleaned := []string{}
	_, err := newCleanupRoot("resource", &cleaned, "resource").Mount(scope, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := scope.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}

	if len(cleaned) != 1 || cleaned[0] != "resource" {
		t.Errorf("expected cleanup to be called once, got %v", cleaned)
	}
}

func TestCleanup_LIFOOrder(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	cleaned := []string{}
	ctrl, err := newCleanupRoot("r", &cleaned, "first", "second", "third").Mount(scope, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := ctrl.Unmount(); err != nil {
		t.Fatalf("unmount: %v", err)
	}

	expected := []string{"third", "second", "first"}
	if len(cleaned) != len(expected) {
		t.Fatalf("expected %d cleanups, got %d", len(expected), len(cleaned))
	}
	for i, v := range expected {
		if cleaned[i] != v {
			t.Errorf("at index %d: expected %s, got %s", i, v, cleaned[i])
		}
	}

	// a second unmount runs nothing
	if err := ctrl.Unmount(); err != nil {
		t.Fatalf("second unmount: %v", err)
	}
	if len(cleaned) != len(expected) {
		t.Errorf("expected no further cleanups, got %v", cleaned)
	}
}

func TestCleanup_DisposeOrder(t *testing.T) {
	scope := NewScope()

	cleaned := []string{}
	for _, name := range []string{"a", "b", "c"} {
		if _, err := newCleanupRoot(name, &cleaned, name).Mount(scope, nil); err != nil {
			t.Fatalf("mount %s: %v", name, err)
		}
	}

	if err := scope.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}

	expected := []string{"c", "b", "a"}
	for i, v := range expected {
		if i >= len(cleaned) || cleaned[i] != v {
			t.Fatalf("expected %v, got %v", expected, cleaned)
		}
	}

	// dispose is idempotent
	if err := scope.Dispose(); err != nil {
		t.Fatalf("second dispose: %v", err)
	}
	if len(cleaned) != 3 {
		t.Errorf("expected 3 cleanups, got %v", cleaned)
	}
}

func TestCleanup_FailedMountRunsRegisteredCleanups(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	cleaned := []string{}
	root := NewRoot("broken", nil, func(cc *ComputeCtx, params Params, prev Snapshot) (func() int, error) {
		cc.OnCleanup(func() error {
			cleaned = append(cleaned, "half-built")
			return nil
		})
		return nil, errors.New("setup failed")
	})

	if _, err := root.Mount(scope, nil); err == nil {
		t.Fatal("expected mount error")
	}
	if len(cleaned) != 1 || cleaned[0] != "half-built" {
		t.Errorf("expected the registered cleanup to run, got %v", cleaned)
	}
	if root.IsMounted(scope, nil) {
		t.Error("a failed mount must not leave a writer behind")
	}
}

type cleanupHandler struct {
	BaseExtension
	handled []*CleanupError
}

func (e *cleanupHandler) OnCleanupError(err *CleanupError) bool {
	e.handled = append(e.handled, err)
	return true
}

func TestCleanup_ErrorHandledByExtension(t *testing.T) {
	ext := &cleanupHandler{BaseExtension: NewBaseExtension("cleanup-handler")}
	scope := NewScope(WithExtension(ext))
	defer scope.Dispose()

	boom := errors.New("close failed")
	root := NewRoot("conn", nil, func(cc *ComputeCtx, params Params, prev Snapshot) (func() int, error) {
		cc.OnCleanup(func() error { return boom })
		return func() int { return 1 }, nil
	})

	ctrl, err := root.Mount(scope, nil)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := ctrl.Unmount(); err != nil {
		t.Errorf("expected handled cleanup error to be swallowed, got %v", err)
	}

	if len(ext.handled) != 1 {
		t.Fatalf("expected 1 handled cleanup error, got %d", len(ext.handled))
	}
	got := ext.handled[0]
	if got.Key != "conn" || got.Context != "unmount" || !errors.Is(got, boom) {
		t.Errorf("unexpected cleanup error: %+v", got)
	}
}

func TestCleanup_UnhandledErrorIsReturnedAndLogged(t *testing.T) {
	env := newTestEnv(t)

	boom := errors.New("close failed")
	ran := false
	root := NewRoot("conn", nil, func(cc *ComputeCtx, params Params, prev Snapshot) (func() int, error) {
		cc.OnCleanup(func() error {
			ran = true
			return nil
		})
		cc.OnCleanup(func() error { return boom })
		return func() int { return 1 }, nil
	})

	if _, err := root.Mount(env.scope, nil); err != nil {
		t.Fatalf("mount: %v", err)
	}

	err := env.scope.Dispose()
	if err == nil {
		t.Fatal("expected dispose to report the cleanup error")
	}
	var cleanupErr *CleanupError
	if !errors.As(err, &cleanupErr) {
		t.Fatalf("expected a *CleanupError, got %T", err)
	}
	if cleanupErr.Context != "dispose" {
		t.Errorf("expected context dispose, got %s", cleanupErr.Context)
	}
	if !ran {
		t.Error("a failing cleanup must not stop the ones registered before it")
	}
	if n := env.logs.count(slog.LevelError, "cleanup failed"); n != 1 {
		t.Errorf("expected 1 cleanup log, got %d", n)
	}
}
