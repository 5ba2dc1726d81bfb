package extensions

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/pumped-fn/statectx"
)

func TestLoggingExtension_Wrap(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	scope := statectx.NewScope(statectx.WithExtension(NewLoggingExtension(logger)))
	defer scope.Dispose()

	ok := statectx.NewRoot("ok", nil,
		func(cc *statectx.ComputeCtx, params statectx.Params, prev statectx.Snapshot) (func() int, error) {
			return func() int { return 1 }, nil
		})
	broken := statectx.NewRoot("broken", nil,
		func(cc *statectx.ComputeCtx, params statectx.Params, prev statectx.Snapshot) (func() int, error) {
			return nil, errors.New("boom")
		})

	if _, err := ok.Mount(scope, nil); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if _, err := broken.Mount(scope, nil); err == nil {
		t.Fatal("expected mount error")
	}

	output := buf.String()
	for _, want := range []string{
		`msg="mount starting"`,
		`msg="mount completed"`,
		`msg="mount failed"`,
		"key=ok",
		"key=broken",
		"error=boom",
		"extension=logging",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestLoggingExtension_OnCleanupError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	scope := statectx.NewScope(
		statectx.WithExtension(NewLoggingExtension(logger)),
		statectx.WithLogger(slog.New(NewSilentHandler())),
	)

	root := statectx.NewRoot("conn", nil,
		func(cc *statectx.ComputeCtx, params statectx.Params, prev statectx.Snapshot) (func() int, error) {
			cc.OnCleanup(func() error { return errors.New("close failed") })
			return func() int { return 1 }, nil
		})
	ctrl, err := root.Mount(scope, nil)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}

	// the extension only observes, so the error still surfaces
	if err := ctrl.Unmount(); err == nil {
		t.Error("expected unmount to return the cleanup error")
	}
	if !strings.Contains(buf.String(), "cleanup failed") || !strings.Contains(buf.String(), "key=conn") {
		t.Errorf("expected a cleanup warning, got:\n%s", buf.String())
	}
	_ = scope.Dispose()
}
