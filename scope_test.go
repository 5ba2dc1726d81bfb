package statectx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_RunFlushesPostedWork(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()
	st := scope.Lookup("remote")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scope.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			scope.Post(func() {
				cur, _ := countField.Get(st)
				countField.Publish(st, cur+n)
			})
		}(i)
	}
	wg.Wait()

	settled := make(chan int, 1)
	scope.Post(func() {
		n, _ := countField.Get(st)
		settled <- n
	})

	select {
	case n := <-settled:
		assert.Equal(t, 55, n)
	case <-time.After(5 * time.Second):
		t.Fatal("posted work never ran")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestScope_ReentrantFlushIsNoop(t *testing.T) {
	env := newTestEnv(t)

	order := []string{}
	env.scope.Post(func() {
		order = append(order, "outer")
		env.scope.Post(func() { order = append(order, "inner") })
		env.scope.Flush()
		order = append(order, "after nested flush")
	})
	env.scope.Flush()

	assert.Equal(t, []string{"outer", "after nested flush", "inner"}, order)
}

type orderedExtension struct {
	BaseExtension
	order  int
	calls  *[]string
	errors []error
	ops    []*Operation
}

func newOrderedExtension(name string, order int, calls *[]string) *orderedExtension {
	return &orderedExtension{BaseExtension: NewBaseExtension(name), order: order, calls: calls}
}

func (e *orderedExtension) Order() int {
	return e.order
}

func (e *orderedExtension) Wrap(ctx context.Context, next func(context.Context) error, op *Operation) error {
	*e.calls = append(*e.calls, e.Name()+":before:"+string(op.Kind))
	err := next(ctx)
	*e.calls = append(*e.calls, e.Name()+":after:"+string(op.Kind))
	return err
}

func (e *orderedExtension) OnError(err error, op *Operation, scope *Scope) {
	e.errors = append(e.errors, err)
	e.ops = append(e.ops, op)
}

func TestScope_ExtensionsWrapByOrder(t *testing.T) {
	var calls []string
	late := newOrderedExtension("late", 200, &calls)
	early := newOrderedExtension("early", 10, &calls)
	env := newTestEnv(t, WithExtension(late), WithExtension(early))

	ctrl, err := newCounterRoot("counter").Mount(env.scope, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"early:before:mount",
		"late:before:mount",
		"late:after:mount",
		"early:after:mount",
	}, calls)

	calls = nil
	ctrl.Invalidate()
	env.scope.Flush()
	assert.Equal(t, []string{
		"early:before:evaluate",
		"late:before:evaluate",
		"late:after:evaluate",
		"early:after:evaluate",
	}, calls)
}

func TestScope_ExtensionOnError(t *testing.T) {
	var calls []string
	ext := newOrderedExtension("observer", 100, &calls)
	env := newTestEnv(t, WithExtension(ext))

	boom := errors.New("no backend")
	root := NewRoot("broken", nil, func(cc *ComputeCtx, params Params, prev Snapshot) (func() int, error) {
		return nil, boom
	})

	_, err := root.Mount(env.scope, Params{"id": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	require.Len(t, ext.errors, 1)
	assert.ErrorIs(t, ext.errors[0], boom)
	assert.Equal(t, OpMount, ext.ops[0].Kind)
	assert.Equal(t, "broken?id=1", ext.ops[0].Key)
	assert.Same(t, env.scope, ext.ops[0].Scope)
}

func TestScope_DisposedRejectsMounts(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.scope.Dispose())
	assert.True(t, env.scope.Disposed())

	_, err := newCounterRoot("counter").Mount(env.scope, nil)
	assert.ErrorIs(t, err, ErrScopeDisposed)
	assert.True(t, IsKind(err, KindUsage))

	counter := NewAuto(newCounterRoot("counter"))
	_, release, err := counter.Acquire(env.scope, nil)
	assert.ErrorIs(t, err, ErrScopeDisposed)
	release()
}

type ctxKey struct{}

type taggingExtension struct {
	BaseExtension
	seen []any
}

func (e *taggingExtension) Wrap(ctx context.Context, next func(context.Context) error, op *Operation) error {
	e.seen = append(e.seen, ctx.Value(ctxKey{}))
	return next(context.WithValue(ctx, ctxKey{}, op.Key))
}

func TestScope_OperationContextNests(t *testing.T) {
	ext := &taggingExtension{BaseExtension: NewBaseExtension("tagging")}
	env := newTestEnv(t, WithExtension(ext))

	var during any
	inner := newCounterRoot("inner")
	outer := NewRoot("outer", (*Schema[int])(nil),
		func(cc *ComputeCtx, params Params, prev Snapshot) (func() int, error) {
			during = cc.Scope().OperationContext().Value(ctxKey{})
			if _, err := inner.Mount(cc.Scope(), nil); err != nil {
				return nil, err
			}
			return func() int { return 0 }, nil
		})

	_, err := outer.Mount(env.scope, nil)
	require.NoError(t, err)

	assert.Equal(t, "outer", during)
	assert.Equal(t, []any{nil, "outer"}, ext.seen)
	assert.Nil(t, env.scope.OperationContext().Value(ctxKey{}), "restored after the operation")
}
