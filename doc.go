// Package statectx provides a reactive state-propagation runtime: named,
// parameterized computations publish their results into field stores, and
// consumers subscribe to exactly the fields they use.
//
// # Overview
//
// statectx organizes code around four concepts:
//
//  1. Stores: named tables of field values with per-field subscriptions
//  2. Roots: computations bound to a store name and a set of params
//  3. Scopes: runtime handles that own stores, mounted roots and timers
//  4. Autos: reference-counted access to roots, mounted and evicted by the
//     scope's manager
//
// # Basic Usage
//
// Declare fields and a root:
//
//	count := statectx.NewField[int]("count")
//	label := statectx.NewField[string]("label")
//
//	type Counter struct {
//	    Count int
//	    Label string
//	}
//
//	counter := statectx.NewRoot("counter",
//	    statectx.NewSchema(
//	        statectx.Bind(count, func(c Counter) int { return c.Count }),
//	        statectx.Bind(label, func(c Counter) string { return c.Label }),
//	    ),
//	    func(cc *statectx.ComputeCtx, params statectx.Params, prev statectx.Snapshot) (func() Counter, error) {
//	        n, _ := count.From(prev)
//	        return func() Counter {
//	            return Counter{Count: n, Label: fmt.Sprint(params["id"], ":", n)}
//	        }, nil
//	    },
//	)
//
// Mount it in a scope and read its store:
//
//	scope := statectx.NewScope()
//	ctrl, err := counter.Mount(scope, statectx.Params{"id": "a"})
//	st := ctrl.Store() // named "counter?id=a"
//
// # Params
//
// Params are flat maps of strings, numbers, bools and nil. ParamsToID turns
// them into an order-independent key, so {"a": 1, "b": 2} and {"b": 2, "a": 1}
// address the same store.
//
// # Scopes and Flushing
//
// A Scope belongs to one goroutine. Invalidations, commit callbacks and timer
// callbacks queue up and run when that goroutine calls Flush, or continuously
// under Run:
//
//	go scope.Run(ctx)
//	scope.Post(func() { ctrl.Invalidate() })
//
// Post is the only method safe to call from other goroutines.
//
// # Subscriptions
//
// Hosts re-render through one of the subscription primitives:
//
//	sub := statectx.SubscribeField(st, count, rerender)
//	batch := statectx.SubscribeBatch(st, rerender, "count", "label")
//	sel := statectx.NewSelective(st, rerender)
//
// A Selective subscribes to whatever was read between Begin and the end of
// the commit phase:
//
//	sel.Begin()
//	n, _ := statectx.Read(sel, count)
//
// # Auto-mounting
//
// An Auto mounts its root on the first Acquire and unmounts it once the last
// reader released it and the grace period passed:
//
//	auto := statectx.NewAuto(counter, statectx.WithGracePeriod(time.Second))
//	st, release, err := auto.Acquire(scope, statectx.Params{"id": "a"})
//	defer release()
//
// # Extensions
//
// Extensions wrap mount, evaluate and evict operations and observe errors and
// dependency cycles:
//
//	scope := statectx.NewScope(
//	    statectx.WithExtension(extensions.NewLoggingExtension(logger)),
//	)
package statectx
