package extensions

import (
	"context"

	"github.com/pumped-fn/statectx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pumped-fn/statectx"

// TracingExtension records a span for every mount, evaluation and eviction,
// and a span event for dependency cycles.
type TracingExtension struct {
	statectx.BaseExtension
	tracer trace.Tracer
}

// NewTracingExtension creates a tracing extension. A nil provider uses the
// global one.
func NewTracingExtension(tp trace.TracerProvider) *TracingExtension {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingExtension{
		BaseExtension: statectx.NewBaseExtension("tracing"),
		tracer:        tp.Tracer(tracerName),
	}
}

// Order places tracing outside the other extensions so their work is timed
// inside the span.
func (e *TracingExtension) Order() int {
	return 10
}

func (e *TracingExtension) Wrap(ctx context.Context, next func(context.Context) error, op *statectx.Operation) error {
	ctx, span := e.tracer.Start(ctx, "statectx."+string(op.Kind),
		trace.WithAttributes(
			attribute.String("statectx.key", op.Key),
			attribute.String("statectx.instance_id", op.InstanceID),
		),
	)
	defer span.End()

	err := next(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *TracingExtension) OnCycle(path []string, scope *statectx.Scope) {
	_, span := e.tracer.Start(scope.OperationContext(), "statectx.cycle",
		trace.WithAttributes(attribute.StringSlice("statectx.path", path)),
	)
	span.AddEvent("circular dependency detected")
	span.End()
}
