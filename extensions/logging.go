package extensions

import (
	"context"
	"log/slog"
	"time"

	"github.com/pumped-fn/statectx"
)

// LoggingExtension logs all operations
type LoggingExtension struct {
	statectx.BaseExtension
	logger *slog.Logger
}

// NewLoggingExtension creates a new logging extension. A nil logger logs to
// slog.Default().
func NewLoggingExtension(logger *slog.Logger) *LoggingExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingExtension{
		BaseExtension: statectx.NewBaseExtension("logging"),
		logger:        logger,
	}
}

func (e *LoggingExtension) Wrap(ctx context.Context, next func(context.Context) error, op *statectx.Operation) error {
	start := time.Now()
	e.logger.DebugContext(ctx, string(op.Kind)+" starting",
		slog.String("extension", e.Name()),
		slog.String("key", op.Key),
	)
	err := next(ctx)

	duration := time.Since(start)
	if err != nil {
		e.logger.ErrorContext(ctx, string(op.Kind)+" failed",
			slog.String("extension", e.Name()),
			slog.String("key", op.Key),
			slog.Duration("duration", duration),
			slog.Any("error", err),
		)
	} else {
		e.logger.DebugContext(ctx, string(op.Kind)+" completed",
			slog.String("extension", e.Name()),
			slog.String("key", op.Key),
			slog.String("instance", op.InstanceID),
			slog.Duration("duration", duration),
		)
	}

	return err
}

func (e *LoggingExtension) OnCleanupError(err *statectx.CleanupError) bool {
	e.logger.Warn("cleanup failed",
		slog.String("extension", e.Name()),
		slog.String("key", err.Key),
		slog.String("context", err.Context),
		slog.Any("error", err.Err),
	)
	return false
}
