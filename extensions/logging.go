package extensions

import (
	"context"
	"log/slog"
	"time"

	"github.com/requery-go/requery"
)

// LoggingExtension logs triggers, executions, settlements and propagations.
type LoggingExtension struct {
	requery.BaseExtension
	logger *slog.Logger
}

// NewLoggingExtension creates a new logging extension.
// logHandler: slog.Handler for output (use NewSilentHandler to discard)
func NewLoggingExtension(logHandler slog.Handler) *LoggingExtension {
	return &LoggingExtension{
		BaseExtension: requery.NewBaseExtension("logging"),
		logger:        slog.New(logHandler),
	}
}

func (e *LoggingExtension) WrapExecute(ctx context.Context, key string, next func() (any, error)) (any, error) {
	start := time.Now()
	e.logger.Debug("execution starting", "key", key)
	result, err := next()

	duration := time.Since(start)
	if err != nil {
		e.logger.Warn("execution failed", "key", key, "duration", duration, "error", err)
	} else {
		e.logger.Debug("execution completed", "key", key, "duration", duration)
	}
	return result, err
}

func (e *LoggingExtension) OnTrigger(key string, outcome requery.TriggerOutcome) {
	e.logger.Debug("trigger", "key", key, "outcome", string(outcome))
}

func (e *LoggingExtension) OnSettle(key string, snap requery.Snapshot) {
	if snap.Err != nil {
		e.logger.Warn("settled with error",
			"key", key,
			"status", snap.Status.String(),
			"error_count", snap.ErrorCount,
			"stale_data", snap.HasData,
			"error", snap.Err,
		)
		return
	}
	e.logger.Info("settled", "key", key, "status", snap.Status.String())
}

func (e *LoggingExtension) OnPropagate(source, target string, kind requery.PropagateKind) {
	e.logger.Debug("propagation", "source", source, "target", target, "kind", string(kind))
}

func (e *LoggingExtension) OnPersistError(key string, op string, err error) {
	e.logger.Warn("persistence failure", "key", key, "op", op, "error", err)
}
