// Package observability provides structured logging, metrics, and
// distributed tracing for the permission hub.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds permission context to a logger.
// Returns a new logger with permission_id and adapter_id fields.
func EnrichLogger(logger *slog.Logger, permissionID, adapterID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("permission_id", permissionID),
		slog.String("adapter_id", adapterID),
	)
}

// LogTransition logs a committed lifecycle transition.
func LogTransition(logger *slog.Logger, permissionID, from, to, reason string) {
	if logger == nil {
		return
	}
	logger.Info("permission transition committed",
		slog.String("permission_id", permissionID),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("reason", reason),
	)
}

// LogTransitionRejected logs a transition the state machine refused.
func LogTransitionRejected(logger *slog.Logger, permissionID, from, to string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("permission transition rejected",
		slog.String("permission_id", permissionID),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("error", err.Error()),
	)
}

// LogAdapterRegistered logs a connector joining the hub.
func LogAdapterRegistered(logger *slog.Logger, adapterID string, families []string) {
	if logger == nil {
		return
	}
	logger.Info("adapter registered",
		slog.String("adapter_id", adapterID),
		slog.Any("families", families),
	)
}

// LogCommitError logs an event log write failure (the transition did
// not happen).
func LogCommitError(logger *slog.Logger, permissionID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event commit failed",
		slog.String("permission_id", permissionID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in
// milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
