package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/outbox"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

// Dispatcher ties the event log to the bus: commit first, then deliver,
// then acknowledge. An event is acknowledged once every subscriber has
// been attempted; per-subscriber failures live on in the dead-letter
// queue, not in the log.
//
// A crash between commit and acknowledge leaves the event undelivered
// in the log; Recover replays that tail on startup, which is why
// subscribers must be idempotent.
type Dispatcher struct {
	log    outbox.Log
	bus    *Bus
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. logger may be nil.
func NewDispatcher(log outbox.Log, b *Bus, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{log: log, bus: b, logger: logger}
}

// Dispatch commits the event, delivers it to all subscribers, and
// acknowledges it. The commit alone makes the transition durable; if
// delivery or acknowledgement fails the event stays in the undelivered
// tail and will be replayed.
func (d *Dispatcher) Dispatch(ctx context.Context, evt permission.Event) error {
	if err := d.log.Commit(ctx, evt); err != nil {
		return fmt.Errorf("commit event %s: %w", evt.ID, err)
	}

	if d.logger != nil {
		d.logger.Debug("event committed",
			slog.String("event_id", evt.ID),
			slog.String("permission_id", evt.PermissionID),
			slog.String("status", string(evt.Status)),
		)
	}

	if err := d.bus.Publish(ctx, evt); err != nil {
		return fmt.Errorf("publish event %s: %w", evt.ID, err)
	}

	if err := d.log.Acknowledge(ctx, evt.ID); err != nil {
		return fmt.Errorf("acknowledge event %s: %w", evt.ID, err)
	}
	return nil
}

// Recover replays the undelivered tail of the log through the bus in
// commit order. Call once on startup, after subscribers are registered
// and before new commits are accepted.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	events, err := d.log.ReplayUndelivered(ctx)
	if err != nil {
		return 0, fmt.Errorf("replay undelivered: %w", err)
	}

	for i, evt := range events {
		if err := d.bus.Publish(ctx, evt); err != nil {
			return i, fmt.Errorf("redeliver event %s: %w", evt.ID, err)
		}
		if err := d.log.Acknowledge(ctx, evt.ID); err != nil {
			return i, fmt.Errorf("acknowledge event %s: %w", evt.ID, err)
		}
	}

	if d.logger != nil && len(events) > 0 {
		d.logger.Info("recovered undelivered events",
			slog.Int("count", len(events)),
		)
	}
	return len(events), nil
}
