// Package outbox provides the durable, append-only event log.
//
// The log is the single source of truth for "did this transition
// happen": projections, schedulers and outward streams all derive their
// view from committed events. An event is committed first and
// acknowledged only after every subscriber has handled it, so a crash
// between commit and delivery is repaired by replaying the
// unacknowledged tail on startup. Subscribers therefore see
// at-least-once delivery and must be idempotent.
package outbox

import (
	"context"
	"errors"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

// Log persists lifecycle events. Implementations must be safe for
// concurrent use.
type Log interface {
	// Commit atomically appends an event. Once Commit returns nil the
	// event is durable and will be handed to subscribers at least once,
	// surviving process restart.
	Commit(ctx context.Context, evt permission.Event) error

	// ReplayAll returns every committed event in commit order,
	// acknowledged or not. Used to rebuild projections on startup.
	ReplayAll(ctx context.Context) ([]permission.Event, error)

	// ReplayUndelivered returns every committed event that has not been
	// acknowledged yet, in commit order.
	ReplayUndelivered(ctx context.Context) ([]permission.Event, error)

	// Acknowledge marks an event as delivered to all subscribers.
	// Acknowledged events are not returned by ReplayUndelivered again.
	Acknowledge(ctx context.Context, eventID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for log operations.
var (
	// ErrNotFound indicates the event does not exist in the log.
	ErrNotFound = errors.New("event not found")

	// ErrDuplicate indicates an event with the same id was already
	// committed.
	ErrDuplicate = errors.New("event already committed")

	// ErrLogClosed indicates the log has been closed.
	ErrLogClosed = errors.New("event log closed")
)
