package permission

import (
	"time"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/ids"
)

// EventType discriminates lifecycle events on the wire.
type EventType string

// Event types committed to the log.
const (
	// EventStatusChanged records a validated lifecycle transition.
	EventStatusChanged EventType = "permission.status_changed"

	// EventReadingUpdated records progress of data delivery for an
	// active permission (latest reading timestamp moved forward).
	EventReadingUpdated EventType = "permission.reading_updated"
)

// Event is an immutable lifecycle record. Events are appended to the
// event log and consumed any number of times by bus subscribers; they
// are never mutated after creation.
//
// ID is a ULID, so the append order of events is recoverable from the
// identifier alone. Events for the same PermissionID are delivered to
// all subscribers in the order they were appended.
type Event struct {
	ID           string     `json:"id"`
	PermissionID string     `json:"permission_id"`
	Type         EventType  `json:"type"`
	Status       Status     `json:"status,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`

	// Creation-time attributes; zero on later events.
	AdapterID    string     `json:"adapter_id,omitempty"`
	ConnectionID string     `json:"connection_id,omitempty"`
	DataNeedID   string     `json:"data_need_id,omitempty"`

	// Validity window; set when computed, nil before.
	Start      *time.Time `json:"start,omitempty"`
	Expiration *time.Time `json:"expiration,omitempty"`

	// LatestReading carries the updated reading timestamp for
	// EventReadingUpdated events.
	LatestReading *time.Time `json:"latest_reading,omitempty"`
}

// EventOption configures event creation.
type EventOption func(*Event)

// WithReason attaches a reason code to the event.
func WithReason(reason string) EventOption {
	return func(e *Event) { e.Reason = reason }
}

// WithAdapter records which connector owns the permission.
func WithAdapter(adapterID string) EventOption {
	return func(e *Event) { e.AdapterID = adapterID }
}

// WithConnection records the connection identifier.
func WithConnection(connectionID string) EventOption {
	return func(e *Event) { e.ConnectionID = connectionID }
}

// WithDataNeed records the data-need identifier.
func WithDataNeed(dataNeedID string) EventOption {
	return func(e *Event) { e.DataNeedID = dataNeedID }
}

// WithWindow records the validity window.
func WithWindow(start, expiration time.Time) EventOption {
	return func(e *Event) {
		s, x := start, expiration
		e.Start = &s
		e.Expiration = &x
	}
}

// WithOccurredAt overrides the event timestamp (default: time.Now).
func WithOccurredAt(t time.Time) EventOption {
	return func(e *Event) { e.OccurredAt = t }
}

// NewStatusEvent creates a status-change event for a permission.
func NewStatusEvent(permissionID string, status Status, opts ...EventOption) Event {
	e := Event{
		ID:           ids.New(),
		PermissionID: permissionID,
		Type:         EventStatusChanged,
		Status:       status,
		OccurredAt:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// NewReadingEvent creates a reading-progress event for a permission.
func NewReadingEvent(permissionID string, latest time.Time, opts ...EventOption) Event {
	e := Event{
		ID:            ids.New(),
		PermissionID:  permissionID,
		Type:          EventReadingUpdated,
		OccurredAt:    time.Now().UTC(),
		LatestReading: &latest,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}
