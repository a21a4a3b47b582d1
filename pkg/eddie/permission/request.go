package permission

import "time"

// Request is the hub's read-model view of a permission request. The
// owning connector keeps its own richer record; the hub only needs what
// scheduling, sweeping and routing require.
//
// Requests are never deleted; terminal statuses are retained for audit.
type Request struct {
	// ID is the permission identifier, caller-supplied or generated.
	ID string

	// AdapterID names the connector that owns this request.
	AdapterID string

	ConnectionID string
	DataNeedID   string

	// Status is the last committed lifecycle status.
	Status Status

	// Reason explains the latest status change, when one was given.
	Reason string

	// Validity window; nil until computed by the owning connector.
	Start      *time.Time
	Expiration *time.Time

	// LatestReading is the timestamp of the newest delivered reading,
	// nil before any data has been delivered.
	LatestReading *time.Time

	CreatedAt time.Time

	// LastTransitionAt is the commit time of the latest status change.
	// The sweeper's staleness checks compare against this field, not
	// against CreatedAt.
	LastTransitionAt time.Time
}

// Active reports whether the request is in a status with live scheduling
// interest (accepted but not yet started, waiting, or streaming).
func (r Request) Active() bool {
	switch r.Status {
	case StatusAccepted, StatusWaitingForStart, StatusStreamingData:
		return true
	default:
		return false
	}
}

// StartsAfter reports whether the validity window starts after t.
// A request without a computed window never starts after anything.
func (r Request) StartsAfter(t time.Time) bool {
	return r.Start != nil && r.Start.After(t)
}

// ExpiredAt reports whether the validity window has ended at t.
func (r Request) ExpiredAt(t time.Time) bool {
	return r.Expiration != nil && !r.Expiration.After(t)
}
