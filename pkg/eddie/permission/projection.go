package permission

import (
	"sync"
	"time"
)

// Projection is the concurrent read model derived from the event log.
//
// Apply is idempotent and monotonic: re-delivering an event the
// projection has already seen (or one older than the latest applied
// event for that permission) leaves the view unchanged. Event IDs are
// ULIDs, so "older" is a plain string comparison.
//
// All methods are safe for concurrent use without external locking.
type Projection struct {
	mu       sync.RWMutex
	requests map[string]*Request
	applied  map[string]string // permission id -> latest applied event id
}

// NewProjection creates an empty projection.
func NewProjection() *Projection {
	return &Projection{
		requests: make(map[string]*Request),
		applied:  make(map[string]string),
	}
}

// Apply folds an event into the read model. Events that were already
// applied, or that are older than the latest applied event for the same
// permission, are skipped.
func (p *Projection) Apply(evt Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.applied[evt.PermissionID]; ok && evt.ID <= last {
		return
	}

	req, ok := p.requests[evt.PermissionID]
	if !ok {
		req = &Request{
			ID:        evt.PermissionID,
			CreatedAt: evt.OccurredAt,
		}
		p.requests[evt.PermissionID] = req
	}

	switch evt.Type {
	case EventStatusChanged:
		req.Status = evt.Status
		req.Reason = evt.Reason
		req.LastTransitionAt = evt.OccurredAt
	case EventReadingUpdated:
		if evt.LatestReading != nil {
			t := *evt.LatestReading
			req.LatestReading = &t
		}
	}

	if evt.AdapterID != "" {
		req.AdapterID = evt.AdapterID
	}
	if evt.ConnectionID != "" {
		req.ConnectionID = evt.ConnectionID
	}
	if evt.DataNeedID != "" {
		req.DataNeedID = evt.DataNeedID
	}
	if evt.Start != nil {
		t := *evt.Start
		req.Start = &t
	}
	if evt.Expiration != nil {
		t := *evt.Expiration
		req.Expiration = &t
	}

	p.applied[evt.PermissionID] = evt.ID
}

// Get returns a copy of the request with the given id.
func (p *Projection) Get(id string) (Request, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	req, ok := p.requests[id]
	if !ok {
		return Request{}, false
	}
	return *req, true
}

// ByStatus returns copies of all requests currently in the given status.
func (p *Projection) ByStatus(status Status) []Request {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Request
	for _, req := range p.requests {
		if req.Status == status {
			out = append(out, *req)
		}
	}
	return out
}

// StaleSince returns copies of requests that have sat in the given
// status since before the cutoff, judged by LastTransitionAt.
func (p *Projection) StaleSince(status Status, cutoff time.Time) []Request {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Request
	for _, req := range p.requests {
		if req.Status == status && req.LastTransitionAt.Before(cutoff) {
			out = append(out, *req)
		}
	}
	return out
}

// ActiveRequests returns copies of all requests with live scheduling
// interest. Used to resume timers after a restart.
func (p *Projection) ActiveRequests() []Request {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Request
	for _, req := range p.requests {
		if req.Active() {
			out = append(out, *req)
		}
	}
	return out
}

// Len returns the number of tracked requests.
func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.requests)
}
