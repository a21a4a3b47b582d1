// Package route dispatches inbound hub commands to the connector that
// owns the targeted permission.
//
// Commands arrive addressed either to a connector directly or to a
// permission whose owning connector has to be looked up from the read
// model. Termination commands that match nothing are dropped silently:
// the hub cannot distinguish "never existed" from "already gone", and
// both are a satisfied outcome for the caller.
package route

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

// RetransmissionResult is a connector's verdict on a retransmission
// request.
type RetransmissionResult string

// Retransmission outcomes.
const (
	// ResultSuccess means the connector accepted the request and will
	// re-deliver the data on its streams.
	ResultSuccess RetransmissionResult = "SUCCESS"

	// ResultFailure means the connector tried and failed.
	ResultFailure RetransmissionResult = "FAILURE"

	// ResultNoActivePermission means the permission exists but is not
	// currently active.
	ResultNoActivePermission RetransmissionResult = "NO_ACTIVE_PERMISSION"

	// ResultNoPermissionForTimeFrame means the requested window falls
	// outside the permission's validity window.
	ResultNoPermissionForTimeFrame RetransmissionResult = "NO_PERMISSION_FOR_TIME_FRAME"

	// ResultDataNotAvailable means the connector holds no data for the
	// requested window.
	ResultDataNotAvailable RetransmissionResult = "DATA_NOT_AVAILABLE"

	// ResultNotSupported means the connector does not implement
	// retransmission.
	ResultNotSupported RetransmissionResult = "NOT_SUPPORTED"

	// ResultPermissionRequestNotFound means no permission with the
	// given id is known.
	ResultPermissionRequestNotFound RetransmissionResult = "PERMISSION_REQUEST_NOT_FOUND"

	// ResultServiceNotFound means no connector could be resolved for
	// the command.
	ResultServiceNotFound RetransmissionResult = "SERVICE_NOT_FOUND"
)

// RetransmissionRequest asks a connector to re-deliver already-shared
// data for a permission over a time window.
type RetransmissionRequest struct {
	PermissionID string
	From         time.Time
	To           time.Time
}

// Validate checks the window is well-formed.
func (r RetransmissionRequest) Validate() error {
	if r.PermissionID == "" {
		return fmt.Errorf("retransmission request without permission id")
	}
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("retransmission window must have both bounds")
	}
	if r.To.Before(r.From) {
		return fmt.Errorf("retransmission window ends %s before it starts %s",
			r.To.Format(time.RFC3339), r.From.Format(time.RFC3339))
	}
	return nil
}

// Adapter is the command surface a connector exposes to the router.
type Adapter interface {
	// ID returns the connector's stable identifier.
	ID() string

	// Supports reports whether the connector can serve the given data
	// need. The reason explains a refusal.
	Supports(dataNeedID string) (bool, string)

	// Terminate ends the permission on the connector's side.
	Terminate(ctx context.Context, permissionID string) error

	// Retransmit asks for re-delivery of data for the given window.
	Retransmit(ctx context.Context, req RetransmissionRequest) RetransmissionResult
}

// View resolves a permission to its owning connector.
// *permission.Projection satisfies it.
type View interface {
	Get(id string) (permission.Request, bool)
}

// Router resolves commands to connectors.
type Router struct {
	view   View
	logger *slog.Logger

	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRouter creates a router over the given read model. logger may be
// nil.
func NewRouter(view View, logger *slog.Logger) *Router {
	return &Router{
		view:     view,
		logger:   logger,
		adapters: make(map[string]Adapter),
	}
}

// Register adds a connector to the routing table, replacing any
// previous connector with the same id.
func (r *Router) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Deregister removes a connector from the routing table.
func (r *Router) Deregister(adapterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, adapterID)
}

// AdapterIDs returns the registered connector ids.
func (r *Router) AdapterIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	return out
}

// resolve finds the connector for a command: a direct adapter-id match
// wins, otherwise the id is treated as a permission id and the owner is
// looked up from the read model.
func (r *Router) resolve(id string) (Adapter, string, bool) {
	r.mu.RLock()
	a, ok := r.adapters[id]
	r.mu.RUnlock()
	if ok {
		return a, "", true
	}

	req, ok := r.view.Get(id)
	if !ok || req.AdapterID == "" {
		return nil, "", false
	}

	r.mu.RLock()
	a, ok = r.adapters[req.AdapterID]
	r.mu.RUnlock()
	if !ok {
		return nil, "", false
	}
	return a, id, true
}

// Terminate routes a termination command. The target may be an adapter
// id (permissionID names the permission on that connector) or a bare
// permission id (the owner is resolved from the read model). Commands
// that match nothing are dropped without error.
func (r *Router) Terminate(ctx context.Context, target, permissionID string) error {
	adapter, resolvedPerm, ok := r.resolve(target)
	if !ok {
		if r.logger != nil {
			r.logger.Debug("termination command matched nothing, dropped",
				slog.String("target", target),
			)
		}
		return nil
	}

	if resolvedPerm != "" {
		permissionID = resolvedPerm
	}
	return adapter.Terminate(ctx, permissionID)
}

// Retransmit routes a retransmission request to the connector owning
// the permission. Window validation happens here so connectors never
// see malformed requests.
func (r *Router) Retransmit(ctx context.Context, req RetransmissionRequest) RetransmissionResult {
	if err := req.Validate(); err != nil {
		if r.logger != nil {
			r.logger.Warn("rejected retransmission request",
				slog.String("permission_id", req.PermissionID),
				slog.String("error", err.Error()),
			)
		}
		return ResultFailure
	}

	perm, ok := r.view.Get(req.PermissionID)
	if !ok {
		return ResultPermissionRequestNotFound
	}

	r.mu.RLock()
	adapter, ok := r.adapters[perm.AdapterID]
	r.mu.RUnlock()
	if !ok {
		return ResultServiceNotFound
	}

	if !perm.Active() {
		return ResultNoActivePermission
	}

	if outsideWindow(perm, req) {
		return ResultNoPermissionForTimeFrame
	}

	return adapter.Retransmit(ctx, req)
}

// outsideWindow reports whether the requested window falls outside the
// permission's validity window. Unset bounds do not constrain.
func outsideWindow(perm permission.Request, req RetransmissionRequest) bool {
	if perm.Start != nil && req.From.Before(*perm.Start) {
		return true
	}
	if perm.Expiration != nil && req.To.After(*perm.Expiration) {
		return true
	}
	return false
}
