// Package eddie wires the permission hub together: the event log, the
// synchronous bus, the read-model projection, window timers, the
// sweeper, the stream hub, and the command router, behind one facade
// that regional connectors plug into.
package eddie

import (
	"context"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/hub"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/route"
)

// Connector is a regional adapter: it validates and forwards permission
// requests to its permission administrator, accepts commands, and
// produces outbound message streams.
//
// Lifecycle responses from the permission administrator flow back
// through the Core's Accept, Reject, and Invalid operations; the
// connector calls them when answers arrive.
type Connector interface {
	route.Adapter

	// Validate checks a creation request against the connector's rules
	// (known connection, resolvable data need). A non-nil error marks
	// the request malformed.
	Validate(ctx context.Context, req CreateRequest) error

	// Send forwards the validated request to the permission
	// administrator. A non-nil error marks the request unable to send;
	// the sweeper retries later.
	Send(ctx context.Context, permissionID string, req CreateRequest) error

	// Streams returns the connector's outbound channels, one per
	// family it produces. Families absent from the map are simply not
	// served by this connector.
	Streams() map[hub.Family]<-chan hub.Message
}
