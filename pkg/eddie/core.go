package eddie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/bus"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/config"
	eerrors "github.com/eddie-energy/eddie-sub000/pkg/eddie/errors"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/hub"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/ids"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/observability"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/outbox"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/route"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/schedule"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/sweep"
)

// ErrNoConnectors is returned when an operation needs a connector and
// none has been registered.
var ErrNoConnectors = errors.New("no connectors registered")

// CreateRequest asks the hub to open a new permission request.
type CreateRequest struct {
	// PermissionID is optional; generated when empty.
	PermissionID string

	// AdapterID names the connector that must broker the request.
	AdapterID string

	ConnectionID string
	DataNeedID   string
}

// Core is the permission hub facade. It owns the event log, the bus,
// the projection, the timers, the sweeper, the stream hub, and the
// command router, and exposes the lifecycle operations connectors and
// eligible parties call.
type Core struct {
	settings   config.Settings
	configPath string
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager
	clock      schedule.Clock

	log        outbox.Log
	bus        *bus.Bus
	dispatcher *bus.Dispatcher
	deadLetter *bus.DeadLetter
	projection *permission.Projection
	scheduler  *schedule.Scheduler
	sweeper    *sweep.Sweeper
	hub        *hub.Hub
	router     *route.Router

	statusCh chan hub.Message

	mu         sync.RWMutex
	connectors map[string]Connector
	started    bool
	cancel     context.CancelFunc
}

// Option configures a Core.
type Option func(*Core)

// WithSettings overrides the default settings.
func WithSettings(s config.Settings) Option {
	return func(c *Core) { c.settings = s }
}

// WithConfigFile loads settings from a YAML or JSON file when the Core
// is assembled. File settings replace any set with WithSettings.
func WithConfigFile(path string) Option {
	return func(c *Core) { c.configPath = path }
}

// WithLogger attaches a structured logger. May be nil.
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) { c.logger = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *Core) { c.metrics = m }
}

// WithSpans attaches a span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(c *Core) { c.spans = s }
}

// WithEventLog overrides the event log. When absent, the log is opened
// from the settings: Postgres when OutboxDSN is set, SQLite otherwise.
func WithEventLog(log outbox.Log) Option {
	return func(c *Core) { c.log = log }
}

// WithClock injects the scheduler clock; tests use a fake.
func WithClock(clock schedule.Clock) Option {
	return func(c *Core) { c.clock = clock }
}

// New assembles a Core. The returned Core accepts registrations
// immediately but processes nothing until Start.
func New(opts ...Option) (*Core, error) {
	c := &Core{
		settings:   config.DefaultSettings,
		metrics:    observability.NoopMetrics{},
		spans:      observability.NoopSpanManager{},
		connectors: make(map[string]Connector),
		clock:      schedule.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.configPath != "" {
		s, err := config.SettingsFromFile(c.configPath)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		c.settings = s
	}

	if c.log == nil {
		var err error
		switch {
		case c.settings.OutboxDSN != "":
			c.log, err = outbox.OpenPostgresLog(c.settings.OutboxDSN)
		default:
			c.log, err = outbox.NewSQLiteLog(c.settings.OutboxPath)
		}
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
	}

	c.projection = permission.NewProjection()
	c.deadLetter = bus.NewDeadLetter(bus.DefaultDeadLetterConfig)
	c.bus = bus.New(
		bus.WithDeadLetter(c.deadLetter),
		bus.WithErrorCallback(func(sub string, evt permission.Event, err error) {
			c.metrics.RecordDelivery(context.Background(), sub, err)
			if c.logger != nil {
				c.logger.Warn("subscriber failed, delivery parked",
					slog.String("subscriber", sub),
					slog.String("event_id", evt.ID),
					slog.String("error", err.Error()),
				)
			}
		}),
	)
	c.dispatcher = bus.NewDispatcher(c.log, c.bus, c.logger)
	c.scheduler = schedule.NewScheduler(c.projection, schedulerActions{c},
		schedule.WithClock(c.clock),
		schedule.WithLogger(c.logger),
	)
	c.sweeper = sweep.NewSweeper(c.projection, c,
		sweep.WithRules(sweep.DefaultRules(c.settings.SendTimeout, c.settings.ResendDelay)),
		sweep.WithDeadLetter(c.bus, c.deadLetter),
		sweep.WithLogger(c.logger),
		sweep.WithObserver(func(corrected int) {
			c.metrics.RecordSweep(context.Background(), corrected)
		}),
	)
	c.hub = hub.New(
		hub.WithBuffer(c.settings.StreamBuffer),
		hub.WithLogger(c.logger),
		hub.WithObserver(func(f hub.Family, providerID string) {
			c.metrics.RecordHubMessage(context.Background(), f.String(), providerID)
		}),
	)
	c.router = route.NewRouter(c.projection, c.logger)

	// The hub itself announces the end of a permission on the
	// connection-status family, so stream consumers learn about closed
	// permissions without watching the read model.
	buf := c.settings.StreamBuffer
	if buf <= 0 {
		buf = hub.DefaultBuffer
	}
	c.statusCh = make(chan hub.Message, buf)
	if err := c.hub.Register(hub.FamilyConnectionStatus, "hub", c.statusCh); err != nil {
		return nil, fmt.Errorf("register status stream: %w", err)
	}

	// Subscriber order matters: the projection must fold an event in
	// before the scheduler reads the updated request.
	c.bus.Subscribe("projection", func(_ context.Context, evt permission.Event) error {
		c.projection.Apply(evt)
		return nil
	})
	c.bus.Subscribe("scheduler", func(_ context.Context, evt permission.Event) error {
		if evt.Type != permission.EventStatusChanged {
			return nil
		}
		req, ok := c.projection.Get(evt.PermissionID)
		if !ok {
			return nil
		}
		if req.Active() {
			c.scheduler.Schedule(req)
		} else {
			c.scheduler.Remove(req.ID)
		}
		return nil
	})
	c.bus.Subscribe("connection-status", func(_ context.Context, evt permission.Event) error {
		if evt.Type != permission.EventStatusChanged || !permission.IsFinal(evt.Status) {
			return nil
		}
		// Best effort; the commit path must never block on a slow
		// stream consumer.
		select {
		case c.statusCh <- hub.Message{PermissionID: evt.PermissionID, Payload: evt.Status.String()}:
		default:
		}
		return nil
	})
	return c, nil
}

// Start recovers the undelivered event tail, resumes window timers, and
// launches the sweeper. It fails when no connector is registered: a hub
// with nobody to broker for cannot make progress.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	if len(c.connectors) == 0 {
		c.mu.Unlock()
		return ErrNoConnectors
	}
	c.started = true
	c.mu.Unlock()

	// Rebuild the read model from the full history, then push the
	// undelivered tail through the bus. Apply is idempotent, so the
	// tail reaching the projection twice is harmless.
	history, err := c.log.ReplayAll(ctx)
	if err != nil {
		return fmt.Errorf("replay event log: %w", err)
	}
	for _, evt := range history {
		c.projection.Apply(evt)
	}

	if _, err := c.dispatcher.Recover(ctx); err != nil {
		return fmt.Errorf("recover event log: %w", err)
	}
	c.scheduler.Resume(c.projection.ActiveRequests())

	sweepCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.sweeper.Run(sweepCtx, c.settings.SweepInterval)

	if c.logger != nil {
		c.logger.Info("permission hub started",
			slog.Int("connectors", len(c.Connectors())),
			slog.Int("tracked_requests", c.projection.Len()),
		)
	}
	return nil
}

// Close stops the sweeper and the stream hub and closes the event log.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.started = false
	c.mu.Unlock()

	c.sweeper.Stop()
	c.hub.Close()
	return c.log.Close()
}

// RegisterConnector plugs a regional adapter into the hub: its command
// surface joins the routing table and its streams join the family
// outputs.
func (c *Core) RegisterConnector(conn Connector) error {
	c.mu.Lock()
	if _, dup := c.connectors[conn.ID()]; dup {
		c.mu.Unlock()
		return fmt.Errorf("connector %q already registered", conn.ID())
	}
	c.connectors[conn.ID()] = conn
	c.mu.Unlock()

	c.router.Register(conn)

	families := make([]string, 0)
	for family, src := range conn.Streams() {
		if err := c.hub.Register(family, conn.ID(), src); err != nil {
			return fmt.Errorf("register stream %s: %w", family, err)
		}
		families = append(families, family.String())
	}

	observability.LogAdapterRegistered(c.logger, conn.ID(), families)
	return nil
}

// Connectors returns the registered connector ids.
func (c *Core) Connectors() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.connectors))
	for id := range c.connectors {
		out = append(out, id)
	}
	return out
}

func (c *Core) connector(id string) (Connector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connectors[id]
	return conn, ok
}

// Output returns the aggregated stream for a message family.
func (c *Core) Output(family hub.Family) <-chan hub.Message {
	return c.hub.Output(family)
}

// Requests returns the read model, for inspection and dashboards.
func (c *Core) Requests() *permission.Projection {
	return c.projection
}

// CreatePermissionRequest runs the creation pipeline: CREATED, then
// VALIDATED or MALFORMED, then SENT_TO_PERMISSION_ADMINISTRATOR or
// UNABLE_TO_SEND. It returns the permission id; the final status is
// readable from the projection.
func (c *Core) CreatePermissionRequest(ctx context.Context, req CreateRequest) (string, error) {
	conn, ok := c.connector(req.AdapterID)
	if !ok {
		if len(c.Connectors()) == 0 {
			return "", ErrNoConnectors
		}
		return "", fmt.Errorf("unknown connector %q", req.AdapterID)
	}

	id := req.PermissionID
	if id == "" {
		id = ids.New()
	}
	// A second CREATED event for a live id would restart its lifecycle
	// in every subscriber's view.
	if current, ok := c.projection.Get(id); ok {
		return "", eerrors.Conflict(
			fmt.Errorf("permission %q already exists in status %s", id, current.Status),
			"creating permission request")
	}

	if err := c.commit(ctx, permission.NewStatusEvent(id, permission.StatusCreated,
		permission.WithAdapter(req.AdapterID),
		permission.WithConnection(req.ConnectionID),
		permission.WithDataNeed(req.DataNeedID),
	)); err != nil {
		return "", err
	}

	if ok, reason := conn.Supports(req.DataNeedID); !ok {
		if terr := c.Transition(ctx, id, permission.StatusMalformed, reason); terr != nil {
			return id, terr
		}
		return id, nil
	}
	if err := conn.Validate(ctx, req); err != nil {
		if terr := c.Transition(ctx, id, permission.StatusMalformed, err.Error()); terr != nil {
			return id, terr
		}
		return id, nil
	}
	if err := c.Transition(ctx, id, permission.StatusValidated, ""); err != nil {
		return id, err
	}

	return id, c.send(ctx, conn, id, req)
}

// send forwards a validated request to the permission administrator.
// Transient failures (connector returns errors.Transient) are retried
// with backoff before the request is parked for the sweeper.
func (c *Core) send(ctx context.Context, conn Connector, permissionID string, req CreateRequest) error {
	res := eerrors.WithRetryContext(ctx, eerrors.DefaultRetry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, conn.Send(ctx, permissionID, req)
	})
	if res.Err != nil {
		return c.Transition(ctx, permissionID, permission.StatusUnableToSend, res.Err.Error())
	}
	return c.Transition(ctx, permissionID, permission.StatusSentToPA, "")
}

// Resend re-runs the send path for a request that could not reach its
// permission administrator: back to VALIDATED, then the owning
// connector tries again. The sweeper calls this once the resend delay
// has passed.
func (c *Core) Resend(ctx context.Context, permissionID string) error {
	current, ok := c.projection.Get(permissionID)
	if !ok {
		return fmt.Errorf("unknown permission %q", permissionID)
	}
	conn, ok := c.connector(current.AdapterID)
	if !ok {
		return fmt.Errorf("no connector %q for permission %q", current.AdapterID, permissionID)
	}

	if err := c.Transition(ctx, permissionID, permission.StatusValidated,
		"retrying send to permission administrator"); err != nil {
		return err
	}
	return c.send(ctx, conn, permissionID, CreateRequest{
		PermissionID: permissionID,
		AdapterID:    current.AdapterID,
		ConnectionID: current.ConnectionID,
		DataNeedID:   current.DataNeedID,
	})
}

// Accept records the permission administrator's approval together with
// the granted validity window, then moves the request on: waiting when
// the window opens later, streaming when it is already open.
func (c *Core) Accept(ctx context.Context, permissionID string, start, expiration time.Time) error {
	current, ok := c.projection.Get(permissionID)
	if !ok {
		return fmt.Errorf("unknown permission %q", permissionID)
	}

	next, err := permission.Transition(current.Status, permission.StatusAccepted)
	if err != nil {
		observability.LogTransitionRejected(c.logger, permissionID,
			string(current.Status), string(permission.StatusAccepted), err)
		return err
	}

	if err := c.commit(ctx, permission.NewStatusEvent(permissionID, next,
		permission.WithWindow(start, expiration),
	)); err != nil {
		return err
	}
	c.metrics.RecordTransition(ctx, string(current.Status), string(next))
	observability.LogTransition(c.logger, permissionID,
		string(current.Status), string(next), "")

	if start.After(c.clock.Now()) {
		return c.Transition(ctx, permissionID, permission.StatusWaitingForStart, "")
	}
	return c.Transition(ctx, permissionID, permission.StatusStreamingData, "")
}

// Reject records the permission administrator's refusal.
func (c *Core) Reject(ctx context.Context, permissionID, reason string) error {
	return c.Transition(ctx, permissionID, permission.StatusRejected, reason)
}

// Invalid records that the permission administrator could not process
// the request.
func (c *Core) Invalid(ctx context.Context, permissionID, reason string) error {
	return c.Transition(ctx, permissionID, permission.StatusInvalid, reason)
}

// Revoke withdraws an active permission on behalf of the end user. The
// owning connector is told to stop; revocation is only allowed while
// the permission is accepted, waiting, or streaming.
func (c *Core) Revoke(ctx context.Context, permissionID string) error {
	current, ok := c.projection.Get(permissionID)
	if !ok {
		return fmt.Errorf("unknown permission %q", permissionID)
	}
	if err := permission.ValidateRevocation(current.Status); err != nil {
		return err
	}

	if err := c.Transition(ctx, permissionID, permission.StatusRevoked, "revoked by end user"); err != nil {
		return err
	}

	if conn, ok := c.connector(current.AdapterID); ok {
		if err := conn.Terminate(ctx, permissionID); err != nil && c.logger != nil {
			observability.EnrichLogger(c.logger, permissionID, current.AdapterID).Warn(
				"connector failed to terminate revoked permission",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Terminate routes a termination command: target may be a connector id
// or a permission id. Unmatched commands are dropped silently.
func (c *Core) Terminate(ctx context.Context, target, permissionID string) error {
	ctx, span := c.spans.StartRoutingSpan(ctx, "terminate", target)
	err := c.router.Terminate(ctx, target, permissionID)
	c.spans.EndSpanWithError(span, err)
	return err
}

// Retransmit routes a retransmission request to the owning connector.
func (c *Core) Retransmit(ctx context.Context, req route.RetransmissionRequest) route.RetransmissionResult {
	ctx, span := c.spans.StartRoutingSpan(ctx, "retransmit", req.PermissionID)
	result := c.router.Retransmit(ctx, req)
	c.spans.EndSpanWithError(span, nil)
	return result
}

// RecordReading advances the latest-reading watermark for a streaming
// permission.
func (c *Core) RecordReading(ctx context.Context, permissionID string, latest time.Time) error {
	if _, ok := c.projection.Get(permissionID); !ok {
		return fmt.Errorf("unknown permission %q", permissionID)
	}
	return c.commit(ctx, permission.NewReadingEvent(permissionID, latest))
}

// FailedToStart records that the downstream transport could not be
// established when the validity window opened.
func (c *Core) FailedToStart(ctx context.Context, permissionID, reason string) error {
	return c.Transition(ctx, permissionID, permission.StatusFailedToStart, reason)
}

// RequireExternalTermination flags a concluded permission whose
// administrator still has to be told that data sharing ended.
func (c *Core) RequireExternalTermination(ctx context.Context, permissionID, reason string) error {
	return c.Transition(ctx, permissionID, permission.StatusRequiresExternal, reason)
}

// ExternallyTerminated records that the administrator confirmed the
// termination.
func (c *Core) ExternallyTerminated(ctx context.Context, permissionID string) error {
	return c.Transition(ctx, permissionID, permission.StatusExternallyTerm, "")
}

// FailedToTerminate records that telling the administrator failed; the
// permission can re-enter the external-termination tail later.
func (c *Core) FailedToTerminate(ctx context.Context, permissionID, reason string) error {
	return c.Transition(ctx, permissionID, permission.StatusFailedToTerm, reason)
}

// Transition validates a status change against the lifecycle graph and
// commits it. It is the single write path every other operation funnels
// through, and it satisfies the sweeper's Committer.
func (c *Core) Transition(ctx context.Context, permissionID string, to permission.Status, reason string) error {
	current, ok := c.projection.Get(permissionID)
	if !ok {
		return fmt.Errorf("unknown permission %q", permissionID)
	}

	next, err := permission.Transition(current.Status, to)
	if err != nil {
		observability.LogTransitionRejected(c.logger, permissionID,
			string(current.Status), string(to), err)
		return err
	}

	opts := []permission.EventOption{}
	if reason != "" {
		opts = append(opts, permission.WithReason(reason))
	}
	if err := c.commit(ctx, permission.NewStatusEvent(permissionID, next, opts...)); err != nil {
		return err
	}

	c.metrics.RecordTransition(ctx, string(current.Status), string(next))
	observability.LogTransition(c.logger, permissionID,
		string(current.Status), string(next), reason)
	return nil
}

// commit pushes one event through the log and the bus, measured and
// traced.
func (c *Core) commit(ctx context.Context, evt permission.Event) error {
	ctx, span := c.spans.StartCommitSpan(ctx, evt.PermissionID, string(evt.Status))
	done := observability.TimedOperation()

	err := c.dispatcher.Dispatch(ctx, evt)

	c.metrics.RecordCommit(ctx, time.Duration(done())*time.Millisecond, err)
	c.spans.EndSpanWithError(span, err)
	if err != nil {
		observability.LogCommitError(c.logger, evt.PermissionID, err)
	}
	return err
}

// schedulerActions adapts Core to the scheduler's callback surface.
type schedulerActions struct {
	core *Core
}

// Start moves a permission into streaming when its window opens.
func (a schedulerActions) Start(ctx context.Context, permissionID string) error {
	return a.core.Transition(ctx, permissionID, permission.StatusStreamingData, "validity window opened")
}

// Expire fulfils a permission when its window closes.
func (a schedulerActions) Expire(ctx context.Context, permissionID string) error {
	return a.core.Transition(ctx, permissionID, permission.StatusFulfilled, "validity window closed")
}
