package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

// Kind discriminates what a pending timer will do when it fires.
type Kind int

const (
	// KindStart moves a permission into streaming when its validity
	// window opens.
	KindStart Kind = iota

	// KindExpiration fulfils a permission when its validity window
	// closes.
	KindExpiration
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindExpiration:
		return "expiration"
	default:
		return "unknown"
	}
}

// Entry describes the single pending timer for a permission.
type Entry struct {
	PermissionID string
	Kind         Kind
	At           time.Time
}

// View is the read model the scheduler consults before firing.
// *permission.Projection satisfies it.
type View interface {
	Get(id string) (permission.Request, bool)
}

// Actions are the transitions the scheduler drives. Implementations
// commit the corresponding lifecycle event; the scheduler never writes
// state itself.
type Actions interface {
	// Start is invoked when a permission's validity window opens.
	Start(ctx context.Context, permissionID string) error

	// Expire is invoked when a permission's validity window closes.
	Expire(ctx context.Context, permissionID string) error
}

// Scheduler keeps at most one pending timer per permission: either a
// start timer or an expiration timer, never both. Re-scheduling
// replaces the previous timer.
//
// Stale timers are handled by checking, not by cancellation races:
// when a timer fires it re-reads the permission's current status and
// silently skips if the status no longer warrants the transition.
type Scheduler struct {
	clock   Clock
	view    View
	actions Actions
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*armed
	nextSeq uint64
}

type armed struct {
	entry Entry
	timer Timer
	seq   uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects a clock; tests use a fake.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger attaches a structured logger. May be nil.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler over the given read model.
func NewScheduler(view View, actions Actions, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:   RealClock{},
		view:    view,
		actions: actions,
		entries: make(map[string]*armed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms (or re-arms) the timer for a request based on its
// current status and validity window:
//
//   - active with a future start: start timer at the window opening
//   - waiting with a start that already passed (the window opened while
//     the hub was down): immediate start timer
//   - active otherwise, with an expiration: expiration timer at the
//     window closing (fires immediately when already past)
//   - inactive or windowless: any pending timer is dropped
func (s *Scheduler) Schedule(req permission.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked(req.ID)

	if !req.Active() {
		return
	}

	now := s.clock.Now()
	switch {
	case req.StartsAfter(now):
		s.armLocked(req.ID, KindStart, *req.Start, now)
	case req.Status == permission.StatusWaitingForStart && req.Start != nil:
		// Expiring from WAITING_FOR_START is not a legal transition;
		// the request must be started first. Once it streams, the
		// re-schedule on that transition arms the expiration timer,
		// which fires immediately if the window is already over.
		s.armLocked(req.ID, KindStart, now, now)
	case req.Expiration != nil:
		s.armLocked(req.ID, KindExpiration, *req.Expiration, now)
	}
}

// Remove drops any pending timer for the permission.
func (s *Scheduler) Remove(permissionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(permissionID)
}

// Resume re-arms timers for every request with live scheduling
// interest. Call once on startup after the projection is rebuilt.
func (s *Scheduler) Resume(reqs []permission.Request) {
	for _, req := range reqs {
		s.Schedule(req)
	}
}

// Entry returns the pending timer for a permission, if any.
func (s *Scheduler) Entry(permissionID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.entries[permissionID]
	if !ok {
		return Entry{}, false
	}
	return a.entry, true
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) armLocked(permissionID string, kind Kind, at, now time.Time) {
	s.nextSeq++
	seq := s.nextSeq

	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}

	a := &armed{
		entry: Entry{PermissionID: permissionID, Kind: kind, At: at},
		seq:   seq,
	}
	a.timer = s.clock.AfterFunc(delay, func() {
		s.fire(permissionID, kind, seq)
	})
	s.entries[permissionID] = a
}

func (s *Scheduler) disarmLocked(permissionID string) {
	if a, ok := s.entries[permissionID]; ok {
		a.timer.Stop()
		delete(s.entries, permissionID)
	}
}

// fire runs in the timer goroutine. It verifies the timer is still the
// current one for the permission and that the status still warrants the
// transition; otherwise it skips without side effects.
func (s *Scheduler) fire(permissionID string, kind Kind, seq uint64) {
	s.mu.Lock()
	a, ok := s.entries[permissionID]
	if !ok || a.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.entries, permissionID)
	s.mu.Unlock()

	req, ok := s.view.Get(permissionID)
	if !ok {
		return
	}

	ctx := context.Background()
	var err error
	switch kind {
	case KindStart:
		if req.Status != permission.StatusAccepted && req.Status != permission.StatusWaitingForStart {
			return
		}
		err = s.actions.Start(ctx, permissionID)
	case KindExpiration:
		if !req.Active() {
			return
		}
		err = s.actions.Expire(ctx, permissionID)
	}

	if err != nil && s.logger != nil {
		s.logger.Error("scheduled transition failed",
			slog.String("permission_id", permissionID),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
	}
}
