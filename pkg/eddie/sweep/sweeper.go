// Package sweep repairs permissions that stopped making progress: stuck
// outbound sends are timed out or retried, and failed bus deliveries
// are re-driven from the dead-letter queue.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/bus"
	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

// Rule describes one corrective action: a request sitting in From for
// longer than After (judged by LastTransitionAt) is moved to To, or,
// when Resend is set, pushed back through the committer's resend path
// so the outbound send actually happens again.
type Rule struct {
	From   permission.Status
	After  time.Duration
	To     permission.Status
	Reason string
	Resend bool
}

// DefaultRules returns the stock corrective rules. A send that got no
// acknowledgement times out; a send that could not leave at all is
// re-sent.
func DefaultRules(sendTimeout, resendDelay time.Duration) []Rule {
	return []Rule{
		{
			From:   permission.StatusSentToPA,
			After:  sendTimeout,
			To:     permission.StatusTimedOut,
			Reason: "no response from permission administrator",
		},
		{
			From:   permission.StatusUnableToSend,
			After:  resendDelay,
			To:     permission.StatusValidated,
			Reason: "retrying send to permission administrator",
			Resend: true,
		},
	}
}

// View is the read model the sweeper scans. *permission.Projection
// satisfies it.
type View interface {
	Get(id string) (permission.Request, bool)
	StaleSince(status permission.Status, cutoff time.Time) []permission.Request
}

// Committer applies corrective actions by committing the corresponding
// lifecycle events.
type Committer interface {
	Transition(ctx context.Context, permissionID string, to permission.Status, reason string) error

	// Resend re-runs the outbound send for a request that could not
	// reach its permission administrator.
	Resend(ctx context.Context, permissionID string) error
}

// Sweeper periodically scans for stalled requests and overdue dead
// letters. Every corrective commit re-checks the request's current
// status immediately beforehand, so a request that moved on between
// scan and commit is left alone.
type Sweeper struct {
	view        View
	committer   Committer
	bus         *bus.Bus
	deadLetters *bus.DeadLetter
	rules       []Rule
	logger      *slog.Logger
	now         func() time.Time
	observer    func(corrected int)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithRules replaces the corrective rules.
func WithRules(rules []Rule) Option {
	return func(s *Sweeper) { s.rules = rules }
}

// WithDeadLetter attaches the dead-letter queue to re-drive. The bus
// must be the one the failed deliveries came from.
func WithDeadLetter(b *bus.Bus, dl *bus.DeadLetter) Option {
	return func(s *Sweeper) {
		s.bus = b
		s.deadLetters = dl
	}
}

// WithLogger attaches a structured logger. May be nil.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithNowFunc overrides the time source for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithObserver registers a callback invoked after every pass with the
// number of corrective actions taken, typically to record metrics.
func WithObserver(fn func(corrected int)) Option {
	return func(s *Sweeper) { s.observer = fn }
}

// NewSweeper creates a sweeper over the given read model.
func NewSweeper(view View, committer Committer, opts ...Option) *Sweeper {
	s := &Sweeper{
		view:      view,
		committer: committer,
		rules:     DefaultRules(5*time.Minute, time.Minute),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass: corrective rules first, then dead-letter
// redelivery. Safe to call concurrently with normal traffic.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()
	corrected := 0

	for _, rule := range s.rules {
		cutoff := now.Add(-rule.After)
		for _, req := range s.view.StaleSince(rule.From, cutoff) {
			if err := ctx.Err(); err != nil {
				return
			}

			// The scan result may be stale; only act if the request is
			// still where the rule expects it.
			current, ok := s.view.Get(req.ID)
			if !ok || current.Status != rule.From {
				continue
			}

			var err error
			if rule.Resend {
				err = s.committer.Resend(ctx, req.ID)
			} else {
				err = s.committer.Transition(ctx, req.ID, rule.To, rule.Reason)
			}
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("corrective action failed",
						slog.String("permission_id", req.ID),
						slog.String("from", string(rule.From)),
						slog.String("to", string(rule.To)),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			corrected++

			if s.logger != nil {
				s.logger.Info("corrective action applied",
					slog.String("permission_id", req.ID),
					slog.String("from", string(rule.From)),
					slog.String("to", string(rule.To)),
					slog.String("reason", rule.Reason),
				)
			}
		}
	}

	s.redriveDeadLetters(ctx, now)

	if s.observer != nil {
		s.observer(corrected)
	}
}

func (s *Sweeper) redriveDeadLetters(ctx context.Context, now time.Time) {
	if s.deadLetters == nil || s.bus == nil {
		return
	}

	for _, fd := range s.deadLetters.Due(now) {
		if err := ctx.Err(); err != nil {
			return
		}

		err := s.bus.Redeliver(ctx, fd.Subscriber, fd.Event)
		if err != nil {
			// Park bumps the attempt count and backs off again.
			s.deadLetters.Park(fd.Event, fd.Subscriber, err)
			continue
		}
		s.deadLetters.Resolve(fd.Event.ID, fd.Subscriber)

		if s.logger != nil {
			s.logger.Info("dead letter redelivered",
				slog.String("event_id", fd.Event.ID),
				slog.String("subscriber", fd.Subscriber),
			)
		}
	}
}

// Run sweeps on the given interval until the context is cancelled or
// Stop is called. Blocks; run it in its own goroutine.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop halts a running sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
}
