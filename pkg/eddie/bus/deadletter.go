package bus

import (
	"sync"
	"time"

	"github.com/eddie-energy/eddie-sub000/pkg/eddie/permission"
)

// FailedDelivery records one subscriber's failure to handle an event.
// The event itself was committed and acknowledged; only this
// subscriber's view of it is behind.
type FailedDelivery struct {
	Event       permission.Event
	Subscriber  string
	Attempts    int
	LastError   string
	FailedAt    time.Time
	NextRetryAt time.Time
}

// DeadLetterConfig configures the dead-letter queue.
type DeadLetterConfig struct {
	// MaxSize limits the number of parked deliveries.
	// Default: 10000
	MaxSize int

	// MaxAttempts before a delivery is parked permanently.
	// Default: 5
	MaxAttempts int

	// RetryDelay before the first redelivery attempt. Subsequent
	// attempts back off exponentially from this base.
	// Default: 1 minute
	RetryDelay time.Duration

	// OnPark is called when a delivery exhausts its attempts.
	OnPark func(*FailedDelivery)

	// Now overrides the time source used to stamp failures and compute
	// retry deadlines. Defaults to time.Now; tests inject a fixed
	// clock so Due sees the same timeline as Park.
	Now func() time.Time
}

// DefaultDeadLetterConfig provides reasonable defaults.
var DefaultDeadLetterConfig = DeadLetterConfig{
	MaxSize:     10000,
	MaxAttempts: 5,
	RetryDelay:  1 * time.Minute,
}

// DeadLetter holds deliveries that failed at a subscriber so they can
// be re-driven later. Entries are keyed by (event id, subscriber):
// the same event can be behind at one subscriber and current at
// another.
type DeadLetter struct {
	mu      sync.RWMutex
	entries map[deliveryKey]*FailedDelivery
	parked  map[deliveryKey]*FailedDelivery
	cfg     DeadLetterConfig
}

type deliveryKey struct {
	eventID    string
	subscriber string
}

// NewDeadLetter creates a dead-letter queue.
func NewDeadLetter(cfg DeadLetterConfig) *DeadLetter {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultDeadLetterConfig.MaxSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultDeadLetterConfig.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultDeadLetterConfig.RetryDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DeadLetter{
		entries: make(map[deliveryKey]*FailedDelivery),
		parked:  make(map[deliveryKey]*FailedDelivery),
		cfg:     cfg,
	}
}

// Park records a failed delivery. A repeated failure for the same
// (event, subscriber) pair bumps the attempt count and backs off; once
// MaxAttempts is reached the entry moves to the parked set and is no
// longer offered for redelivery.
func (d *DeadLetter) Park(evt permission.Event, subscriber string, cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := deliveryKey{eventID: evt.ID, subscriber: subscriber}
	now := d.cfg.Now()

	entry, ok := d.entries[key]
	if !ok {
		if len(d.entries) >= d.cfg.MaxSize {
			return
		}
		entry = &FailedDelivery{Event: evt, Subscriber: subscriber}
		d.entries[key] = entry
	}

	entry.Attempts++
	entry.LastError = cause.Error()
	entry.FailedAt = now

	if entry.Attempts >= d.cfg.MaxAttempts {
		delete(d.entries, key)
		d.parked[key] = entry
		if d.cfg.OnPark != nil {
			d.cfg.OnPark(entry)
		}
		return
	}

	backoff := d.cfg.RetryDelay * time.Duration(1<<uint(entry.Attempts-1))
	entry.NextRetryAt = now.Add(backoff)
}

// Due returns copies of the deliveries whose retry time has passed.
func (d *DeadLetter) Due(now time.Time) []FailedDelivery {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []FailedDelivery
	for _, entry := range d.entries {
		if !entry.NextRetryAt.After(now) {
			out = append(out, *entry)
		}
	}
	return out
}

// Resolve removes an entry after a successful redelivery.
func (d *DeadLetter) Resolve(eventID, subscriber string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, deliveryKey{eventID: eventID, subscriber: subscriber})
}

// Parked returns copies of permanently parked deliveries, for operator
// inspection.
func (d *DeadLetter) Parked() []FailedDelivery {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]FailedDelivery, 0, len(d.parked))
	for _, entry := range d.parked {
		out = append(out, *entry)
	}
	return out
}

// Recover moves a parked delivery back into the retry set with a fresh
// attempt budget.
func (d *DeadLetter) Recover(eventID, subscriber string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := deliveryKey{eventID: eventID, subscriber: subscriber}
	entry, ok := d.parked[key]
	if !ok {
		return false
	}
	delete(d.parked, key)
	entry.Attempts = 0
	entry.NextRetryAt = d.cfg.Now()
	d.entries[key] = entry
	return true
}

// Len returns the number of deliveries awaiting redelivery.
func (d *DeadLetter) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// ParkedLen returns the number of permanently parked deliveries.
func (d *DeadLetter) ParkedLen() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.parked)
}
