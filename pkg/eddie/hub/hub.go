package hub

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-family output channel capacity.
const DefaultBuffer = 256

// Hub fans provider streams into one output channel per family.
//
// Providers register a receive channel per family; the hub forwards
// from every registered channel into the family output until the
// provider deregisters or its channel closes. A closed provider channel
// removes the provider silently; the output keeps flowing for everyone
// else.
type Hub struct {
	buffer   int
	logger   *slog.Logger
	observer func(Family, string)

	mu        sync.Mutex
	outputs   map[Family]chan Message
	providers map[Family]map[string]*provider
	closed    bool
	wg        sync.WaitGroup
}

type provider struct {
	id   string
	done chan struct{}
	once sync.Once
}

func (p *provider) stop() {
	p.once.Do(func() { close(p.done) })
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-family output capacity.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger attaches a structured logger. May be nil.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithObserver registers a callback invoked for every forwarded
// message, typically to record metrics.
func WithObserver(fn func(family Family, providerID string)) Option {
	return func(h *Hub) { h.observer = fn }
}

// New creates a hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		buffer:    DefaultBuffer,
		outputs:   make(map[Family]chan Message),
		providers: make(map[Family]map[string]*provider),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Output returns the aggregated stream for a family. The channel is
// created on first use and is never closed; repeat calls return the
// same channel.
func (h *Hub) Output(family Family) <-chan Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outputLocked(family)
}

func (h *Hub) outputLocked(family Family) chan Message {
	out, ok := h.outputs[family]
	if !ok {
		out = make(chan Message, h.buffer)
		h.outputs[family] = out
	}
	return out
}

// Register starts forwarding from src into the family output under the
// given provider id. Registering the same (family, id) pair again
// replaces the previous source.
func (h *Hub) Register(family Family, providerID string, src <-chan Message) error {
	if !family.Known() {
		return fmt.Errorf("unknown message family %q", family)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("hub closed")
	}

	out := h.outputLocked(family)

	if byID, ok := h.providers[family]; ok {
		if prev, ok := byID[providerID]; ok {
			prev.stop()
		}
	} else {
		h.providers[family] = make(map[string]*provider)
	}

	p := &provider{id: providerID, done: make(chan struct{})}
	h.providers[family][providerID] = p
	h.wg.Add(1)
	h.mu.Unlock()

	go h.forward(family, p, src, out)

	if h.logger != nil {
		h.logger.Info("provider registered",
			slog.String("family", family.String()),
			slog.String("provider_id", providerID),
		)
	}
	return nil
}

// Deregister stops forwarding for the (family, id) pair. Unknown pairs
// are a no-op.
func (h *Hub) Deregister(family Family, providerID string) {
	h.mu.Lock()
	p, ok := h.providers[family][providerID]
	if ok {
		delete(h.providers[family], providerID)
	}
	h.mu.Unlock()

	if ok {
		p.stop()
		if h.logger != nil {
			h.logger.Info("provider deregistered",
				slog.String("family", family.String()),
				slog.String("provider_id", providerID),
			)
		}
	}
}

// Providers returns the ids registered for a family, in no particular
// order.
func (h *Hub) Providers(family Family) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.providers[family]))
	for id := range h.providers[family] {
		out = append(out, id)
	}
	return out
}

// Close stops all forwarding goroutines and waits for them to finish.
// Output channels stay open; consumers blocked on them simply see no
// further messages.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, byID := range h.providers {
		for _, p := range byID {
			p.stop()
		}
	}
	h.providers = make(map[Family]map[string]*provider)
	h.mu.Unlock()

	h.wg.Wait()
}

// forward pumps src into out until the source closes or the provider is
// stopped.
func (h *Hub) forward(family Family, p *provider, src <-chan Message, out chan Message) {
	defer h.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case msg, ok := <-src:
			if !ok {
				h.removeSilently(family, p)
				return
			}

			msg.Family = family
			msg.ProviderID = p.id
			if msg.MRID == "" {
				msg.MRID = uuid.NewString()
			}
			if msg.ReceivedAt.IsZero() {
				msg.ReceivedAt = time.Now().UTC()
			}

			select {
			case out <- msg:
				if h.observer != nil {
					h.observer(family, p.id)
				}
			case <-p.done:
				return
			}
		}
	}
}

// removeSilently drops a provider whose source channel closed. Only the
// exact registration is removed; a replacement that took the same id is
// left alone.
func (h *Hub) removeSilently(family Family, p *provider) {
	h.mu.Lock()
	if current, ok := h.providers[family][p.id]; ok && current == p {
		delete(h.providers[family], p.id)
	}
	h.mu.Unlock()

	if h.logger != nil {
		h.logger.Debug("provider stream ended",
			slog.String("family", family.String()),
			slog.String("provider_id", p.id),
		)
	}
}
