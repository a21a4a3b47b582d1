// Package config provides the hub's immutable configuration value.
//
// A Config is constructed once at process startup (usually from a YAML
// file) and passed down to the components that need it; nothing in the
// module reads configuration through globals.
package config

import (
	"time"
)

// Config wraps a map[string]any for type-safe value extraction.
// All accessor methods return default values if the key is missing
// or the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// Raw returns the underlying map. The caller must not mutate it.
func (c Config) Raw() map[string]any {
	return c.data
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int: interpreted as seconds
//   - int64: interpreted as seconds
//   - float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (c Config) Bool(key string, defaultVal bool) bool {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
//
// Accepts:
//   - int: used directly
//   - int64: converted to int
//   - float64: converted to int (only if no fractional part)
func (c Config) Int(key string, defaultVal int) int {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Settings holds the hub's resolved configuration knobs.
type Settings struct {
	// OutboxPath is the SQLite event log location; ":memory:" for tests.
	OutboxPath string

	// OutboxDSN selects the Postgres event log when non-empty.
	OutboxDSN string

	// SweepInterval is the period between sweeper passes.
	SweepInterval time.Duration

	// SendTimeout is how long a request may sit in
	// SENT_TO_PERMISSION_ADMINISTRATOR before the sweeper times it out.
	SendTimeout time.Duration

	// ResendDelay is how long a request may sit in UNABLE_TO_SEND before
	// the sweeper re-validates it for another send attempt.
	ResendDelay time.Duration

	// StreamBuffer is the per-family buffer of the aggregation hub's
	// output streams.
	StreamBuffer int
}

// DefaultSettings are the values used when keys are absent.
var DefaultSettings = Settings{
	OutboxPath:    "./eddie-events.db",
	SweepInterval: 1 * time.Minute,
	SendTimeout:   24 * time.Hour,
	ResendDelay:   5 * time.Minute,
	StreamBuffer:  256,
}

// SettingsFrom resolves Settings from a Config, falling back to
// DefaultSettings for absent keys.
func SettingsFrom(c Config) Settings {
	return Settings{
		OutboxPath:    c.String("outbox.path", DefaultSettings.OutboxPath),
		OutboxDSN:     c.String("outbox.dsn", ""),
		SweepInterval: c.Duration("sweep.interval", DefaultSettings.SweepInterval),
		SendTimeout:   c.Duration("sweep.send_timeout", DefaultSettings.SendTimeout),
		ResendDelay:   c.Duration("sweep.resend_delay", DefaultSettings.ResendDelay),
		StreamBuffer:  c.Int("hub.stream_buffer", DefaultSettings.StreamBuffer),
	}
}
