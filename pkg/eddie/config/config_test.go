package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigAccessors(t *testing.T) {
	c := New(map[string]any{
		"name":     "hub",
		"count":    3,
		"enabled":  true,
		"interval": "45s",
		"seconds":  30,
		"ratio":    2.0,
	})

	assert.Equal(t, "hub", c.String("name", "fallback"))
	assert.Equal(t, "fallback", c.String("missing", "fallback"))
	assert.Equal(t, "fallback", c.String("count", "fallback"))

	assert.Equal(t, 3, c.Int("count", 0))
	assert.Equal(t, 2, c.Int("ratio", 0))
	assert.Equal(t, 7, c.Int("missing", 7))

	assert.True(t, c.Bool("enabled", false))
	assert.False(t, c.Bool("missing", false))

	assert.Equal(t, 45*time.Second, c.Duration("interval", 0))
	assert.Equal(t, 30*time.Second, c.Duration("seconds", 0))
	assert.Equal(t, time.Minute, c.Duration("missing", time.Minute))
}

func TestNewNilMap(t *testing.T) {
	c := New(nil)
	assert.NotNil(t, c.Raw())
	assert.Equal(t, "d", c.String("anything", "d"))
}

func TestFromYAML(t *testing.T) {
	c, err := FromYAML([]byte(`
outbox.path: /var/lib/eddie/events.db
sweep.interval: 2m
hub.stream_buffer: 512
`))
	require.NoError(t, err)

	s := SettingsFrom(c)
	assert.Equal(t, "/var/lib/eddie/events.db", s.OutboxPath)
	assert.Equal(t, 2*time.Minute, s.SweepInterval)
	assert.Equal(t, 512, s.StreamBuffer)

	// Absent keys fall back to defaults.
	assert.Equal(t, DefaultSettings.SendTimeout, s.SendTimeout)
	assert.Equal(t, DefaultSettings.ResendDelay, s.ResendDelay)
	assert.Empty(t, s.OutboxDSN)
}

func TestFromYAMLInvalid(t *testing.T) {
	_, err := FromYAML([]byte("{broken"))
	assert.Error(t, err)
}

func TestFromJSON(t *testing.T) {
	c, err := FromJSON([]byte(`{"outbox.dsn": "postgres://hub@db/eddie", "sweep.send_timeout": "12h"}`))
	require.NoError(t, err)

	s := SettingsFrom(c)
	assert.Equal(t, "postgres://hub@db/eddie", s.OutboxDSN)
	assert.Equal(t, 12*time.Hour, s.SendTimeout)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "hub.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("outbox.path: ./test.db"), 0o644))

	c, err := FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "./test.db", c.String("outbox.path", ""))

	_, err = FromFile(filepath.Join(dir, "hub.toml"))
	assert.Error(t, err)

	_, err = FromFile(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}

func TestSettingsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yml")
	require.NoError(t, os.WriteFile(path, []byte(
		"sweep.resend_delay: 90s\noutbox.path: /tmp/hub.db\n"), 0o644))

	s, err := SettingsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, s.ResendDelay)
	assert.Equal(t, "/tmp/hub.db", s.OutboxPath)
	assert.Equal(t, DefaultSettings.StreamBuffer, s.StreamBuffer)

	_, err = SettingsFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefaultSettings(t *testing.T) {
	s := SettingsFrom(New(nil))
	assert.Equal(t, DefaultSettings, s)
}
