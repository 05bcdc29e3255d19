package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatch(t *testing.T, path string) (*Holder, <-chan *Config) {
	t.Helper()

	initial, err := LoadOrDefault(path)
	require.NoError(t, err)

	h := NewHolder(initial, path)
	reloaded := make(chan *Config, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- Watch(ctx, h, Load, testLogger(t), func(c *Config) { reloaded <- c })
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	// Give the watcher time to register before the test writes.
	time.Sleep(100 * time.Millisecond)

	return h, reloaded
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeTestConfig(t, "[tracking]\nauto_tracking = true\n")
	h, reloaded := startWatch(t, path)

	require.NoError(t, os.WriteFile(path, []byte("[tracking]\nauto_tracking = false\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.False(t, cfg.Tracking.AutoTracking)
		assert.False(t, h.Config().Tracking.AutoTracking)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatch_InvalidEditKeepsPrevious(t *testing.T) {
	path := writeTestConfig(t, "[logging]\nlog_level = \"info\"\n")
	h, reloaded := startWatch(t, path)

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlog_level = \"shouting\"\n"), 0o600))

	select {
	case <-reloaded:
		t.Fatal("invalid config must not be applied")
	case <-time.After(time.Second):
	}

	assert.Equal(t, "info", h.Config().Logging.LogLevel)
}
