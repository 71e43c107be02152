package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// TestWatcher_InitialLoad verifies that Start loads and validates the
// file before watching.
func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	writeConfigFile(t, path, sampleConfig)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	cfg := w.GetLastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

// TestWatcher_InitialLoad_InvalidConfig verifies that an invalid file
// fails Start.
func TestWatcher_InitialLoad_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	writeConfigFile(t, path, "token:\n  algorithm: \"\"\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	err = w.Start(context.Background())
	assert.Error(t, err)
}

// TestWatcher_ReloadOnChange verifies that a file change triggers the
// callback with the new configuration.
func TestWatcher_ReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	writeConfigFile(t, path, sampleConfig)

	reloaded := make(chan *GateConfig, 1)
	w, err := NewWatcher(path, func(cfg *GateConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	updated := strings.Replace(sampleConfig, ":9090", ":9191", 1)
	writeConfigFile(t, path, updated)

	select {
	case cfg := <-reloaded:
		assert.Equal(t, ":9191", cfg.Server.Addr)
		assert.Equal(t, ":9191", w.GetLastConfig().Server.Addr)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

// TestWatcher_KeepsLastGoodOnBrokenReload verifies that a broken
// rewrite leaves the previous configuration in effect.
func TestWatcher_KeepsLastGoodOnBrokenReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	writeConfigFile(t, path, sampleConfig)

	failures := make(chan error, 1)
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(err error) {
			select {
			case failures <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	writeConfigFile(t, path, "gate: [broken")

	select {
	case <-failures:
		assert.Equal(t, ":9090", w.GetLastConfig().Server.Addr)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload failure")
	}
}

// TestWatcher_StopIdempotent verifies Stop on a never-started watcher.
func TestWatcher_StopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	writeConfigFile(t, path, sampleConfig)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	require.NoError(t, w.Stop())
}
