package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	changed := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { changed <- c })
	require.NoError(t, err)
	defer w.Stop()

	cfg := DefaultConfig()
	cfg.Refine.Enabled = false
	require.NoError(t, cfg.Save(path))

	select {
	case got := <-changed:
		require.False(t, got.Refine.Enabled)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcher_KeepsPreviousOnBrokenFile(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	changed := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { changed <- c })
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("refine: [not a map"), 0o644))

	select {
	case <-changed:
		t.Fatal("broken config must not reach the callback")
	case <-time.After(500 * time.Millisecond):
	}
}
