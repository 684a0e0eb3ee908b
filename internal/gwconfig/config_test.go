package gwconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir string, cfg *Config) string {
	t.Helper()
	path := filepath.Join(dir, "gateway.json")
	require.NoError(t, Save(path, cfg))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, Default())

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(60000), cfg.Policy.Limits.TimeoutMs)
	require.Equal(t, []string{"api.github.com", "*.npmjs.org"}, cfg.Policy.Network.AllowedDomains)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, Default())

	t.Setenv("TIMEOUT_MS", "5000")
	t.Setenv("MAX_MEMORY_MB", "64")
	t.Setenv("MAX_STDOUT_BYTES", "1024")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(5000), cfg.Policy.Limits.TimeoutMs)
	require.Equal(t, int64(64), cfg.Policy.Limits.MemMb)
	require.Equal(t, int64(1024), cfg.Policy.Limits.StdoutBytes)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, Default())

	t.Setenv("TIMEOUT_MS", "not-a-number")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(60000), cfg.Policy.Limits.TimeoutMs)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	path := writeConfig(t, dir, cfg)

	loaded, err := Load(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(loaded, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	updated := Default()
	updated.Policy.Limits.TimeoutMs = 9999
	data, err := json.MarshalIndent(updated, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	select {
	case c := <-reloaded:
		require.Equal(t, int64(9999), c.Policy.Limits.TimeoutMs)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherReloadIgnoresBadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, Default())
	loaded, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(loaded, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	w.Reload()
	require.Equal(t, int64(60000), w.Current().Policy.Limits.TimeoutMs)
}
