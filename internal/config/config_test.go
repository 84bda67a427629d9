package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litescript/snowfl-tui/internal/snowfl"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, snowfl.SortSeed, cfg.SortFilter())
	assert.Equal(t, time.Hour, cfg.CacheTTL())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(path, []byte(`
[snowfl]
base_url = "http://localhost:9999"
default_sort = "size"
timeout_seconds = 3

[cache]
backend = "memory"
key = "test:hash"
ttl_seconds = 60
`), 0644)
	require.NoError(t, err)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999", cfg.Snowfl.BaseURL)
	assert.Equal(t, snowfl.SortSize, cfg.SortFilter())
	assert.Equal(t, 3*time.Second, cfg.Timeout())
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "test:hash", cfg.Cache.Key)
	assert.Equal(t, time.Minute, cfg.CacheTTL())
	// untouched sections keep their defaults
	assert.Equal(t, 8080, cfg.QBittorrent.Port)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[snowfl]\ndefault_sort = \"popularity\"\n"), 0644))
	_, err := LoadFrom(path)
	assert.ErrorContains(t, err, "default_sort")

	require.NoError(t, os.WriteFile(path, []byte("[cache]\nbackend = \"redis\"\n"), 0644))
	_, err = LoadFrom(path)
	assert.ErrorContains(t, err, "cache.backend")

	require.NoError(t, os.WriteFile(path, []byte("[snowfl\n"), 0644))
	_, err = LoadFrom(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := Default()
	cfg.Snowfl.DefaultSort = "DATE"
	cfg.Cache.Backend = "none"

	require.NoError(t, SaveTo(path, cfg))

	got, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestConfigPathEnvOverride(t *testing.T) {
	t.Setenv(EnvPath, "/tmp/custom.toml")
	assert.Equal(t, "/tmp/custom.toml", ConfigPath())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveTo(path, Default()))

	reloaded := make(chan Config, 4)
	w, err := NewWatcher(path, func(cfg Config, err error) {
		if err != nil {
			return
		}
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Stop()

	cfg := Default()
	cfg.Snowfl.DefaultSort = "NAME"
	require.NoError(t, SaveTo(path, cfg))

	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-reloaded:
			if got.SortFilter() == snowfl.SortName {
				return
			}
		case <-timeout:
			t.Fatal("watcher did not report the change")
		}
	}
}
