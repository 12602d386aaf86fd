package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := NewLoader("").Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0", cfg.Server.Listen.Address)
	require.Equal(t, 8080, cfg.Server.Listen.Port)
	require.Equal(t, "sqlite", cfg.Server.Cache.Backend)
	require.Equal(t, time.Minute, cfg.Server.Cache.TTL())
	require.True(t, cfg.Server.Cache.StaleAllowed())
	require.Equal(t, 5*time.Minute, cfg.Server.Refresh.Interval())
	require.Equal(t, "https://id.twitch.tv/oauth2/token", cfg.Server.Upstream.TokenURL)
	require.Equal(t, "https://api.twitch.tv/helix/streams", cfg.Server.Upstream.StreamsURL)
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, "livegate.yaml", `
server:
  listen:
    port: 9090
  cache:
    backend: memory
    ttlSeconds: 30
    allowStale: false
  upstream:
    clientId: client-id
    clientSecret: client-secret
    broadcaster: examplecaster
`)

	cfg, err := NewLoader("", path).Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Listen.Port)
	require.Equal(t, "memory", cfg.Server.Cache.Backend)
	require.Equal(t, 30*time.Second, cfg.Server.Cache.TTL())
	require.False(t, cfg.Server.Cache.StaleAllowed())
	require.Equal(t, "examplecaster", cfg.Server.Upstream.Broadcaster)
	// Untouched keys keep their defaults.
	require.Equal(t, "0.0.0.0", cfg.Server.Listen.Address)
	require.Equal(t, "json", cfg.Server.Logging.Format)
}

func TestLoadJSONFile(t *testing.T) {
	path := writeConfigFile(t, "livegate.json", `{
  "server": {
    "logging": {"level": "debug", "format": "text"},
    "refresh": {"intervalSeconds": 60, "token": "maintenance-token"}
  }
}`)

	cfg, err := NewLoader("", path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Server.Logging.Level)
	require.Equal(t, "text", cfg.Server.Logging.Format)
	require.Equal(t, time.Minute, cfg.Server.Refresh.Interval())
	require.Equal(t, "maintenance-token", cfg.Server.Refresh.Token)
}

func TestLoadTOMLFile(t *testing.T) {
	path := writeConfigFile(t, "livegate.toml", `
[server.store]
path = "data/livegate.db"

[server.cache]
ttlSeconds = 120
`)

	cfg, err := NewLoader("", path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "data/livegate.db", cfg.Server.Store.Path)
	require.Equal(t, 2*time.Minute, cfg.Server.Cache.TTL())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "livegate.yaml", `
server:
  listen:
    port: 9090
  cache:
    ttlSeconds: 30
`)
	t.Setenv("LIVEGATE_SERVER__LISTEN__PORT", "7070")
	t.Setenv("LIVEGATE_SERVER__CACHE__TTLSECONDS", "15")
	t.Setenv("LIVEGATE_SERVER__CACHE__ALLOWSTALE", "false")
	t.Setenv("LIVEGATE_SERVER__UPSTREAM__CLIENTSECRET", "from-env")

	cfg, err := NewLoader("LIVEGATE", path).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Listen.Port)
	require.Equal(t, 15*time.Second, cfg.Server.Cache.TTL())
	require.False(t, cfg.Server.Cache.StaleAllowed())
	require.Equal(t, "from-env", cfg.Server.Upstream.ClientSecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader("", filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeConfigFile(t, "livegate.ini", "[server]\n")
	_, err := NewLoader("", path).Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported config format")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfigFile(t, "livegate.yaml", `
server:
  listen:
    port: 70000
  logging:
    level: loud
  cache:
    backend: etcd
    ttlSeconds: 0
`)

	_, err := NewLoader("", path).Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "listen port 70000 out of range")
	require.Contains(t, err.Error(), `unsupported log level "loud"`)
	require.Contains(t, err.Error(), `unsupported cache backend "etcd"`)
	require.Contains(t, err.Error(), "ttlSeconds 0 must be positive")
}

func TestLoadValkeyBackendRequiresAddress(t *testing.T) {
	path := writeConfigFile(t, "livegate.yaml", `
server:
  cache:
    backend: valkey
`)

	_, err := NewLoader("", path).Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "valkey cache backend requires an address")
}

func TestStaleAllowedDefaultsWhenUnset(t *testing.T) {
	var cache CacheConfig
	require.True(t, cache.StaleAllowed())

	disallowed := false
	cache.AllowStale = &disallowed
	require.False(t, cache.StaleAllowed())
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	path := writeConfigFile(t, "livegate.yaml", `
server:
  cache:
    ttlSeconds: 30
`)
	loader := NewLoader("", path)

	changed := make(chan Config, 4)
	watcher, err := loader.Watch(context.Background(), func(cfg Config) {
		changed <- cfg
	}, func(err error) {
		t.Logf("watch error: %v", err)
	})
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`
server:
  cache:
    ttlSeconds: 45
`), 0o600))

	select {
	case cfg := <-changed:
		require.Equal(t, 45*time.Second, cfg.Server.Cache.TTL())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatchRequiresCallbackAndFile(t *testing.T) {
	path := writeConfigFile(t, "livegate.yaml", "server:\n")

	_, err := NewLoader("", path).Watch(context.Background(), nil, nil)
	require.Error(t, err)

	_, err = NewLoader("").Watch(context.Background(), func(Config) {}, nil)
	require.Error(t, err)
}
