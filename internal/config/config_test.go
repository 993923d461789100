package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/roadgraph/internal/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roadgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, engine.StartLazy, cfg.Engine.Start)
	require.Equal(t, 10*time.Second, cfg.Engine.ReadyTimeout)
	require.Equal(t, 30*time.Second, cfg.Engine.QueryTimeout)
	require.Equal(t, "Ready for queries", cfg.Engine.ReadySentinel)
	require.Equal(t, "data", cfg.EngineDataDir())
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":8080"
data:
  dir: /srv/delhi
  strategy: mmap
engine:
  binary: /opt/engine/map_v2
  start: eager
  queryTimeout: 5s
  maxRestarts: 5
route:
  cacheSize: 0
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, ":8080", cfg.Server.Listen)
	require.Equal(t, "/srv/delhi", cfg.Data.Dir)
	require.Equal(t, "mmap", cfg.Data.Strategy)
	require.Equal(t, "nodes.bin", cfg.Data.Nodes)
	require.Equal(t, "/opt/engine/map_v2", cfg.Engine.Binary)
	require.Equal(t, engine.StartEager, cfg.Engine.Start)
	require.Equal(t, 5*time.Second, cfg.Engine.QueryTimeout)
	require.Equal(t, 60*time.Second, cfg.Engine.StartTimeout)
	require.Equal(t, 5, cfg.Engine.MaxRestarts)
	require.Zero(t, cfg.Route.CacheSize)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "/srv/delhi", cfg.EngineDataDir())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "engine:\n  binray: typo\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config")
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, Default().Server.Listen, cfg.Server.Listen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  listen: \":8080\"\n")
	t.Setenv("ROADGRAPH_LISTEN", ":9999")
	t.Setenv("ROADGRAPH_ENGINE_START", "EAGER")
	t.Setenv("ROADGRAPH_ENGINE_QUERY_TIMEOUT", "750ms")
	t.Setenv("ROADGRAPH_ROUTE_CACHE_SIZE", "16")
	t.Setenv("ROADGRAPH_CORS_ORIGINS", "http://localhost:5173,https://maps.example")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Server.Listen)
	require.Equal(t, engine.StartEager, cfg.Engine.Start)
	require.Equal(t, 750*time.Millisecond, cfg.Engine.QueryTimeout)
	require.Equal(t, 16, cfg.Route.CacheSize)
	require.Equal(t, []string{"http://localhost:5173", "https://maps.example"}, cfg.Server.CORSOrigins)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestEnvRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("ROADGRAPH_ENGINE_MAX_RESTARTS", "three")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"empty listen":       func(c *Config) { c.Server.Listen = "" },
		"strategy":           func(c *Config) { c.Data.Strategy = "tape" },
		"start policy":       func(c *Config) { c.Engine.Start = "sometimes" },
		"no binary":          func(c *Config) { c.Engine.Binary = "" },
		"zero restarts":      func(c *Config) { c.Engine.MaxRestarts = 0 },
		"zero query timeout": func(c *Config) { c.Engine.QueryTimeout = 0 },
		"negative cache":     func(c *Config) { c.Route.CacheSize = -1 },
		"metrics path":       func(c *Config) { c.Metrics.Path = "metrics" },
		"sample ratio":       func(c *Config) { c.Tracing.SampleRatio = 2 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: Validate() = nil, want error", name)
		}
	}
}
