// Package config holds the server configuration. Values are layered:
// defaults, then the YAML file, then ROADGRAPH_* environment variables,
// then command line flags.
package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/roadgraph/internal/dataset"
	"github.com/signalsfoundry/roadgraph/internal/engine"
	"github.com/signalsfoundry/roadgraph/internal/graph"
	"github.com/signalsfoundry/roadgraph/internal/logging"
	"github.com/signalsfoundry/roadgraph/internal/observability"
)

// Config is the complete server configuration.
type Config struct {
	Server  Server                      `yaml:"server"`
	Metrics Metrics                     `yaml:"metrics"`
	Data    dataset.Config              `yaml:"data"`
	Engine  Engine                      `yaml:"engine"`
	Route   Route                       `yaml:"route"`
	Logging logging.Config              `yaml:"logging"`
	Tracing observability.TracingConfig `yaml:"tracing"`
}

// Server configures the HTTP listener.
type Server struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// Metrics configures the Prometheus endpoint. An empty Listen serves
// metrics on the main listener.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// Engine configures the external routing process and its supervisor.
type Engine struct {
	engine.Config `yaml:",inline"`

	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
	// DataDir is passed to the engine. Defaults to data.dir.
	DataDir string `yaml:"dataDir"`
}

// Route configures the route facade.
type Route struct {
	CacheSize int `yaml:"cacheSize"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Listen:          ":3000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Metrics: Metrics{Enabled: true, Path: "/metrics"},
		Data:    dataset.DefaultConfig(),
		Engine: Engine{
			Config: engine.DefaultConfig(),
			Binary: "map_v2",
		},
		Route:   Route{CacheSize: 1024},
		Logging: logging.Config{Level: "info", Format: "text"},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load reads the YAML file at path over the defaults and applies the
// environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, configErr(errors.Wrap(err, "read config file"))
		}
		if err := Parse(data, &cfg); err != nil {
			return cfg, configErr(errors.Wrap(err, path))
		}
	}
	if err := FromEnv(&cfg); err != nil {
		return cfg, configErr(err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, rejecting unknown keys.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "decode yaml")
	}
	return nil
}

// FromEnv overrides cfg with ROADGRAPH_* variables and the LOG_LEVEL and
// LOG_FORMAT variables shared with the logging package.
func FromEnv(cfg *Config) error {
	setString(&cfg.Server.Listen, "ROADGRAPH_LISTEN")
	setString(&cfg.Metrics.Listen, "ROADGRAPH_METRICS_LISTEN")
	setString(&cfg.Data.Dir, "ROADGRAPH_DATA_DIR")
	setString(&cfg.Data.Strategy, "ROADGRAPH_STORAGE_STRATEGY")
	setString(&cfg.Engine.Binary, "ROADGRAPH_ENGINE_BINARY")
	setString(&cfg.Engine.DataDir, "ROADGRAPH_ENGINE_DATA_DIR")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")

	if v := os.Getenv("ROADGRAPH_ENGINE_START"); v != "" {
		cfg.Engine.Start = engine.StartPolicy(strings.ToLower(v))
	}
	if v := os.Getenv("ROADGRAPH_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if err := setInt(&cfg.Engine.MaxRestarts, "ROADGRAPH_ENGINE_MAX_RESTARTS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Route.CacheSize, "ROADGRAPH_ROUTE_CACHE_SIZE"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Engine.QueryTimeout, "ROADGRAPH_ENGINE_QUERY_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Engine.ReadyTimeout, "ROADGRAPH_ENGINE_READY_TIMEOUT"); err != nil {
		return err
	}
	cfg.Tracing = cfg.Tracing.ApplyEnv()
	return nil
}

// EngineDataDir is the directory handed to the engine process.
func (c Config) EngineDataDir() string {
	if c.Engine.DataDir != "" {
		return c.Engine.DataDir
	}
	return c.Data.Dir
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Listen == "" {
		return configErr(errors.New("server.listen is required"))
	}
	if c.Server.ShutdownTimeout < 0 {
		return configErr(errors.New("server.shutdownTimeout must not be negative"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return configErr(errors.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	if _, err := graph.ParseStrategy(c.Data.Strategy); err != nil {
		return configErr(errors.Wrap(err, "data.strategy"))
	}
	if c.Data.Nodes == "" {
		return configErr(errors.New("data.nodes is required"))
	}
	if err := c.Engine.validate(); err != nil {
		return configErr(err)
	}
	if c.Route.CacheSize < 0 {
		return configErr(errors.New("route.cacheSize must not be negative"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return configErr(errors.Errorf("tracing.sampleRatio %v must be within [0,1]", c.Tracing.SampleRatio))
	}
	return nil
}

func (e Engine) validate() error {
	switch e.Start {
	case engine.StartLazy, engine.StartEager:
	default:
		return errors.Errorf("engine.start %q must be lazy or eager", e.Start)
	}
	if e.Binary == "" {
		return errors.New("engine.binary is required")
	}
	if e.MaxRestarts < 1 {
		return errors.New("engine.maxRestarts must be at least 1")
	}
	if e.MaxPending < 1 {
		return errors.New("engine.maxPending must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"engine.readyTimeout": e.ReadyTimeout,
		"engine.restartDelay": e.RestartDelay,
	} {
		if d < 0 {
			return errors.Errorf("%s must not be negative", name)
		}
	}
	for name, d := range map[string]time.Duration{
		"engine.startTimeout": e.StartTimeout,
		"engine.queryTimeout": e.QueryTimeout,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func configErr(err error) error {
	return errors.WithMessage(err, "invalid config")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(err, "parse %s", key)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "parse %s", key)
	}
	*dst = d
	return nil
}
