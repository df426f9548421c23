// Package config loads and validates the service configuration for the
// synthesis daemon. Configuration is a single YAML file; environment
// variables referenced as ${VAR} are expanded before decoding.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/entitysynth/engine"
	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/ingest"
	"github.com/c360/entitysynth/store/natsstore"
	"github.com/c360/entitysynth/sweeper"
)

// Store backends.
const (
	StoreMemory = "memory" // in-process maps, state lost on restart
	StoreNATS   = "nats"   // JetStream KV buckets
)

// Logging controls the slog handler installed at startup.
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// NATS holds connection settings shared by ingest, stores and output.
type NATS struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	Credentials    string        `yaml:"credentials"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
}

// Store selects the persistence backend for entities and relationships.
type Store struct {
	Backend        string        `yaml:"backend"`
	MaxCASAttempts int           `yaml:"max_cas_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxRetryDelay  time.Duration `yaml:"max_retry_delay"`
	OpTimeout      time.Duration `yaml:"op_timeout"`
}

// Options maps the store section onto KV CAS tuning.
func (s Store) Options() natsstore.Options {
	opts := natsstore.DefaultOptions()
	if s.MaxCASAttempts > 0 {
		opts.MaxCASAttempts = s.MaxCASAttempts
	}
	if s.RetryDelay > 0 {
		opts.RetryDelay = s.RetryDelay
	}
	if s.MaxRetryDelay > 0 {
		opts.MaxRetryDelay = s.MaxRetryDelay
	}
	if s.OpTimeout > 0 {
		opts.OpTimeout = s.OpTimeout
	}
	return opts
}

// Metrics controls the Prometheus HTTP endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Config is the complete daemon configuration.
type Config struct {
	Logging  Logging         `yaml:"logging"`
	NATS     NATS            `yaml:"nats"`
	Store    Store           `yaml:"store"`
	Metrics  Metrics         `yaml:"metrics"`
	Engine   engine.Config   `yaml:"engine"`
	Subjects engine.Subjects `yaml:"subjects"`
	Ingest   ingest.Config   `yaml:"ingest"`
	Sweeper  sweeper.Config  `yaml:"sweeper"`
}

// Default returns a runnable configuration for a local NATS server with
// in-memory stores. Callers still need to set Engine.RuleDir.
func Default() *Config {
	return &Config{
		Logging: Logging{Level: "info", Format: "json"},
		NATS: NATS{
			URL:            "nats://127.0.0.1:4222",
			Name:           "entitysynth",
			ConnectTimeout: 5 * time.Second,
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
		},
		Store:    Store{Backend: StoreMemory},
		Metrics:  Metrics{Enabled: true, Addr: ":9090", Path: "/metrics"},
		Engine:   engine.DefaultConfig(),
		Subjects: engine.DefaultSubjects(),
		Ingest:   ingest.DefaultConfig(),
		Sweeper:  sweeper.DefaultConfig(),
	}
}

// Load reads the file at path over Default. Unknown YAML keys are
// rejected so typos surface at startup rather than as silently ignored
// sections.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "read config file")
	}

	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "decode yaml")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-section consistency beyond what each component
// validates for itself.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreNATS:
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown store backend %q", c.Store.Backend),
			"config", "Validate", "check store backend")
	}

	if c.NATS.URL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("nats url is required"),
			"config", "Validate", "check nats url")
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown log format %q", c.Logging.Format),
			"config", "Validate", "check log format")
	}

	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Ingest.Validate(); err != nil {
		return err
	}
	return nil
}
