package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synthd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: text
nats:
  url: nats://nats.internal:4222
store:
  backend: nats
  op_timeout: 10s
engine:
  rule_dir: /etc/synthd/rules
  workers: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)
	assert.Equal(t, StoreNATS, cfg.Store.Backend)
	assert.Equal(t, 10*time.Second, cfg.Store.Options().OpTimeout)
	assert.Equal(t, 4, cfg.Engine.Workers)

	// Untouched sections keep their defaults.
	assert.Equal(t, "EVENTS", cfg.Ingest.Stream)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "entitysynth.entities", cfg.Subjects.Entities)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("SYNTHD_NATS_URL", "nats://10.0.0.5:4222")

	path := writeConfig(t, `
nats:
  url: ${SYNTHD_NATS_URL}
engine:
  rule_dir: /etc/synthd/rules
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://10.0.0.5:4222", cfg.NATS.URL)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
engine:
  rule_dir: /etc/synthd/rules
  worker_count: 4
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults with rule dir",
			mutate: func(c *Config) { c.Engine.RuleDir = "/etc/synthd/rules" },
		},
		{
			name: "unknown backend",
			mutate: func(c *Config) {
				c.Engine.RuleDir = "/etc/synthd/rules"
				c.Store.Backend = "redis"
			},
			wantErr: true,
		},
		{
			name: "missing nats url",
			mutate: func(c *Config) {
				c.Engine.RuleDir = "/etc/synthd/rules"
				c.NATS.URL = ""
			},
			wantErr: true,
		},
		{
			name: "bad log format",
			mutate: func(c *Config) {
				c.Engine.RuleDir = "/etc/synthd/rules"
				c.Logging.Format = "xml"
			},
			wantErr: true,
		},
		{
			name:    "missing rule dir",
			mutate:  func(*Config) {},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
