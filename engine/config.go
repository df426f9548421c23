package engine

import (
	"fmt"
	"time"

	"github.com/c360/entitysynth/dedup"
	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/relationship"
)

// Config drives the synthesis engine.
type Config struct {
	// RuleDir holds entity definition files; RelationshipRuleDir holds
	// relationship rule files and may be empty.
	RuleDir             string `yaml:"rule_dir"`
	RelationshipRuleDir string `yaml:"relationship_rule_dir"`

	// Workers and QueueSize shape the key-sharded pool. Events for the
	// same entity always land on the same worker, preserving per-entity
	// order.
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	Dedup        dedup.Config               `yaml:"dedup"`
	Relationship relationship.BuilderConfig `yaml:"relationship"`

	// ValidationInterval is how often proposed relationships are
	// re-checked for promotion.
	ValidationInterval time.Duration `yaml:"validation_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:            8,
		QueueSize:          1024,
		Dedup:              dedup.DefaultConfig(),
		Relationship:       relationship.DefaultBuilderConfig(),
		ValidationInterval: 30 * time.Second,
	}
}

// Validate checks the parts the engine cannot default its way out of.
func (c *Config) Validate() error {
	if c.RuleDir == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: rule_dir", errors.ErrMissingConfig),
			"engine", "config", "validate")
	}
	if c.Workers <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: workers must be positive", errors.ErrInvalidConfig),
			"engine", "config", "validate")
	}
	if c.QueueSize <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: queue_size must be positive", errors.ErrInvalidConfig),
			"engine", "config", "validate")
	}
	if c.ValidationInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: validation_interval must be positive", errors.ErrInvalidConfig),
			"engine", "config", "validate")
	}
	return nil
}
