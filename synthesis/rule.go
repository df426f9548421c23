package synthesis

import (
	"fmt"
	"regexp"
	"time"

	"github.com/c360/entitysynth/errors"
)

var identifierPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// TypeConfig carries the per-type behavior shared by every rule of a
// domain/type pair.
type TypeConfig struct {
	// EntityExpiration is the entity lifetime, refreshed on every
	// accepted update. NeverExpires wins over any duration.
	EntityExpiration time.Duration
	NeverExpires     bool

	// Alertable marks entities of this type as incident targets for
	// downstream consumers.
	Alertable bool

	// IsContainer marks short-lived containment entities that default to
	// an aggressive expiration.
	IsContainer bool
}

// Rule declares how one shape of event synthesizes an entity: the guard
// conditions, the identifier and name sources, and the tag mappings.
type Rule struct {
	Conditions []Condition
	Identifier IdentifierSpec
	// NameAttribute is the event attribute the entity name is read from;
	// empty means the resolved identifier doubles as the name.
	NameAttribute string
	// EncodeIdentifierInGUID hashes the identifier into the GUID instead
	// of embedding it verbatim.
	EncodeIdentifierInGUID bool
	Tags                   map[string]TagMapping
}

// TypeRules groups all rules for one domain/type pair, in declaration
// order. Ordering is part of the contract: the first matching rule wins.
type TypeRules struct {
	Domain string
	Type   string
	Config TypeConfig
	// GoldenTags names the tags surfaced as primary and searchable for
	// this type.
	GoldenTags  []string
	HealthRules []HealthRuleDef
	Rules       []Rule
}

// HealthRuleDef is the loader-level form of a health rule, compiled into
// the entity package's evaluator when the snapshot is built.
type HealthRuleDef struct {
	Status string
	When   []TagConditionDef
}

// TagConditionDef is one health clause as declared in a rule file.
type TagConditionDef struct {
	Tag      string
	Operator string
	Value    string
	Values   []string
}

// Validate checks structural soundness of the whole type block at load
// time: evaluation paths downstream assume validated rules.
func (tr *TypeRules) Validate() error {
	wrap := func(err error) error {
		return errors.WrapInvalid(err, "synthesis", "typerules",
			fmt.Sprintf("validate %s:%s", tr.Domain, tr.Type))
	}
	if !identifierPattern.MatchString(tr.Domain) {
		return wrap(fmt.Errorf("%w: invalid domain %q", errors.ErrInvalidRule, tr.Domain))
	}
	if !identifierPattern.MatchString(tr.Type) {
		return wrap(fmt.Errorf("%w: invalid type %q", errors.ErrInvalidRule, tr.Type))
	}
	if len(tr.Rules) == 0 {
		return wrap(fmt.Errorf("%w: no rules declared", errors.ErrInvalidRule))
	}
	for i, rule := range tr.Rules {
		if err := rule.Identifier.Validate(); err != nil {
			return wrap(fmt.Errorf("rule %d: %w", i, err))
		}
		for _, cond := range rule.Conditions {
			if err := cond.Validate(); err != nil {
				return wrap(fmt.Errorf("rule %d: %w", i, err))
			}
		}
		for name, tm := range rule.Tags {
			if err := tm.Validate(name); err != nil {
				return wrap(fmt.Errorf("rule %d: %w", i, err))
			}
		}
	}
	return nil
}

// Key returns the canonical DOMAIN:TYPE pair.
func (tr *TypeRules) Key() string {
	return tr.Domain + ":" + tr.Type
}
