package synthesis

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/pkg/timestamp"
)

// Snapshot is an immutable, versioned rule set. Every event is evaluated
// against exactly one snapshot; reloads build a new snapshot and swap it
// in atomically, so no event ever sees half of two rule sets.
type Snapshot struct {
	ID       string
	Version  int64
	LoadedAt int64

	Types []*TypeRules

	byKey  map[string]*TypeRules
	health map[string][]entity.HealthRule
}

// NewSnapshot validates and compiles a rule set into a snapshot. The
// input slice is owned by the snapshot afterwards.
func NewSnapshot(types []*TypeRules) (*Snapshot, error) {
	s := &Snapshot{
		ID:       uuid.NewString(),
		LoadedAt: timestamp.Now(),
		Types:    types,
		byKey:    make(map[string]*TypeRules, len(types)),
		health:   make(map[string][]entity.HealthRule, len(types)),
	}
	for _, tr := range types {
		if err := tr.Validate(); err != nil {
			return nil, err
		}
		key := tr.Key()
		if _, dup := s.byKey[key]; dup {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: duplicate type block %s", errors.ErrInvalidRule, key),
				"synthesis", "snapshot", "compile")
		}
		s.byKey[key] = tr

		compiled, err := compileHealthRules(tr.HealthRules)
		if err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("type %s: %w", key, err), "synthesis", "snapshot", "compile health rules")
		}
		s.health[key] = compiled
	}
	return s, nil
}

// TypeFor returns the rule block for a domain/type pair.
func (s *Snapshot) TypeFor(domain, entityType string) (*TypeRules, bool) {
	tr, ok := s.byKey[domain+":"+entityType]
	return tr, ok
}

// HealthRulesFor returns the compiled health rules for a domain/type pair.
func (s *Snapshot) HealthRulesFor(domain, entityType string) []entity.HealthRule {
	return s.health[domain+":"+entityType]
}

func compileHealthRules(defs []HealthRuleDef) ([]entity.HealthRule, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	rules := make([]entity.HealthRule, 0, len(defs))
	for _, def := range defs {
		status := entity.HealthStatus(def.Status)
		switch status {
		case entity.HealthHealthy, entity.HealthWarning, entity.HealthCritical, entity.HealthUnknown:
		default:
			return nil, fmt.Errorf("%w: unknown health status %q", errors.ErrInvalidRule, def.Status)
		}
		when := make([]entity.TagCondition, 0, len(def.When))
		for _, c := range def.When {
			op := entity.TagOperator(c.Operator)
			switch op {
			case entity.TagEquals, entity.TagNotEquals, entity.TagPresent, entity.TagAbsent,
				entity.TagAnyOf, entity.TagGreaterThan, entity.TagLessThan:
			default:
				return nil, fmt.Errorf("%w: unknown health operator %q", errors.ErrInvalidRule, c.Operator)
			}
			when = append(when, entity.TagCondition{
				Tag:      c.Tag,
				Operator: op,
				Value:    c.Value,
				Values:   c.Values,
			})
		}
		rules = append(rules, entity.HealthRule{Status: status, When: when})
	}
	return rules, nil
}

// Registry hands out the active snapshot to the hot path and swaps in
// replacements without locking readers.
type Registry struct {
	current atomic.Pointer[Snapshot]
	version atomic.Int64
}

// NewRegistry returns an empty registry; Active returns nil until the
// first Swap.
func NewRegistry() *Registry {
	return &Registry{}
}

// Active returns the snapshot events are currently evaluated against.
func (r *Registry) Active() *Snapshot {
	return r.current.Load()
}

// Swap installs next as the active snapshot, assigns it the next version
// number and returns the snapshot it replaced.
func (r *Registry) Swap(next *Snapshot) *Snapshot {
	next.Version = r.version.Add(1)
	return r.current.Swap(next)
}
