// Package synthesis matches raw events against declarative rules and
// derives entity identity: conditions, identifier resolution, GUID
// generation, tag extraction and versioned rule snapshots.
package synthesis

import (
	"fmt"

	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/event"
)

// ConditionKind enumerates the closed set of condition variants. There is
// deliberately no expression language here: a condition either reads an
// attribute or it does not, which keeps evaluation pure and rules easy to
// audit.
type ConditionKind string

const (
	// AttributeEquals matches when the attribute is present and its
	// stringified value equals Value.
	AttributeEquals ConditionKind = "attributeEquals"
	// AttributePresent matches when the attribute is present with a
	// non-null value.
	AttributePresent ConditionKind = "attributePresent"
	// AttributeAbsent matches when the attribute is missing or null.
	AttributeAbsent ConditionKind = "attributeAbsent"
	// AttributeAnyOf matches when the attribute is present and its
	// stringified value equals any element of Values.
	AttributeAnyOf ConditionKind = "attributeAnyOf"
)

// Condition is one predicate over an event's attribute bag. Negate
// inverts the result after the base variant evaluates. Evaluation never
// errors: a missing attribute simply fails Equals/Present/AnyOf and
// satisfies Absent.
type Condition struct {
	Kind      ConditionKind
	Attribute string
	Value     string
	Values    []string
	Negate    bool
}

// Matches evaluates the condition against e.
func (c Condition) Matches(e *event.Event) bool {
	var matched bool
	switch c.Kind {
	case AttributeEquals:
		v, ok := e.Get(c.Attribute)
		matched = ok && event.Stringify(v) == c.Value
	case AttributePresent:
		matched = e.Has(c.Attribute)
	case AttributeAbsent:
		matched = !e.Has(c.Attribute)
	case AttributeAnyOf:
		if v, ok := e.Get(c.Attribute); ok {
			s := event.Stringify(v)
			for _, want := range c.Values {
				if s == want {
					matched = true
					break
				}
			}
		}
	}
	if c.Negate {
		return !matched
	}
	return matched
}

// Validate checks the condition is structurally sound at rule-load time so
// evaluation can stay error-free.
func (c Condition) Validate() error {
	if c.Attribute == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: condition missing attribute", errors.ErrInvalidRule),
			"synthesis", "condition", "validate")
	}
	switch c.Kind {
	case AttributeEquals, AttributePresent, AttributeAbsent:
	case AttributeAnyOf:
		if len(c.Values) == 0 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: anyOf condition for %q has no values", errors.ErrInvalidRule, c.Attribute),
				"synthesis", "condition", "validate")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown condition kind %q", errors.ErrInvalidRule, c.Kind),
			"synthesis", "condition", "validate")
	}
	return nil
}

// MatchesAll reports whether every condition holds. An empty slice matches
// everything; rules that want to catch all events of a type declare no
// conditions.
func MatchesAll(conds []Condition, e *event.Event) bool {
	for _, c := range conds {
		if !c.Matches(e) {
			return false
		}
	}
	return true
}
