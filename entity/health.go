package entity

import (
	"strconv"
	"strings"
)

// HealthStatus is the categorical health summary derived from an entity's
// live tags. It is a pure view over current state, never persisted.
type HealthStatus string

const (
	HealthUnknown  HealthStatus = "UNKNOWN"
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthWarning  HealthStatus = "WARNING"
	HealthCritical HealthStatus = "CRITICAL"
)

// severity orders statuses so rule evaluation can pick the worst match.
func (s HealthStatus) severity() int {
	switch s {
	case HealthCritical:
		return 3
	case HealthWarning:
		return 2
	case HealthHealthy:
		return 1
	default:
		return 0
	}
}

// TagOperator compares a live tag value against a rule operand.
type TagOperator string

const (
	TagEquals      TagOperator = "equals"
	TagNotEquals   TagOperator = "notEquals"
	TagPresent     TagOperator = "present"
	TagAbsent      TagOperator = "absent"
	TagAnyOf       TagOperator = "anyOf"
	TagGreaterThan TagOperator = "greaterThan"
	TagLessThan    TagOperator = "lessThan"
)

// TagCondition is one clause of a health rule, evaluated against an
// entity's live tags. Numeric comparison is used when both sides parse as
// numbers; otherwise values compare lexically.
type TagCondition struct {
	Tag      string      `yaml:"tag" json:"tag"`
	Operator TagOperator `yaml:"operator" json:"operator"`
	Value    string      `yaml:"value,omitempty" json:"value,omitempty"`
	Values   []string    `yaml:"values,omitempty" json:"values,omitempty"`
}

// Matches evaluates the condition against the entity at now. Expired tags
// count as absent.
func (c TagCondition) Matches(e *Entity, now int64) bool {
	tv, ok := e.Tag(c.Tag, now)
	switch c.Operator {
	case TagPresent:
		return ok
	case TagAbsent:
		return !ok
	case TagEquals:
		return ok && compareTagValues(tv.Value, c.Value) == 0
	case TagNotEquals:
		return ok && compareTagValues(tv.Value, c.Value) != 0
	case TagAnyOf:
		if !ok {
			return false
		}
		for _, v := range c.Values {
			if compareTagValues(tv.Value, v) == 0 {
				return true
			}
		}
		return false
	case TagGreaterThan:
		return ok && compareTagValues(tv.Value, c.Value) > 0
	case TagLessThan:
		return ok && compareTagValues(tv.Value, c.Value) < 0
	default:
		return false
	}
}

// compareTagValues compares numerically when both sides parse as floats,
// lexically otherwise.
func compareTagValues(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// HealthRule assigns a status when all of its conditions hold. Rules for a
// type are evaluated together and the most severe matching status wins;
// an entity matching no rule is UNKNOWN.
type HealthRule struct {
	Status HealthStatus   `yaml:"status" json:"status"`
	When   []TagCondition `yaml:"when" json:"when"`
}

// EvaluateHealth derives the entity's health from its live tags at now.
func EvaluateHealth(rules []HealthRule, e *Entity, now int64) HealthStatus {
	status := HealthUnknown
	for _, rule := range rules {
		matched := len(rule.When) > 0
		for _, cond := range rule.When {
			if !cond.Matches(e, now) {
				matched = false
				break
			}
		}
		if matched && rule.Status.severity() > status.severity() {
			status = rule.Status
		}
	}
	return status
}
