// Package event defines the attribute-bag event model consumed by the
// synthesis engine. Events are immutable: every accessor is read-only and
// processing never mutates the bag.
package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/pkg/timestamp"
)

// Event is a single monitoring event from some provider. Attribute values
// are strings, numbers, bools, or nil as decoded from JSON; a nil value is
// treated the same as an absent attribute.
type Event struct {
	EventType  string         `json:"eventType"`
	AccountID  string         `json:"accountId"`
	Timestamp  int64          `json:"timestamp"` // epoch milliseconds
	Attributes map[string]any `json:"attributes"`
}

// Parse decodes an event from its JSON representation and validates the
// required envelope fields.
func Parse(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.WrapInvalid(err, "event", "Parse", "decode event")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	// Mirror the envelope type into the bag so rules can condition on
	// eventType like any other attribute.
	if e.Attributes == nil {
		e.Attributes = make(map[string]any, 1)
	}
	if _, ok := e.Attributes["eventType"]; !ok {
		e.Attributes["eventType"] = e.EventType
	}
	return &e, nil
}

// Validate checks the event envelope. Attribute contents are never
// validated here: missing or null attributes are normal traffic.
func (e *Event) Validate() error {
	if e.EventType == "" {
		return errors.WrapInvalid(fmt.Errorf("missing eventType"), "event", "Validate", "check envelope")
	}
	if e.AccountID == "" {
		return errors.WrapInvalid(fmt.Errorf("missing accountId"), "event", "Validate", "check envelope")
	}
	if err := timestamp.Validate(e.Timestamp); err != nil {
		return errors.WrapInvalid(err, "event", "Validate", "check timestamp")
	}
	return nil
}

// Get returns the attribute value and whether it is present and non-nil.
func (e *Event) Get(attr string) (any, bool) {
	if e.Attributes == nil {
		return nil, false
	}
	v, ok := e.Attributes[attr]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Has reports whether the attribute is present and non-nil.
func (e *Event) Has(attr string) bool {
	_, ok := e.Get(attr)
	return ok
}

// GetString returns the attribute coerced to its string form.
func (e *Event) GetString(attr string) (string, bool) {
	v, ok := e.Get(attr)
	if !ok {
		return "", false
	}
	return Stringify(v), true
}

// Resolve returns the first present, non-nil attribute from the chain.
func (e *Event) Resolve(chain ...string) (any, bool) {
	for _, attr := range chain {
		if v, ok := e.Get(attr); ok {
			return v, true
		}
	}
	return nil, false
}

// AttributeNames returns the sorted names of present, non-nil attributes.
// Sorting keeps derived hashes deterministic.
func (e *Event) AttributeNames() []string {
	names := make([]string, 0, len(e.Attributes))
	for name, v := range e.Attributes {
		if v != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Stringify renders an attribute value in its canonical string form.
// Whole-number floats render without a decimal point so JSON-decoded
// integers compare equal to their string forms.
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
