package synthesis

import (
	"fmt"
	"time"

	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/event"
	"github.com/c360/entitysynth/pkg/timestamp"
)

// TagMapping declares how one entity tag is produced from an event. The
// map key under which the mapping lives is the default source attribute
// and default tag name; the fields below override pieces of that default.
type TagMapping struct {
	// Value pins the tag to a constant; no attribute is read.
	Value string
	// HasValue distinguishes an explicit empty constant from no constant.
	HasValue bool
	// SourceAttribute reads a different event attribute than the map key.
	SourceAttribute string
	// FallbackChain tries attributes in order until one is present.
	FallbackChain []string
	// EntityTagName stores the tag under a different name than the map key.
	EntityTagName string
	// TTL expires this tag independently of the entity; zero means the
	// tag lives as long as the entity.
	TTL time.Duration
}

// Validate rejects mappings that combine mutually exclusive sources.
func (tm TagMapping) Validate(key string) error {
	sources := 0
	if tm.HasValue {
		sources++
	}
	if tm.SourceAttribute != "" {
		sources++
	}
	if len(tm.FallbackChain) > 0 {
		sources++
	}
	if sources > 1 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: tag %q declares more than one value source", errors.ErrInvalidRule, key),
			"synthesis", "tagmapping", "validate")
	}
	if tm.TTL < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: tag %q has negative ttl", errors.ErrInvalidRule, key),
			"synthesis", "tagmapping", "validate")
	}
	return nil
}

// ExtractTags materializes a rule's tag mappings against an event. Tags
// whose source attribute is absent are skipped silently; extraction never
// fails an otherwise-matched event. Every produced value carries the
// event's timestamp so the merger can arbitrate writer order, and tag
// TTLs are anchored to event time, not ingestion time.
func ExtractTags(rule *Rule, e *event.Event) map[string]entity.TagValue {
	out := make(map[string]entity.TagValue, len(rule.Tags))
	for key, tm := range rule.Tags {
		var value string
		switch {
		case tm.HasValue:
			value = tm.Value
		case len(tm.FallbackChain) > 0:
			v, ok := e.Resolve(tm.FallbackChain...)
			if !ok {
				continue
			}
			value = event.Stringify(v)
		default:
			attr := tm.SourceAttribute
			if attr == "" {
				attr = key
			}
			v, ok := e.Get(attr)
			if !ok {
				continue
			}
			value = event.Stringify(v)
		}

		name := key
		if tm.EntityTagName != "" {
			name = tm.EntityTagName
		}

		tv := entity.TagValue{Value: value, SetByEventTime: e.Timestamp}
		if tm.TTL > 0 {
			tv.ExpiresAt = timestamp.Add(e.Timestamp, tm.TTL)
		}
		out[name] = tv
	}
	return out
}
