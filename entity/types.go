// Package entity provides the durable entity record, the event-time tag
// merger that owns all entity mutations, and derived health evaluation.
package entity

import (
	"github.com/c360/entitysynth/pkg/timestamp"
)

// TagValue is a single named attribute on an entity. A zero ExpiresAt
// means the tag persists until superseded or the entity itself expires; a
// non-zero ExpiresAt removes the tag independently of the entity's
// lifecycle.
type TagValue struct {
	Value          string `json:"value"`
	SetByEventTime int64  `json:"set_by_event_time"`
	ExpiresAt      int64  `json:"expires_at,omitempty"`
}

// Expired reports whether the tag's own TTL has elapsed at now.
func (tv TagValue) Expired(now int64) bool {
	return tv.ExpiresAt != 0 && tv.ExpiresAt < now
}

// Entity is a typed, identity-bearing record synthesized from events.
// GUID is immutable for the entity's lifetime: it is a pure function of
// account, domain, type and identifier, never of mutable data.
type Entity struct {
	GUID       string              `json:"guid"`
	AccountID  string              `json:"account_id"`
	Domain     string              `json:"domain"`
	Type       string              `json:"type"`
	Identifier string              `json:"identifier"`
	Name       string              `json:"name"`
	Tags       map[string]TagValue `json:"tags"`

	LastSeenEventTime int64 `json:"last_seen_event_time"`
	ExpiresAt         int64 `json:"expires_at,omitempty"` // 0 = never expires
	CreatedAt         int64 `json:"created_at"`
}

// Expired reports whether the entity's expiry has elapsed at now.
func (e *Entity) Expired(now int64) bool {
	return e.ExpiresAt != 0 && e.ExpiresAt < now
}

// Tag returns the live value of a tag, treating an expired tag as absent.
func (e *Entity) Tag(name string, now int64) (TagValue, bool) {
	tv, ok := e.Tags[name]
	if !ok || tv.Expired(now) {
		return TagValue{}, false
	}
	return tv, true
}

// LiveTags returns a copy of the tags that have not expired at now.
func (e *Entity) LiveTags(now int64) map[string]TagValue {
	live := make(map[string]TagValue, len(e.Tags))
	for name, tv := range e.Tags {
		if !tv.Expired(now) {
			live[name] = tv
		}
	}
	return live
}

// RemoveExpiredTags drops tags whose own TTL has elapsed, without touching
// the entity's expiry. Returns the number of tags removed.
func (e *Entity) RemoveExpiredTags(now int64) int {
	removed := 0
	for name, tv := range e.Tags {
		if tv.Expired(now) {
			delete(e.Tags, name)
			removed++
		}
	}
	return removed
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate shared state.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Tags = make(map[string]TagValue, len(e.Tags))
	for name, tv := range e.Tags {
		clone.Tags[name] = tv
	}
	return &clone
}

// Record is the entity representation published to the storage/indexing
// collaborator. GoldenTags carries the subset of tags designated primary
// and searchable for the entity's type.
type Record struct {
	GUID       string            `json:"guid"`
	Domain     string            `json:"domain"`
	Type       string            `json:"type"`
	Name       string            `json:"name"`
	Tags       map[string]string `json:"tags"`
	GoldenTags map[string]string `json:"golden_tags,omitempty"`
	Health     HealthStatus      `json:"health"`
	ExpiresAt  int64             `json:"expires_at,omitempty"`
}

// ToRecord projects the entity into its published form. goldenTags names
// the tags surfaced as primary for the entity's type; healthRules derive
// the categorical health summary (a view recomputed on every read, never
// stored).
func (e *Entity) ToRecord(goldenTags []string, healthRules []HealthRule) Record {
	now := timestamp.Now()
	tags := make(map[string]string, len(e.Tags))
	for name, tv := range e.Tags {
		if !tv.Expired(now) {
			tags[name] = tv.Value
		}
	}

	var golden map[string]string
	if len(goldenTags) > 0 {
		golden = make(map[string]string, len(goldenTags))
		for _, name := range goldenTags {
			if v, ok := tags[name]; ok {
				golden[name] = v
			}
		}
	}

	return Record{
		GUID:       e.GUID,
		Domain:     e.Domain,
		Type:       e.Type,
		Name:       e.Name,
		Tags:       tags,
		GoldenTags: golden,
		Health:     EvaluateHealth(healthRules, e, now),
		ExpiresAt:  e.ExpiresAt,
	}
}
