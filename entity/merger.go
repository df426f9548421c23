package entity

import (
	"fmt"
	"time"

	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/pkg/timestamp"
)

// Update is one synthesized mutation bound for an entity: the identity
// fields derived from a matched rule, the extracted tags, and the
// expiration policy of the entity's type.
type Update struct {
	GUID       string
	AccountID  string
	Domain     string
	Type       string
	Identifier string
	Name       string
	EventTime  int64
	Tags       map[string]TagValue

	// Expiration is the per-type entity lifetime, refreshed from
	// EventTime on every accepted update. NeverExpires pins ExpiresAt
	// to zero regardless of Expiration.
	Expiration   time.Duration
	NeverExpires bool
}

// Merger folds updates into entities. Per-tag conflict resolution is
// last-writer-wins by event time: an incoming tag whose event time is at
// or after the stored tag's wins, an older one is dropped without error.
// Identity fields never change after creation; a GUID arriving with a
// different domain, type or identifier is a collision and is rejected.
type Merger struct{}

// NewMerger returns a Merger.
func NewMerger() *Merger {
	return &Merger{}
}

// Apply merges update into existing and returns the resulting entity. A
// nil existing creates the entity. The returned changed flag is false
// when every incoming tag lost its event-time race and nothing but the
// last-seen bookkeeping moved.
func (m *Merger) Apply(existing *Entity, update Update) (*Entity, bool, error) {
	if update.GUID == "" {
		return nil, false, errors.WrapInvalid(
			fmt.Errorf("update has empty guid"), "merger", "apply", "validate update")
	}

	if existing == nil {
		return m.create(update), true, nil
	}

	if existing.Domain != update.Domain ||
		existing.Type != update.Type ||
		existing.Identifier != update.Identifier {
		return nil, false, errors.WrapFatal(
			fmt.Errorf("%w: guid %s holds %s:%s:%q, update carries %s:%s:%q",
				errors.ErrGUIDCollision,
				existing.GUID, existing.Domain, existing.Type, existing.Identifier,
				update.Domain, update.Type, update.Identifier),
			"merger", "apply", "verify identity")
	}

	out := existing.Clone()
	changed := false

	for name, incoming := range update.Tags {
		current, ok := out.Tags[name]
		if ok && incoming.SetByEventTime < current.SetByEventTime {
			continue
		}
		if !ok || current != incoming {
			changed = true
		}
		out.Tags[name] = incoming
	}

	if update.Name != "" && update.EventTime >= out.LastSeenEventTime && update.Name != out.Name {
		out.Name = update.Name
		changed = true
	}

	if update.EventTime > out.LastSeenEventTime {
		out.LastSeenEventTime = update.EventTime
	}
	out.ExpiresAt = expiryFor(update)

	return out, changed, nil
}

func (m *Merger) create(update Update) *Entity {
	tags := make(map[string]TagValue, len(update.Tags))
	for name, tv := range update.Tags {
		tags[name] = tv
	}
	return &Entity{
		GUID:              update.GUID,
		AccountID:         update.AccountID,
		Domain:            update.Domain,
		Type:              update.Type,
		Identifier:        update.Identifier,
		Name:              update.Name,
		Tags:              tags,
		LastSeenEventTime: update.EventTime,
		ExpiresAt:         expiryFor(update),
		CreatedAt:         timestamp.Now(),
	}
}

// expiryFor refreshes the entity lifetime from the update's event time.
// Expiry tracks activity, not wall-clock ingestion.
func expiryFor(update Update) int64 {
	if update.NeverExpires || update.Expiration <= 0 {
		return 0
	}
	return timestamp.Add(update.EventTime, update.Expiration)
}
