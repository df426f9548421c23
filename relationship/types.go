// Package relationship derives typed, TTL-bound edges between entity
// GUIDs from the same event stream that synthesizes the entities
// themselves.
package relationship

import (
	"fmt"

	"github.com/c360/entitysynth/errors"
)

// State tracks an edge through its lifecycle. Edges are proposed as soon
// as both endpoint GUIDs are known, validated once both endpoints are
// confirmed to exist, and expired when their TTL elapses without renewal.
type State string

const (
	StateProposed  State = "PROPOSED"
	StateValidated State = "VALIDATED"
	StateExpired   State = "EXPIRED"
)

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StateProposed, StateValidated, StateExpired:
		return true
	}
	return false
}

// canAdvanceTo restricts transitions to the forward direction. A
// validated edge re-proposed by a fresh event stays validated; only the
// sweeper moves edges to expired.
func (s State) canAdvanceTo(next State) bool {
	switch s {
	case StateProposed:
		return next == StateValidated || next == StateExpired
	case StateValidated:
		return next == StateExpired
	default:
		return false
	}
}

// Relationship is a directed, typed edge between two entity GUIDs.
// Identity is (source, type, target); everything else is renewable
// bookkeeping.
type Relationship struct {
	SourceGUID string `json:"source_guid"`
	TargetGUID string `json:"target_guid"`
	Type       string `json:"type"`

	State             State `json:"state"`
	CreatedAt         int64 `json:"created_at"`
	LastSeenEventTime int64 `json:"last_seen_event_time"`
	ExpiresAt         int64 `json:"expires_at"`
}

// Key returns the identity triple in canonical form.
func (r *Relationship) Key() string {
	return r.SourceGUID + "|" + r.Type + "|" + r.TargetGUID
}

// Expired reports whether the edge's TTL has elapsed at now.
func (r *Relationship) Expired(now int64) bool {
	return r.ExpiresAt != 0 && r.ExpiresAt < now
}

// Advance moves the edge to next, rejecting backward transitions.
func (r *Relationship) Advance(next State) error {
	if !next.IsValid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown relationship state %q", next),
			"relationship", "advance", "validate state")
	}
	if r.State == next {
		return nil
	}
	if !r.State.canAdvanceTo(next) {
		return errors.WrapInvalid(
			fmt.Errorf("cannot move relationship %s from %s to %s", r.Key(), r.State, next),
			"relationship", "advance", "check transition")
	}
	r.State = next
	return nil
}

// Clone returns a copy. Stores hand out clones to keep internal state
// unshared.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
