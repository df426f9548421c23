// Package store defines the persistence contracts for entities and
// relationships. Implementations provide optimistic concurrency through
// closure-based updates: callers describe the transformation, the store
// retries it on revision conflicts.
package store

import (
	"context"

	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/relationship"
)

// EntityUpdateFunc transforms the current entity (nil when absent) into
// its replacement. Returning the input unchanged makes the update a
// no-op; returning an error aborts it.
type EntityUpdateFunc func(existing *entity.Entity) (*entity.Entity, error)

// EntityStore persists synthesized entities keyed by GUID.
type EntityStore interface {
	// Get returns the entity or errors.ErrEntityNotFound.
	Get(ctx context.Context, guid string) (*entity.Entity, error)

	// Has reports whether the entity exists.
	Has(ctx context.Context, guid string) (bool, error)

	// Update applies fn under optimistic concurrency: fn may run more
	// than once when writers race, so it must be pure in its input.
	Update(ctx context.Context, guid string, fn EntityUpdateFunc) (*entity.Entity, error)

	// Each visits every entity. The callback receives a private copy.
	Each(ctx context.Context, fn func(*entity.Entity) error) error

	// FindByFields returns entities of the given type whose name,
	// identifier or live tags match every criterion.
	FindByFields(ctx context.Context, category string, match map[string]string) ([]*entity.Entity, error)

	// DeleteIfExpiresAt removes the entity only if its expiry still
	// equals expiresAt. An entity refreshed after the caller observed it
	// survives, which is what makes sweeping safe under concurrency.
	DeleteIfExpiresAt(ctx context.Context, guid string, expiresAt int64) (bool, error)
}

// RelationshipUpdateFunc transforms the current edge (nil when absent)
// into its replacement, with the same contract as EntityUpdateFunc.
type RelationshipUpdateFunc = func(existing *relationship.Relationship) (*relationship.Relationship, error)

// RelationshipStore persists edges keyed by their identity triple.
type RelationshipStore interface {
	// Get returns the edge or errors.ErrRelationshipNotFound.
	Get(ctx context.Context, key string) (*relationship.Relationship, error)

	// Update applies fn under optimistic concurrency.
	Update(ctx context.Context, key string, fn RelationshipUpdateFunc) (*relationship.Relationship, error)

	// Each visits every edge. The callback receives a private copy.
	Each(ctx context.Context, fn func(*relationship.Relationship) error) error

	// DeleteIfExpiresAt removes the edge only if its expiry still equals
	// expiresAt.
	DeleteIfExpiresAt(ctx context.Context, key string, expiresAt int64) (bool, error)
}
