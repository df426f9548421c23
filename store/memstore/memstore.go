// Package memstore provides in-memory store implementations backed by
// maps and an RWMutex. It is the store of choice for tests and
// single-node deployments without durability requirements.
package memstore

import (
	"context"
	"sync"

	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/pkg/timestamp"
	"github.com/c360/entitysynth/relationship"
	"github.com/c360/entitysynth/store"
)

// EntityStore implements store.EntityStore over a map.
type EntityStore struct {
	mu       sync.RWMutex
	entities map[string]*entity.Entity
}

// NewEntityStore returns an empty in-memory entity store.
func NewEntityStore() *EntityStore {
	return &EntityStore{entities: make(map[string]*entity.Entity)}
}

func (s *EntityStore) Get(ctx context.Context, guid string) (*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[guid]
	if !ok {
		return nil, errors.ErrEntityNotFound
	}
	return e.Clone(), nil
}

func (s *EntityStore) Has(ctx context.Context, guid string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entities[guid]
	return ok, nil
}

func (s *EntityStore) Update(ctx context.Context, guid string, fn store.EntityUpdateFunc) (*entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *entity.Entity
	if cur, ok := s.entities[guid]; ok {
		existing = cur.Clone()
	}
	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		delete(s.entities, guid)
		return nil, nil
	}
	s.entities[guid] = next.Clone()
	return next, nil
}

func (s *EntityStore) Each(ctx context.Context, fn func(*entity.Entity) error) error {
	s.mu.RLock()
	snapshot := make([]*entity.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		snapshot = append(snapshot, e.Clone())
	}
	s.mu.RUnlock()

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *EntityStore) FindByFields(ctx context.Context, category string, match map[string]string) ([]*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []*entity.Entity
	for _, e := range s.entities {
		if e.Type != category {
			continue
		}
		if entityMatches(e, match) {
			found = append(found, e.Clone())
		}
	}
	return found, nil
}

// entityMatches checks every criterion against the entity's intrinsic
// fields first, then its tags. Expired tags do not match.
func entityMatches(e *entity.Entity, match map[string]string) bool {
	now := timestamp.Now()
	for field, want := range match {
		var got string
		switch field {
		case "name":
			got = e.Name
		case "identifier":
			got = e.Identifier
		case "domain":
			got = e.Domain
		case "accountId":
			got = e.AccountID
		default:
			tv, ok := e.Tag(field, now)
			if !ok {
				return false
			}
			got = tv.Value
		}
		if got != want {
			return false
		}
	}
	return true
}

func (s *EntityStore) DeleteIfExpiresAt(ctx context.Context, guid string, expiresAt int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[guid]
	if !ok || e.ExpiresAt != expiresAt {
		return false, nil
	}
	delete(s.entities, guid)
	return true, nil
}

// RelationshipStore implements store.RelationshipStore over a map.
type RelationshipStore struct {
	mu    sync.RWMutex
	edges map[string]*relationship.Relationship
}

// NewRelationshipStore returns an empty in-memory relationship store.
func NewRelationshipStore() *RelationshipStore {
	return &RelationshipStore{edges: make(map[string]*relationship.Relationship)}
}

func (s *RelationshipStore) Get(ctx context.Context, key string) (*relationship.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.edges[key]
	if !ok {
		return nil, errors.ErrRelationshipNotFound
	}
	return r.Clone(), nil
}

func (s *RelationshipStore) Update(ctx context.Context, key string, fn store.RelationshipUpdateFunc) (*relationship.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *relationship.Relationship
	if cur, ok := s.edges[key]; ok {
		existing = cur.Clone()
	}
	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		delete(s.edges, key)
		return nil, nil
	}
	s.edges[key] = next.Clone()
	return next, nil
}

func (s *RelationshipStore) Each(ctx context.Context, fn func(*relationship.Relationship) error) error {
	s.mu.RLock()
	snapshot := make([]*relationship.Relationship, 0, len(s.edges))
	for _, r := range s.edges {
		snapshot = append(snapshot, r.Clone())
	}
	s.mu.RUnlock()

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *RelationshipStore) DeleteIfExpiresAt(ctx context.Context, key string, expiresAt int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.edges[key]
	if !ok || r.ExpiresAt != expiresAt {
		return false, nil
	}
	delete(s.edges, key)
	return true, nil
}
