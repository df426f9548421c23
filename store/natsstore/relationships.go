package natsstore

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/relationship"
	"github.com/c360/entitysynth/store"
)

// RelationshipStore implements store.RelationshipStore on a JetStream KV
// bucket. Edge keys carry "|" separators, which the KV key alphabet
// forbids, so keys are base64url-encoded on the way in.
type RelationshipStore struct {
	kv kvStore
}

// NewRelationshipStore wraps the bucket.
func NewRelationshipStore(bucket jetstream.KeyValue, options Options) *RelationshipStore {
	return &RelationshipStore{kv: kvStore{bucket: bucket, options: options}}
}

func (s *RelationshipStore) Get(ctx context.Context, key string) (*relationship.Relationship, error) {
	value, revision, err := s.kv.getRaw(ctx, encodeKey(key))
	if err != nil {
		return nil, err
	}
	if revision == 0 {
		return nil, errors.ErrRelationshipNotFound
	}
	var r relationship.Relationship
	if err := unmarshal(value, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RelationshipStore) Update(ctx context.Context, key string, fn store.RelationshipUpdateFunc) (*relationship.Relationship, error) {
	var updated *relationship.Relationship
	_, err := s.kv.updateRaw(ctx, encodeKey(key), func(current []byte) ([]byte, error) {
		var existing *relationship.Relationship
		if current != nil {
			existing = new(relationship.Relationship)
			if err := unmarshal(current, existing); err != nil {
				return nil, err
			}
		}
		next, err := fn(existing)
		if err != nil {
			return nil, err
		}
		updated = next
		if next == nil {
			return nil, nil
		}
		return marshal(next)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *RelationshipStore) Each(ctx context.Context, fn func(*relationship.Relationship) error) error {
	return s.kv.eachRaw(ctx, func(_ string, value []byte) error {
		var r relationship.Relationship
		if err := unmarshal(value, &r); err != nil {
			return err
		}
		return fn(&r)
	})
}

func (s *RelationshipStore) DeleteIfExpiresAt(ctx context.Context, key string, expiresAt int64) (bool, error) {
	return s.kv.deleteIfRaw(ctx, encodeKey(key), func(value []byte) (bool, error) {
		var r relationship.Relationship
		if err := unmarshal(value, &r); err != nil {
			return false, err
		}
		return r.ExpiresAt == expiresAt, nil
	})
}
