package natsstore

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/pkg/timestamp"
	"github.com/c360/entitysynth/store"
)

// EntityStore implements store.EntityStore on a JetStream KV bucket.
// GUIDs are already KV-safe (base64url alphabet) and are used as keys
// directly.
type EntityStore struct {
	kv kvStore
}

// NewEntityStore wraps the bucket, typically obtained from EnsureBuckets.
func NewEntityStore(bucket jetstream.KeyValue, options Options) *EntityStore {
	return &EntityStore{kv: kvStore{bucket: bucket, options: options}}
}

func (s *EntityStore) Get(ctx context.Context, guid string) (*entity.Entity, error) {
	value, revision, err := s.kv.getRaw(ctx, guid)
	if err != nil {
		return nil, err
	}
	if revision == 0 {
		return nil, errors.ErrEntityNotFound
	}
	var e entity.Entity
	if err := unmarshal(value, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *EntityStore) Has(ctx context.Context, guid string) (bool, error) {
	_, revision, err := s.kv.getRaw(ctx, guid)
	return revision != 0, err
}

func (s *EntityStore) Update(ctx context.Context, guid string, fn store.EntityUpdateFunc) (*entity.Entity, error) {
	var updated *entity.Entity
	_, err := s.kv.updateRaw(ctx, guid, func(current []byte) ([]byte, error) {
		var existing *entity.Entity
		if current != nil {
			existing = new(entity.Entity)
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

func (s *EntityStore) Each(ctx context.Context, fn func(*entity.Entity) error) error {
	return s.kv.eachRaw(ctx, func(_ string, value []byte) error {
		var e entity.Entity
		if err := unmarshal(value, &e); err != nil {
			return err
		}
		return fn(&e)
	})
}

// FindByFields scans the bucket. Lookup traffic is rate-limited by the
// relationship builder, and entity cardinality per bucket is moderate,
// so a scan holds up; a secondary index would be the next step if it
// stops holding up.
func (s *EntityStore) FindByFields(ctx context.Context, category string, match map[string]string) ([]*entity.Entity, error) {
	now := timestamp.Now()
	var found []*entity.Entity
	err := s.Each(ctx, func(e *entity.Entity) error {
		if e.Type != category {
			return nil
		}
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
					return nil
				}
				got = tv.Value
			}
			if got != want {
				return nil
			}
		}
		found = append(found, e.Clone())
		return nil
	})
	return found, err
}

func (s *EntityStore) DeleteIfExpiresAt(ctx context.Context, guid string, expiresAt int64) (bool, error) {
	return s.kv.deleteIfRaw(ctx, guid, func(value []byte) (bool, error) {
		var e entity.Entity
		if err := unmarshal(value, &e); err != nil {
			return false, err
		}
		return e.ExpiresAt == expiresAt, nil
	})
}
