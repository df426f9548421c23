// Package natsstore persists entities and relationships in NATS
// JetStream key-value buckets. Closure updates run as CAS loops on the
// entry revision, so concurrent writers on different nodes converge
// without locks.
package natsstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/pkg/retry"
)

const (
	// EntityBucket and RelationshipBucket are the KV bucket names.
	EntityBucket       = "ENTITIES"
	RelationshipBucket = "RELATIONSHIPS"

	maxValueSize = 1 << 20
)

// Options tunes the CAS behavior shared by both stores.
type Options struct {
	MaxCASAttempts int
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration
	OpTimeout      time.Duration
}

// DefaultOptions returns CAS settings tuned for high-contention entity
// keys: many short retries with jittered backoff.
func DefaultOptions() Options {
	return Options{
		MaxCASAttempts: 10,
		RetryDelay:     10 * time.Millisecond,
		MaxRetryDelay:  time.Second,
		OpTimeout:      5 * time.Second,
	}
}

func (o Options) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  o.MaxCASAttempts,
		InitialDelay: o.RetryDelay,
		MaxDelay:     o.MaxRetryDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// EnsureBuckets creates the entity and relationship buckets if missing
// and returns handles to both.
func EnsureBuckets(ctx context.Context, js jetstream.JetStream) (jetstream.KeyValue, jetstream.KeyValue, error) {
	entities, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       EntityBucket,
		Description:  "synthesized entities keyed by guid",
		MaxValueSize: maxValueSize,
		Storage:      jetstream.FileStorage,
	})
	if err != nil {
		return nil, nil, errors.WrapTransient(err, "natsstore", "ensure", "create entity bucket")
	}
	relationships, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       RelationshipBucket,
		Description:  "entity relationships keyed by source|type|target",
		MaxValueSize: maxValueSize,
		Storage:      jetstream.FileStorage,
	})
	if err != nil {
		return nil, nil, errors.WrapTransient(err, "natsstore", "ensure", "create relationship bucket")
	}
	return entities, relationships, nil
}

// kvStore is the bucket-generic machinery both typed stores share.
type kvStore struct {
	bucket  jetstream.KeyValue
	options Options
}

func (s *kvStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.options.OpTimeout > 0 {
		return context.WithTimeout(ctx, s.options.OpTimeout)
	}
	return ctx, func() {}
}

// getRaw returns the value and revision, or revision 0 for a missing key.
func (s *kvStore) getRaw(ctx context.Context, key string) ([]byte, uint64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, nil
		}
		return nil, 0, errors.WrapTransient(
			fmt.Errorf("%w: get %s: %v", errors.ErrStoreUnavailable, key, err),
			"natsstore", "kv", "get")
	}
	return entry.Value(), entry.Revision(), nil
}

// updateRaw runs the closure-based CAS loop: read value+revision, apply
// fn, write back guarded by the revision. A nil result deletes the key.
// Revision conflicts retry with backoff; closure errors abort
// immediately since re-running the same logic cannot help.
func (s *kvStore) updateRaw(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) ([]byte, error) {
	var result []byte
	err := retry.Do(ctx, s.options.retryConfig(), func() error {
		current, revision, err := s.getRaw(ctx, key)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return retry.NonRetryable(err)
		}
		if next != nil && len(next) > maxValueSize {
			return retry.NonRetryable(errors.WrapInvalid(
				fmt.Errorf("value for %s is %d bytes, max %d", key, len(next), maxValueSize),
				"natsstore", "kv", "validate size"))
		}

		opCtx, cancel := s.withTimeout(ctx)
		defer cancel()

		switch {
		case next == nil && revision == 0:
			// Deleting an absent key is a no-op.
		case next == nil:
			if err := s.bucket.Delete(opCtx, key, jetstream.LastRevision(revision)); err != nil {
				return s.casError(err, key)
			}
		case revision == 0:
			if _, err := s.bucket.Create(opCtx, key, next); err != nil {
				return s.casError(err, key)
			}
		default:
			if _, err := s.bucket.Update(opCtx, key, next, revision); err != nil {
				return s.casError(err, key)
			}
		}
		result = next
		return nil
	})
	return result, err
}

// casError maps a write failure to a retryable conflict or a transient
// infrastructure error.
func (s *kvStore) casError(err error, key string) error {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("%w: %s: %v", errors.ErrRevisionConflict, key, err)
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return fmt.Errorf("%w: %s: %v", errors.ErrRevisionConflict, key, err)
	}
	return errors.WrapTransient(
		fmt.Errorf("%w: write %s: %v", errors.ErrStoreUnavailable, key, err),
		"natsstore", "kv", "write")
}

// eachRaw visits every key in the bucket. Listing and reads race with
// writers; keys deleted mid-scan are skipped.
func (s *kvStore) eachRaw(ctx context.Context, fn func(key string, value []byte) error) error {
	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: list keys: %v", errors.ErrStoreUnavailable, err),
			"natsstore", "kv", "list")
	}
	defer lister.Stop()

	for key := range lister.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, revision, err := s.getRaw(ctx, key)
		if err != nil {
			return err
		}
		if revision == 0 {
			continue
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// deleteIfRaw deletes key only when check approves the current value,
// using the read revision as the CAS guard so a concurrent refresh wins.
func (s *kvStore) deleteIfRaw(ctx context.Context, key string, check func(value []byte) (bool, error)) (bool, error) {
	current, revision, err := s.getRaw(ctx, key)
	if err != nil || revision == 0 {
		return false, err
	}
	ok, err := check(current)
	if err != nil || !ok {
		return false, err
	}

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.bucket.Delete(opCtx, key, jetstream.LastRevision(revision)); err != nil {
		if casErr := s.casError(err, key); errors.Is(casErr, errors.ErrRevisionConflict) {
			// The key was refreshed after we read it; it survives.
			return false, nil
		}
		return false, errors.WrapTransient(
			fmt.Errorf("%w: delete %s: %v", errors.ErrStoreUnavailable, key, err),
			"natsstore", "kv", "delete")
	}
	return true, nil
}

// encodeKey maps an arbitrary store key onto the KV-safe alphabet.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func marshal[T any](v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, "natsstore", "kv", "marshal")
	}
	return data, nil
}

func unmarshal[T any](data []byte, v *T) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.WrapInvalid(err, "natsstore", "kv", "unmarshal")
	}
	return nil
}
