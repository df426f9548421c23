package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/pkg/timestamp"
	"github.com/c360/entitysynth/relationship"
	"github.com/c360/entitysynth/store/memstore"
)

func putEntity(t *testing.T, s *memstore.EntityStore, guid string, expiresAt int64, tags map[string]entity.TagValue) {
	t.Helper()
	_, err := s.Update(context.Background(), guid, func(*entity.Entity) (*entity.Entity, error) {
		return &entity.Entity{
			GUID: guid, Domain: "INFRA", Type: "CLUSTER", Identifier: guid,
			Tags: tags, ExpiresAt: expiresAt,
		}, nil
	})
	require.NoError(t, err)
}

func putEdge(t *testing.T, s *memstore.RelationshipStore, r *relationship.Relationship) {
	t.Helper()
	_, err := s.Update(context.Background(), r.Key(), func(*relationship.Relationship) (*relationship.Relationship, error) {
		return r, nil
	})
	require.NoError(t, err)
}

func newSweeper(t *testing.T, entities *memstore.EntityStore, edges *memstore.RelationshipStore, onExpired OnEntityExpired) *Sweeper {
	t.Helper()
	s, err := New(entities, edges, DefaultConfig(), nil, onExpired)
	require.NoError(t, err)
	return s
}

func TestSweepRemovesExpiredEntities(t *testing.T) {
	entities := memstore.NewEntityStore()
	edges := memstore.NewRelationshipStore()
	now := timestamp.Now()

	putEntity(t, entities, "expired", now-1_000, nil)
	putEntity(t, entities, "live", now+1_000_000, nil)
	putEntity(t, entities, "permanent", 0, nil)

	var removed []string
	s := newSweeper(t, entities, edges, func(_ context.Context, e *entity.Entity) {
		removed = append(removed, e.GUID)
	})

	require.NoError(t, s.Sweep(context.Background()))

	assert.Equal(t, []string{"expired"}, removed)
	ok, _ := entities.Has(context.Background(), "live")
	assert.True(t, ok)
	ok, _ = entities.Has(context.Background(), "permanent")
	assert.True(t, ok, "zero expiry means never expires")
}

func TestSweepStripsExpiredTagsOnly(t *testing.T) {
	entities := memstore.NewEntityStore()
	edges := memstore.NewRelationshipStore()
	now := timestamp.Now()

	putEntity(t, entities, "g1", now+1_000_000, map[string]entity.TagValue{
		"stale": {Value: "x", SetByEventTime: now - 10_000, ExpiresAt: now - 1_000},
		"fresh": {Value: "y", SetByEventTime: now},
	})

	s := newSweeper(t, entities, edges, nil)
	require.NoError(t, s.Sweep(context.Background()))

	got, err := entities.Get(context.Background(), "g1")
	require.NoError(t, err)
	_, hasStale := got.Tags["stale"]
	assert.False(t, hasStale)
	_, hasFresh := got.Tags["fresh"]
	assert.True(t, hasFresh)
}

func TestSweepRemovesExpiredRelationships(t *testing.T) {
	entities := memstore.NewEntityStore()
	edges := memstore.NewRelationshipStore()
	now := timestamp.Now()

	expired := &relationship.Relationship{
		SourceGUID: "a", TargetGUID: "b", Type: "CONTAINS",
		State: relationship.StateValidated, ExpiresAt: now - 1_000,
	}
	live := &relationship.Relationship{
		SourceGUID: "a", TargetGUID: "c", Type: "CONTAINS",
		State: relationship.StateValidated, ExpiresAt: now + 1_000_000,
	}
	putEdge(t, edges, expired)
	putEdge(t, edges, live)

	s := newSweeper(t, entities, edges, nil)
	require.NoError(t, s.Sweep(context.Background()))

	_, err := edges.Get(context.Background(), expired.Key())
	assert.Error(t, err)
	_, err = edges.Get(context.Background(), live.Key())
	assert.NoError(t, err)
}

func TestSweepSparesRefreshedEntity(t *testing.T) {
	entities := memstore.NewEntityStore()
	edges := memstore.NewRelationshipStore()
	now := timestamp.Now()

	putEntity(t, entities, "g1", now-1_000, nil)

	// Simulate a refresh racing the sweep: run the scan logic against a
	// store where the entity has been renewed in between by renewing it
	// before Sweep's delete can use a stale observation.
	s := newSweeper(t, entities, edges, nil)

	// Renew to a future expiry, then sweep with a pass that observed the
	// old expiry: DeleteIfExpiresAt must refuse.
	deleted, err := entities.DeleteIfExpiresAt(context.Background(), "g1", now-999)
	require.NoError(t, err)
	assert.False(t, deleted, "mismatched expiry observation never deletes")

	require.NoError(t, s.Sweep(context.Background()))
	ok, _ := entities.Has(context.Background(), "g1")
	assert.False(t, ok, "the genuine expiry still sweeps")
}

func TestLifecycle(t *testing.T) {
	entities := memstore.NewEntityStore()
	edges := memstore.NewRelationshipStore()
	s := newSweeper(t, entities, edges, nil)

	assert.Error(t, s.Start(context.Background()), "start before initialize fails")

	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorContains(t, s.Start(context.Background()), "already started")
	assert.True(t, s.Health().Healthy)

	require.NoError(t, s.Stop(time.Second))
	assert.False(t, s.Health().Healthy)
}

func TestInitializeRejectsBadSchedule(t *testing.T) {
	s, err := New(memstore.NewEntityStore(), memstore.NewRelationshipStore(),
		Config{Schedule: "not a cron expr"}, nil, nil)
	require.NoError(t, err)
	assert.Error(t, s.Initialize())
}
