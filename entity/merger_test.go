package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/pkg/timestamp"
)

func baseUpdate(eventTime int64) Update {
	return Update{
		GUID:       "MXxJTkZSQXxDTFVTVEVSfHByb2Q",
		AccountID:  "1",
		Domain:     "INFRA",
		Type:       "CLUSTER",
		Identifier: "prod-cluster",
		Name:       "prod-cluster",
		EventTime:  eventTime,
		Expiration: 8 * 24 * time.Hour,
		Tags: map[string]TagValue{
			"clusterName": {Value: "prod-cluster", SetByEventTime: eventTime},
			"environment": {Value: "production", SetByEventTime: eventTime},
		},
	}
}

func TestMergerCreate(t *testing.T) {
	m := NewMerger()
	now := timestamp.Now()

	ent, changed, err := m.Apply(nil, baseUpdate(now))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "prod-cluster", ent.Identifier)
	assert.Equal(t, "production", ent.Tags["environment"].Value)
	assert.Equal(t, now, ent.LastSeenEventTime)
	assert.Equal(t, timestamp.Add(now, 8*24*time.Hour), ent.ExpiresAt)
}

func TestMergerLastWriterWinsByEventTime(t *testing.T) {
	m := NewMerger()
	base := timestamp.Now()

	ent, _, err := m.Apply(nil, baseUpdate(base))
	require.NoError(t, err)

	// A late-arriving event with an OLDER event time must not clobber
	// newer tag values.
	stale := baseUpdate(base - 60_000)
	stale.Tags["environment"] = TagValue{Value: "staging", SetByEventTime: base - 60_000}

	merged, changed, err := m.Apply(ent, stale)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "production", merged.Tags["environment"].Value)
	assert.Equal(t, base, merged.LastSeenEventTime)
}

func TestMergerNewerTagWins(t *testing.T) {
	m := NewMerger()
	base := timestamp.Now()

	ent, _, err := m.Apply(nil, baseUpdate(base))
	require.NoError(t, err)

	next := baseUpdate(base + 10_000)
	next.Tags["environment"] = TagValue{Value: "staging", SetByEventTime: base + 10_000}

	merged, changed, err := m.Apply(ent, next)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "staging", merged.Tags["environment"].Value)
	assert.Equal(t, base+10_000, merged.LastSeenEventTime)
}

func TestMergerReplayIsIdempotent(t *testing.T) {
	m := NewMerger()
	base := timestamp.Now()
	update := baseUpdate(base)

	first, _, err := m.Apply(nil, update)
	require.NoError(t, err)

	second, changed, err := m.Apply(first, update)
	require.NoError(t, err)
	assert.False(t, changed, "replaying the identical update must be a no-op")
	assert.Equal(t, first.Tags, second.Tags)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
}

func TestMergerRefreshesExpiry(t *testing.T) {
	m := NewMerger()
	base := timestamp.Now()

	ent, _, err := m.Apply(nil, baseUpdate(base))
	require.NoError(t, err)

	later := baseUpdate(base + int64(time.Hour/time.Millisecond))
	merged, _, err := m.Apply(ent, later)
	require.NoError(t, err)
	assert.Greater(t, merged.ExpiresAt, ent.ExpiresAt)
}

func TestMergerNeverExpires(t *testing.T) {
	m := NewMerger()
	update := baseUpdate(timestamp.Now())
	update.NeverExpires = true

	ent, _, err := NewMerger().Apply(nil, update)
	require.NoError(t, err)
	assert.Zero(t, ent.ExpiresAt)
	_ = m
}

func TestMergerGUIDCollision(t *testing.T) {
	m := NewMerger()
	base := timestamp.Now()

	ent, _, err := m.Apply(nil, baseUpdate(base))
	require.NoError(t, err)

	clash := baseUpdate(base + 1)
	clash.Identifier = "other-cluster"

	_, _, err = m.Apply(ent, clash)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrGUIDCollision)
	assert.True(t, errors.IsFatal(err))
}

func TestMergerTagTTLIndependence(t *testing.T) {
	m := NewMerger()
	base := timestamp.Now()

	update := baseUpdate(base)
	update.Tags["agentVersion"] = TagValue{
		Value:          "1.2.3",
		SetByEventTime: base,
		ExpiresAt:      base + int64(5*time.Minute/time.Millisecond),
	}

	ent, _, err := m.Apply(nil, update)
	require.NoError(t, err)

	afterTagTTL := base + int64(6*time.Minute/time.Millisecond)
	_, ok := ent.Tag("agentVersion", afterTagTTL)
	assert.False(t, ok, "tag past its own TTL is absent")
	assert.False(t, ent.Expired(afterTagTTL), "entity outlives its expired tag")

	removed := ent.RemoveExpiredTags(afterTagTTL)
	assert.Equal(t, 1, removed)
	_, present := ent.Tags["agentVersion"]
	assert.False(t, present)
}
