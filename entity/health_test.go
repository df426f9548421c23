package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/entitysynth/pkg/timestamp"
)

func clusterHealthRules() []HealthRule {
	return []HealthRule{
		{
			Status: HealthHealthy,
			When: []TagCondition{
				{Tag: "activeControllerCount", Operator: TagEquals, Value: "1"},
				{Tag: "offlinePartitionsCount", Operator: TagEquals, Value: "0"},
			},
		},
		{
			Status: HealthWarning,
			When: []TagCondition{
				{Tag: "underReplicatedPartitions", Operator: TagGreaterThan, Value: "0"},
			},
		},
		{
			Status: HealthCritical,
			When: []TagCondition{
				{Tag: "offlinePartitionsCount", Operator: TagGreaterThan, Value: "0"},
			},
		},
	}
}

func clusterEntity(tags map[string]string) *Entity {
	now := timestamp.Now()
	e := &Entity{
		GUID:   "guid-1",
		Domain: "INFRA",
		Type:   "CLUSTER",
		Tags:   map[string]TagValue{},
	}
	for k, v := range tags {
		e.Tags[k] = TagValue{Value: v, SetByEventTime: now}
	}
	return e
}

func TestEvaluateHealth(t *testing.T) {
	now := timestamp.Now()

	tests := []struct {
		name string
		tags map[string]string
		want HealthStatus
	}{
		{
			name: "healthy cluster",
			tags: map[string]string{
				"activeControllerCount":  "1",
				"offlinePartitionsCount": "0",
			},
			want: HealthHealthy,
		},
		{
			name: "offline partitions are critical",
			tags: map[string]string{
				"activeControllerCount":  "1",
				"offlinePartitionsCount": "2",
			},
			want: HealthCritical,
		},
		{
			name: "under-replication warns",
			tags: map[string]string{
				"activeControllerCount":     "1",
				"offlinePartitionsCount":    "0",
				"underReplicatedPartitions": "3",
			},
			// Healthy and Warning both match; the worse status wins.
			want: HealthWarning,
		},
		{
			name: "no matching rule",
			tags: map[string]string{"clusterName": "prod"},
			want: HealthUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateHealth(clusterHealthRules(), clusterEntity(tc.tags), now)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateHealthIgnoresExpiredTags(t *testing.T) {
	now := timestamp.Now()
	e := clusterEntity(map[string]string{"activeControllerCount": "1"})
	e.Tags["offlinePartitionsCount"] = TagValue{
		Value:          "0",
		SetByEventTime: now - 10_000,
		ExpiresAt:      now - 1_000,
	}

	got := EvaluateHealth(clusterHealthRules(), e, now)
	assert.Equal(t, HealthUnknown, got, "expired tag must not satisfy a condition")
}

func TestTagConditionNumericComparison(t *testing.T) {
	now := timestamp.Now()
	e := clusterEntity(map[string]string{"count": "10"})

	// "10" > "9" numerically even though it sorts before lexically.
	cond := TagCondition{Tag: "count", Operator: TagGreaterThan, Value: "9"}
	assert.True(t, cond.Matches(e, now))
}

func TestToRecordGoldenTags(t *testing.T) {
	now := timestamp.Now()
	e := clusterEntity(map[string]string{
		"clusterName": "prod",
		"environment": "production",
		"internal":    "x",
	})
	e.Name = "prod"
	e.ExpiresAt = now + 1_000_000

	rec := e.ToRecord([]string{"clusterName", "missing"}, clusterHealthRules())
	assert.Equal(t, map[string]string{"clusterName": "prod"}, rec.GoldenTags)
	assert.Equal(t, "x", rec.Tags["internal"])
	assert.Equal(t, HealthUnknown, rec.Health)
}
