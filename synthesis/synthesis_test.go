package synthesis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/entitysynth/errors"
	"github.com/c360/entitysynth/event"
)

func clusterEvent() *event.Event {
	return &event.Event{
		EventType: "ClusterSample",
		AccountID: "1",
		Timestamp: 1700000000000,
		Attributes: map[string]any{
			"eventType":   "ClusterSample",
			"clusterName": "prod-cluster",
		},
	}
}

func TestConditionMatches(t *testing.T) {
	e := &event.Event{
		EventType: "ClusterSample",
		AccountID: "1",
		Timestamp: 1700000000000,
		Attributes: map[string]any{
			"eventType":   "ClusterSample",
			"clusterName": "prod",
			"partitions":  float64(12),
			"ghost":       nil,
		},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals hit", Condition{Kind: AttributeEquals, Attribute: "eventType", Value: "ClusterSample"}, true},
		{"equals miss", Condition{Kind: AttributeEquals, Attribute: "eventType", Value: "HostSample"}, false},
		{"equals numeric", Condition{Kind: AttributeEquals, Attribute: "partitions", Value: "12"}, true},
		{"equals on missing attribute", Condition{Kind: AttributeEquals, Attribute: "nope", Value: "x"}, false},
		{"present", Condition{Kind: AttributePresent, Attribute: "clusterName"}, true},
		{"null value is absent", Condition{Kind: AttributePresent, Attribute: "ghost"}, false},
		{"absent", Condition{Kind: AttributeAbsent, Attribute: "nope"}, true},
		{"anyOf hit", Condition{Kind: AttributeAnyOf, Attribute: "eventType", Values: []string{"HostSample", "ClusterSample"}}, true},
		{"anyOf miss", Condition{Kind: AttributeAnyOf, Attribute: "eventType", Values: []string{"HostSample"}}, false},
		{"negated equals", Condition{Kind: AttributeEquals, Attribute: "eventType", Value: "HostSample", Negate: true}, true},
		{"negated absent on missing", Condition{Kind: AttributeAbsent, Attribute: "nope", Negate: true}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cond.Matches(e))
		})
	}
}

func TestIdentifierSpecResolve(t *testing.T) {
	e := &event.Event{
		Timestamp: 1700000000000,
		Attributes: map[string]any{
			"clusterName": "prod",
			"topic":       "orders",
			"hostname":    "",
		},
	}

	t.Run("direct attribute", func(t *testing.T) {
		got, err := IdentifierSpec{Attribute: "clusterName"}.Resolve(e)
		require.NoError(t, err)
		assert.Equal(t, "prod", got)
	})

	t.Run("missing direct attribute", func(t *testing.T) {
		_, err := IdentifierSpec{Attribute: "nope"}.Resolve(e)
		assert.ErrorIs(t, err, errors.ErrIdentifierUnresolved)
	})

	t.Run("fallback chain skips empty", func(t *testing.T) {
		got, err := IdentifierSpec{FallbackChain: []string{"hostname", "clusterName"}}.Resolve(e)
		require.NoError(t, err)
		assert.Equal(t, "prod", got)
	})

	t.Run("composite fragments", func(t *testing.T) {
		frags, err := ParseIdentifierTemplate("topic:{clusterName}:{topic}")
		require.NoError(t, err)
		got, err := IdentifierSpec{Fragments: frags}.Resolve(e)
		require.NoError(t, err)
		assert.Equal(t, "topic:prod:orders", got)
	})

	t.Run("fragment short-circuits on missing attribute", func(t *testing.T) {
		frags, err := ParseIdentifierTemplate("{clusterName}:{nope}")
		require.NoError(t, err)
		_, err = IdentifierSpec{Fragments: frags}.Resolve(e)
		assert.ErrorIs(t, err, errors.ErrIdentifierUnresolved)
	})
}

func TestGUIDDeterminism(t *testing.T) {
	a := GUID("1", "INFRA", "CLUSTER", "prod-cluster", false)
	b := GUID("1", "INFRA", "CLUSTER", "prod-cluster", false)
	assert.Equal(t, a, b)

	// Case-normalized domain and type collapse to the same identity.
	assert.Equal(t, a, GUID("1", "infra", "cluster", "prod-cluster", false))

	// Any differing component changes the GUID.
	assert.NotEqual(t, a, GUID("2", "INFRA", "CLUSTER", "prod-cluster", false))
	assert.NotEqual(t, a, GUID("1", "INFRA", "BROKER", "prod-cluster", false))
	assert.NotEqual(t, a, GUID("1", "INFRA", "CLUSTER", "other", false))
	assert.NotEqual(t, a, GUID("1", "INFRA", "CLUSTER", "prod-cluster", true))
}

func TestGUIDDecodeRoundTrip(t *testing.T) {
	guid := GUID("42", "INFRA", "TOPIC", "topic:prod:orders", false)
	account, domain, typ, id, ok := DecodeGUID(guid)
	require.True(t, ok)
	assert.Equal(t, "42", account)
	assert.Equal(t, "INFRA", domain)
	assert.Equal(t, "TOPIC", typ)
	assert.Equal(t, "topic:prod:orders", id)

	_, _, _, _, ok = DecodeGUID("not base64!!!")
	assert.False(t, ok)
}

func TestGUIDEncodedIdentifierIsDeterministic(t *testing.T) {
	long := make([]byte, 4096)
	for i := range long {
		long[i] = byte('a' + i%26)
	}
	a := GUID("1", "INFRA", "CLUSTER", string(long), true)
	b := GUID("1", "INFRA", "CLUSTER", string(long), true)
	assert.Equal(t, a, b)
	assert.Less(t, len(a), 120, "encoded identifier bounds guid length")
}

func TestExtractTags(t *testing.T) {
	e := &event.Event{
		Timestamp: 1700000000000,
		Attributes: map[string]any{
			"clusterName":  "prod",
			"agentVersion": "1.2.3",
			"env":          "production",
		},
	}
	rule := &Rule{Tags: map[string]TagMapping{
		"clusterName":  {},
		"provider":     {Value: "kafka", HasValue: true},
		"environment":  {FallbackChain: []string{"environment", "env"}},
		"agentVersion": {EntityTagName: "version", TTL: 5 * time.Minute},
		"missing":      {},
	}}

	tags := ExtractTags(rule, e)

	assert.Equal(t, "prod", tags["clusterName"].Value)
	assert.Equal(t, "kafka", tags["provider"].Value)
	assert.Equal(t, "production", tags["environment"].Value)

	version, ok := tags["version"]
	require.True(t, ok, "renamed tag stored under entityTagName")
	assert.Equal(t, "1.2.3", version.Value)
	assert.Equal(t, e.Timestamp+int64(5*time.Minute/time.Millisecond), version.ExpiresAt)

	_, ok = tags["missing"]
	assert.False(t, ok, "absent source attribute skips the tag")

	for _, tv := range tags {
		assert.Equal(t, e.Timestamp, tv.SetByEventTime)
	}
}

func TestMatchEvent(t *testing.T) {
	cluster := &TypeRules{
		Domain: "INFRA", Type: "CLUSTER",
		Rules: []Rule{
			{
				Conditions: []Condition{{Kind: AttributeEquals, Attribute: "eventType", Value: "ClusterSample"}},
				Identifier: IdentifierSpec{Attribute: "clusterName"},
			},
			{
				// Shadowed by the first rule for ClusterSample events.
				Conditions: []Condition{{Kind: AttributePresent, Attribute: "clusterName"}},
				Identifier: IdentifierSpec{Attribute: "clusterName"},
			},
		},
	}
	broker := &TypeRules{
		Domain: "INFRA", Type: "BROKER",
		Rules: []Rule{{
			Conditions: []Condition{{Kind: AttributePresent, Attribute: "brokerId"}},
			Identifier: IdentifierSpec{Attribute: "brokerId"},
		}},
	}
	types := []*TypeRules{cluster, broker}

	t.Run("first rule wins and shadowing is counted", func(t *testing.T) {
		matches := MatchEvent(types, clusterEvent())
		require.Len(t, matches, 1)
		assert.Same(t, cluster, matches[0].Type)
		assert.Same(t, &cluster.Rules[0], matches[0].Rule)
		assert.Equal(t, 1, matches[0].AmbiguousWith)
	})

	t.Run("one event can match several types", func(t *testing.T) {
		e := clusterEvent()
		e.Attributes["brokerId"] = "7"
		matches := MatchEvent(types, e)
		require.Len(t, matches, 2)
	})

	t.Run("no match is empty, not an error", func(t *testing.T) {
		e := &event.Event{Timestamp: 1, Attributes: map[string]any{"x": "y"}}
		assert.Empty(t, MatchEvent(types, e))
	})
}
