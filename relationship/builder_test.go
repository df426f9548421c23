package relationship

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/entitysynth/entity"
	"github.com/c360/entitysynth/event"
	"github.com/c360/entitysynth/synthesis"
)

type fakeFinder struct {
	results map[string][]*entity.Entity
	err     error
	calls   int
}

func (f *fakeFinder) FindByFields(_ context.Context, category string, _ map[string]string) ([]*entity.Entity, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results[category], nil
}

func brokerEvent() *event.Event {
	return &event.Event{
		EventType: "BrokerSample",
		AccountID: "1",
		Timestamp: 1700000000000,
		Attributes: map[string]any{
			"eventType":   "BrokerSample",
			"clusterName": "prod",
			"brokerId":    "7",
		},
	}
}

func containsRule() Rule {
	return Rule{
		Name: "cluster-contains-broker",
		Type: "CONTAINS",
		TTL:  75 * time.Minute,
		Conditions: []synthesis.Condition{
			{Kind: synthesis.AttributeEquals, Attribute: "eventType", Value: "BrokerSample"},
		},
		Source: Endpoint{
			Strategy:   StrategyBuild,
			Domain:     "INFRA",
			Type:       "CLUSTER",
			Identifier: synthesis.IdentifierSpec{Attribute: "clusterName"},
		},
		Target: Endpoint{
			Strategy:   StrategyBuild,
			Domain:     "INFRA",
			Type:       "BROKER",
			Identifier: synthesis.IdentifierSpec{Attribute: "brokerId"},
		},
	}
}

func TestProposeBuildsBothEndpoints(t *testing.T) {
	b, err := NewBuilder([]Rule{containsRule()}, nil, DefaultBuilderConfig())
	require.NoError(t, err)

	e := brokerEvent()
	edges, err := b.Propose(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	edge := edges[0]
	assert.Equal(t, synthesis.GUID("1", "INFRA", "CLUSTER", "prod", false), edge.SourceGUID)
	assert.Equal(t, synthesis.GUID("1", "INFRA", "BROKER", "7", false), edge.TargetGUID)
	assert.Equal(t, "CONTAINS", edge.Type)
	assert.Equal(t, StateProposed, edge.State)
	assert.Equal(t, e.Timestamp, edge.LastSeenEventTime)
	assert.Equal(t, e.Timestamp+int64(75*time.Minute/time.Millisecond), edge.ExpiresAt)
}

func TestProposeSkipsWhenConditionsFail(t *testing.T) {
	b, err := NewBuilder([]Rule{containsRule()}, nil, DefaultBuilderConfig())
	require.NoError(t, err)

	e := brokerEvent()
	e.Attributes["eventType"] = "HostSample"
	edges, err := b.Propose(context.Background(), e)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestProposeSkipsUnresolvedEndpoint(t *testing.T) {
	b, err := NewBuilder([]Rule{containsRule()}, nil, DefaultBuilderConfig())
	require.NoError(t, err)

	e := brokerEvent()
	delete(e.Attributes, "brokerId")
	edges, err := b.Propose(context.Background(), e)
	require.NoError(t, err, "an unresolvable endpoint skips the edge, not the event")
	assert.Empty(t, edges)
}

func TestProposeRejectsSelfLoop(t *testing.T) {
	rule := containsRule()
	rule.Target = rule.Source

	b, err := NewBuilder([]Rule{rule}, nil, DefaultBuilderConfig())
	require.NoError(t, err)

	edges, err := b.Propose(context.Background(), brokerEvent())
	require.NoError(t, err)
	assert.Empty(t, edges, "source equal to target is never an edge")
}

func TestProposeExtractStrategy(t *testing.T) {
	rule := containsRule()
	rule.Target = Endpoint{Strategy: StrategyExtract, Attribute: "brokerGuid"}

	b, err := NewBuilder([]Rule{rule}, nil, DefaultBuilderConfig())
	require.NoError(t, err)

	e := brokerEvent()
	e.Attributes["brokerGuid"] = "precomputed-guid"
	edges, err := b.Propose(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "precomputed-guid", edges[0].TargetGUID)
}

func TestProposeLookupStrategy(t *testing.T) {
	rule := containsRule()
	rule.Target = Endpoint{
		Strategy: StrategyLookup,
		Category: "BROKER",
		Match:    map[string]string{"name": "brokerId"},
	}

	t.Run("single match resolves", func(t *testing.T) {
		finder := &fakeFinder{results: map[string][]*entity.Entity{
			"BROKER": {{GUID: "broker-guid"}},
		}}
		b, err := NewBuilder([]Rule{rule}, finder, DefaultBuilderConfig())
		require.NoError(t, err)

		edges, err := b.Propose(context.Background(), brokerEvent())
		require.NoError(t, err)
		require.Len(t, edges, 1)
		assert.Equal(t, "broker-guid", edges[0].TargetGUID)
	})

	t.Run("no match skips", func(t *testing.T) {
		b, err := NewBuilder([]Rule{rule}, &fakeFinder{}, DefaultBuilderConfig())
		require.NoError(t, err)

		edges, err := b.Propose(context.Background(), brokerEvent())
		require.NoError(t, err)
		assert.Empty(t, edges)
	})

	t.Run("ambiguous match skips", func(t *testing.T) {
		finder := &fakeFinder{results: map[string][]*entity.Entity{
			"BROKER": {{GUID: "a"}, {GUID: "b"}},
		}}
		b, err := NewBuilder([]Rule{rule}, finder, DefaultBuilderConfig())
		require.NoError(t, err)

		edges, err := b.Propose(context.Background(), brokerEvent())
		require.NoError(t, err)
		assert.Empty(t, edges)
	})

	t.Run("lookup without finder is a config error", func(t *testing.T) {
		_, err := NewBuilder([]Rule{rule}, nil, DefaultBuilderConfig())
		assert.Error(t, err)
	})
}
