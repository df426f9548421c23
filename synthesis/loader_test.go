package synthesis

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/entitysynth/entity"
)

const clusterDefinition = `
domain: INFRA
type: CLUSTER
goldenTags:
  - clusterName
  - environment
configuration:
  entityExpirationTime: EIGHT_DAYS
  alertable: true
healthRules:
  - status: HEALTHY
    when:
      - tag: offlinePartitionsCount
        operator: equals
        value: 0
  - status: CRITICAL
    when:
      - tag: offlinePartitionsCount
        operator: greaterThan
        value: 0
rules:
  - identifier: clusterName
    name: clusterName
    conditions:
      - attribute: eventType
        value: ClusterSample
      - attribute: clusterName
    tags:
      clusterName: {}
      provider:
        value: kafka
      environment:
        fallbackAttribute: [environment, env]
      agentVersion:
        entityTagName: version
        ttl: P5M
`

const topicDefinition = `
domain: INFRA
type: TOPIC
rules:
  - identifier: "topic:{clusterName}:{topic}"
    encodeIdentifierInGUID: true
    conditions:
      - attribute: eventType
        anyOf: [TopicSample, PartitionSample]
`

func writeDefinition(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoaderLoadFile(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "infra-cluster.yml", clusterDefinition)

	loader, err := NewLoader()
	require.NoError(t, err)

	tr, err := loader.LoadFile(filepath.Join(dir, "infra-cluster.yml"))
	require.NoError(t, err)

	assert.Equal(t, "INFRA", tr.Domain)
	assert.Equal(t, "CLUSTER", tr.Type)
	assert.Equal(t, []string{"clusterName", "environment"}, tr.GoldenTags)
	assert.True(t, tr.Config.Alertable)
	assert.Equal(t, 8*24*time.Hour, tr.Config.EntityExpiration)

	require.Len(t, tr.Rules, 1)
	rule := tr.Rules[0]
	assert.Equal(t, "clusterName", rule.Identifier.Attribute)
	assert.Equal(t, "clusterName", rule.NameAttribute)
	require.Len(t, rule.Conditions, 2)
	assert.Equal(t, AttributeEquals, rule.Conditions[0].Kind)
	assert.Equal(t, AttributePresent, rule.Conditions[1].Kind)

	version := rule.Tags["agentVersion"]
	assert.Equal(t, "version", version.EntityTagName)
	assert.Equal(t, 5*time.Minute, version.TTL)

	provider := rule.Tags["provider"]
	assert.True(t, provider.HasValue)
	assert.Equal(t, "kafka", provider.Value)
}

func TestLoaderCompositeIdentifier(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "infra-topic.yml", topicDefinition)

	loader, err := NewLoader()
	require.NoError(t, err)

	tr, err := loader.LoadFile(filepath.Join(dir, "infra-topic.yml"))
	require.NoError(t, err)

	rule := tr.Rules[0]
	assert.True(t, rule.EncodeIdentifierInGUID)
	require.Len(t, rule.Identifier.Fragments, 3)
	assert.Equal(t, "topic:", rule.Identifier.Fragments[0].Literal)
	assert.Equal(t, "clusterName", rule.Identifier.Fragments[1].Attribute)
	assert.Equal(t, AttributeAnyOf, rule.Conditions[0].Kind)
	assert.Equal(t, []string{"TopicSample", "PartitionSample"}, rule.Conditions[0].Values)
}

func TestLoaderRejectsMalformedFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing rules", "domain: INFRA\ntype: CLUSTER\n"},
		{"lowercase domain", "domain: infra\ntype: CLUSTER\nrules:\n  - identifier: x\n"},
		{"unknown key", "domain: INFRA\ntype: CLUSTER\nbogus: 1\nrules:\n  - identifier: x\n"},
		{"bad ttl", "domain: INFRA\ntype: CLUSTER\nrules:\n  - identifier: x\n    tags:\n      a: {ttl: NOPE}\n"},
		{"not yaml", "{{{{"},
	}

	loader, err := NewLoader()
	require.NoError(t, err)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeDefinition(t, dir, "def.yml", tc.body)
			_, err := loader.LoadFile(filepath.Join(dir, "def.yml"))
			assert.Error(t, err)
		})
	}
}

func TestLoadSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "infra-cluster.yml", clusterDefinition)
	writeDefinition(t, dir, "infra-topic.yml", topicDefinition)

	loader, err := NewLoader()
	require.NoError(t, err)

	snap, err := loader.LoadSnapshot(dir)
	require.NoError(t, err)
	require.Len(t, snap.Types, 2)
	assert.NotEmpty(t, snap.ID)

	_, ok := snap.TypeFor("INFRA", "CLUSTER")
	assert.True(t, ok)
	_, ok = snap.TypeFor("INFRA", "HOST")
	assert.False(t, ok)

	health := snap.HealthRulesFor("INFRA", "CLUSTER")
	require.Len(t, health, 2)
	assert.Equal(t, entity.HealthCritical, health[1].Status)
	assert.Equal(t, entity.TagGreaterThan, health[1].When[0].Operator)
}

func TestRegistrySwap(t *testing.T) {
	reg := NewRegistry()
	assert.Nil(t, reg.Active())

	first, err := NewSnapshot([]*TypeRules{{
		Domain: "INFRA", Type: "CLUSTER",
		Rules: []Rule{{Identifier: IdentifierSpec{Attribute: "clusterName"}}},
	}})
	require.NoError(t, err)

	prev := reg.Swap(first)
	assert.Nil(t, prev)
	assert.Equal(t, int64(1), reg.Active().Version)

	second, err := NewSnapshot([]*TypeRules{{
		Domain: "INFRA", Type: "CLUSTER",
		Rules: []Rule{{Identifier: IdentifierSpec{Attribute: "clusterName"}}},
	}})
	require.NoError(t, err)

	prev = reg.Swap(second)
	assert.Same(t, first, prev)
	assert.Equal(t, int64(2), reg.Active().Version)
}
