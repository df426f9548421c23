package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostRules = `
domain: INFRA
type: HOST
rules:
  - identifier: hostname
    conditions:
      - attribute: eventType
        value: SystemSample
    tags:
      hostname: {}
`

const hostEdgeRules = `
relationships:
  - name: host-contains-process
    relationshipType: CONTAINS
    ttl: P5M
    conditions:
      - attribute: eventType
        value: ProcessSample
    source:
      buildGuid:
        domain: INFRA
        type: HOST
        identifier: hostname
    target:
      buildGuid:
        domain: INFRA
        type: PROCESS
        identifier: "{hostname}:{processId}"
`

func writeRuleDir(t *testing.T, name, body string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o600))
	return dir
}

func runValidate(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"validate"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	rules := writeRuleDir(t, "hosts", hostRules)
	edges := writeRuleDir(t, "edges", hostEdgeRules)

	out, err := runValidate(t, "--rules", rules, "--relationship-rules", edges)
	require.NoError(t, err)
	assert.Contains(t, out, "1 entity types OK")
	assert.Contains(t, out, "1 relationship rules OK")
}

func TestValidateCommandRejectsBadRule(t *testing.T) {
	rules := writeRuleDir(t, "hosts", "domain: INFRA\ntype: HOST\nrules: []\n")

	_, err := runValidate(t, "--rules", rules)
	assert.Error(t, err)
}

func TestValidateCommandRequiresRuleDir(t *testing.T) {
	_, err := runValidate(t)
	assert.Error(t, err)
}
