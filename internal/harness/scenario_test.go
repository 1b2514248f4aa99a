package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes a scenario file next to an empty manifest directory.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "manifest"), 0755))
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
manifest: manifest
steps:
  - block: 10
    ops:
      - {op: set, entity: Token, id: A1, data: {owner: x, amount: 5}}
  - revert: 5
  - query:
      entity: Token
      where: {owner: x}
      expect: []
assertions:
  - type: head
    block: 5
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "manifest"), scenario.Manifest)
	require.Len(t, scenario.Steps, 3)
	assert.Equal(t, int64(10), *scenario.Steps[0].Block)
	assert.Equal(t, "x", scenario.Steps[0].Ops[0].Data["owner"])
	assert.Equal(t, int64(5), *scenario.Steps[1].Revert)
	assert.Equal(t, "Token", scenario.Steps[2].Query.Entity)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertHead, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "Typo in a key"
manifest: manifest
steps:
  - block: 1
assertion:
  - type: no_violations
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing name",
			body:    "description: d\nmanifest: manifest\nsteps:\n  - block: 1\n",
			wantErr: "name is required",
		},
		{
			name:    "missing manifest dir",
			body:    "name: n\ndescription: d\nmanifest: nowhere\nsteps:\n  - block: 1\n",
			wantErr: "manifest directory not found",
		},
		{
			name:    "no steps",
			body:    "name: n\ndescription: d\nmanifest: manifest\n",
			wantErr: "steps list is required",
		},
		{
			name:    "two kinds in one step",
			body:    "name: n\ndescription: d\nmanifest: manifest\nsteps:\n  - block: 1\n    revert: 0\n",
			wantErr: "exactly one of block, revert, prune or query",
		},
		{
			name:    "ops without block",
			body:    "name: n\ndescription: d\nmanifest: manifest\nsteps:\n  - prune: 1\n    ops: [{op: set, entity: T, id: a}]\n",
			wantErr: "ops and hash are only valid with block",
		},
		{
			name:    "unknown op",
			body:    "name: n\ndescription: d\nmanifest: manifest\nsteps:\n  - block: 1\n    ops: [{op: upsert, entity: T, id: a}]\n",
			wantErr: "op must be set or remove",
		},
		{
			name:    "remove with data",
			body:    "name: n\ndescription: d\nmanifest: manifest\nsteps:\n  - block: 1\n    ops: [{op: remove, entity: T, id: a, data: {x: 1}}]\n",
			wantErr: "remove takes no data",
		},
		{
			name:    "relation query without field",
			body:    "name: n\ndescription: d\nmanifest: manifest\nsteps:\n  - query: {entity: T, id: a}\n",
			wantErr: "id and field must be given together",
		},
		{
			name:    "entity_state with expect and absent",
			body:    "name: n\ndescription: d\nmanifest: manifest\nsteps:\n  - block: 1\nassertions:\n  - {type: entity_state, entity: T, id: a, absent: true, expect: {x: 1}}\n",
			wantErr: "exactly one of expect or absent",
		},
		{
			name:    "head without block",
			body:    "name: n\ndescription: d\nmanifest: manifest\nsteps:\n  - block: 1\nassertions:\n  - {type: head}\n",
			wantErr: "block is required for head",
		},
		{
			name:    "negative count",
			body:    "name: n\ndescription: d\nmanifest: manifest\nsteps:\n  - block: 1\nassertions:\n  - {type: entity_count, entity: T, count: -1}\n",
			wantErr: "count must be non-negative",
		},
		{
			name:    "unknown assertion",
			body:    "name: n\ndescription: d\nmanifest: manifest\nsteps:\n  - block: 1\nassertions:\n  - {type: trace_contains}\n",
			wantErr: "unknown assertion type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
