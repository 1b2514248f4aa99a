package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitystore/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithMetricsRegisterer(prometheus.NewRegistry())}, opts...)
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func field(name, typ string) ir.Field {
	return ir.Field{Name: name, Type: ir.MustParseFieldType(typ)}
}

func tokenSchema() ir.Schema {
	return ir.Schema{Types: []ir.EntityType{
		{Name: "Token", Fields: []ir.Field{
			field("id", "ID!"),
			field("owner", "Owner!"),
			field("amount", "BigInt"),
			field("tags", "[String!]"),
		}},
		{Name: "Owner", Fields: []ir.Field{
			field("id", "ID!"),
			field("name", "String"),
			{Name: "tokens", Type: ir.MustParseFieldType("[Token!]!"), DerivedFrom: "owner"},
		}},
	}}
}

// tokenManifest creates a test manifest with minimal required fields.
func tokenManifest() ir.Manifest {
	return ir.Manifest{
		SpecVersion: "0.0.1",
		Network:     "mainnet",
		StartBlock:  0,
		Schema:      tokenSchema(),
	}
}

// createTestDeployment registers the token manifest and returns its id.
func createTestDeployment(t *testing.T, s *Store) string {
	t.Helper()
	d, err := s.CreateDeployment(context.Background(), "", tokenManifest())
	require.NoError(t, err)
	return d.ID
}

func testBlock(n int64) ir.BlockPtr {
	return ir.BlockPtr{Number: n, Hash: fmt.Sprintf("0x%04x", n)}
}

// apply applies ops at block n and fails the test on error.
func apply(t *testing.T, s *Store, id string, n int64, ops ...ir.EntityOperation) {
	t.Helper()
	require.NoError(t, s.Apply(context.Background(), id, testBlock(n), ops))
}

func setOwner(id, owner string) ir.EntityOperation {
	return ir.Set("Token", id, ir.Entity{"owner": ir.String(owner)})
}

// get returns an entity as of block (nil = head), failing on error.
func get(t *testing.T, s *Store, id, entityType, entityID string, block *int64) (ir.Entity, bool) {
	t.Helper()
	e, ok, err := s.Get(context.Background(), id, entityType, entityID, block)
	require.NoError(t, err)
	return e, ok
}

func at(n int64) *int64 {
	return &n
}

// canonical renders entities as canonical JSON for exact comparison.
func canonical(t *testing.T, entities []ir.Entity) []string {
	t.Helper()
	out := make([]string, len(entities))
	for i, e := range entities {
		data, err := e.MarshalJSON()
		require.NoError(t, err)
		out[i] = string(data)
	}
	return out
}
