package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitystore/internal/ir"
)

func TestAnalyzeCyclesAcyclic(t *testing.T) {
	schema := ir.Schema{Types: []ir.EntityType{
		{Name: "Token", Fields: []ir.Field{f("id", "ID!"), f("owner", "Owner!")}},
		{Name: "Owner", Fields: []ir.Field{
			f("id", "ID!"),
			{Name: "tokens", Type: ir.MustParseFieldType("[Token!]!"), DerivedFrom: "owner"},
		}},
	}}

	warnings := AnalyzeCycles(schema)
	assert.NotNil(t, warnings)
	assert.Empty(t, warnings, "derived fields never form cycles")
}

func TestAnalyzeCyclesTwoTypes(t *testing.T) {
	schema := ir.Schema{Types: []ir.EntityType{
		{Name: "Token", Fields: []ir.Field{f("id", "ID!"), f("owner", "Owner!")}},
		{Name: "Owner", Fields: []ir.Field{f("id", "ID!"), f("favorite", "Token!")}},
	}}

	warnings := AnalyzeCycles(schema)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"Owner", "Token", "Owner"}, warnings[0].Path)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "Owner -> Token -> Owner")
}

func TestAnalyzeCyclesSelfLoop(t *testing.T) {
	schema := ir.Schema{Types: []ir.EntityType{
		{Name: "Node", Fields: []ir.Field{f("id", "ID!"), f("parent", "Node!")}},
	}}

	warnings := AnalyzeCycles(schema)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"Node", "Node"}, warnings[0].Path)
}

func TestAnalyzeCyclesIgnoresOptionalAndLists(t *testing.T) {
	schema := ir.Schema{Types: []ir.EntityType{
		{Name: "Node", Fields: []ir.Field{f("id", "ID!"), f("parent", "Node"), f("children", "[Node!]!")}},
	}}
	assert.Empty(t, AnalyzeCycles(schema))
}
