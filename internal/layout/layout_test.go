package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitystore/internal/ir"
)

func field(name, typ string) ir.Field {
	return ir.Field{Name: name, Type: ir.MustParseFieldType(typ)}
}

func derived(name, typ, from string) ir.Field {
	return ir.Field{Name: name, Type: ir.MustParseFieldType(typ), DerivedFrom: from}
}

func tokenSchema() ir.Schema {
	return ir.Schema{Types: []ir.EntityType{
		{Name: "Token", Fields: []ir.Field{
			field("id", "ID!"),
			field("owner", "Owner!"),
			field("amount", "BigInt"),
			field("tags", "[String!]"),
			field("approved", "Boolean!"),
		}},
		{Name: "Owner", Fields: []ir.Field{
			field("id", "ID!"),
			derived("tokens", "[Token!]!", "owner"),
			field("tokenCount", "Int"),
		}},
	}}
}

func TestCompileTokenSchema(t *testing.T) {
	l, err := Compile("QmTest", "sgd1", tokenSchema())
	require.NoError(t, err)

	token, err := l.Table("Token")
	require.NoError(t, err)
	assert.Equal(t, "sgd1_token", token.Name)
	assert.Equal(t, "id", token.IDColumn().Name)
	require.Len(t, token.Columns, 5)

	owner, err := token.Column("owner")
	require.NoError(t, err)
	assert.Equal(t, "Owner", owner.Reference)
	assert.Equal(t, ColumnString, owner.Type)
	assert.False(t, owner.Nullable)

	tags, err := token.Column("tags")
	require.NoError(t, err)
	assert.True(t, tags.List)
	assert.True(t, tags.ElemNonNull)
	assert.True(t, tags.Nullable)

	ownerTable, err := l.Table("Owner")
	require.NoError(t, err)
	require.Len(t, ownerTable.Columns, 2, "derived fields have no column")
	count, err := ownerTable.Column("tokenCount")
	require.NoError(t, err)
	assert.Equal(t, "token_count", count.Name)

	d, ok := ownerTable.DerivedField("tokens")
	require.True(t, ok)
	assert.Equal(t, DerivedField{Field: "tokens", TargetType: "Token", TargetField: "owner", List: true}, d)
	assert.True(t, ownerTable.HasField("tokens"))
	assert.Equal(t, []string{"id", "tokenCount", "tokens"}, ownerTable.FieldNames())

	_, err = ownerTable.Column("tokens")
	assert.True(t, IsUnknownFieldError(err))

	_, err = l.Table("Missing")
	assert.True(t, IsUnknownTypeError(err))
}

func TestCompileIsRepeatable(t *testing.T) {
	a, err := Compile("QmTest", "sgd1", tokenSchema())
	require.NoError(t, err)
	b, err := Compile("QmTest", "sgd1", tokenSchema())
	require.NoError(t, err)
	assert.Equal(t, a.DDL(), b.DDL())
}

func TestCompileSchemaErrors(t *testing.T) {
	tests := []struct {
		name   string
		schema ir.Schema
		want   string
	}{
		{
			name:   "empty schema",
			schema: ir.Schema{},
			want:   "no entity types",
		},
		{
			name: "missing id",
			schema: ir.Schema{Types: []ir.EntityType{
				{Name: "Token", Fields: []ir.Field{field("owner", "String")}},
			}},
			want: "missing identifier",
		},
		{
			name: "nullable id",
			schema: ir.Schema{Types: []ir.EntityType{
				{Name: "Token", Fields: []ir.Field{field("id", "ID")}},
			}},
			want: "identifier must be",
		},
		{
			name: "undeclared relationship target",
			schema: ir.Schema{Types: []ir.EntityType{
				{Name: "Token", Fields: []ir.Field{field("id", "ID!"), field("owner", "Owner")}},
			}},
			want: "undeclared type \"Owner\"",
		},
		{
			name: "column collision after snake case",
			schema: ir.Schema{Types: []ir.EntityType{
				{Name: "Token", Fields: []ir.Field{
					field("id", "ID!"), field("tokenId", "String"), field("token_id", "String"),
				}},
			}},
			want: "collides with field tokenId",
		},
		{
			name: "reserved column",
			schema: ir.Schema{Types: []ir.EntityType{
				{Name: "Token", Fields: []ir.Field{field("id", "ID!"), field("validFromBlock", "Int")}},
			}},
			want: "reserved",
		},
		{
			name: "duplicate type",
			schema: ir.Schema{Types: []ir.EntityType{
				{Name: "Token", Fields: []ir.Field{field("id", "ID!")}},
				{Name: "Token", Fields: []ir.Field{field("id", "ID!")}},
			}},
			want: "declared twice",
		},
		{
			name: "derived from missing field",
			schema: ir.Schema{Types: []ir.EntityType{
				{Name: "Token", Fields: []ir.Field{field("id", "ID!")}},
				{Name: "Owner", Fields: []ir.Field{field("id", "ID!"), derived("tokens", "[Token!]!", "owner")}},
			}},
			want: "derived from missing field Token.owner",
		},
		{
			name: "derived from field pointing elsewhere",
			schema: ir.Schema{Types: []ir.EntityType{
				{Name: "Token", Fields: []ir.Field{field("id", "ID!"), field("owner", "String")}},
				{Name: "Owner", Fields: []ir.Field{field("id", "ID!"), derived("tokens", "[Token!]!", "owner")}},
			}},
			want: "does not reference Owner",
		},
		{
			name: "scalar type name",
			schema: ir.Schema{Types: []ir.EntityType{
				{Name: "BigInt", Fields: []ir.Field{field("id", "ID!")}},
			}},
			want: "shadows a built-in scalar",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile("QmTest", "sgd1", tt.schema)
			require.Error(t, err)
			assert.True(t, IsSchemaError(err), "expected SchemaError, got %T", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"id":          "id",
		"Token":       "token",
		"tokenCount":  "token_count",
		"tokenURI":    "token_uri",
		"HTTPServer":  "http_server",
		"ERC20Token":  "erc20_token",
		"already_ok":  "already_ok",
		"totalSupply": "total_supply",
	}
	for in, want := range tests {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}
