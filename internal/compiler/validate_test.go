package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitystore/internal/ir"
)

func f(name, typ string) ir.Field {
	return ir.Field{Name: name, Type: ir.MustParseFieldType(typ)}
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateValidSchema(t *testing.T) {
	schema := ir.Schema{Types: []ir.EntityType{
		{Name: "Token", Fields: []ir.Field{f("id", "ID!"), f("owner", "Owner!")}},
		{Name: "Owner", Fields: []ir.Field{
			f("id", "String!"),
			{Name: "tokens", Type: ir.MustParseFieldType("[Token!]!"), DerivedFrom: "owner"},
		}},
	}}
	assert.Empty(t, Validate(schema))
}

func TestValidateReportsAllErrors(t *testing.T) {
	schema := ir.Schema{Types: []ir.EntityType{
		{Name: "Token", Fields: []ir.Field{
			f("owner", "Owner"),
			f("tokenId", "String"),
			f("token_id", "String"),
			f("validToBlock", "Int"),
		}},
		{Name: "Thing", Fields: []ir.Field{f("id", "Int!")}},
	}}

	errs := Validate(schema)
	require.Len(t, errs, 5)
	assert.Equal(t, []string{
		ErrMissingID,
		ErrUndeclaredType,
		ErrColumnCollision,
		ErrReservedColumn,
		ErrInvalidID,
	}, codes(errs))
	assert.Equal(t, "entity.Token.owner", errs[1].Field)
}

func TestValidateDerivedFields(t *testing.T) {
	tests := []struct {
		name  string
		field ir.Field
		code  string
	}{
		{"missing forward field", ir.Field{Name: "tokens", Type: ir.MustParseFieldType("[Token!]!"), DerivedFrom: "holder"}, ErrInvalidDerived},
		{"forward points elsewhere", ir.Field{Name: "tokens", Type: ir.MustParseFieldType("[Token!]!"), DerivedFrom: "name"}, ErrInvalidDerived},
		{"scalar derived", ir.Field{Name: "names", Type: ir.MustParseFieldType("[String!]!"), DerivedFrom: "name"}, ErrDerivedScalarTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema := ir.Schema{Types: []ir.EntityType{
				{Name: "Token", Fields: []ir.Field{f("id", "ID!"), f("owner", "Owner!"), f("name", "String")}},
				{Name: "Owner", Fields: []ir.Field{f("id", "ID!"), tt.field}},
			}}
			errs := Validate(schema)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.code, errs[0].Code)
		})
	}
}

func TestValidateTypeNames(t *testing.T) {
	schema := ir.Schema{Types: []ir.EntityType{
		{Name: "BigInt", Fields: []ir.Field{f("id", "ID!")}},
		{Name: "Dup", Fields: []ir.Field{f("id", "ID!")}},
		{Name: "Dup", Fields: []ir.Field{f("id", "ID!")}},
	}}
	assert.Equal(t, []string{ErrScalarShadowed, ErrDuplicateName}, codes(Validate(schema)))

	assert.Equal(t, []string{ErrNoEntityTypes}, codes(Validate(ir.Schema{})))
}

func TestValidateManifest(t *testing.T) {
	m := &ir.Manifest{Schema: ir.Schema{Types: []ir.EntityType{{Name: "T", Fields: []ir.Field{f("id", "ID!")}}}}}
	assert.Equal(t, []string{ErrInvalidNetwork, ErrInvalidSpecVersion}, codes(ValidateManifest(m)))
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "entity.Token", Message: "missing", Code: ErrMissingID}
	assert.Equal(t, "[E102] entity.Token: missing", e.Error())
	e.Line = 3
	assert.Equal(t, "[E102] line 3: entity.Token: missing", e.Error())
}
