package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/layout"
	"github.com/roach88/entitystore/internal/queryir"
)

func field(name, typ string) ir.Field {
	return ir.Field{Name: name, Type: ir.MustParseFieldType(typ)}
}

func testLayout(t *testing.T) *layout.Layout {
	t.Helper()
	schema := ir.Schema{Types: []ir.EntityType{
		{Name: "Token", Fields: []ir.Field{
			field("id", "ID!"),
			field("owner", "Owner!"),
			field("amount", "BigInt"),
			field("tags", "[String!]"),
			field("approved", "Boolean!"),
			field("holders", "[Owner!]"),
		}},
		{Name: "Owner", Fields: []ir.Field{
			field("id", "ID!"),
			field("name", "String"),
			{Name: "tokens", Type: ir.MustParseFieldType("[Token!]!"), DerivedFrom: "owner"},
		}},
	}}
	l, err := layout.Compile("QmTest", "sgd1", schema)
	require.NoError(t, err)
	return l
}

func TestCompile_HeadSelect(t *testing.T) {
	compiler := NewSQLCompiler(testLayout(t))

	stmt, err := compiler.Compile(queryir.EntityQuery{
		EntityType: "Token",
		Filter:     &queryir.Compare{Field: "owner", Op: queryir.OpEqual, Value: ir.String("x")},
	})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT e."id", e."owner", e."amount", e."tags", e."approved", e."holders" FROM "sgd1_token" AS e`+
			` WHERE e."valid_to_block" IS NULL AND (e."owner" = ?) ORDER BY e."id" COLLATE BINARY ASC`,
		stmt.SQL)
	// Values are parameterized, never interpolated
	assert.Equal(t, []any{"x"}, stmt.Params)
	assert.Equal(t, "Token", stmt.Table.EntityType)
}

func TestCompile_PointerQuery(t *testing.T) {
	compiler := NewSQLCompiler(testLayout(t))

	stmt, err := compiler.Compile(&queryir.EntityQuery{EntityType: "Owner"})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `FROM "sgd1_owner" AS e`)
	assert.Empty(t, stmt.Params)
}

func TestCompile_HistoricalWindow(t *testing.T) {
	compiler := NewSQLCompiler(testLayout(t))

	stmt, err := compiler.Compile(queryir.EntityQuery{EntityType: "Token", Block: queryir.BlockAt(15)})
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL,
		`WHERE e."valid_from_block" <= ? AND (e."valid_to_block" IS NULL OR e."valid_to_block" >= ?)`)
	assert.Equal(t, []any{int64(15), int64(15)}, stmt.Params)
}

func TestCompile_OrderByAlwaysEndsWithID(t *testing.T) {
	compiler := NewSQLCompiler(testLayout(t))

	testCases := []struct {
		name  string
		order []queryir.Order
		want  string
	}{
		{
			name: "default",
			want: `ORDER BY e."id" COLLATE BINARY ASC`,
		},
		{
			name:  "numeric field",
			order: []queryir.Order{{Field: "amount", Descending: true}},
			want:  `ORDER BY e."amount" COLLATE entity_numeric DESC, e."id" COLLATE BINARY ASC`,
		},
		{
			name:  "by id descending",
			order: []queryir.Order{{Field: "id", Descending: true}},
			want:  `ORDER BY e."id" COLLATE BINARY DESC`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stmt, err := compiler.Compile(queryir.EntityQuery{EntityType: "Token", OrderBy: tc.order})
			require.NoError(t, err)
			assert.Contains(t, stmt.SQL, tc.want)
		})
	}
}

func TestCompile_Paging(t *testing.T) {
	compiler := NewSQLCompiler(testLayout(t))

	stmt, err := compiler.Compile(queryir.EntityQuery{
		EntityType: "Token",
		Range:      queryir.Range{First: 10, Skip: 5, After: "A1"},
	})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `AND e."id" > ? ORDER BY`)
	assert.Contains(t, stmt.SQL, "LIMIT ? OFFSET ?")
	assert.Equal(t, []any{"A1", 10, 5}, stmt.Params)

	stmt, err = compiler.Compile(queryir.EntityQuery{EntityType: "Token", Range: queryir.Range{Skip: 3}})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "LIMIT -1 OFFSET ?")
	assert.Equal(t, []any{3}, stmt.Params)
}

func TestCompile_Predicates(t *testing.T) {
	compiler := NewSQLCompiler(testLayout(t))

	testCases := []struct {
		name       string
		filter     queryir.Predicate
		wantSQL    string
		wantParams []any
	}{
		{
			name:       "numeric ordering uses the numeric collation",
			filter:     &queryir.Compare{Field: "amount", Op: queryir.OpGt, Value: ir.NewBigInt(100)},
			wantSQL:    `e."amount" COLLATE entity_numeric > ?`,
			wantParams: []any{"100"},
		},
		{
			name:       "numeric equality on canonical text",
			filter:     &queryir.Compare{Field: "amount", Op: queryir.OpEqual, Value: ir.Int(7)},
			wantSQL:    `e."amount" = ?`,
			wantParams: []any{"7"},
		},
		{
			name:       "boolean",
			filter:     queryir.Compare{Field: "approved", Op: queryir.OpEqual, Value: ir.Bool(true)},
			wantSQL:    `e."approved" = ?`,
			wantParams: []any{int64(1)},
		},
		{
			name:       "in",
			filter:     &queryir.In{Field: "id", Values: []ir.Value{ir.String("A1"), ir.String("A2")}},
			wantSQL:    `e."id" IN (?, ?)`,
			wantParams: []any{"A1", "A2"},
		},
		{
			name:    "empty in matches nothing",
			filter:  &queryir.In{Field: "id"},
			wantSQL: `(1 = 0)`,
		},
		{
			name:    "empty not in matches everything",
			filter:  &queryir.In{Field: "amount", Negated: true},
			wantSQL: `(1 = 1)`,
		},
		{
			name:       "list contains",
			filter:     &queryir.Contains{Field: "tags", Value: ir.String("rare")},
			wantSQL:    `EXISTS (SELECT 1 FROM json_each(e."tags") WHERE value = ?)`,
			wantParams: []any{"rare"},
		},
		{
			name:       "string starts with",
			filter:     &queryir.StartsWith{Field: "owner", Prefix: "0x"},
			wantSQL:    `substr(e."owner", 1, length(?)) = ?`,
			wantParams: []any{"0x", "0x"},
		},
		{
			name:    "is null",
			filter:  &queryir.IsNull{Field: "amount"},
			wantSQL: `e."amount" IS NULL`,
		},
		{
			name:    "empty or matches nothing",
			filter:  &queryir.Or{},
			wantSQL: `(1 = 0)`,
		},
		{
			name: "not",
			filter: &queryir.Not{Predicate: &queryir.Compare{
				Field: "owner", Op: queryir.OpEqual, Value: ir.String("x"),
			}},
			wantSQL:    `NOT (e."owner" = ?)`,
			wantParams: []any{"x"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stmt, err := compiler.Compile(queryir.EntityQuery{EntityType: "Token", Filter: tc.filter})
			require.NoError(t, err)
			assert.Contains(t, stmt.SQL, tc.wantSQL)
			assert.Equal(t, tc.wantParams, stmt.Params)
		})
	}
}

func TestCompile_ChildFilter(t *testing.T) {
	compiler := NewSQLCompiler(testLayout(t))

	stmt, err := compiler.Compile(queryir.EntityQuery{
		EntityType: "Token",
		Block:      queryir.BlockAt(20),
		Filter: &queryir.Child{Field: "owner", Filter: &queryir.Compare{
			Field: "name", Op: queryir.OpEqual, Value: ir.String("alice"),
		}},
	})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `EXISTS (SELECT 1 FROM "sgd1_owner" AS c1 WHERE c1."id" = e."owner" AND c1."valid_from_block" <= ?`)
	assert.Equal(t, []any{int64(20), int64(20), int64(20), int64(20), "alice"}, stmt.Params)

	stmt, err = compiler.Compile(queryir.EntityQuery{
		EntityType: "Owner",
		Filter:     &queryir.Child{Field: "tokens", Filter: &queryir.Compare{Field: "approved", Op: queryir.OpEqual, Value: ir.Bool(true)}},
	})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `FROM "sgd1_token" AS c1 WHERE c1."owner" = e."id"`)
}

func TestCompile_RelationQuery(t *testing.T) {
	compiler := NewSQLCompiler(testLayout(t))

	testCases := []struct {
		name  string
		query queryir.RelationQuery
		want  string
	}{
		{
			name:  "to-one",
			query: queryir.RelationQuery{EntityType: "Token", ID: "A1", Field: "owner"},
			want:  `e."id" IN (SELECT p."owner" FROM "sgd1_token" AS p WHERE p."id" = ? AND p."valid_to_block" IS NULL)`,
		},
		{
			name:  "to-many",
			query: queryir.RelationQuery{EntityType: "Token", ID: "A1", Field: "holders"},
			want:  `e."id" IN (SELECT j.value FROM "sgd1_token" AS p, json_each(p."holders") AS j WHERE p."id" = ?`,
		},
		{
			name:  "derived",
			query: queryir.RelationQuery{EntityType: "Owner", ID: "x", Field: "tokens"},
			want:  `e."owner" = ? AND EXISTS (SELECT 1 FROM "sgd1_owner" AS p WHERE p."id" = ?`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stmt, err := compiler.Compile(tc.query)
			require.NoError(t, err)
			assert.Contains(t, stmt.SQL, tc.want)
			assert.Contains(t, stmt.SQL, `ORDER BY e."id" COLLATE BINARY ASC`)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	compiler := NewSQLCompiler(testLayout(t))

	_, err := compiler.Compile(queryir.EntityQuery{EntityType: "Missing"})
	assert.True(t, layout.IsUnknownTypeError(err))

	_, err = compiler.Compile(queryir.EntityQuery{
		EntityType: "Token",
		Filter:     &queryir.Compare{Field: "color", Op: queryir.OpEqual, Value: ir.String("red")},
	})
	assert.True(t, layout.IsUnknownFieldError(err))

	_, err = compiler.Compile(queryir.EntityQuery{
		EntityType: "Token",
		Filter:     &queryir.Compare{Field: "amount", Op: queryir.OpGt, Value: ir.String("lots")},
	})
	assert.True(t, layout.IsInvalidValueError(err))

	_, err = compiler.Compile(queryir.EntityQuery{
		EntityType: "Owner",
		Filter:     &queryir.IsNull{Field: "tokens"},
	})
	var invalid *queryir.InvalidQueryError
	assert.ErrorAs(t, err, &invalid)

	_, err = compiler.Compile(queryir.RelationQuery{EntityType: "Token", ID: "A1", Field: "amount"})
	assert.ErrorAs(t, err, &invalid)

	_, err = compiler.Compile(queryir.EntityQuery{EntityType: "Token", Range: queryir.Range{First: -1}})
	assert.ErrorAs(t, err, &invalid)
}
