package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/layout"
	"github.com/roach88/entitystore/internal/queryir"
)

// Statement is a compiled query ready for execution.
type Statement struct {
	SQL    string
	Params []any
	// Table is the layout of the entities the statement returns, in
	// Table.Columns order.
	Table *layout.Table
}

// SQLCompiler compiles QueryIR to parameterized SQL for SQLite against one
// deployment's layout.
//
// CRITICAL: ALL queries end with ORDER BY id for deterministic results.
// CRITICAL: All values are parameterized (never interpolated).
type SQLCompiler struct {
	Layout *layout.Layout
}

// NewSQLCompiler creates a compiler for a layout.
func NewSQLCompiler(l *layout.Layout) *SQLCompiler {
	return &SQLCompiler{Layout: l}
}

// resultAlias names the table whose rows are returned.
const resultAlias = "e"

// Compile converts a query to parameterized SQL.
//
// Errors: queryir.InvalidQueryError for malformed queries,
// layout.UnknownTypeError / layout.UnknownFieldError for names missing
// from the layout, layout.InvalidValueError for literals that do not fit
// their column.
func (c *SQLCompiler) Compile(q queryir.Query) (*Statement, error) {
	if err := queryir.Validate(q).Err(); err != nil {
		return nil, err
	}

	switch query := q.(type) {
	case queryir.EntityQuery:
		return c.compileEntityQuery(query)
	case *queryir.EntityQuery:
		return c.compileEntityQuery(*query)
	case queryir.RelationQuery:
		return c.compileRelationQuery(query)
	case *queryir.RelationQuery:
		return c.compileRelationQuery(*query)
	default:
		return nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileEntityQuery(q queryir.EntityQuery) (*Statement, error) {
	table, err := c.Layout.Table(q.EntityType)
	if err != nil {
		return nil, err
	}
	b := c.newBuilder(q.Block)
	b.where(window(resultAlias, q.Block))
	if err := b.filter(table, resultAlias, q.Filter); err != nil {
		return nil, err
	}
	return b.finish(table, q.OrderBy, q.Range)
}

func (c *SQLCompiler) compileRelationQuery(q queryir.RelationQuery) (*Statement, error) {
	parent, err := c.Layout.Table(q.EntityType)
	if err != nil {
		return nil, err
	}

	const parentAlias = "p"
	parentWindow := window(parentAlias, q.Block)
	var (
		target *layout.Table
		cond   fragment
	)

	if d, ok := parent.DerivedField(q.Field); ok {
		target, err = c.Layout.Table(d.TargetType)
		if err != nil {
			return nil, err
		}
		forward, err := target.Column(d.TargetField)
		if err != nil {
			return nil, err
		}
		cond = references(resultAlias, forward, fragment{sql: "?", params: []any{q.ID}})
		exists := fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s WHERE %s = ? AND %s)",
			layout.Quote(parent.Name), parentAlias, qcol(parentAlias, ir.IDField), parentWindow.sql)
		cond = cond.and(fragment{sql: exists, params: append([]any{q.ID}, parentWindow.params...)})
	} else {
		col, err := parent.Column(q.Field)
		if err != nil {
			return nil, err
		}
		if !col.IsReference() {
			return nil, invalidQuery("%s.%s is not a relationship", parent.EntityType, q.Field)
		}
		target, err = c.Layout.Table(col.Reference)
		if err != nil {
			return nil, err
		}
		var sub string
		if col.List {
			sub = fmt.Sprintf("SELECT j.value FROM %s AS %s, json_each(%s) AS j WHERE %s = ? AND %s",
				layout.Quote(parent.Name), parentAlias, qcol(parentAlias, col.Name),
				qcol(parentAlias, ir.IDField), parentWindow.sql)
		} else {
			sub = fmt.Sprintf("SELECT %s FROM %s AS %s WHERE %s = ? AND %s",
				qcol(parentAlias, col.Name), layout.Quote(parent.Name), parentAlias,
				qcol(parentAlias, ir.IDField), parentWindow.sql)
		}
		cond = fragment{
			sql:    fmt.Sprintf("%s IN (%s)", qcol(resultAlias, ir.IDField), sub),
			params: append([]any{q.ID}, parentWindow.params...),
		}
	}

	b := c.newBuilder(q.Block)
	b.where(window(resultAlias, q.Block))
	b.where(cond)
	if err := b.filter(target, resultAlias, q.Filter); err != nil {
		return nil, err
	}
	return b.finish(target, q.OrderBy, q.Range)
}

// fragment is a piece of SQL and the parameters for its placeholders, in
// textual order.
type fragment struct {
	sql    string
	params []any
}

func (f fragment) and(other fragment) fragment {
	return fragment{
		sql:    f.sql + " AND " + other.sql,
		params: append(append([]any{}, f.params...), other.params...),
	}
}

// window restricts alias to the versions visible at block (nil = head).
func window(alias string, block *int64) fragment {
	if block == nil {
		return fragment{sql: qcol(alias, layout.ColumnValidTo) + " IS NULL"}
	}
	return fragment{
		sql: fmt.Sprintf("%s <= ? AND (%s IS NULL OR %s >= ?)",
			qcol(alias, layout.ColumnValidFrom), qcol(alias, layout.ColumnValidTo), qcol(alias, layout.ColumnValidTo)),
		params: []any{*block, *block},
	}
}

// references matches rows whose forward column holds the given id,
// directly or as a list element.
func references(alias string, forward *layout.Column, id fragment) fragment {
	if forward.List {
		return fragment{
			sql:    fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE value = %s)", qcol(alias, forward.Name), id.sql),
			params: id.params,
		}
	}
	return fragment{sql: fmt.Sprintf("%s = %s", qcol(alias, forward.Name), id.sql), params: id.params}
}

// qcol renders alias."column".
func qcol(alias, column string) string {
	return alias + "." + layout.Quote(column)
}

// ColumnList renders the select list for a table's columns.
func ColumnList(table *layout.Table, alias string) string {
	cols := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		cols[i] = qcol(alias, col.Name)
	}
	return strings.Join(cols, ", ")
}

// builder accumulates WHERE conditions and their parameters.
type builder struct {
	layout   *layout.Layout
	block    *int64
	conds    []string
	params   []any
	aliasSeq int
}

func (c *SQLCompiler) newBuilder(block *int64) *builder {
	return &builder{layout: c.Layout, block: block}
}

func (b *builder) where(f fragment) {
	b.conds = append(b.conds, f.sql)
	b.params = append(b.params, f.params...)
}

func (b *builder) filter(table *layout.Table, alias string, p queryir.Predicate) error {
	if p == nil {
		return nil
	}
	f, err := b.compilePredicate(table, alias, p)
	if err != nil {
		return fmt.Errorf("compile filter: %w", err)
	}
	b.where(fragment{sql: "(" + f.sql + ")", params: f.params})
	return nil
}

func (b *builder) nextAlias(prefix string) string {
	b.aliasSeq++
	return fmt.Sprintf("%s%d", prefix, b.aliasSeq)
}

// finish appends ordering and paging and renders the statement.
// MANDATORY: ORDER BY always ends with the id tiebreaker.
func (b *builder) finish(table *layout.Table, order []queryir.Order, r queryir.Range) (*Statement, error) {
	orderSQL, err := orderBy(table, resultAlias, order)
	if err != nil {
		return nil, err
	}
	if r.After != "" {
		op := ">"
		if len(order) == 1 && order[0].Descending {
			op = "<"
		}
		b.where(fragment{sql: fmt.Sprintf("%s %s ?", qcol(resultAlias, ir.IDField), op), params: []any{r.After}})
	}

	var sql strings.Builder
	fmt.Fprintf(&sql, "SELECT %s FROM %s AS %s", ColumnList(table, resultAlias), layout.Quote(table.Name), resultAlias)
	if len(b.conds) > 0 {
		sql.WriteString(" WHERE ")
		sql.WriteString(strings.Join(b.conds, " AND "))
	}
	sql.WriteString(" ORDER BY ")
	sql.WriteString(orderSQL)

	params := b.params
	switch {
	case r.First > 0:
		sql.WriteString(" LIMIT ?")
		params = append(params, r.First)
		if r.Skip > 0 {
			sql.WriteString(" OFFSET ?")
			params = append(params, r.Skip)
		}
	case r.Skip > 0:
		sql.WriteString(" LIMIT -1 OFFSET ?")
		params = append(params, r.Skip)
	}

	return &Statement{SQL: sql.String(), Params: params, Table: table}, nil
}

func orderBy(table *layout.Table, alias string, order []queryir.Order) (string, error) {
	var parts []string
	byID := false
	for _, o := range order {
		col, err := table.Column(o.Field)
		if err != nil {
			if table.HasField(o.Field) {
				return "", invalidQuery("cannot order by derived field %s.%s", table.EntityType, o.Field)
			}
			return "", err
		}
		if col.List {
			return "", invalidQuery("cannot order by list field %s.%s", table.EntityType, o.Field)
		}
		dir := "ASC"
		if o.Descending {
			dir = "DESC"
		}
		parts = append(parts, orderExpr(alias, col)+" "+dir)
		if col.Field == ir.IDField {
			byID = true
		}
	}
	if !byID {
		parts = append(parts, qcol(alias, ir.IDField)+" COLLATE BINARY ASC")
	}
	return strings.Join(parts, ", "), nil
}

func orderExpr(alias string, col *layout.Column) string {
	switch {
	case col.Type.Numeric():
		return qcol(alias, col.Name) + " COLLATE " + NumericCollation
	case col.Type == layout.ColumnString:
		return qcol(alias, col.Name) + " COLLATE BINARY"
	default:
		return qcol(alias, col.Name)
	}
}

func invalidQuery(format string, args ...any) error {
	return &queryir.InvalidQueryError{Problems: []string{fmt.Sprintf(format, args...)}}
}
