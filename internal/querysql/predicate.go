package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/layout"
	"github.com/roach88/entitystore/internal/queryir"
)

// compilePredicate converts a predicate on table (aliased as alias) to a
// SQL condition. nil compiles to "1 = 1".
func (b *builder) compilePredicate(table *layout.Table, alias string, p queryir.Predicate) (fragment, error) {
	if p == nil {
		return fragment{sql: "1 = 1"}, nil
	}

	switch pred := p.(type) {
	case *queryir.Compare:
		return b.compileCompare(table, alias, *pred)
	case queryir.Compare:
		return b.compileCompare(table, alias, pred)
	case *queryir.In:
		return b.compileIn(table, alias, *pred)
	case queryir.In:
		return b.compileIn(table, alias, pred)
	case *queryir.Contains:
		return b.compileContains(table, alias, *pred)
	case queryir.Contains:
		return b.compileContains(table, alias, pred)
	case *queryir.StartsWith:
		return b.compileAffix(table, alias, pred.Field, pred.Prefix, pred.Negated, true)
	case queryir.StartsWith:
		return b.compileAffix(table, alias, pred.Field, pred.Prefix, pred.Negated, true)
	case *queryir.EndsWith:
		return b.compileAffix(table, alias, pred.Field, pred.Suffix, pred.Negated, false)
	case queryir.EndsWith:
		return b.compileAffix(table, alias, pred.Field, pred.Suffix, pred.Negated, false)
	case *queryir.IsNull:
		return b.compileIsNull(table, alias, *pred)
	case queryir.IsNull:
		return b.compileIsNull(table, alias, pred)
	case *queryir.And:
		return b.compileJunction(table, alias, pred.Predicates, " AND ", "1 = 1")
	case queryir.And:
		return b.compileJunction(table, alias, pred.Predicates, " AND ", "1 = 1")
	case *queryir.Or:
		return b.compileJunction(table, alias, pred.Predicates, " OR ", "1 = 0")
	case queryir.Or:
		return b.compileJunction(table, alias, pred.Predicates, " OR ", "1 = 0")
	case *queryir.Not:
		return b.compileNot(table, alias, *pred)
	case queryir.Not:
		return b.compileNot(table, alias, pred)
	case *queryir.Child:
		return b.compileChild(table, alias, *pred)
	case queryir.Child:
		return b.compileChild(table, alias, pred)
	default:
		return fragment{}, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// storedColumn resolves a field that must have a column. Derived fields
// can only be filtered through Child.
func storedColumn(table *layout.Table, field string) (*layout.Column, error) {
	col, err := table.Column(field)
	if err == nil {
		return col, nil
	}
	if _, ok := table.DerivedField(field); ok {
		return nil, invalidQuery("%s.%s is derived; filter it with a nested where", table.EntityType, field)
	}
	return nil, err
}

func invalidValue(table *layout.Table, col *layout.Column, err error) error {
	return &layout.InvalidValueError{EntityType: table.EntityType, Field: col.Field, Message: err.Error()}
}

// operand coerces a literal to the column and encodes it as a parameter.
func operand(table *layout.Table, col *layout.Column, v ir.Value) (any, error) {
	cv, err := col.Coerce(v)
	if err != nil {
		return nil, invalidValue(table, col, err)
	}
	param, err := col.ToSQL(cv)
	if err != nil {
		return nil, invalidValue(table, col, err)
	}
	return param, nil
}

func (b *builder) compileCompare(table *layout.Table, alias string, c queryir.Compare) (fragment, error) {
	col, err := storedColumn(table, c.Field)
	if err != nil {
		return fragment{}, err
	}
	if col.List && c.Op != queryir.OpEqual && c.Op != queryir.OpNotEqual {
		return fragment{}, invalidQuery("%s.%s: cannot order-compare a list", table.EntityType, c.Field)
	}
	param, err := operand(table, col, c.Value)
	if err != nil {
		return fragment{}, err
	}

	ref := qcol(alias, col.Name)
	// Equality on canonical text is exact; ordering needs the numeric collation.
	if col.Type.Numeric() && c.Op != queryir.OpEqual && c.Op != queryir.OpNotEqual {
		ref += " COLLATE " + NumericCollation
	}
	return fragment{
		sql:    fmt.Sprintf("%s %s ?", ref, c.Op),
		params: []any{param},
	}, nil
}

func (b *builder) compileIn(table *layout.Table, alias string, in queryir.In) (fragment, error) {
	col, err := storedColumn(table, in.Field)
	if err != nil {
		return fragment{}, err
	}
	if col.List {
		return fragment{}, invalidQuery("%s.%s: in does not apply to list fields; use contains", table.EntityType, in.Field)
	}
	ref := qcol(alias, col.Name)
	if len(in.Values) == 0 {
		if in.Negated {
			return fragment{sql: "1 = 1"}, nil
		}
		return fragment{sql: "1 = 0"}, nil
	}

	placeholders := make([]string, len(in.Values))
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		param, err := operand(table, col, v)
		if err != nil {
			return fragment{}, err
		}
		placeholders[i] = "?"
		params[i] = param
	}
	op := "IN"
	if in.Negated {
		op = "NOT IN"
	}
	return fragment{
		sql:    fmt.Sprintf("%s %s (%s)", ref, op, strings.Join(placeholders, ", ")),
		params: params,
	}, nil
}

func (b *builder) compileContains(table *layout.Table, alias string, c queryir.Contains) (fragment, error) {
	col, err := storedColumn(table, c.Field)
	if err != nil {
		return fragment{}, err
	}
	ref := qcol(alias, col.Name)

	if col.List {
		elem, err := col.CoerceElement(c.Value)
		if err != nil {
			return fragment{}, invalidValue(table, col, err)
		}
		param, err := col.ElementToSQL(elem)
		if err != nil {
			return fragment{}, invalidValue(table, col, err)
		}
		exists := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE value = ?)", ref)
		if c.Negated {
			return fragment{sql: fmt.Sprintf("%s IS NOT NULL AND NOT %s", ref, exists), params: []any{param}}, nil
		}
		return fragment{sql: exists, params: []any{param}}, nil
	}

	if col.Type != layout.ColumnString && col.Type != layout.ColumnBytes {
		return fragment{}, invalidQuery("%s.%s: contains needs a String, Bytes or list field", table.EntityType, c.Field)
	}
	param, err := operand(table, col, c.Value)
	if err != nil {
		return fragment{}, err
	}
	cmp := "> 0"
	if c.Negated {
		cmp = "= 0"
	}
	return fragment{sql: fmt.Sprintf("instr(%s, ?) %s", ref, cmp), params: []any{param}}, nil
}

func (b *builder) compileAffix(table *layout.Table, alias, field, affix string, negated, prefix bool) (fragment, error) {
	col, err := storedColumn(table, field)
	if err != nil {
		return fragment{}, err
	}
	if col.List || col.Type != layout.ColumnString {
		return fragment{}, invalidQuery("%s.%s: starts_with and ends_with need a String field", table.EntityType, field)
	}
	ref := qcol(alias, col.Name)
	if affix == "" {
		if negated {
			return fragment{sql: "1 = 0"}, nil
		}
		return fragment{sql: ref + " IS NOT NULL"}, nil
	}

	op := "="
	if negated {
		op = "!="
	}
	var sql string
	if prefix {
		sql = fmt.Sprintf("substr(%s, 1, length(?)) %s ?", ref, op)
	} else {
		sql = fmt.Sprintf("substr(%s, -length(?)) %s ?", ref, op)
	}
	return fragment{sql: sql, params: []any{affix, affix}}, nil
}

func (b *builder) compileIsNull(table *layout.Table, alias string, n queryir.IsNull) (fragment, error) {
	col, err := storedColumn(table, n.Field)
	if err != nil {
		return fragment{}, err
	}
	if n.Negated {
		return fragment{sql: qcol(alias, col.Name) + " IS NOT NULL"}, nil
	}
	return fragment{sql: qcol(alias, col.Name) + " IS NULL"}, nil
}

func (b *builder) compileJunction(table *layout.Table, alias string, preds []queryir.Predicate, sep, empty string) (fragment, error) {
	if len(preds) == 0 {
		return fragment{sql: empty}, nil
	}
	parts := make([]string, 0, len(preds))
	var params []any
	for _, p := range preds {
		f, err := b.compilePredicate(table, alias, p)
		if err != nil {
			return fragment{}, err
		}
		parts = append(parts, "("+f.sql+")")
		params = append(params, f.params...)
	}
	return fragment{sql: strings.Join(parts, sep), params: params}, nil
}

func (b *builder) compileNot(table *layout.Table, alias string, n queryir.Not) (fragment, error) {
	f, err := b.compilePredicate(table, alias, n.Predicate)
	if err != nil {
		return fragment{}, err
	}
	return fragment{sql: "NOT (" + f.sql + ")", params: f.params}, nil
}

// compileChild matches when a related entity, read in the same window,
// satisfies the nested filter.
func (b *builder) compileChild(table *layout.Table, alias string, c queryir.Child) (fragment, error) {
	childAlias := b.nextAlias("c")
	win := window(childAlias, b.block)

	var (
		target *layout.Table
		head   string
		params []any
		err    error
	)
	if d, ok := table.DerivedField(c.Field); ok {
		target, err = b.layout.Table(d.TargetType)
		if err != nil {
			return fragment{}, err
		}
		forward, err := target.Column(d.TargetField)
		if err != nil {
			return fragment{}, err
		}
		link := references(childAlias, forward, fragment{sql: qcol(alias, ir.IDField)})
		head = fmt.Sprintf("SELECT 1 FROM %s AS %s WHERE %s", layout.Quote(target.Name), childAlias, link.sql)
	} else {
		col, err := table.Column(c.Field)
		if err != nil {
			return fragment{}, err
		}
		if !col.IsReference() {
			return fragment{}, invalidQuery("%s.%s is not a relationship", table.EntityType, c.Field)
		}
		target, err = b.layout.Table(col.Reference)
		if err != nil {
			return fragment{}, err
		}
		if col.List {
			head = fmt.Sprintf("SELECT 1 FROM json_each(%s) AS j_%s JOIN %s AS %s ON %s = j_%s.value WHERE 1 = 1",
				qcol(alias, col.Name), childAlias, layout.Quote(target.Name), childAlias,
				qcol(childAlias, ir.IDField), childAlias)
		} else {
			head = fmt.Sprintf("SELECT 1 FROM %s AS %s WHERE %s = %s",
				layout.Quote(target.Name), childAlias, qcol(childAlias, ir.IDField), qcol(alias, col.Name))
		}
	}
	params = append(params, win.params...)

	sql := fmt.Sprintf("EXISTS (%s AND %s", head, win.sql)
	if c.Filter != nil {
		f, err := b.compilePredicate(target, childAlias, c.Filter)
		if err != nil {
			return fragment{}, fmt.Errorf("%s: %w", c.Field, err)
		}
		sql += " AND (" + f.sql + ")"
		params = append(params, f.params...)
	}
	return fragment{sql: sql + ")", params: params}, nil
}
