package layout

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/roach88/entitystore/internal/ir"
)

// Versioning columns present on every table.
const (
	ColumnVID       = "vid"
	ColumnValidFrom = "valid_from_block"
	ColumnValidTo   = "valid_to_block"
)

var reservedColumns = map[string]bool{
	ColumnVID:       true,
	ColumnValidFrom: true,
	ColumnValidTo:   true,
}

// IsReservedColumn reports whether a physical name is used by versioning.
func IsReservedColumn(name string) bool {
	return reservedColumns[name]
}

// Column describes one physical column holding a declared field.
type Column struct {
	// Name is the physical (snake_case) column name.
	Name string
	// Field is the declared field name.
	Field string
	Type  ColumnType
	// List columns hold a JSON array of values.
	List        bool
	ElemNonNull bool
	Nullable    bool
	// Reference names the target entity type for relationship columns.
	Reference string
}

// IsReference reports whether the column holds ids of another entity type.
func (c *Column) IsReference() bool {
	return c.Reference != ""
}

// DerivedField is a reverse relationship with no storage of its own.
// It is resolved at query time against TargetField on TargetType.
type DerivedField struct {
	Field       string
	TargetType  string
	TargetField string
	// List is true for to-many reverse relationships.
	List bool
}

// Table is the physical layout of one entity type.
// Each row is one version of one entity.
type Table struct {
	EntityType string
	Name       string
	// Columns lists the id column first, then fields in declaration order.
	Columns []*Column
	Derived []DerivedField

	byField map[string]*Column
}

// IDColumn returns the identifier column.
func (t *Table) IDColumn() *Column {
	return t.Columns[0]
}

// Column looks up the column storing a declared field.
func (t *Table) Column(field string) (*Column, error) {
	if c, ok := t.byField[field]; ok {
		return c, nil
	}
	return nil, &UnknownFieldError{EntityType: t.EntityType, Field: field}
}

// DerivedField looks up a derived field by name.
func (t *Table) DerivedField(field string) (DerivedField, bool) {
	for _, d := range t.Derived {
		if d.Field == field {
			return d, true
		}
	}
	return DerivedField{}, false
}

// HasField reports whether field is stored or derived on this type.
func (t *Table) HasField(field string) bool {
	if _, ok := t.byField[field]; ok {
		return true
	}
	_, ok := t.DerivedField(field)
	return ok
}

// Layout is the compiled physical layout of one deployment.
type Layout struct {
	DeploymentID string
	// Namespace prefixes every table name so deployments never collide.
	Namespace string
	Schema    ir.Schema

	tables map[string]*Table
	order  []string
}

// Table returns the table for an entity type.
func (l *Layout) Table(entityType string) (*Table, error) {
	if t, ok := l.tables[entityType]; ok {
		return t, nil
	}
	return nil, &UnknownTypeError{EntityType: entityType}
}

// Tables returns every table in declaration order.
func (l *Layout) Tables() []*Table {
	out := make([]*Table, len(l.order))
	for i, name := range l.order {
		out[i] = l.tables[name]
	}
	return out
}

// Compile derives the physical layout for a deployment's schema.
// Compilation is pure: the same input always produces the same layout.
func Compile(deploymentID, namespace string, schema ir.Schema) (*Layout, error) {
	if len(schema.Types) == 0 {
		return nil, &SchemaError{Message: "schema declares no entity types"}
	}
	if !isIdentifier(namespace) {
		return nil, &SchemaError{Message: fmt.Sprintf("invalid namespace %q", namespace)}
	}

	declared := make(map[string]ir.EntityType, len(schema.Types))
	for _, et := range schema.Types {
		if !isIdentifier(et.Name) {
			return nil, &SchemaError{EntityType: et.Name, Message: "invalid type name"}
		}
		if ir.IsScalar(et.Name) {
			return nil, &SchemaError{EntityType: et.Name, Message: "type name shadows a built-in scalar"}
		}
		if _, dup := declared[et.Name]; dup {
			return nil, &SchemaError{EntityType: et.Name, Message: "type declared twice"}
		}
		declared[et.Name] = et
	}

	l := &Layout{
		DeploymentID: deploymentID,
		Namespace:    namespace,
		Schema:       schema,
		tables:       make(map[string]*Table, len(schema.Types)),
	}
	tableNames := make(map[string]string)
	for _, et := range schema.Types {
		table, err := compileTable(namespace, et, declared)
		if err != nil {
			return nil, err
		}
		if other, clash := tableNames[table.Name]; clash {
			return nil, &SchemaError{
				EntityType: et.Name,
				Message:    fmt.Sprintf("table name %q collides with type %s", table.Name, other),
			}
		}
		tableNames[table.Name] = et.Name
		l.tables[et.Name] = table
		l.order = append(l.order, et.Name)
	}
	return l, nil
}

func compileTable(namespace string, et ir.EntityType, declared map[string]ir.EntityType) (*Table, error) {
	idField, ok := et.Field(ir.IDField)
	if !ok {
		return nil, &SchemaError{EntityType: et.Name, Message: "missing identifier field \"id\""}
	}
	if idField.IsDerived() || idField.Type.List || !idField.Type.NonNull ||
		(idField.Type.Base != ir.ScalarID && idField.Type.Base != ir.ScalarString) {
		return nil, &SchemaError{
			EntityType: et.Name,
			Field:      ir.IDField,
			Message:    fmt.Sprintf("identifier must be ID! or String!, got %s", idField.Type),
		}
	}

	t := &Table{
		EntityType: et.Name,
		Name:       namespace + "_" + SnakeCase(et.Name),
		byField:    make(map[string]*Column, len(et.Fields)),
	}
	t.Columns = append(t.Columns, &Column{Name: ir.IDField, Field: ir.IDField, Type: ColumnString})
	t.byField[ir.IDField] = t.Columns[0]
	physical := map[string]string{ir.IDField: ir.IDField}
	seen := map[string]bool{}

	for _, f := range et.Fields {
		if !isIdentifier(f.Name) {
			return nil, &SchemaError{EntityType: et.Name, Field: f.Name, Message: "invalid field name"}
		}
		if seen[f.Name] {
			return nil, &SchemaError{EntityType: et.Name, Field: f.Name, Message: "field declared twice"}
		}
		seen[f.Name] = true
		if f.Name == ir.IDField {
			continue
		}

		if f.IsDerived() {
			d, err := compileDerived(et, f, declared)
			if err != nil {
				return nil, err
			}
			t.Derived = append(t.Derived, d)
			continue
		}

		col, err := compileColumn(et, f, declared)
		if err != nil {
			return nil, err
		}
		if IsReservedColumn(col.Name) {
			return nil, &SchemaError{
				EntityType: et.Name,
				Field:      f.Name,
				Message:    fmt.Sprintf("column name %q is reserved", col.Name),
			}
		}
		if other, clash := physical[col.Name]; clash {
			return nil, &SchemaError{
				EntityType: et.Name,
				Field:      f.Name,
				Message:    fmt.Sprintf("column name %q collides with field %s", col.Name, other),
			}
		}
		physical[col.Name] = f.Name
		t.Columns = append(t.Columns, col)
		t.byField[f.Name] = col
	}
	return t, nil
}

func compileColumn(et ir.EntityType, f ir.Field, declared map[string]ir.EntityType) (*Column, error) {
	col := &Column{
		Name:        SnakeCase(f.Name),
		Field:       f.Name,
		List:        f.Type.List,
		ElemNonNull: f.Type.ElemNonNull,
		Nullable:    !f.Type.NonNull,
	}
	if ct, ok := ScalarColumnType(f.Type.Base); ok {
		col.Type = ct
		return col, nil
	}
	if _, ok := declared[f.Type.Base]; !ok {
		return nil, &SchemaError{
			EntityType: et.Name,
			Field:      f.Name,
			Message:    fmt.Sprintf("relationship targets undeclared type %q", f.Type.Base),
		}
	}
	// Identifiers are always stored as text.
	col.Type = ColumnString
	col.Reference = f.Type.Base
	return col, nil
}

func compileDerived(et ir.EntityType, f ir.Field, declared map[string]ir.EntityType) (DerivedField, error) {
	target, ok := declared[f.Type.Base]
	if !ok {
		return DerivedField{}, &SchemaError{
			EntityType: et.Name,
			Field:      f.Name,
			Message:    fmt.Sprintf("derived field must reference an entity type, got %s", f.Type),
		}
	}
	forward, ok := target.Field(f.DerivedFrom)
	if !ok {
		return DerivedField{}, &SchemaError{
			EntityType: et.Name,
			Field:      f.Name,
			Message:    fmt.Sprintf("derived from missing field %s.%s", target.Name, f.DerivedFrom),
		}
	}
	if forward.IsDerived() || forward.Type.Base != et.Name {
		return DerivedField{}, &SchemaError{
			EntityType: et.Name,
			Field:      f.Name,
			Message:    fmt.Sprintf("%s.%s does not reference %s", target.Name, f.DerivedFrom, et.Name),
		}
	}
	return DerivedField{
		Field:       f.Name,
		TargetType:  target.Name,
		TargetField: forward.Name,
		List:        f.Type.List,
	}, nil
}

// SnakeCase converts a declared name to its physical form:
// "tokenURI" becomes "token_uri" and "Token" becomes "token".
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// FieldNames returns every stored and derived field of a table, sorted.
func (t *Table) FieldNames() []string {
	names := make([]string, 0, len(t.Columns)+len(t.Derived))
	for _, c := range t.Columns {
		names = append(names, c.Field)
	}
	for _, d := range t.Derived {
		names = append(names, d.Field)
	}
	slices.Sort(names)
	return names
}
