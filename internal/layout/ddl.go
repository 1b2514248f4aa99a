package layout

import (
	"fmt"
	"strings"

	"github.com/roach88/entitystore/internal/ir"
)

// Quote renders an SQL identifier.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SQLType returns the declared type of the column.
func (c *Column) SQLType() string {
	if c.List {
		return "TEXT"
	}
	return c.Type.SQLType()
}

// ColumnDefinition renders the column for CREATE TABLE or ADD COLUMN.
func (c *Column) ColumnDefinition() string {
	def := Quote(c.Name) + " " + c.SQLType()
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def
}

// CreateStatements returns the DDL creating the table and its indexes.
//
// Indexes:
//   - (id, valid_from_block) unique, for point-in-time lookups
//   - (valid_from_block, valid_to_block), for range scans and reverts
//   - (id) unique where valid_to_block IS NULL, so at most one version is open
//   - one per single-valued relationship column, for traversal and reverse lookups
func (t *Table) CreateStatements() []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", Quote(t.Name))
	fmt.Fprintf(&b, "    %s INTEGER PRIMARY KEY AUTOINCREMENT,\n", Quote(ColumnVID))
	for _, c := range t.Columns {
		fmt.Fprintf(&b, "    %s,\n", c.ColumnDefinition())
	}
	fmt.Fprintf(&b, "    %s INTEGER NOT NULL,\n", Quote(ColumnValidFrom))
	fmt.Fprintf(&b, "    %s INTEGER,\n", Quote(ColumnValidTo))
	fmt.Fprintf(&b, "    CHECK (%s IS NULL OR %s <= %s)\n",
		Quote(ColumnValidTo), Quote(ColumnValidFrom), Quote(ColumnValidTo))
	b.WriteString(")")

	stmts := []string{
		b.String(),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s, %s)",
			Quote(t.Name+"_id_from"), Quote(t.Name), Quote(ir.IDField), Quote(ColumnValidFrom)),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)",
			Quote(t.Name+"_block_range"), Quote(t.Name), Quote(ColumnValidFrom), Quote(ColumnValidTo)),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s) WHERE %s IS NULL",
			Quote(t.Name+"_open"), Quote(t.Name), Quote(ir.IDField), Quote(ColumnValidTo)),
	}
	for _, c := range t.Columns[1:] {
		if stmt, ok := t.ReferenceIndex(c); ok {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// ReferenceIndex returns the index DDL for a single-valued relationship
// column. List-valued relationships are not indexed; reverse lookups over
// them scan the open versions.
func (t *Table) ReferenceIndex(c *Column) (string, bool) {
	if !c.IsReference() || c.List {
		return "", false
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)",
		Quote(t.Name+"_ref_"+c.Name), Quote(t.Name), Quote(c.Name), Quote(ColumnValidFrom)), true
}

// AddColumnStatements returns the DDL adding a new column to an existing
// table, including its index if it is a relationship.
func (t *Table) AddColumnStatements(c *Column) []string {
	stmts := []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", Quote(t.Name), c.ColumnDefinition()),
	}
	if stmt, ok := t.ReferenceIndex(c); ok {
		stmts = append(stmts, stmt)
	}
	return stmts
}

// DDL renders the full layout as a script, one statement per paragraph.
func (l *Layout) DDL() string {
	var b strings.Builder
	for i, t := range l.Tables() {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "-- %s\n", t.EntityType)
		for _, stmt := range t.CreateStatements() {
			b.WriteString(stmt)
			b.WriteString(";\n")
		}
		for _, d := range t.Derived {
			fmt.Fprintf(&b, "-- %s.%s derived from %s.%s\n", t.EntityType, d.Field, d.TargetType, d.TargetField)
		}
	}
	return b.String()
}
