package querysql

import (
	"database/sql"
	"fmt"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/layout"
)

// Rows is the subset of *sql.Rows the decoder needs.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

var _ Rows = (*sql.Rows)(nil)

// ScanEntity decodes one row whose leading columns are table.Columns, in
// order. extra receives any trailing columns.
func ScanEntity(rows Rows, table *layout.Table, extra ...any) (ir.Entity, error) {
	raw := make([]any, len(table.Columns))
	dest := make([]any, 0, len(raw)+len(extra))
	for i := range raw {
		dest = append(dest, &raw[i])
	}
	dest = append(dest, extra...)
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", table.EntityType, err)
	}

	entity := make(ir.Entity, len(table.Columns))
	for i, col := range table.Columns {
		v, err := col.FromSQL(raw[i])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", table.EntityType, err)
		}
		entity[col.Field] = v
	}
	return entity, nil
}

// ScanEntities decodes every remaining row.
func ScanEntities(rows Rows, table *layout.Table) ([]ir.Entity, error) {
	entities := []ir.Entity{}
	for rows.Next() {
		e, err := ScanEntity(rows, table)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table.EntityType, err)
	}
	return entities, nil
}
