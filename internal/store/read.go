package store

import (
	"context"
	"fmt"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/layout"
	"github.com/roach88/entitystore/internal/queryir"
	"github.com/roach88/entitystore/internal/querysql"
)

// Query runs an EntityQuery or RelationQuery against a deployment.
// Results are ordered deterministically, ending with id ascending.
//
// Returns an empty slice (not nil, not an error) when nothing matches.
// Reads take no in-process locks.
func (s *Store) Query(ctx context.Context, deploymentID string, q queryir.Query) ([]ir.Entity, error) {
	l, err := s.Layout(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	stmt, err := querysql.NewSQLCompiler(l).Compile(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt.SQL, stmt.Params...)
	if err != nil {
		return nil, wrapErr("query", err)
	}
	defer rows.Close()

	entities, err := querysql.ScanEntities(rows, stmt.Table)
	if err != nil {
		return nil, wrapErr("query", err)
	}
	return entities, nil
}

// Get returns one entity as of block (nil = head). The boolean is false
// when the entity does not exist in that window.
func (s *Store) Get(ctx context.Context, deploymentID, entityType, id string, block *int64) (ir.Entity, bool, error) {
	entities, err := s.Query(ctx, deploymentID, queryir.EntityQuery{
		EntityType: entityType,
		Filter:     &queryir.Compare{Field: ir.IDField, Op: queryir.OpEqual, Value: ir.String(id)},
		Range:      queryir.Range{First: 1},
		Block:      block,
	})
	if err != nil {
		return nil, false, err
	}
	if len(entities) == 0 {
		return nil, false, nil
	}
	return entities[0], true, nil
}

// Version is one stored version of an entity.
type Version struct {
	Entity    ir.Entity `json:"entity"`
	ValidFrom int64     `json:"valid_from_block"`
	// ValidTo is nil for the open version.
	ValidTo *int64 `json:"valid_to_block"`
}

// History returns every stored version of an entity, oldest first.
func (s *Store) History(ctx context.Context, deploymentID, entityType, id string) ([]Version, error) {
	l, err := s.Layout(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	table, err := l.Table(entityType)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, e."valid_from_block", e."valid_to_block"
		FROM %s AS e
		WHERE e."id" = ?
		ORDER BY e."valid_from_block" ASC
	`, querysql.ColumnList(table, "e"), layout.Quote(table.Name)), id)
	if err != nil {
		return nil, wrapErr("history", err)
	}
	defer rows.Close()

	versions := []Version{}
	for rows.Next() {
		var v Version
		v.Entity, err = querysql.ScanEntity(rows, table, &v.ValidFrom, &v.ValidTo)
		if err != nil {
			return nil, wrapErr("history", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("history", err)
	}
	return versions, nil
}
