package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/layout"
)

// MigrateSchema replaces a deployment's schema with an additive revision.
//
// Allowed changes: new entity types (new tables), new nullable or list
// fields (new columns, NULL in existing versions) and any change to derived
// fields. Everything else, such as dropping or retyping a stored field, is
// a SchemaError and nothing is written. The deployment id is unchanged and
// the cached layout is invalidated.
func (s *Store) MigrateSchema(ctx context.Context, deploymentID string, schema ir.Schema) error {
	mu := s.writer(deploymentID)
	mu.Lock()
	defer mu.Unlock()

	old, err := s.Layout(ctx, deploymentID)
	if err != nil {
		return err
	}
	next, err := layout.Compile(deploymentID, old.Namespace, schema)
	if err != nil {
		return err
	}
	stmts, err := migrationStatements(old, next)
	if err != nil {
		return err
	}

	if err := s.migrate(ctx, deploymentID, next, stmts); err != nil {
		return wrapErr("migrate schema", err)
	}
	s.layouts.Invalidate(deploymentID)

	log.Info("migrated deployment schema",
		zap.String("deployment", deploymentID),
		zap.Int("statements", len(stmts)))
	return nil
}

func (s *Store) migrate(ctx context.Context, deploymentID string, next *layout.Layout, stmts []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	d, err := loadDeployment(ctx, tx, deploymentID)
	if err != nil {
		return err
	}
	d.Manifest.Schema = next.Schema
	manifestJSON, err := marshalManifest(d.Manifest)
	if err != nil {
		return err
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute %q: %w", stmt, err)
		}
	}
	for _, table := range next.Tables() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deployment_entity_counts (deployment_id, entity_type, count) VALUES (?, ?, 0)
			ON CONFLICT(deployment_id, entity_type) DO NOTHING
		`, deploymentID, table.EntityType); err != nil {
			return fmt.Errorf("counts: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE deployments SET manifest = ? WHERE id = ?
	`, manifestJSON, deploymentID); err != nil {
		return fmt.Errorf("update manifest: %w", err)
	}

	return tx.Commit()
}

// migrationStatements returns the DDL turning old into next, or a
// SchemaError when the change is not additive.
func migrationStatements(old, next *layout.Layout) ([]string, error) {
	for _, oldTable := range old.Tables() {
		nextTable, err := next.Table(oldTable.EntityType)
		if err != nil {
			return nil, &layout.SchemaError{EntityType: oldTable.EntityType, Message: "entity types cannot be removed"}
		}
		for _, col := range oldTable.Columns {
			nextCol, err := nextTable.Column(col.Field)
			if err != nil {
				return nil, &layout.SchemaError{EntityType: oldTable.EntityType, Field: col.Field, Message: "stored fields cannot be removed"}
			}
			if *nextCol != *col {
				return nil, &layout.SchemaError{EntityType: oldTable.EntityType, Field: col.Field, Message: "stored fields cannot change type"}
			}
		}
	}

	var stmts []string
	for _, nextTable := range next.Tables() {
		oldTable, err := old.Table(nextTable.EntityType)
		if err != nil {
			stmts = append(stmts, nextTable.CreateStatements()...)
			continue
		}
		for _, col := range nextTable.Columns {
			if oldTable.HasField(col.Field) {
				if _, err := oldTable.Column(col.Field); err == nil {
					continue
				}
			}
			if !col.Nullable {
				return nil, &layout.SchemaError{
					EntityType: nextTable.EntityType, Field: col.Field,
					Message: "new fields on existing types must be nullable",
				}
			}
			stmts = append(stmts, nextTable.AddColumnStatements(col)...)
		}
	}
	return stmts, nil
}
