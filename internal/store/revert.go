package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/entitystore/internal/layout"
)

// RevertTo rolls a deployment back to the state it had after block.
//
// Versions that started after block are deleted. Versions closed at or
// after block are reopened, unless the entity already has an open version.
// The head moves to block, the block log is trimmed and entity counts are
// recomputed, all in one transaction.
//
// Reverting to the head or above is a no-op. Reverting below the earliest
// block fails with RevertTargetTooOldError.
func (s *Store) RevertTo(ctx context.Context, deploymentID string, block int64) error {
	mu := s.writer(deploymentID)
	mu.Lock()
	defer mu.Unlock()

	l, err := s.Layout(ctx, deploymentID)
	if err != nil {
		return err
	}

	reverted, err := s.revert(ctx, l, block)
	if err != nil {
		return wrapErr("revert", err)
	}
	if !reverted {
		return nil
	}

	s.metrics.Reverts.WithLabelValues(deploymentID).Inc()
	log.Info("reverted deployment", zap.String("deployment", deploymentID), zap.Int64("block", block))
	s.events.publish(StoreEvent{DeploymentID: deploymentID, Block: block, Revert: true})
	return nil
}

func (s *Store) revert(ctx context.Context, l *layout.Layout, block int64) (bool, error) {
	id := l.DeploymentID
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	dep, err := loadDeploymentRow(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if block < dep.earliest {
		return false, &RevertTargetTooOldError{DeploymentID: id, Target: block, Earliest: dep.earliest}
	}
	if !dep.head.Valid || block >= dep.head.Int64 {
		return false, nil
	}

	for _, table := range l.Tables() {
		name := layout.Quote(table.Name)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s WHERE "valid_from_block" > ?
		`, name), block); err != nil {
			return false, fmt.Errorf("delete %s versions: %w", table.EntityType, err)
		}
		// Surviving versions all start at or before block, so at most one
		// per id can cover it.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET "valid_to_block" = NULL
			WHERE "valid_to_block" >= ?
			  AND NOT EXISTS (
			    SELECT 1 FROM %s AS o WHERE o."id" = %s."id" AND o."valid_to_block" IS NULL
			  )
		`, name, name, name), block); err != nil {
			return false, fmt.Errorf("reopen %s versions: %w", table.EntityType, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM deployment_blocks WHERE deployment_id = ? AND number > ?
	`, id, block); err != nil {
		return false, fmt.Errorf("trim block log: %w", err)
	}

	var hash sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT hash FROM deployment_blocks WHERE deployment_id = ? AND number = ?
	`, id, block).Scan(&hash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("load block hash: %w", err)
	}

	if err := recountEntities(ctx, tx, l); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE deployments
		SET head_block = ?, head_hash = ?,
		    block_count = (SELECT COUNT(*) FROM deployment_blocks WHERE deployment_id = ?)
		WHERE id = ?
	`, block, hash, id, id); err != nil {
		return false, fmt.Errorf("update deployment head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// recountEntities recomputes per-type and total open-version counts.
func recountEntities(ctx context.Context, tx querier, l *layout.Layout) error {
	id := l.DeploymentID
	var total int64
	for _, table := range l.Tables() {
		var n int64
		if err := tx.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT COUNT(*) FROM %s WHERE "valid_to_block" IS NULL
		`, layout.Quote(table.Name))).Scan(&n); err != nil {
			return fmt.Errorf("count %s: %w", table.EntityType, err)
		}
		total += n
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deployment_entity_counts (deployment_id, entity_type, count) VALUES (?, ?, ?)
			ON CONFLICT(deployment_id, entity_type) DO UPDATE SET count = excluded.count
		`, id, table.EntityType, n); err != nil {
			return fmt.Errorf("store %s count: %w", table.EntityType, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE deployments SET entity_count = ? WHERE id = ?`, total, id); err != nil {
		return fmt.Errorf("store entity count: %w", err)
	}
	return nil
}

// Prune discards history no query at or after block can observe: versions
// that ended before block, and block log entries below it. The earliest
// block becomes block, so later reverts below it fail with
// RevertTargetTooOldError.
func (s *Store) Prune(ctx context.Context, deploymentID string, block int64) error {
	mu := s.writer(deploymentID)
	mu.Lock()
	defer mu.Unlock()

	l, err := s.Layout(ctx, deploymentID)
	if err != nil {
		return err
	}

	removed, err := s.prune(ctx, l, block)
	if err != nil {
		return wrapErr("prune", err)
	}
	log.Info("pruned deployment",
		zap.String("deployment", deploymentID),
		zap.Int64("block", block),
		zap.Int64("versions_removed", removed))
	return nil
}

func (s *Store) prune(ctx context.Context, l *layout.Layout, block int64) (int64, error) {
	id := l.DeploymentID
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	dep, err := loadDeploymentRow(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if !dep.head.Valid || block > dep.head.Int64 {
		beyond := &PruneTargetBeyondHeadError{DeploymentID: id, Target: block}
		if dep.head.Valid {
			beyond.Head = &dep.head.Int64
		}
		return 0, beyond
	}
	if block <= dep.earliest {
		return 0, nil
	}

	var removed int64
	for _, table := range l.Tables() {
		result, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s WHERE "valid_to_block" < ?
		`, layout.Quote(table.Name)), block)
		if err != nil {
			return 0, fmt.Errorf("prune %s: %w", table.EntityType, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("prune %s: %w", table.EntityType, err)
		}
		removed += n
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM deployment_blocks WHERE deployment_id = ? AND number < ?
	`, id, block); err != nil {
		return 0, fmt.Errorf("trim block log: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE deployments
		SET earliest_block = ?,
		    block_count = (SELECT COUNT(*) FROM deployment_blocks WHERE deployment_id = ?)
		WHERE id = ?
	`, block, id, id); err != nil {
		return 0, fmt.Errorf("update earliest block: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return removed, nil
}
