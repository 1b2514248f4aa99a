package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/layout"
	"github.com/roach88/entitystore/internal/querysql"
)

// Apply writes the operations of one block as entity versions.
//
// Operations are coalesced per entity in order: a Set merges over earlier
// Sets, a Remove discards them. For each entity the result is then applied
// against its stored history:
//   - Set merges over the open version (an explicit null clears a field).
//     Identical values are a no-op; otherwise the open version is closed at
//     block-1 and a new open version starts at block.
//   - Remove closes the open version at block-1. Removing an entity with
//     no open version is a no-op.
//
// A new version at block is rejected with OutOfOrderBlockError unless block
// is strictly greater than the entity's last valid_from_block (and, for a
// removed entity, its last valid_to_block). Blocks below the deployment
// head are always rejected.
//
// Everything, including the deployment head, block log and entity counts,
// commits in one transaction. On error nothing is written.
func (s *Store) Apply(ctx context.Context, deploymentID string, block ir.BlockPtr, ops []ir.EntityOperation) error {
	start := time.Now()

	mu := s.writer(deploymentID)
	mu.Lock()
	defer mu.Unlock()

	// The layout is read under the writer lock so a concurrent migration
	// cannot swap it, and before the transaction starts: with a single
	// connection a cache miss inside the tx would deadlock.
	l, err := s.Layout(ctx, deploymentID)
	if err != nil {
		return err
	}
	writes, err := coalesce(l, ops)
	if err != nil {
		return err
	}

	changes, versions, err := s.applyBlock(ctx, deploymentID, block, writes)
	if err != nil {
		return wrapErr("apply", err)
	}

	s.metrics.BlocksApplied.WithLabelValues(deploymentID).Inc()
	s.metrics.VersionsWritten.WithLabelValues(deploymentID).Add(float64(versions))
	log.Debug("applied block",
		zap.String("deployment", deploymentID),
		zap.Int64("block", block.Number),
		zap.Int("operations", len(ops)),
		zap.Int("changes", len(changes)),
		zap.Int("versions", versions),
		zap.Duration("elapsed", time.Since(start)))

	s.events.publish(StoreEvent{DeploymentID: deploymentID, Block: block.Number, Changes: changes})
	return nil
}

func (s *Store) applyBlock(ctx context.Context, deploymentID string, block ir.BlockPtr, writes []*pendingWrite) ([]EntityChange, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	dep, err := loadDeploymentRow(ctx, tx, deploymentID)
	if err != nil {
		return nil, 0, err
	}
	if block.Number < dep.earliest {
		return nil, 0, &OutOfOrderBlockError{
			DeploymentID: deploymentID, Block: block.Number, Last: dep.earliest,
			Reason: "precedes the deployment's earliest block",
		}
	}
	if dep.head.Valid && block.Number < dep.head.Int64 {
		return nil, 0, &OutOfOrderBlockError{
			DeploymentID: deploymentID, Block: block.Number, Last: dep.head.Int64,
			Reason: "precedes the deployment head",
		}
	}

	changes := []EntityChange{}
	deltas := make(map[string]int64)
	versions := 0
	for _, w := range writes {
		result, err := applyWrite(ctx, tx, deploymentID, block.Number, w)
		if err != nil {
			return nil, 0, err
		}
		if result.change == nil {
			continue
		}
		changes = append(changes, *result.change)
		deltas[w.table.EntityType] += result.delta
		versions += result.inserted
	}

	if err := recordBlock(ctx, tx, deploymentID, block, deltas); err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit: %w", err)
	}
	return changes, versions, nil
}

// recordBlock advances the deployment head and updates the block log and
// entity counts.
func recordBlock(ctx context.Context, tx querier, deploymentID string, block ir.BlockPtr, deltas map[string]int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO deployment_blocks (deployment_id, number, hash) VALUES (?, ?, ?)
		ON CONFLICT(deployment_id, number) DO UPDATE SET hash = excluded.hash
	`, deploymentID, block.Number, block.Hash); err != nil {
		return fmt.Errorf("record block: %w", err)
	}

	var total int64
	for _, entityType := range sortedKeys(deltas) {
		delta := deltas[entityType]
		if delta == 0 {
			continue
		}
		total += delta
		if _, err := tx.ExecContext(ctx, `
			UPDATE deployment_entity_counts SET count = count + ?
			WHERE deployment_id = ? AND entity_type = ?
		`, delta, deploymentID, entityType); err != nil {
			return fmt.Errorf("update entity count: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE deployments
		SET head_block = ?, head_hash = ?,
		    block_count = (SELECT COUNT(*) FROM deployment_blocks WHERE deployment_id = ?),
		    entity_count = entity_count + ?,
		    synced = CASE WHEN synced = 1 OR (chain_head_block IS NOT NULL AND ? >= chain_head_block) THEN 1 ELSE 0 END
		WHERE id = ?
	`, block.Number, block.Hash, deploymentID, total, block.Number, deploymentID); err != nil {
		return fmt.Errorf("update deployment head: %w", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// pendingWrite is the coalesced effect of one block's operations on one
// entity.
type pendingWrite struct {
	table *layout.Table
	key   ir.EntityKey
	// remove is true when the last operation was a Remove.
	remove bool
	// replace is true when a Remove preceded the Sets, so data must not be
	// merged over the stored version.
	replace bool
	data    ir.Entity
}

// coalesce validates operations against the layout and folds them per
// entity. The result is sorted by type and id so writes apply in a
// deterministic order.
func coalesce(l *layout.Layout, ops []ir.EntityOperation) ([]*pendingWrite, error) {
	byKey := make(map[ir.EntityKey]*pendingWrite)
	for _, op := range ops {
		table, err := l.Table(op.EntityType)
		if err != nil {
			return nil, err
		}
		if op.EntityID == "" {
			return nil, &layout.InvalidValueError{EntityType: op.EntityType, Field: ir.IDField, Message: "entity id must not be empty"}
		}

		w, ok := byKey[op.Key()]
		if !ok {
			w = &pendingWrite{table: table, key: op.Key(), data: ir.Entity{}}
			byKey[op.Key()] = w
		}

		switch op.Kind {
		case ir.OpRemove:
			w.remove = true
			w.replace = true
			w.data = ir.Entity{}
		case ir.OpSet:
			data, err := coerceData(table, op)
			if err != nil {
				return nil, err
			}
			w.remove = false
			w.data = w.data.Merge(data)
		default:
			return nil, fmt.Errorf("unknown operation kind %s", op.Kind)
		}
	}

	writes := make([]*pendingWrite, 0, len(byKey))
	for _, w := range byKey {
		writes = append(writes, w)
	}
	slices.SortFunc(writes, func(a, b *pendingWrite) int {
		if c := strings.Compare(a.key.EntityType, b.key.EntityType); c != 0 {
			return c
		}
		return strings.Compare(a.key.EntityID, b.key.EntityID)
	})
	return writes, nil
}

// coerceData checks every field of a Set against the table and converts
// values to their column kinds.
func coerceData(table *layout.Table, op ir.EntityOperation) (ir.Entity, error) {
	out := make(ir.Entity, len(op.Data)+1)
	for _, field := range op.Data.SortedKeys() {
		col, err := table.Column(field)
		if err != nil {
			if _, derived := table.DerivedField(field); derived {
				return nil, &layout.InvalidValueError{EntityType: table.EntityType, Field: field, Message: "derived fields cannot be set"}
			}
			return nil, err
		}
		v, err := col.Coerce(op.Data[field])
		if err != nil {
			return nil, &layout.InvalidValueError{EntityType: table.EntityType, Field: field, Message: err.Error()}
		}
		if field == ir.IDField && !ir.Equal(v, ir.String(op.EntityID)) {
			return nil, &layout.InvalidValueError{
				EntityType: table.EntityType, Field: field,
				Message: fmt.Sprintf("id %s does not match operation id %q", ir.Describe(v), op.EntityID),
			}
		}
		out[field] = v
	}
	out[ir.IDField] = ir.String(op.EntityID)
	return out, nil
}

// version is one stored row.
type version struct {
	entity ir.Entity
	vid    int64
	from   int64
	to     *int64
}

func (v *version) open() bool {
	return v != nil && v.to == nil
}

type writeResult struct {
	change   *EntityChange
	delta    int64
	inserted int
}

func applyWrite(ctx context.Context, tx querier, deploymentID string, block int64, w *pendingWrite) (writeResult, error) {
	latest, err := latestVersion(ctx, tx, w.table, w.key.EntityID)
	if err != nil {
		return writeResult{}, err
	}

	if w.remove {
		if !latest.open() {
			return writeResult{}, nil
		}
		if block <= latest.from {
			return writeResult{}, outOfOrder(deploymentID, w.key, block, latest.from, "is not after the open version's start block")
		}
		if err := closeVersion(ctx, tx, w.table, latest.vid, block-1); err != nil {
			return writeResult{}, err
		}
		return writeResult{
			change: &EntityChange{EntityType: w.key.EntityType, EntityID: w.key.EntityID, Kind: ir.OpRemove.String()},
			delta:  -1,
		}, nil
	}

	base := ir.Entity{}
	if latest.open() && !w.replace {
		base = latest.entity
	}
	merged := base.Merge(w.data)
	for _, col := range w.table.Columns {
		if !col.Nullable && ir.IsNull(merged[col.Field]) {
			return writeResult{}, &layout.InvalidValueError{
				EntityType: w.table.EntityType, Field: col.Field, Message: "required field is missing",
			}
		}
	}
	if latest.open() && merged.Equal(latest.entity) {
		return writeResult{}, nil
	}

	if latest != nil {
		if block <= latest.from {
			return writeResult{}, outOfOrder(deploymentID, w.key, block, latest.from, "is not after the last version's start block")
		}
		if latest.to != nil && block <= *latest.to {
			return writeResult{}, outOfOrder(deploymentID, w.key, block, *latest.to, "is not after the last version's end block")
		}
	}

	var delta int64 = 1
	if latest.open() {
		if err := closeVersion(ctx, tx, w.table, latest.vid, block-1); err != nil {
			return writeResult{}, err
		}
		delta = 0
	}
	if err := insertVersion(ctx, tx, w.table, merged, block); err != nil {
		return writeResult{}, err
	}
	return writeResult{
		change:   &EntityChange{EntityType: w.key.EntityType, EntityID: w.key.EntityID, Kind: ir.OpSet.String()},
		delta:    delta,
		inserted: 1,
	}, nil
}

func outOfOrder(deploymentID string, key ir.EntityKey, block, last int64, reason string) error {
	return &OutOfOrderBlockError{DeploymentID: deploymentID, Key: key.String(), Block: block, Last: last, Reason: reason}
}

// latestVersion returns the version of id with the greatest
// valid_from_block, or nil when the entity was never written.
func latestVersion(ctx context.Context, q querier, table *layout.Table, id string) (*version, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, e."vid", e."valid_from_block", e."valid_to_block"
		FROM %s AS e
		WHERE e."id" = ?
		ORDER BY e."valid_from_block" DESC
		LIMIT 1
	`, querysql.ColumnList(table, "e"), layout.Quote(table.Name)), id)
	if err != nil {
		return nil, fmt.Errorf("query %s[%s]: %w", table.EntityType, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	v := &version{}
	v.entity, err = querysql.ScanEntity(rows, table, &v.vid, &v.from, &v.to)
	if err != nil {
		return nil, err
	}
	return v, rows.Err()
}

func closeVersion(ctx context.Context, tx querier, table *layout.Table, vid, to int64) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET %s = ? WHERE %s = ?
	`, layout.Quote(table.Name), layout.Quote(layout.ColumnValidTo), layout.Quote(layout.ColumnVID)), to, vid)
	if err != nil {
		return fmt.Errorf("close %s version %d: %w", table.EntityType, vid, err)
	}
	return nil
}

func insertVersion(ctx context.Context, tx querier, table *layout.Table, entity ir.Entity, from int64) error {
	cols := make([]string, 0, len(table.Columns)+1)
	marks := make([]string, 0, len(table.Columns)+1)
	args := make([]any, 0, len(table.Columns)+1)
	for _, col := range table.Columns {
		v, err := col.ToSQL(entity[col.Field])
		if err != nil {
			return &layout.InvalidValueError{EntityType: table.EntityType, Field: col.Field, Message: err.Error()}
		}
		cols = append(cols, layout.Quote(col.Name))
		marks = append(marks, "?")
		args = append(args, v)
	}
	cols = append(cols, layout.Quote(layout.ColumnValidFrom))
	marks = append(marks, "?")
	args = append(args, from)

	_, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		layout.Quote(table.Name), strings.Join(cols, ", "), strings.Join(marks, ", ")), args...)
	if err != nil {
		return fmt.Errorf("insert %s[%s]: %w", table.EntityType, entity.ID(), err)
	}
	return nil
}
