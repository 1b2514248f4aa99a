package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/layout"
)

// Deployment is a registered indexing job.
type Deployment struct {
	ID        string      `json:"id"`
	Namespace string      `json:"namespace"`
	Manifest  ir.Manifest `json:"manifest"`
}

// Status is a read-only snapshot of a deployment's progress, for the
// indexing-status reporting layer.
type Status struct {
	DeploymentID   string `json:"deployment_id"`
	Namespace      string `json:"namespace"`
	Network        string `json:"network"`
	CurrentVersion string `json:"current_version,omitempty"`
	PendingVersion string `json:"pending_version,omitempty"`
	Synced         bool   `json:"synced"`
	Failed         bool   `json:"failed"`
	FatalError     string `json:"fatal_error,omitempty"`
	// EarliestBlock is the first block history is kept for.
	EarliestBlock int64 `json:"earliest_block"`
	// HeadBlock is the last processed block, nil before the first Apply.
	HeadBlock *ir.BlockPtr `json:"head_block"`
	// ChainHead is the latest block of the network, as last reported.
	ChainHead    *ir.BlockPtr     `json:"chain_head"`
	BlockCount   int64            `json:"block_count"`
	EntityCount  int64            `json:"entity_count"`
	EntityCounts map[string]int64 `json:"entity_counts"`
}

// CreateDeployment registers a deployment and creates its entity tables.
//
// An empty id means the content hash of the manifest (ir.DeploymentID).
// The schema is compiled before anything is written, so a SchemaError
// leaves the store untouched. Registering an existing id is a no-op that
// returns the existing deployment.
func (s *Store) CreateDeployment(ctx context.Context, id string, m ir.Manifest) (*Deployment, error) {
	if id == "" {
		var err error
		if id, err = ir.DeploymentID(m); err != nil {
			return nil, fmt.Errorf("create deployment: %w", err)
		}
	}
	if err := ir.ValidateDeploymentID(id); err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}
	if m.Network == "" {
		return nil, fmt.Errorf("create deployment: network is required")
	}
	if _, err := layout.Compile(id, "sgd0", m.Schema); err != nil {
		return nil, err
	}
	manifestJSON, err := marshalManifest(m)
	if err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}

	mu := s.writer(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("create deployment: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	existing, err := loadDeployment(ctx, tx, id)
	if err == nil {
		return existing, nil
	}
	if !IsUnknownDeploymentError(err) {
		return nil, wrapErr("create deployment", err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM deployments`).Scan(&seq); err != nil {
		return nil, wrapErr("create deployment: next seq", err)
	}
	namespace := fmt.Sprintf("sgd%d", seq)
	l, err := layout.Compile(id, namespace, m.Schema)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deployments (id, seq, namespace, network, manifest, earliest_block)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, seq, namespace, m.Network, manifestJSON, m.StartBlock)
	if err != nil {
		return nil, wrapErr("create deployment: insert", err)
	}

	for _, table := range l.Tables() {
		for _, stmt := range table.CreateStatements() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return nil, wrapErr("create deployment: create "+table.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deployment_entity_counts (deployment_id, entity_type, count) VALUES (?, ?, 0)
		`, id, table.EntityType); err != nil {
			return nil, wrapErr("create deployment: counts", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr("create deployment: commit", err)
	}

	log.Info("created deployment",
		zap.String("deployment", id),
		zap.String("namespace", namespace),
		zap.String("network", m.Network),
		zap.Int("entity_types", len(m.Schema.Types)))
	return &Deployment{ID: id, Namespace: namespace, Manifest: m}, nil
}

// Deployment returns a registered deployment.
func (s *Store) Deployment(ctx context.Context, id string) (*Deployment, error) {
	d, err := loadDeployment(ctx, s.db, id)
	if err != nil {
		return nil, wrapErr("load deployment", err)
	}
	return d, nil
}

// LoadDefinition implements layout.SchemaSource.
func (s *Store) LoadDefinition(ctx context.Context, id string) (layout.Definition, error) {
	d, err := s.Deployment(ctx, id)
	if err != nil {
		return layout.Definition{}, err
	}
	return layout.Definition{DeploymentID: d.ID, Namespace: d.Namespace, Schema: d.Manifest.Schema}, nil
}

// Status returns a snapshot of a deployment's progress.
func (s *Store) Status(ctx context.Context, id string) (Status, error) {
	statuses, err := s.statuses(ctx, `WHERE id = ?`, id)
	if err != nil {
		return Status{}, wrapErr("status", err)
	}
	if len(statuses) == 0 {
		return Status{}, &UnknownDeploymentError{DeploymentID: id}
	}
	return statuses[0], nil
}

// Statuses returns snapshots of every deployment indexing network, or of
// every deployment when network is empty, in registration order.
func (s *Store) Statuses(ctx context.Context, network string) ([]Status, error) {
	var (
		statuses []Status
		err      error
	)
	if network == "" {
		statuses, err = s.statuses(ctx, "")
	} else {
		statuses, err = s.statuses(ctx, `WHERE network = ?`, network)
	}
	if err != nil {
		return nil, wrapErr("statuses", err)
	}
	return statuses, nil
}

func (s *Store) statuses(ctx context.Context, where string, args ...any) ([]Status, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, network, current_version, pending_version, synced, failed, fatal_error,
		       earliest_block, head_block, head_hash, chain_head_block, chain_head_hash,
		       block_count, entity_count
		FROM deployments `+where+`
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	statuses := []Status{}
	for rows.Next() {
		var (
			st                        Status
			current, pending, fatal   sql.NullString
			headHash, chainHash       sql.NullString
			headBlock, chainHeadBlock sql.NullInt64
		)
		if err := rows.Scan(&st.DeploymentID, &st.Namespace, &st.Network, &current, &pending,
			&st.Synced, &st.Failed, &fatal, &st.EarliestBlock, &headBlock, &headHash,
			&chainHeadBlock, &chainHash, &st.BlockCount, &st.EntityCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		st.CurrentVersion = current.String
		st.PendingVersion = pending.String
		st.FatalError = fatal.String
		st.HeadBlock = blockPtr(headBlock, headHash)
		st.ChainHead = blockPtr(chainHeadBlock, chainHash)
		statuses = append(statuses, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	rows.Close()

	for i := range statuses {
		counts, err := entityCounts(ctx, s.db, statuses[i].DeploymentID)
		if err != nil {
			return nil, err
		}
		statuses[i].EntityCounts = counts
	}
	return statuses, nil
}

func blockPtr(number sql.NullInt64, hash sql.NullString) *ir.BlockPtr {
	if !number.Valid {
		return nil
	}
	return &ir.BlockPtr{Number: number.Int64, Hash: hash.String}
}

func entityCounts(ctx context.Context, q querier, id string) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT entity_type, count FROM deployment_entity_counts
		WHERE deployment_id = ?
		ORDER BY entity_type COLLATE BINARY ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query entity counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var (
			entityType string
			n          int64
		)
		if err := rows.Scan(&entityType, &n); err != nil {
			return nil, fmt.Errorf("scan entity count: %w", err)
		}
		counts[entityType] = n
	}
	return counts, rows.Err()
}

// SetChainHead records the latest block of the indexed network. The
// deployment becomes synced once its head reaches the chain head; synced
// never flips back.
func (s *Store) SetChainHead(ctx context.Context, id string, head ir.BlockPtr) error {
	return s.updateDeployment(ctx, "set chain head", id, `
		UPDATE deployments
		SET chain_head_block = ?, chain_head_hash = ?,
		    synced = CASE WHEN synced = 1 OR (head_block IS NOT NULL AND head_block >= ?) THEN 1 ELSE 0 END
		WHERE id = ?
	`, head.Number, head.Hash, head.Number, id)
}

// Fail marks a deployment as failed with an error message.
func (s *Store) Fail(ctx context.Context, id, message string) error {
	if err := s.updateDeployment(ctx, "fail", id, `
		UPDATE deployments SET failed = 1, fatal_error = ? WHERE id = ?
	`, message, id); err != nil {
		return err
	}
	log.Warn("deployment failed", zap.String("deployment", id), zap.String("error", message))
	return nil
}

// ClearFailure resets the failed flag and error message.
func (s *Store) ClearFailure(ctx context.Context, id string) error {
	return s.updateDeployment(ctx, "clear failure", id, `
		UPDATE deployments SET failed = 0, fatal_error = NULL WHERE id = ?
	`, id)
}

// SetVersions records the current and pending manifest versions. An empty
// string clears a pointer.
func (s *Store) SetVersions(ctx context.Context, id, current, pending string) error {
	return s.updateDeployment(ctx, "set versions", id, `
		UPDATE deployments SET current_version = ?, pending_version = ? WHERE id = ?
	`, nullString(current), nullString(pending), id)
}

func (s *Store) updateDeployment(ctx context.Context, op, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapErr(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return &UnknownDeploymentError{DeploymentID: id}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// deploymentRow is the mutable progress state read inside write
// transactions.
type deploymentRow struct {
	earliest  int64
	head      sql.NullInt64
	chainHead sql.NullInt64
}

func loadDeploymentRow(ctx context.Context, q querier, id string) (deploymentRow, error) {
	var row deploymentRow
	err := q.QueryRowContext(ctx, `
		SELECT earliest_block, head_block, chain_head_block FROM deployments WHERE id = ?
	`, id).Scan(&row.earliest, &row.head, &row.chainHead)
	if errors.Is(err, sql.ErrNoRows) {
		return row, &UnknownDeploymentError{DeploymentID: id}
	}
	if err != nil {
		return row, fmt.Errorf("load deployment %s: %w", id, err)
	}
	return row, nil
}

func loadDeployment(ctx context.Context, q querier, id string) (*Deployment, error) {
	var (
		d            Deployment
		manifestJSON string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, namespace, manifest FROM deployments WHERE id = ?
	`, id).Scan(&d.ID, &d.Namespace, &manifestJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &UnknownDeploymentError{DeploymentID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load deployment %s: %w", id, err)
	}
	if d.Manifest, err = unmarshalManifest(manifestJSON); err != nil {
		return nil, fmt.Errorf("load deployment %s: %w", id, err)
	}
	return &d, nil
}

// marshalManifest converts a manifest to canonical JSON TEXT for storage.
func marshalManifest(m ir.Manifest) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	data, err := ir.CanonicalizeJSON(raw)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	return string(data), nil
}

func unmarshalManifest(data string) (ir.Manifest, error) {
	var m ir.Manifest
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return m, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}
