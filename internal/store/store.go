package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/entitystore/internal/layout"
	"github.com/roach88/entitystore/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on deployments.network for status listings
const currentSchemaVersion = 1

// DefaultEventBuffer is the per-subscriber channel capacity.
const DefaultEventBuffer = 64

// Store is the versioned entity store.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db      *sql.DB
	layouts *layout.Cache
	metrics *Metrics
	events  *broker

	// writers serializes Apply, RevertTo, Prune and MigrateSchema per
	// deployment. Readers never take it.
	writersMu sync.Mutex
	writers   map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*options)

type options struct {
	cacheSize   int
	eventBuffer int
	registerer  prometheus.Registerer
}

// WithLayoutCacheSize bounds the number of compiled layouts kept in memory.
func WithLayoutCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithEventBuffer sets the channel capacity of new subscriptions.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}

// WithMetricsRegisterer registers the store's collectors with r.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{cacheSize: layout.DefaultCacheSize, eventBuffer: DefaultEventBuffer}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open(querysql.DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// Every transaction must finish its reads through the tx itself:
	// a db-level query while a tx is open would wait forever.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	metrics, err := NewMetrics(o.registerer)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		metrics: metrics,
		events:  newBroker(o.eventBuffer, metrics),
		writers: make(map[string]*sync.Mutex),
	}
	s.layouts, err = layout.NewCache(o.cacheSize, s, layout.WithLookupHook(metrics.observeLayoutLookup))
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection and every subscription.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.events.closeAll()
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Metrics returns the store's collectors.
func (s *Store) Metrics() *Metrics {
	return s.metrics
}

// Layout returns the compiled layout of a deployment, from the cache when
// possible.
func (s *Store) Layout(ctx context.Context, deploymentID string) (*layout.Layout, error) {
	l, err := s.layouts.GetOrCompile(ctx, deploymentID)
	if err != nil {
		return nil, wrapErr("load layout", err)
	}
	return l, nil
}

// writer returns the lock serializing mutations of one deployment.
func (s *Store) writer(deploymentID string) *sync.Mutex {
	s.writersMu.Lock()
	defer s.writersMu.Unlock()
	mu, ok := s.writers[deploymentID]
	if !ok {
		mu = &sync.Mutex{}
		s.writers[deploymentID] = mu
	}
	return mu
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes deployments by network for Statuses.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployments_network
		ON deployments(network)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
