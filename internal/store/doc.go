// Package store provides the SQLite-backed versioned entity store.
//
// Every deployment gets its own set of entity tables, one per entity type,
// named after the deployment's namespace (sgd1_token, sgd1_owner, ...). A
// row is one version of one entity, valid over the block range
// [valid_from_block, valid_to_block]; a NULL valid_to_block marks the open
// (current) version.
//
// # Critical Patterns
//
// Single write path:
//   - Apply is the only code that produces entity rows. Rows are never
//     updated except to close (Apply) or reopen (RevertTo) a range.
//   - Apply, RevertTo, Prune and MigrateSchema hold a per-deployment writer
//     lock. Reads take no in-process locks.
//
// Atomic blocks:
//   - The versions of a block, the deployment head, the block log and the
//     entity counts commit in one transaction.
//
// Deterministic query results:
//   - All entity queries end with ORDER BY id COLLATE BINARY ASC.
//
// At most one open version per id:
//   - Enforced by the write path and by a partial UNIQUE index.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Deployment ids are computed in internal/ir/hash.go from the canonical
// JSON of the manifest.
package store
