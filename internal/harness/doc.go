// Package harness provides conformance testing for entity store deployments.
//
// The harness compiles a CUE manifest, registers a deployment in a fresh
// in-memory store, runs a scenario's steps against it, and evaluates
// assertions on the final state. Each step leaves one event in the trace,
// which is compared against a golden file.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	manifest: ../manifests/token
//	steps:
//	  - block: 10
//	    ops:
//	      - {op: set, entity: Token, id: A1, data: {owner: x}}
//	  - revert: 5
//	  - prune: 8
//	    expect_error: REVERT_TARGET_TOO_OLD
//	  - query:
//	      entity: Token
//	      where: {owner: x}
//	      order: id desc
//	      expect: [A1]
//	assertions:
//	  - type: entity_state
//	    entity: Token
//	    id: A1
//	    expect: {owner: x}
//	  - type: history
//	    entity: Token
//	    id: A1
//	    ranges: ["10..open"]
//
// Every step is exactly one of block, revert, prune or query. A step with
// expect_error must fail with that error code; any other step must succeed.
//
// # Assertion Types
//
//   - entity_state: read one entity, optionally at a block, and compare a
//     subset of its fields, or check it is absent
//   - entity_count: count the entities of a type visible at a block
//   - head: the deployment's head block
//   - history: the block ranges of an entity's versions
//   - no_violations: the version history passes the consistency check
//
// # Golden Files
//
// Traces are serialized as canonical JSON and stored under
// testdata/golden/<scenario>.golden. Regenerate them with:
//
//	go test ./internal/harness -update
package harness
