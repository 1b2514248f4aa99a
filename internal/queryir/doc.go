// Package queryir provides the abstract query representation for entity
// queries.
//
// QueryIR is the boundary between query callers (the CLI, the scenario
// harness, a GraphQL-facing layer) and the SQL backend in querysql. Callers
// build a Query; querysql checks it against a deployment's compiled layout
// and turns it into parameterized SQL.
//
//	[where map / caller] → [Query IR] → [querysql] → SQLite
//
// QUERY TYPES:
//   - EntityQuery: entities of one type, filtered, ordered and paged
//   - RelationQuery: entities reached from one entity through a
//     relationship field (to-one, to-many or derived)
//
// Both carry an optional Block. A nil Block reads the head (open versions);
// a set Block reads the version of each entity valid at that block.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed interfaces using the marker method pattern.
// Only types in this package can implement them, which lets backends use
// exhaustive type switches:
//
//	switch q := query.(type) {
//	case *EntityQuery:
//	    // Handle entity query
//	case *RelationQuery:
//	    // Handle traversal
//	}
//
// NULL SEMANTICS:
//
// Comparisons never match NULL. Compare{Op: OpEqual, Value: ir.Null{}} is
// rewritten to IsNull by ParseWhere; use IsNull/Negated explicitly when
// building predicates by hand.
package queryir
