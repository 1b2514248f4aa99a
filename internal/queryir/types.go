package queryir

import "github.com/roach88/entitystore/internal/ir"

// Query represents an abstract entity query.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition on one entity type.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Order sorts results by one field.
type Order struct {
	Field      string
	Descending bool
}

// Range selects a window of the ordered results. Applied after filtering.
type Range struct {
	// First limits the number of results. 0 means no limit.
	First int
	// Skip drops this many results first.
	Skip int
	// After is an id cursor: only entities with a greater id (smaller for
	// descending order) are returned. Only valid when ordering by id.
	After string
}

// EntityQuery selects entities of one type.
//
// Semantics:
//
//	SELECT * FROM <type> WHERE <window(Block)> AND <filter>
//	ORDER BY <order>, id LIMIT <first> OFFSET <skip>
//
// Example:
//
//	EntityQuery{
//	  EntityType: "Token",
//	  Filter:     &Compare{Field: "owner", Op: OpEqual, Value: ir.String("x")},
//	  OrderBy:    []Order{{Field: "amount", Descending: true}},
//	  Range:      Range{First: 10},
//	  Block:      BlockAt(15),
//	}
//
// Results always end with id ascending as a tiebreaker, so pagination is
// deterministic.
type EntityQuery struct {
	EntityType string
	Filter     Predicate // nil = no filter
	OrderBy    []Order   // empty = id ascending
	Range      Range
	Block      *int64 // nil = head
}

func (EntityQuery) queryNode() {}

// RelationQuery resolves a relationship field of one entity.
//
// Semantics, by field kind:
//   - to-one:  the target whose id equals the parent's forward column
//   - to-many: the targets whose ids appear in the parent's list column
//   - derived: the targets whose forward field references the parent
//
// Parent and targets are read in the same block window. Filter, OrderBy
// and Range apply to the targets.
//
// Derived lookups over list-valued forward fields cannot use an index and
// scan every version of the target type visible in the window.
type RelationQuery struct {
	EntityType string // parent type
	ID         string // parent id
	Field      string // relationship or derived field on the parent
	Filter     Predicate
	OrderBy    []Order
	Range      Range
	Block      *int64
}

func (RelationQuery) queryNode() {}

// BlockAt returns a pointer to n, for EntityQuery.Block.
func BlockAt(n int64) *int64 {
	return &n
}

// CompareOp is a scalar comparison operator.
type CompareOp int

const (
	OpEqual CompareOp = iota
	OpNotEqual
	OpGt
	OpLt
	OpGte
	OpLte
)

func (op CompareOp) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	case OpGte:
		return ">="
	case OpLte:
		return "<="
	default:
		return "?"
	}
}

// Compare compares a field to a literal.
//
//	<field> <op> <value>
//
// BigInt and BigDecimal fields compare numerically. Comparisons never
// match rows where the field is NULL.
type Compare struct {
	Field string
	Op    CompareOp
	Value ir.Value
}

func (Compare) predicateNode() {}

// In matches when the field equals any of Values. An empty In matches
// nothing; an empty negated In matches every non-null value.
type In struct {
	Field   string
	Values  []ir.Value
	Negated bool
}

func (In) predicateNode() {}

// Contains matches substrings of String fields, byte sequences of Bytes
// fields, and elements of list fields.
type Contains struct {
	Field   string
	Value   ir.Value
	Negated bool
}

func (Contains) predicateNode() {}

// StartsWith matches String fields with the given prefix.
type StartsWith struct {
	Field   string
	Prefix  string
	Negated bool
}

func (StartsWith) predicateNode() {}

// EndsWith matches String fields with the given suffix.
type EndsWith struct {
	Field   string
	Suffix  string
	Negated bool
}

func (EndsWith) predicateNode() {}

// IsNull matches when the field is NULL (or not NULL when Negated).
type IsNull struct {
	Field   string
	Negated bool
}

func (IsNull) predicateNode() {}

// And represents a conjunction. Empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or represents a disjunction. Empty Or is always false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Child filters on the entities reached through a relationship field.
// It matches when at least one related entity, in the same block window,
// satisfies Filter.
//
// Example: tokens whose owner is named "alice"
//
//	Child{Field: "owner", Filter: &Compare{Field: "name", Op: OpEqual, Value: ir.String("alice")}}
type Child struct {
	Field  string
	Filter Predicate
}

func (Child) predicateNode() {}
