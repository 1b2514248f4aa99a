package queryir

import (
	"fmt"

	"github.com/roach88/entitystore/internal/ir"
)

// ValidationResult lists structural problems found in a query.
//
// Structural validation needs no layout: it catches queries that are
// malformed regardless of the deployment. Unknown types and fields are
// reported by querysql when the query is compiled against a layout.
type ValidationResult struct {
	// Valid is true when Problems is empty.
	Valid bool

	Problems []string
}

// Err returns the problems as an error, or nil when the query is valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &InvalidQueryError{Problems: r.Problems}
}

// InvalidQueryError reports a structurally malformed query.
type InvalidQueryError struct {
	Problems []string
}

// Error implements the error interface.
func (e *InvalidQueryError) Error() string {
	if len(e.Problems) == 1 {
		return "INVALID_QUERY: " + e.Problems[0]
	}
	return fmt.Sprintf("INVALID_QUERY: %s (and %d more)", e.Problems[0], len(e.Problems)-1)
}

// Validate checks a query for structural problems.
//
// Rules:
//  1. Entity type (and field, for RelationQuery) must be named
//  2. First and Skip must not be negative; Block must not be negative
//  3. An After cursor requires ordering by id only
//  4. Predicates must be non-nil and name a field
//  5. In values and comparison operands must not be null
//  6. Ordered comparisons need a scalar, non-list operand
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{problems: []string{}}
	v.validateQuery(query)
	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case EntityQuery:
		v.validateEntityQuery(query)
	case *EntityQuery:
		if query == nil {
			v.addProblem("nil query")
			return
		}
		v.validateEntityQuery(*query)
	case RelationQuery:
		v.validateRelationQuery(query)
	case *RelationQuery:
		if query == nil {
			v.addProblem("nil query")
			return
		}
		v.validateRelationQuery(*query)
	case nil:
		v.addProblem("nil query")
	default:
		v.addProblem("unknown query type: %T", q)
	}
}

func (v *validator) validateEntityQuery(q EntityQuery) {
	if q.EntityType == "" {
		v.addProblem("entity type is required")
	}
	v.validateWindow(q.OrderBy, q.Range, q.Block)
	if q.Filter != nil {
		v.validatePredicate(q.Filter)
	}
}

func (v *validator) validateRelationQuery(q RelationQuery) {
	if q.EntityType == "" {
		v.addProblem("entity type is required")
	}
	if q.ID == "" {
		v.addProblem("parent id is required")
	}
	if q.Field == "" {
		v.addProblem("relationship field is required")
	}
	v.validateWindow(q.OrderBy, q.Range, q.Block)
	if q.Filter != nil {
		v.validatePredicate(q.Filter)
	}
}

func (v *validator) validateWindow(order []Order, r Range, block *int64) {
	if r.First < 0 {
		v.addProblem("first must not be negative, got %d", r.First)
	}
	if r.Skip < 0 {
		v.addProblem("skip must not be negative, got %d", r.Skip)
	}
	if block != nil && *block < 0 {
		v.addProblem("block must not be negative, got %d", *block)
	}
	for i, o := range order {
		if o.Field == "" {
			v.addProblem("order[%d]: field is required", i)
		}
	}
	if r.After != "" {
		if len(order) > 1 || (len(order) == 1 && order[0].Field != ir.IDField) {
			v.addProblem("after cursor requires ordering by id only")
		}
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case *Compare:
		v.validateCompare(*pred)
	case Compare:
		v.validateCompare(pred)
	case *In:
		v.validateIn(*pred)
	case In:
		v.validateIn(pred)
	case *Contains:
		v.requireField(pred.Field, "contains")
		v.requireValue(pred.Field, pred.Value)
	case Contains:
		v.requireField(pred.Field, "contains")
		v.requireValue(pred.Field, pred.Value)
	case *StartsWith:
		v.requireField(pred.Field, "starts_with")
	case StartsWith:
		v.requireField(pred.Field, "starts_with")
	case *EndsWith:
		v.requireField(pred.Field, "ends_with")
	case EndsWith:
		v.requireField(pred.Field, "ends_with")
	case *IsNull:
		v.requireField(pred.Field, "is_null")
	case IsNull:
		v.requireField(pred.Field, "is_null")
	case *And:
		v.validateList(pred.Predicates, "and")
	case And:
		v.validateList(pred.Predicates, "and")
	case *Or:
		v.validateList(pred.Predicates, "or")
	case Or:
		v.validateList(pred.Predicates, "or")
	case *Not:
		v.validateNot(*pred)
	case Not:
		v.validateNot(pred)
	case *Child:
		v.validateChild(*pred)
	case Child:
		v.validateChild(pred)
	case nil:
		v.addProblem("nil predicate")
	default:
		v.addProblem("unknown predicate type: %T", p)
	}
}

func (v *validator) requireField(field, kind string) {
	if field == "" {
		v.addProblem("%s: field is required", kind)
	}
}

func (v *validator) requireValue(field string, value ir.Value) {
	if ir.IsNull(value) {
		v.addProblem("%s: value must not be null", field)
	}
}

func (v *validator) validateCompare(c Compare) {
	v.requireField(c.Field, "compare")
	v.requireValue(c.Field, c.Value)
	if _, isList := c.Value.(ir.List); isList && c.Op != OpEqual && c.Op != OpNotEqual {
		v.addProblem("%s: cannot order-compare a list", c.Field)
	}
}

func (v *validator) validateIn(in In) {
	v.requireField(in.Field, "in")
	for i, val := range in.Values {
		if ir.IsNull(val) {
			v.addProblem("%s: in value %d must not be null", in.Field, i)
		}
	}
}

func (v *validator) validateList(preds []Predicate, kind string) {
	for _, p := range preds {
		if p == nil {
			v.addProblem("%s: nil predicate", kind)
			continue
		}
		v.validatePredicate(p)
	}
}

func (v *validator) validateNot(n Not) {
	if n.Predicate == nil {
		v.addProblem("not: nil predicate")
		return
	}
	v.validatePredicate(n.Predicate)
}

func (v *validator) validateChild(c Child) {
	v.requireField(c.Field, "child")
	if c.Filter != nil {
		v.validatePredicate(c.Filter)
	}
}
