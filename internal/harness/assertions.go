package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/entitystore/internal/ir"
	"github.com/roach88/entitystore/internal/queryir"
	"github.com/roach88/entitystore/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store        *store.Store
	Ctx          context.Context
	DeploymentID string
}

// EvaluateAssertions evaluates all assertions against the final state.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		if actx == nil || actx.Store == nil {
			err = fmt.Errorf("assertion[%d]: %s requires a store", i, assertion.Type)
		} else {
			switch assertion.Type {
			case AssertEntityState:
				err = assertEntityState(actx, assertion)
			case AssertEntityCount:
				err = assertEntityCount(actx, assertion)
			case AssertHead:
				err = assertHead(actx, assertion)
			case AssertHistory:
				err = assertHistory(actx, assertion)
			case AssertNoViolations:
				err = assertNoViolations(actx)
			default:
				err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
			}
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertEntityState reads one entity and compares the expected fields
// (subset semantics). Expected values are coerced to the column type first,
// so a YAML integer matches a BigInt column.
func assertEntityState(actx *AssertionContext, a Assertion) error {
	key := ir.EntityKey{EntityType: a.Entity, EntityID: a.ID}.String()
	entity, found, err := actx.Store.Get(actx.Ctx, actx.DeploymentID, a.Entity, a.ID, a.Block)
	if err != nil {
		return fmt.Errorf("entity_state %s: %w", key, err)
	}

	if a.Absent {
		if found {
			return &AssertionError{Type: AssertEntityState, Expected: key + " absent", Actual: describeEntity(entity)}
		}
		return nil
	}
	if !found {
		return &AssertionError{Type: AssertEntityState, Expected: key + " to exist", Actual: "not found"}
	}

	l, err := actx.Store.Layout(actx.Ctx, actx.DeploymentID)
	if err != nil {
		return err
	}
	table, err := l.Table(a.Entity)
	if err != nil {
		return err
	}

	for _, field := range sortedKeys(a.Expect) {
		col, err := table.Column(field)
		if err != nil {
			return fmt.Errorf("entity_state %s: %w", key, err)
		}
		raw, err := ir.FromAny(a.Expect[field])
		if err != nil {
			return fmt.Errorf("entity_state %s.%s: %w", key, field, err)
		}
		expected, err := col.Coerce(raw)
		if err != nil {
			return fmt.Errorf("entity_state %s.%s: %w", key, field, err)
		}
		if !ir.Equal(expected, entity[field]) {
			return &AssertionError{
				Type:     AssertEntityState,
				Expected: fmt.Sprintf("%s.%s = %s", key, field, ir.Describe(expected)),
				Actual:   fmt.Sprintf("%s.%s = %s", key, field, ir.Describe(entity[field])),
			}
		}
	}
	return nil
}

func assertEntityCount(actx *AssertionContext, a Assertion) error {
	entities, err := actx.Store.Query(actx.Ctx, actx.DeploymentID, queryir.EntityQuery{EntityType: a.Entity, Block: a.Block})
	if err != nil {
		return fmt.Errorf("entity_count %s: %w", a.Entity, err)
	}
	if int64(len(entities)) != *a.Count {
		return &AssertionError{
			Type:     AssertEntityCount,
			Expected: fmt.Sprintf("%d %s entities", *a.Count, a.Entity),
			Actual:   fmt.Sprintf("%d", len(entities)),
		}
	}
	return nil
}

func assertHead(actx *AssertionContext, a Assertion) error {
	st, err := actx.Store.Status(actx.Ctx, actx.DeploymentID)
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}
	actual := "none"
	if st.HeadBlock != nil {
		if st.HeadBlock.Number == *a.Block {
			return nil
		}
		actual = fmt.Sprintf("%d", st.HeadBlock.Number)
	}
	return &AssertionError{Type: AssertHead, Expected: fmt.Sprintf("head block %d", *a.Block), Actual: actual}
}

func assertHistory(actx *AssertionContext, a Assertion) error {
	versions, err := actx.Store.History(actx.Ctx, actx.DeploymentID, a.Entity, a.ID)
	if err != nil {
		return fmt.Errorf("history %s[%s]: %w", a.Entity, a.ID, err)
	}
	ranges := make([]string, len(versions))
	for i, v := range versions {
		to := "open"
		if v.ValidTo != nil {
			to = fmt.Sprintf("%d", *v.ValidTo)
		}
		ranges[i] = fmt.Sprintf("%d..%s", v.ValidFrom, to)
	}
	if !slices.Equal(ranges, a.Ranges) {
		return &AssertionError{
			Type:     AssertHistory,
			Expected: fmt.Sprintf("%s[%s] ranges %v", a.Entity, a.ID, a.Ranges),
			Actual:   fmt.Sprintf("%v", ranges),
		}
	}
	return nil
}

func assertNoViolations(actx *AssertionContext) error {
	violations, err := actx.Store.Check(actx.Ctx, actx.DeploymentID)
	if err != nil {
		return fmt.Errorf("no_violations: %w", err)
	}
	if len(violations) == 0 {
		return nil
	}
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = fmt.Sprintf("%s[%s]: %s", v.EntityType, v.EntityID, v.Message)
	}
	return &AssertionError{Type: AssertNoViolations, Expected: "no violations", Actual: strings.Join(parts, "; ")}
}

func describeEntity(e ir.Entity) string {
	data, err := e.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", map[string]ir.Value(e))
	}
	return string(data)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
