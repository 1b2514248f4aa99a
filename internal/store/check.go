package store

import (
	"context"
	"fmt"

	"github.com/roach88/entitystore/internal/layout"
)

// Violation is a broken versioning invariant found by Check.
type Violation struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Message    string `json:"message"`
}

// invariantCheck pairs an invariant with a query returning the ids that
// break it.
type invariantCheck struct {
	message string
	query   string
	args    []any
}

// Check scans a deployment's entity tables for versioning invariant
// violations: more than one open version per id, overlapping block ranges
// and versions starting after the deployment head. An empty result means
// the history is consistent.
func (s *Store) Check(ctx context.Context, deploymentID string) ([]Violation, error) {
	l, err := s.Layout(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	st, err := s.Status(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	violations := []Violation{}
	for _, table := range l.Tables() {
		for _, check := range invariantChecks(table, st) {
			found, err := s.runCheck(ctx, table, check)
			if err != nil {
				return nil, wrapErr("check", err)
			}
			violations = append(violations, found...)
		}
	}
	return violations, nil
}

func (s *Store) runCheck(ctx context.Context, table *layout.Table, check invariantCheck) ([]Violation, error) {
	rows, err := s.db.QueryContext(ctx, check.query, check.args...)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", table.EntityType, err)
	}
	defer rows.Close()

	var found []Violation
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("check %s: %w", table.EntityType, err)
		}
		found = append(found, Violation{EntityType: table.EntityType, EntityID: id, Message: check.message})
	}
	return found, rows.Err()
}

func invariantChecks(table *layout.Table, st Status) []invariantCheck {
	name := layout.Quote(table.Name)
	checks := []invariantCheck{
		{
			message: "more than one open version",
			query: fmt.Sprintf(`
				SELECT "id" FROM %s WHERE "valid_to_block" IS NULL
				GROUP BY "id" HAVING COUNT(*) > 1
				ORDER BY "id" COLLATE BINARY ASC`, name),
		},
		{
			message: "overlapping block ranges",
			query: fmt.Sprintf(`
				SELECT DISTINCT a."id" FROM %s AS a
				JOIN %s AS b ON a."id" = b."id" AND a."vid" < b."vid"
				WHERE a."valid_from_block" <= COALESCE(b."valid_to_block", 9223372036854775807)
				  AND b."valid_from_block" <= COALESCE(a."valid_to_block", 9223372036854775807)
				ORDER BY a."id" COLLATE BINARY ASC`, name, name),
		},
	}
	if st.HeadBlock != nil {
		checks = append(checks, invariantCheck{
			message: "version starts after the deployment head",
			query: fmt.Sprintf(`
				SELECT DISTINCT "id" FROM %s WHERE "valid_from_block" > ?
				ORDER BY "id" COLLATE BINARY ASC`, name),
			args: []any{st.HeadBlock.Number},
		})
	}
	return checks
}
