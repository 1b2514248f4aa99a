package queryir

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/entitystore/internal/ir"
)

// whereSuffixes maps GraphQL-style filter suffixes to predicate builders.
// Longer suffixes come first so "_not_in" wins over "_in".
var whereSuffixes = []struct {
	suffix string
	build  func(field string, v ir.Value) (Predicate, error)
}{
	{"_not_starts_with", stringOp(func(f, s string) Predicate { return &StartsWith{Field: f, Prefix: s, Negated: true} })},
	{"_not_ends_with", stringOp(func(f, s string) Predicate { return &EndsWith{Field: f, Suffix: s, Negated: true} })},
	{"_not_contains", func(f string, v ir.Value) (Predicate, error) {
		return &Contains{Field: f, Value: v, Negated: true}, nil
	}},
	{"_starts_with", stringOp(func(f, s string) Predicate { return &StartsWith{Field: f, Prefix: s} })},
	{"_ends_with", stringOp(func(f, s string) Predicate { return &EndsWith{Field: f, Suffix: s} })},
	{"_contains", func(f string, v ir.Value) (Predicate, error) {
		return &Contains{Field: f, Value: v}, nil
	}},
	{"_not_in", listOp(true)},
	{"_in", listOp(false)},
	{"_gte", compareOp(OpGte)},
	{"_lte", compareOp(OpLte)},
	{"_gt", compareOp(OpGt)},
	{"_lt", compareOp(OpLt)},
	{"_not", func(f string, v ir.Value) (Predicate, error) {
		if ir.IsNull(v) {
			return &IsNull{Field: f, Negated: true}, nil
		}
		return &Compare{Field: f, Op: OpNotEqual, Value: v}, nil
	}},
}

func stringOp(build func(field, s string) Predicate) func(string, ir.Value) (Predicate, error) {
	return func(field string, v ir.Value) (Predicate, error) {
		s, ok := v.(ir.String)
		if !ok {
			return nil, fmt.Errorf("%s: expected a string, got %s", field, ir.Describe(v))
		}
		return build(field, string(s)), nil
	}
}

func listOp(negated bool) func(string, ir.Value) (Predicate, error) {
	return func(field string, v ir.Value) (Predicate, error) {
		list, ok := v.(ir.List)
		if !ok {
			return nil, fmt.Errorf("%s: expected a list, got %s", field, ir.Describe(v))
		}
		return &In{Field: field, Values: list, Negated: negated}, nil
	}
}

func compareOp(op CompareOp) func(string, ir.Value) (Predicate, error) {
	return func(field string, v ir.Value) (Predicate, error) {
		if ir.IsNull(v) {
			return nil, fmt.Errorf("%s: cannot compare %s null", field, op)
		}
		return &Compare{Field: field, Op: op, Value: v}, nil
	}
}

// ParseWhere converts a GraphQL-style where map into a predicate.
//
// Keys are a field name with an optional suffix: _not, _gt, _lt, _gte,
// _lte, _in, _not_in, _contains, _not_contains, _starts_with,
// _not_starts_with, _ends_with, _not_ends_with. A key ending in a single
// "_" filters through a relationship ({"owner_": {"name": "alice"}}).
// The keys "and" and "or" take lists of nested where maps.
//
// All entries are combined with And, in sorted key order. An empty or nil
// map yields nil (no filter).
func ParseWhere(where map[string]any) (Predicate, error) {
	if len(where) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	preds := make([]Predicate, 0, len(keys))
	for _, key := range keys {
		p, err := parseWhereEntry(key, where[key])
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return &And{Predicates: preds}, nil
}

func parseWhereEntry(key string, raw any) (Predicate, error) {
	switch key {
	case "and", "or":
		return parseCombinator(key, raw)
	}

	if strings.HasSuffix(key, "_") && !strings.HasSuffix(key, "__") && len(key) > 1 {
		nested, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected a nested where map", key)
		}
		filter, err := ParseWhere(nested)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return &Child{Field: strings.TrimSuffix(key, "_"), Filter: filter}, nil
	}

	v, err := ir.FromAny(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range whereSuffixes {
		if field, ok := strings.CutSuffix(key, s.suffix); ok && field != "" {
			return s.build(field, v)
		}
	}
	if ir.IsNull(v) {
		return &IsNull{Field: key}, nil
	}
	return &Compare{Field: key, Op: OpEqual, Value: v}, nil
}

func parseCombinator(key string, raw any) (Predicate, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a list of where maps", key)
	}
	preds := make([]Predicate, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected a where map", key, i)
		}
		p, err := ParseWhere(m)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		if p == nil {
			p = &And{}
		}
		preds = append(preds, p)
	}
	if key == "and" {
		return &And{Predicates: preds}, nil
	}
	return &Or{Predicates: preds}, nil
}

// ParseOrder parses "field" or "field desc" / "field asc".
func ParseOrder(s string) (Order, error) {
	parts := strings.Fields(s)
	switch {
	case len(parts) == 1:
		return Order{Field: parts[0]}, nil
	case len(parts) == 2 && strings.EqualFold(parts[1], "asc"):
		return Order{Field: parts[0]}, nil
	case len(parts) == 2 && strings.EqualFold(parts[1], "desc"):
		return Order{Field: parts[0], Descending: true}, nil
	default:
		return Order{}, fmt.Errorf("invalid order %q: want \"field [asc|desc]\"", s)
	}
}
