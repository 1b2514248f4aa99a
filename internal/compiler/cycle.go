package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/entitystore/internal/ir"
)

// CycleWarning represents a cycle of required to-one relationships.
//
// Cycles are warnings, not errors. The store enforces no foreign keys, so
// indexing logic can write the members of a cycle in any order, but a query
// at a block where only some of them exist will see dangling references.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["Token", "Owner", "Token"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles finds cycles among required, single-valued relationships.
//
// The algorithm:
//  1. Build a type -> type graph from non-null, non-list forward fields
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop as a warning
//
// An acyclic schema returns an empty warning list.
func AnalyzeCycles(schema ir.Schema) []CycleWarning {
	graph := buildReferenceGraph(schema)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	if warnings == nil {
		return []CycleWarning{}
	}
	return warnings
}

// referenceGraph maps entity type -> types it must reference.
type referenceGraph map[string][]string

func buildReferenceGraph(schema ir.Schema) referenceGraph {
	graph := make(referenceGraph, len(schema.Types))
	for _, et := range schema.Types {
		graph[et.Name] = []string{}
	}
	for _, et := range schema.Types {
		for _, f := range et.Fields {
			if f.IsDerived() || f.Type.List || !f.Type.NonNull || f.Type.IsScalar() {
				continue
			}
			if _, declared := graph[f.Type.Base]; !declared {
				continue
			}
			if !slices.Contains(graph[et.Name], f.Type.Base) {
				graph[et.Name] = append(graph[et.Name], f.Type.Base)
			}
		}
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph referenceGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so output is deterministic.
func tarjanSCC(graph referenceGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// Root node: pop the stack and emit an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleSCCToWarning(scc []string, graph referenceGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Type %s requires a reference to itself", name),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Required relationship cycle: %s", strings.Join(path, " -> ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph referenceGraph) []string {
	inSCC := make(map[string]bool, len(scc))
	for _, node := range scc {
		inSCC[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		var next string
		for _, neighbor := range graph[current] {
			if inSCC[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
