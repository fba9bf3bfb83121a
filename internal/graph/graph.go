// Package graph builds the dependency graph between materialized views and orders
// views so that a view is never created before the views its query reads from.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pgschema/pgmatview/internal/logger"
)

// Node is a view and the query text used to discover its dependencies
type Node struct {
	Name string
	SQL  string
}

// Graph is a DAG of views. An edge A -> B means A's query reads from B.
type Graph struct {
	names        []string
	dependencies map[string][]string
	dependents   map[string][]string
	order        []string
	position     map[string]int
}

// CyclicDependencyError reports views whose queries reference each other in a loop
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	path := append(append([]string(nil), e.Cycle...), e.Cycle[0])
	return fmt.Sprintf("cyclic dependency between materialized views: %s", strings.Join(path, " -> "))
}

// Build discovers edges between the given views and rejects cycles.
// Self references are ignored.
func Build(nodes []Node) (*Graph, error) {
	g := &Graph{
		dependencies: make(map[string][]string, len(nodes)),
		dependents:   make(map[string][]string, len(nodes)),
	}

	matcher := newNameMatcher()
	for _, node := range nodes {
		if _, dup := g.dependencies[node.Name]; dup {
			return nil, fmt.Errorf("view %s appears more than once", node.Name)
		}
		g.names = append(g.names, node.Name)
		g.dependencies[node.Name] = nil
		if err := matcher.add(node.Name); err != nil {
			return nil, err
		}
	}
	sort.Strings(g.names)

	log := logger.Get()
	for _, node := range nodes {
		if node.SQL == "" {
			continue
		}
		refs := References(node.SQL)
		seen := make(map[string]bool)
		for _, ref := range refs {
			target, ok := matcher.match(ref)
			if !ok || target == node.Name || seen[target] {
				continue
			}
			seen[target] = true
			g.dependencies[node.Name] = append(g.dependencies[node.Name], target)
			g.dependents[target] = append(g.dependents[target], node.Name)
		}
		sort.Strings(g.dependencies[node.Name])
		if len(g.dependencies[node.Name]) > 0 {
			log.Debug("View dependencies discovered", "view", node.Name, "depends_on", g.dependencies[node.Name])
		}
	}
	for name := range g.dependents {
		sort.Strings(g.dependents[name])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	g.order = g.topologicalSort()
	g.position = make(map[string]int, len(g.order))
	for idx, name := range g.order {
		g.position[name] = idx
	}
	return g, nil
}

// Names returns every view in the graph, sorted by name
func (g *Graph) Names() []string {
	return append([]string(nil), g.names...)
}

// Has reports whether the view is part of the graph
func (g *Graph) Has(name string) bool {
	_, ok := g.dependencies[name]
	return ok
}

// Dependencies returns the views that name reads from directly
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.dependencies[name]...)
}

// Dependents returns the views that read from name directly
func (g *Graph) Dependents(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// TransitiveDependents returns every view that reads from name directly or
// indirectly, sorted by name
func (g *Graph) TransitiveDependents(name string) []string {
	visited := make(map[string]bool)
	queue := append([]string(nil), g.dependents[name]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		queue = append(queue, g.dependents[current]...)
	}

	result := make([]string, 0, len(visited))
	for dep := range visited {
		result = append(result, dep)
	}
	sort.Strings(result)
	return result
}

// Order returns every view with dependencies before dependents
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// TopologicalOrder returns the given views with dependencies before dependents.
// Views unknown to the graph are dropped.
func (g *Graph) TopologicalOrder(names []string) []string {
	subset := make([]string, 0, len(names))
	for _, name := range names {
		if g.Has(name) {
			subset = append(subset, name)
		}
	}
	sort.SliceStable(subset, func(i, j int) bool {
		return g.position[subset[i]] < g.position[subset[j]]
	})
	return subset
}

// ReverseTopologicalOrder returns the given views with dependents before dependencies
func (g *Graph) ReverseTopologicalOrder(names []string) []string {
	return reverseSlice(g.TopologicalOrder(names))
}

// Levels groups names into waves: every view lands in a later wave than the views
// it reads from among names, so each wave can be processed in parallel once the
// previous one is done. Names unknown to the graph are left out.
func (g *Graph) Levels(names []string) [][]string {
	selected := make(map[string]bool, len(names))
	for _, name := range names {
		selected[name] = true
	}

	level := make(map[string]int)
	var levels [][]string
	for _, name := range g.TopologicalOrder(names) {
		l := 0
		for _, dep := range g.Dependencies(name) {
			if selected[dep] && level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[name] = l
		if l == len(levels) {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], name)
	}
	return levels
}

// findCycle runs a depth-first search tracking the recursion stack and returns the
// members of the first cycle found, or nil
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(g.names))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = inProgress
		stack = append(stack, name)
		for _, dep := range g.dependencies[name] {
			switch state[dep] {
			case inProgress:
				for idx := len(stack) - 1; idx >= 0; idx-- {
					if stack[idx] == dep {
						cycle = append([]string(nil), stack[idx:]...)
						break
					}
				}
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	for _, name := range g.names {
		if state[name] == unvisited && visit(name) {
			return cycle
		}
	}
	return nil
}

// topologicalSort orders all views with Kahn's algorithm; ready views are taken in
// name order so the result is deterministic
func (g *Graph) topologicalSort() []string {
	inDegree := make(map[string]int, len(g.names))
	for _, name := range g.names {
		inDegree[name] = len(g.dependencies[name])
	}

	var queue []string
	for _, name := range g.names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	result := make([]string, 0, len(g.names))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, dependent := range g.dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
				sort.Strings(queue)
			}
		}
	}
	return result
}

// reverseSlice returns a new slice with elements in reverse order
func reverseSlice[T any](slice []T) []T {
	reversed := make([]T, len(slice))
	for i, v := range slice {
		reversed[len(slice)-1-i] = v
	}
	return reversed
}
