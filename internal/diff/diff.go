// Package diff compares the current view definitions with the last applied state and
// works out which views have to be created, rebuilt or dropped.
package diff

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pgschema/pgmatview/internal/fingerprint"
	"github.com/pgschema/pgmatview/internal/graph"
	"github.com/pgschema/pgmatview/internal/logger"
	"github.com/pgschema/pgmatview/internal/state"
	"github.com/pgschema/pgmatview/internal/view"
)

// Diff holds the classification of every known view
type Diff struct {
	Results  map[string]*Result
	Graph    *graph.Graph
	Warnings []string
}

// Nodes returns the graph nodes for the current definitions plus views that only
// exist in the recorded state. Views whose query cannot be resolved fall back to the
// last applied query so their edges are still known.
func Nodes(resolved []view.Resolved, states map[string]state.ViewState) []graph.Node {
	nodes := make([]graph.Node, 0, len(resolved)+len(states))
	current := make(map[string]bool, len(resolved))
	for _, r := range resolved {
		current[r.Definition.Name] = true
		sql := r.SQL
		if r.Err != nil {
			sql = states[r.Definition.Name].Query
		}
		nodes = append(nodes, graph.Node{Name: r.Definition.Name, SQL: sql})
	}
	for _, name := range state.Names(states) {
		if !current[name] {
			nodes = append(nodes, graph.Node{Name: name, SQL: states[name].Query})
		}
	}
	return nodes
}

// Compute classifies every view. It is a pure function of its inputs; g must have
// been built from Nodes(resolved, states).
func Compute(resolved []view.Resolved, states map[string]state.ViewState, g *graph.Graph) (*Diff, error) {
	d := &Diff{
		Results: make(map[string]*Result, len(resolved)+len(states)),
		Graph:   g,
	}

	for _, r := range resolved {
		def := r.Definition
		result := &Result{
			View:       def.Name,
			Managed:    def.Managed,
			SQL:        r.SQL,
			Definition: def,
			resolveErr: r.Err,
		}

		prev, hasPrev := states[def.Name]
		if hasPrev {
			result.PreviousHash = prev.Hash
			result.PreviousQuery = prev.Query
		}

		switch {
		case r.Err != nil && hasPrev:
			// Without the current query the view can only be kept as it is
			result.Status = StatusUnchanged
			result.Hash = prev.Hash
			result.SQL = prev.Query
			d.Warnings = append(d.Warnings, fmt.Sprintf("%v; keeping the applied definition", r.Err))
		case !hasPrev:
			result.Status = StatusAdded
			if r.Err == nil {
				result.Hash = hashOf(def, r.SQL)
			}
		default:
			result.Hash = hashOf(def, r.SQL)
			if result.Hash == prev.Hash {
				result.Status = StatusUnchanged
			} else {
				result.Status = StatusChanged
			}
		}
		d.Results[def.Name] = result
	}

	for _, name := range state.Names(states) {
		if _, current := d.Results[name]; current {
			continue
		}
		prev := states[name]
		d.Results[name] = &Result{
			View:          name,
			Status:        StatusRemoved,
			Managed:       true,
			PreviousHash:  prev.Hash,
			PreviousQuery: prev.Query,
		}
	}

	d.propagate()

	var unresolved []error
	for _, name := range g.Order() {
		result, ok := d.Results[name]
		if !ok || result.resolveErr == nil {
			continue
		}
		if result.NeedsCreate() {
			unresolved = append(unresolved, result.resolveErr)
		} else if !result.Exists() {
			d.Warnings = append(d.Warnings, result.resolveErr.Error())
		}
	}
	if len(unresolved) > 0 {
		return nil, errors.Join(unresolved...)
	}

	return d, nil
}

// hashOf fingerprints the query and, for views that need one, the unique index
func hashOf(def *view.Definition, sql string) string {
	if !def.RequiresUniqueIndex {
		return fingerprint.Compute(sql).Hash
	}
	return fingerprint.ComputeWithIndex(sql, def.IndexName(), def.UniqueKey).Hash
}

// propagate marks unchanged views as effectively changed when any view they read
// from triggers a rebuild. Walking in topological order makes it transitive.
func (d *Diff) propagate() {
	log := logger.Get()
	for _, name := range d.Graph.Order() {
		result, ok := d.Results[name]
		if !ok {
			continue
		}

		var causes []string
		for _, dep := range d.Graph.Dependencies(name) {
			if depResult, ok := d.Results[dep]; ok && depResult.triggersDependents() {
				causes = append(causes, dep)
			}
		}
		if len(causes) == 0 {
			continue
		}

		if result.Status == StatusUnchanged {
			result.Effective = true
			result.CausedBy = causes
			log.Debug("View effectively changed", "view", name, "caused_by", causes)
		}
		if !result.Managed {
			d.Warnings = append(d.Warnings, fmt.Sprintf(
				"unmanaged view %s reads from rebuilt views %v and may block their drop", name, causes))
		}
	}
}

// Get returns the result for a view
func (d *Diff) Get(name string) (*Result, bool) {
	r, ok := d.Results[name]
	return r, ok
}

// Names returns all classified views sorted by name
func (d *Diff) Names() []string {
	names := make([]string, 0, len(d.Results))
	for name := range d.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pending returns the managed views that need any action, dependencies first
func (d *Diff) Pending() []*Result {
	var names []string
	for name, r := range d.Results {
		if r.NeedsCreate() || r.NeedsDrop() {
			names = append(names, name)
		}
	}
	ordered := d.Graph.TopologicalOrder(names)
	pending := make([]*Result, 0, len(ordered))
	for _, name := range ordered {
		pending = append(pending, d.Results[name])
	}
	return pending
}

// HasChanges reports whether any managed view needs an action
func (d *Diff) HasChanges() bool {
	return len(d.Pending()) > 0
}

// Classification returns the status of every view, with effectively changed views
// reported as "effective"
func (d *Diff) Classification() map[string]string {
	out := make(map[string]string, len(d.Results))
	for name, r := range d.Results {
		if r.Effective {
			out[name] = "effective"
			continue
		}
		out[name] = string(r.Status)
	}
	return out
}
