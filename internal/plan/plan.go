// Package plan turns a view diff into an ordered list of DROP and CREATE operations
// that the migration runner applies one at a time.
package plan

import (
	"fmt"
	"time"

	"github.com/pgschema/pgmatview/internal/diff"
	"github.com/pgschema/pgmatview/internal/graph"
	"github.com/pgschema/pgmatview/internal/logger"
	"github.com/pgschema/pgmatview/internal/state"
	"github.com/pgschema/pgmatview/internal/view"
)

// Plan is the ordered set of operations bringing the database in line with the
// current view definitions
type Plan struct {
	Operations []Operation `json:"operations"`
	Warnings   []string    `json:"warnings,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`

	// Diff is nil for teardown plans
	Diff *diff.Diff `json:"-"`
}

// Generate runs the whole planning pipeline: resolve queries, build the dependency
// graph, diff against the recorded state and order the operations. Nothing is
// returned on error.
func Generate(registry *view.Registry, states map[string]state.ViewState) (*Plan, error) {
	resolved := registry.Resolve()

	g, err := graph.Build(diff.Nodes(resolved, states))
	if err != nil {
		return nil, err
	}

	d, err := diff.Compute(resolved, states, g)
	if err != nil {
		return nil, err
	}

	return Build(d)
}

// Build orders the operations for a diff. Every view that has to go (rebuilt views
// that already exist and removed views) is dropped first, dependents before their
// dependencies; then every added, changed or effectively changed view is created,
// dependencies before dependents. Ties are broken by view name.
func Build(d *diff.Diff) (*Plan, error) {
	p := &Plan{
		Diff:      d,
		CreatedAt: time.Now(),
		Warnings:  append([]string(nil), d.Warnings...),
	}

	var drops, creates []string
	for _, r := range d.Pending() {
		if r.NeedsDrop() {
			drops = append(drops, r.View)
		}
		if r.NeedsCreate() {
			if r.SQL == "" {
				return nil, fmt.Errorf("view %s has no query to create it from", r.View)
			}
			creates = append(creates, r.View)
		}
	}

	for _, name := range d.Graph.ReverseTopologicalOrder(drops) {
		r, _ := d.Get(name)
		op := Operation{
			Kind:          OperationDrop,
			View:          name,
			Forget:        r.Status == diff.StatusRemoved,
			PreviousQuery: r.PreviousQuery,
		}
		if r.Definition != nil {
			op.PreviousIndex = indexFor(r.Definition)
		}
		p.Operations = append(p.Operations, op)
	}

	for _, name := range d.Graph.TopologicalOrder(creates) {
		r, _ := d.Get(name)
		for _, dep := range d.Graph.Dependencies(name) {
			if depResult, ok := d.Get(dep); ok && depResult.Status == diff.StatusRemoved {
				p.Warnings = append(p.Warnings, fmt.Sprintf(
					"view %s reads from removed view %s; a relation named %s must exist before it is created", name, dep, dep))
			}
		}
		p.Operations = append(p.Operations, Operation{
			Kind:  OperationCreate,
			View:  name,
			Query: r.SQL,
			Hash:  r.Hash,
			Index: indexFor(r.Definition),
		})
	}

	logger.Get().Debug("Plan built", "operations", len(p.Operations), "drops", len(drops), "creates", len(creates))
	return p, nil
}

// Teardown drops the given views and everything reading from them, dependents
// first, and clears their recorded state so the next plan creates them again. It is
// used when a host migration is blocked by a materialized view. Names unknown to the
// graph are dropped last.
func Teardown(g *graph.Graph, states map[string]state.ViewState, names ...string) *Plan {
	targets := make(map[string]bool)
	var unknown []string
	for _, name := range names {
		if !g.Has(name) {
			if !targets[name] {
				unknown = append(unknown, name)
			}
			targets[name] = true
			continue
		}
		targets[name] = true
		for _, dep := range g.TransitiveDependents(name) {
			targets[dep] = true
		}
	}

	var known []string
	for name := range targets {
		if g.Has(name) {
			known = append(known, name)
		}
	}

	p := &Plan{CreatedAt: time.Now()}
	for _, name := range append(g.ReverseTopologicalOrder(known), unknown...) {
		p.Operations = append(p.Operations, Operation{
			Kind:          OperationDrop,
			View:          name,
			Forget:        true,
			PreviousQuery: states[name].Query,
		})
	}
	return p
}

// HasChanges reports whether the plan contains any operation
func (p *Plan) HasChanges() bool {
	return len(p.Operations) > 0
}

func indexFor(def *view.Definition) *IndexSpec {
	if def == nil || !def.RequiresUniqueIndex {
		return nil
	}
	return &IndexSpec{
		Name:    def.IndexName(),
		Columns: append([]string(nil), def.UniqueKey...),
	}
}
