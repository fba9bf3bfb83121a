// Package view holds materialized view definitions: their identity, the source of
// their defining query and the options that govern index creation and refresh.
package view

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// QuerySource produces the SQL text that defines a view
type QuerySource interface {
	// Resolve returns the defining query
	Resolve() (string, error)
	// Describe names where the query comes from for logs and errors
	Describe() string
}

// RawQuery is a hand-written query, either inline or stored in a SQL file
type RawQuery struct {
	Text string
	Path string
}

// Resolve returns the inline text, or the file contents when Path is set
func (q RawQuery) Resolve() (string, error) {
	if q.Path == "" {
		return q.Text, nil
	}
	data, err := os.ReadFile(q.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Describe implements QuerySource
func (q RawQuery) Describe() string {
	if q.Path != "" {
		return q.Path
	}
	return "inline SQL"
}

// DerivedQuery is SQL produced by an external query builder
type DerivedQuery struct {
	Builder string
	Build   func() (string, error)
}

// Resolve runs the builder
func (q DerivedQuery) Resolve() (string, error) {
	if q.Build == nil {
		return "", fmt.Errorf("query builder %q is not set", q.Builder)
	}
	return q.Build()
}

// Describe implements QuerySource
func (q DerivedQuery) Describe() string {
	if q.Builder == "" {
		return "query builder"
	}
	return q.Builder
}

// Definition describes one materialized view
type Definition struct {
	Name  string
	Query QuerySource

	// RequiresUniqueIndex makes the planner create a unique index on UniqueKey
	// right after the view; concurrent refresh is only allowed when it is set.
	RequiresUniqueIndex bool
	UniqueKey           []string

	// Managed definitions take part in DDL planning. Unmanaged ones are only
	// discovered and refreshed.
	Managed bool
}

// Validate checks the definition for configuration errors
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("view name is required")
	}
	if d.Query == nil {
		return fmt.Errorf("view %s: query source is required", d.Name)
	}
	if d.RequiresUniqueIndex && len(d.UniqueKey) == 0 {
		return fmt.Errorf("view %s: unique index requires at least one key column", d.Name)
	}
	return nil
}

// IndexName returns the name of the unique index created for the view
func (d *Definition) IndexName() string {
	name := d.Name
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return name + "_pkey"
}

// UnresolvedQuerySourceError reports a view whose defining query could not be produced
type UnresolvedQuerySourceError struct {
	View     string
	Resource string
	Err      error
}

func (e *UnresolvedQuerySourceError) Error() string {
	if errors.Is(e.Err, os.ErrNotExist) {
		return fmt.Sprintf("view %s: SQL file %s does not exist - please create it with the view's query", e.View, e.Resource)
	}
	return fmt.Sprintf("view %s: failed to resolve query from %s: %v", e.View, e.Resource, e.Err)
}

func (e *UnresolvedQuerySourceError) Unwrap() error {
	return e.Err
}

// Resolved pairs a definition with its resolved query. Err is set instead of SQL
// when the source could not be resolved; whether that is fatal depends on the plan.
type Resolved struct {
	Definition *Definition
	SQL        string
	Err        error
}

// Registry is the explicit set of view definitions handed to the engine
type Registry struct {
	views map[string]*Definition
}

// NewRegistry creates a registry from the given definitions
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{views: make(map[string]*Definition, len(defs))}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition, rejecting invalid and duplicate ones
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, exists := r.views[def.Name]; exists {
		return fmt.Errorf("view %s is registered more than once", def.Name)
	}
	r.views[def.Name] = def
	return nil
}

// Get looks up a definition by name
func (r *Registry) Get(name string) (*Definition, bool) {
	def, ok := r.views[name]
	return def, ok
}

// Len returns the number of registered views
func (r *Registry) Len() int {
	return len(r.views)
}

// Names returns all registered view names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.views))
	for name := range r.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve resolves every definition's query, in name order
func (r *Registry) Resolve() []Resolved {
	resolved := make([]Resolved, 0, len(r.views))
	for _, name := range r.Names() {
		def := r.views[name]
		sql, err := def.Query.Resolve()
		if err != nil {
			err = &UnresolvedQuerySourceError{View: name, Resource: def.Query.Describe(), Err: err}
		} else if strings.TrimSpace(sql) == "" {
			err = &UnresolvedQuerySourceError{View: name, Resource: def.Query.Describe(), Err: errors.New("query is empty")}
		}
		resolved = append(resolved, Resolved{Definition: def, SQL: strings.TrimSpace(sql), Err: err})
	}
	return resolved
}
