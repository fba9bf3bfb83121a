// Package state tracks the last applied definition of every managed materialized view.
package state

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// ViewState is the last successfully applied definition of a view
type ViewState struct {
	ViewName  string    `json:"view_name"`
	Hash      string    `json:"hash"`
	Query     string    `json:"query,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// Execer runs one statement; *sql.DB and *sql.Tx satisfy it
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store persists view states. Record replaces the active state for the view and
// Forget removes it once the view has been dropped for good. Both write through tx
// so the change commits together with the DDL it describes; a nil tx makes the
// store use its own connection.
type Store interface {
	Load(ctx context.Context) (map[string]ViewState, error)
	Record(ctx context.Context, tx Execer, st ViewState) error
	Forget(ctx context.Context, tx Execer, viewName string) error
}

// MemoryStore is an in-process Store. It ignores tx.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]ViewState
}

// NewMemoryStore creates a store seeded with the given states
func NewMemoryStore(states ...ViewState) *MemoryStore {
	s := &MemoryStore{states: make(map[string]ViewState, len(states))}
	for _, st := range states {
		s.states[st.ViewName] = st
	}
	return s
}

// Load implements Store
func (s *MemoryStore) Load(ctx context.Context) (map[string]ViewState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ViewState, len(s.states))
	for name, st := range s.states {
		out[name] = st
	}
	return out, nil
}

// Record implements Store
func (s *MemoryStore) Record(ctx context.Context, tx Execer, st ViewState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ViewName] = st
	return nil
}

// Forget implements Store
func (s *MemoryStore) Forget(ctx context.Context, tx Execer, viewName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, viewName)
	return nil
}

// Names returns the view names with a recorded state, sorted
func Names(states map[string]ViewState) []string {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
