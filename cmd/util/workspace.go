package util

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgschema/pgmatview/internal/refresh"
	"github.com/pgschema/pgmatview/internal/state"
	"github.com/pgschema/pgmatview/internal/view"
)

// LoadRegistry reads the view manifest, using the configured path when manifestPath
// is empty
func LoadRegistry(manifestPath string) (*view.Registry, error) {
	if manifestPath == "" {
		manifestPath = Settings().Manifest
	}
	registry, err := view.LoadManifest(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load view manifest: %w", err)
	}
	return registry, nil
}

// Stores are the bookkeeping tables pgmatview keeps in the target database
type Stores struct {
	State *state.PostgresStore
	Log   *refresh.PostgresLog
}

// OpenStores wraps db in the state store and refresh log, creating their tables
// when create is set
func OpenStores(ctx context.Context, db *sql.DB, create bool) (*Stores, error) {
	stores := &Stores{
		State: state.NewPostgresStore(db),
		Log:   refresh.NewPostgresLog(db),
	}
	if !create {
		return stores, nil
	}
	if err := stores.State.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	if err := stores.Log.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return stores, nil
}
