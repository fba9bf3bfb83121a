package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the migration history table. At most one row per view is active;
// replaced and forgotten rows are kept with deleted = true.
const Schema = `
CREATE TABLE IF NOT EXISTS matview_migrations (
    id         BIGSERIAL PRIMARY KEY,
    view_name  VARCHAR(255) NOT NULL,
    hash       VARCHAR(255) NOT NULL,
    query      TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted    BOOLEAN NOT NULL DEFAULT false
);
CREATE UNIQUE INDEX IF NOT EXISTS one_active_view_per_name
    ON matview_migrations (view_name) WHERE NOT deleted;
`

// PostgresStore keeps view states in the matview_migrations table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on an open connection
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the history table if it is missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create matview_migrations: %w", err)
	}
	return nil
}

// Load implements Store. A database where the history table was never created has
// no states.
func (s *PostgresStore) Load(ctx context.Context) (map[string]ViewState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT view_name, hash, query, applied_at
		FROM matview_migrations
		WHERE NOT deleted`)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return map[string]ViewState{}, nil
		}
		return nil, fmt.Errorf("failed to load view states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]ViewState)
	for rows.Next() {
		var st ViewState
		if err := rows.Scan(&st.ViewName, &st.Hash, &st.Query, &st.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan view state: %w", err)
		}
		states[st.ViewName] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load view states: %w", err)
	}
	return states, nil
}

// Record implements Store
func (s *PostgresStore) Record(ctx context.Context, tx Execer, st ViewState) error {
	if st.AppliedAt.IsZero() {
		st.AppliedAt = time.Now()
	}
	write := func(tx Execer) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE matview_migrations SET deleted = true WHERE view_name = $1 AND NOT deleted`,
			st.ViewName); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO matview_migrations (view_name, hash, query, applied_at) VALUES ($1, $2, $3, $4)`,
			st.ViewName, st.Hash, st.Query, st.AppliedAt)
		return err
	}
	if tx == nil {
		return s.inTx(ctx, func(tx *sql.Tx) error { return write(tx) })
	}
	if err := write(tx); err != nil {
		return fmt.Errorf("failed to record view state: %w", err)
	}
	return nil
}

// Forget implements Store
func (s *PostgresStore) Forget(ctx context.Context, tx Execer, viewName string) error {
	if tx == nil {
		tx = s.db
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE matview_migrations SET deleted = true WHERE view_name = $1 AND NOT deleted`,
		viewName); err != nil {
		return fmt.Errorf("failed to forget view %s: %w", viewName, err)
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record view state: %w", err)
	}
	return tx.Commit()
}
