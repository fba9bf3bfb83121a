package refresh

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pgschema/pgmatview/internal/util"
)

// Schema creates the refresh audit log table
const Schema = `
CREATE TABLE IF NOT EXISTS matview_refresh_log (
    id         BIGSERIAL PRIMARY KEY,
    view_name  VARCHAR(255) NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    duration   INTERVAL NULL,
    failed     BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS matview_refresh_log_updated_at_idx
    ON matview_refresh_log (updated_at);
`

// PostgresLog stores refresh log entries in matview_refresh_log
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog creates a log on an open connection
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

// EnsureSchema creates the log table if it is missing
func (l *PostgresLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create matview_refresh_log: %w", err)
	}
	return nil
}

// Append implements LogStore
func (l *PostgresLog) Append(ctx context.Context, entry LogEntry) (LogEntry, error) {
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO matview_refresh_log (view_name, updated_at, duration, failed)
		VALUES ($1, $2, make_interval(secs => $3), $4)
		RETURNING id`,
		entry.ViewName, entry.UpdatedAt, entry.Duration.Seconds(), entry.Failed,
	).Scan(&entry.ID)
	if err != nil {
		return entry, fmt.Errorf("failed to append refresh log entry: %w", err)
	}
	return entry, nil
}

// List implements LogStore
func (l *PostgresLog) List(ctx context.Context, filter Filter) ([]LogEntry, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.View != "" {
		args = append(args, filter.View)
		conditions = append(conditions, fmt.Sprintf("view_name = $%d", len(args)))
	}
	if filter.FailedOnly {
		conditions = append(conditions, "failed")
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", len(args)))
	}

	query := "SELECT id, view_name, updated_at, EXTRACT(EPOCH FROM duration)::float8, failed FROM matview_refresh_log"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			e       LogEntry
			seconds sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.ViewName, &e.UpdatedAt, &seconds, &e.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan refresh log entry: %w", err)
		}
		if seconds.Valid {
			e.Duration = time.Duration(seconds.Float64 * float64(time.Second))
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PostgresCatalog answers refresh preconditions from the system catalogs
type PostgresCatalog struct {
	db *sql.DB
}

// NewPostgresCatalog creates a catalog on an open connection
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// ViewExists implements Catalog
func (c *PostgresCatalog) ViewExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx, `
		SELECT EXISTS (
		    SELECT 1 FROM pg_class
		    WHERE oid = to_regclass($1) AND relkind = 'm'
		)`, util.QuoteQualifiedName(name)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up materialized view %s: %w", name, err)
	}
	return exists, nil
}

// HasUniqueIndex implements Catalog. Only valid unique indexes on plain columns
// without a WHERE clause qualify for REFRESH MATERIALIZED VIEW CONCURRENTLY.
func (c *PostgresCatalog) HasUniqueIndex(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx, `
		SELECT EXISTS (
		    SELECT 1 FROM pg_index
		    WHERE indrelid = to_regclass($1)
		      AND indisunique
		      AND indisvalid
		      AND indpred IS NULL
		      AND indexprs IS NULL
		)`, util.QuoteQualifiedName(name)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up unique index of %s: %w", name, err)
	}
	return exists, nil
}
