// Package apply executes a plan against a database and keeps the view state store
// in step with what was created or dropped.
package apply

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pgschema/pgmatview/internal/logger"
	"github.com/pgschema/pgmatview/internal/plan"
	"github.com/pgschema/pgmatview/internal/state"
)

// Execer runs one statement
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Database runs fn inside a transaction, committing when it returns nil
type Database interface {
	InTx(ctx context.Context, fn func(tx Execer) error) error
}

// SQLDatabase adapts *sql.DB to Database
type SQLDatabase struct {
	DB *sql.DB
}

// InTx implements Database
func (d SQLDatabase) InTx(ctx context.Context, fn func(tx Execer) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Runner applies plans one operation at a time
type Runner struct {
	db          Database
	store       state.Store
	lockTimeout string
	now         func() time.Time
}

// Option configures a Runner
type Option func(*Runner)

// WithLockTimeout sets lock_timeout for every operation's transaction
func WithLockTimeout(timeout string) Option {
	return func(r *Runner) { r.lockTimeout = timeout }
}

// WithClock overrides the time recorded as AppliedAt
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner
func NewRunner(db Database, store state.Store, opts ...Option) *Runner {
	r := &Runner{db: db, store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OperationError reports the operation that failed. Operations before it have been
// committed together with their recorded state; none after it were attempted.
type OperationError struct {
	Index     int
	Operation plan.Operation
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %d (%s) failed: %v", e.Index+1, e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Apply executes the plan's operations in order. Each operation runs in its own
// transaction, which also records the view's fingerprint after a Create and forgets
// the state after a Drop of a removed view. A Create that finds the view already
// there (left behind without a recorded state) is retried once as drop and create.
// Apply returns the number of operations that completed.
func (r *Runner) Apply(ctx context.Context, p *plan.Plan) (int, error) {
	log := logger.Get()

	for i, op := range p.Operations {
		log.Debug("Applying operation", "index", i+1, "operation", op.String())

		err := r.db.InTx(ctx, func(tx Execer) error {
			return r.execute(ctx, tx, op, false)
		})
		if err != nil && op.Kind == plan.OperationCreate && sqlState(err) == duplicateTable {
			log.Warn("Materialized view already exists without a recorded state, recreating it", "view", op.View)
			err = r.db.InTx(ctx, func(tx Execer) error {
				return r.execute(ctx, tx, op, true)
			})
		}
		if err != nil {
			return i, &OperationError{Index: i, Operation: op, Err: err}
		}
		log.Info("Applied operation", "operation", op.String())
	}
	return len(p.Operations), nil
}

// duplicateTable is the SQLSTATE for "relation already exists"
const duplicateTable = "42P07"

func (r *Runner) execute(ctx context.Context, tx Execer, op plan.Operation, replace bool) error {
	if r.lockTimeout != "" {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%s'", r.lockTimeout)); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	statements := op.Statements()
	if replace {
		drop := plan.Operation{Kind: plan.OperationDrop, View: op.View}
		statements = append(drop.Statements(), statements...)
	}
	for _, stmt := range statements {
		if err := execWithLogging(ctx, tx, stmt, op.String()); err != nil {
			return err
		}
	}
	return r.track(ctx, tx, op)
}

func (r *Runner) track(ctx context.Context, tx Execer, op plan.Operation) error {
	switch op.Kind {
	case plan.OperationCreate:
		return r.store.Record(ctx, tx, state.ViewState{
			ViewName:  op.View,
			Hash:      op.Hash,
			Query:     op.Query,
			AppliedAt: r.now(),
		})
	case plan.OperationDrop:
		if op.Forget {
			return r.store.Forget(ctx, tx, op.View)
		}
	}
	return nil
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func execWithLogging(ctx context.Context, tx Execer, stmt, description string) error {
	isDebug := logger.IsDebug()
	if isDebug {
		logger.Get().Debug("Executing SQL", "description", description, "sql", stmt)
	}
	_, err := tx.ExecContext(ctx, stmt)
	if isDebug && err != nil {
		logger.Get().Debug("SQL execution failed", "description", description, "error", err)
	}
	return err
}

var blockingViewPattern = regexp.MustCompile(`rule _RETURN on materialized view "?([\w.]+)"? depends on column`)

// BlockingView returns the materialized view named by PostgreSQL's
// "cannot alter type of a column used by a view or rule" error, or "" when err is not
// such an error. Host migrations use it to tear the view down and retry.
func BlockingView(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	// the view name is in the DETAIL line, which PgError.Error() leaves out
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		text = pgErr.Detail + "\n" + text
	}
	m := blockingViewPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}
