// Package refresh runs REFRESH MATERIALIZED VIEW and keeps an append-only log of
// every attempt.
package refresh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/pgschema/pgmatview/internal/logger"
	"github.com/pgschema/pgmatview/internal/util"
	"github.com/pgschema/pgmatview/internal/view"
)

// Execer runs a statement; *sql.DB and *sql.Conn satisfy it
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Catalog answers the preconditions of a refresh
type Catalog interface {
	ViewExists(ctx context.Context, name string) (bool, error)
	HasUniqueIndex(ctx context.Context, name string) (bool, error)
}

// Executor refreshes registered views. It holds no locks of its own: the database's
// locking for the chosen refresh mode applies, and concurrent requests for the same
// view are not de-duplicated.
type Executor struct {
	db       Execer
	catalog  Catalog
	log      LogStore
	registry *view.Registry
	now      func() time.Time
	meter    metric.Meter
	metrics  *metrics
}

// Option configures an Executor
type Option func(*Executor)

// WithClock replaces time.Now, used to measure durations and stamp log entries
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithMeter records refresh metrics on the given meter instead of the global one
func WithMeter(meter metric.Meter) Option {
	return func(e *Executor) { e.meter = meter }
}

// NewExecutor creates an executor
func NewExecutor(db Execer, catalog Catalog, log LogStore, registry *view.Registry, opts ...Option) (*Executor, error) {
	e := &Executor{
		db:       db,
		catalog:  catalog,
		log:      log,
		registry: registry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	m, err := newMetrics(e.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh metrics: %w", err)
	}
	e.metrics = m
	return e, nil
}

// Statement returns the REFRESH statement for a view in the given mode
func Statement(name string, concurrently bool) string {
	if concurrently {
		return fmt.Sprintf("REFRESH MATERIALIZED VIEW CONCURRENTLY %s;", util.QuoteQualifiedName(name))
	}
	return fmt.Sprintf("REFRESH MATERIALIZED VIEW %s;", util.QuoteQualifiedName(name))
}

// Refresh refreshes one view and appends a log entry for the attempt.
//
// Precondition failures (unknown view, concurrent refresh without a unique index)
// return before any statement is issued and write no entry. A database failure writes
// a failed entry and is then returned as a *RefreshExecutionError.
func (e *Executor) Refresh(ctx context.Context, name string, concurrently bool) (LogEntry, error) {
	if err := e.checkPreconditions(ctx, name, concurrently); err != nil {
		return LogEntry{}, err
	}

	log := logger.Get()
	stmt := Statement(name, concurrently)
	log.Debug("Refreshing materialized view", "view", name, "concurrently", concurrently, "sql", stmt)

	start := e.now()
	_, execErr := e.db.ExecContext(ctx, stmt)
	end := e.now()
	elapsed := end.Sub(start)

	entry := LogEntry{
		ViewName:  name,
		UpdatedAt: end,
		Duration:  elapsed,
		Failed:    execErr != nil,
	}
	// The attempt is logged even when ctx was cancelled mid-refresh
	entry, logErr := e.log.Append(context.WithoutCancel(ctx), entry)
	e.metrics.record(ctx, name, concurrently, execErr != nil, elapsed)

	if execErr != nil {
		log.Error("Failed to refresh materialized view", "view", name, "duration", elapsed, "error", execErr)
		refreshErr := &RefreshExecutionError{
			View:       name,
			Concurrent: concurrently,
			Duration:   elapsed,
			SQLState:   sqlState(execErr),
			Err:        execErr,
		}
		if logErr != nil {
			return entry, errors.Join(refreshErr, logErr)
		}
		return entry, refreshErr
	}

	if logErr != nil {
		return entry, fmt.Errorf("refresh of %s succeeded but was not logged: %w", name, logErr)
	}
	log.Info("Materialized view refreshed", "view", name, "concurrently", concurrently, "duration", elapsed)
	return entry, nil
}

func (e *Executor) checkPreconditions(ctx context.Context, name string, concurrently bool) error {
	def, ok := e.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s is not registered", ErrViewNotFound, name)
	}

	exists, err := e.catalog.ViewExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s does not exist in the database", ErrViewNotFound, name)
	}

	if !concurrently {
		return nil
	}
	if !def.RequiresUniqueIndex {
		return fmt.Errorf("%w: %s does not declare a unique key", ErrConcurrentRefreshUnsupported, name)
	}
	hasIndex, err := e.catalog.HasUniqueIndex(ctx, name)
	if err != nil {
		return err
	}
	if !hasIndex {
		return fmt.Errorf("%w: %s has no usable unique index", ErrConcurrentRefreshUnsupported, name)
	}
	return nil
}

// Mode chooses how each view in a batch is refreshed
type Mode string

const (
	// ModeAuto refreshes views that declare a unique key concurrently and all
	// others exclusively
	ModeAuto Mode = "auto"
	// ModeConcurrent refreshes every view concurrently; views without a unique
	// index fail instead of being downgraded
	ModeConcurrent Mode = "concurrent"
	// ModeExclusive takes the exclusive lock for every view
	ModeExclusive Mode = "exclusive"
)

// ParseMode parses a refresh mode name. The empty string is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeConcurrent:
		return ModeConcurrent, nil
	case ModeExclusive:
		return ModeExclusive, nil
	}
	return "", fmt.Errorf("unknown refresh mode %q (want auto, concurrent or exclusive)", s)
}

// Concurrently reports whether name is refreshed concurrently under mode
func (e *Executor) Concurrently(name string, mode Mode) bool {
	switch mode {
	case ModeConcurrent:
		return true
	case ModeExclusive:
		return false
	}
	def, ok := e.registry.Get(name)
	return ok && def.RequiresUniqueIndex
}

// RefreshDefault refreshes a view concurrently when it declares a unique key and
// exclusively otherwise
func (e *Executor) RefreshDefault(ctx context.Context, name string) (LogEntry, error) {
	return e.Refresh(ctx, name, e.Concurrently(name, ModeAuto))
}

// Outcome is the result of refreshing one view in RefreshAll
type Outcome struct {
	View  string
	Entry LogEntry
	Err   error
}

// RefreshAll refreshes the given views independently, at most limit at a time
// (unlimited when limit <= 0), choosing the refresh kind per view from mode. A
// failing view does not stop the others; outcomes come back in input order and the
// returned error joins every per-view error.
func (e *Executor) RefreshAll(ctx context.Context, names []string, mode Mode, limit int) ([]Outcome, error) {
	outcomes := make([]Outcome, len(names))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	var mu sync.Mutex
	var errs []error

	for i, name := range names {
		g.Go(func() error {
			entry, err := e.Refresh(ctx, name, e.Concurrently(name, mode))
			outcomes[i] = Outcome{View: name, Entry: entry, Err: err}
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, errors.Join(errs...)
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
