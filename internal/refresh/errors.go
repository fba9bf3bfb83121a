package refresh

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConcurrentRefreshUnsupported is returned when a concurrent refresh is
	// requested for a view without a unique index. The refresh is never downgraded.
	ErrConcurrentRefreshUnsupported = errors.New("concurrent refresh requires a unique index on the materialized view")

	// ErrViewNotFound is returned for views that are not registered or do not exist
	// in the database
	ErrViewNotFound = errors.New("materialized view not found")
)

// RefreshExecutionError wraps a database failure during REFRESH MATERIALIZED VIEW.
// A failed log entry has always been written when it is returned.
type RefreshExecutionError struct {
	View       string
	Concurrent bool
	Duration   time.Duration
	// SQLState is the PostgreSQL error code when the driver reported one
	SQLState string
	Err      error
}

func (e *RefreshExecutionError) Error() string {
	mode := "exclusive"
	if e.Concurrent {
		mode = "concurrent"
	}
	if e.SQLState != "" {
		return fmt.Sprintf("%s refresh of %s failed after %s (SQLSTATE %s): %v", mode, e.View, e.Duration, e.SQLState, e.Err)
	}
	return fmt.Sprintf("%s refresh of %s failed after %s: %v", mode, e.View, e.Duration, e.Err)
}

func (e *RefreshExecutionError) Unwrap() error {
	return e.Err
}
