package refresh

import (
	"context"
	"sort"
	"sync"
	"time"
)

// LogEntry records one refresh attempt. Entries are append-only.
type LogEntry struct {
	ID        int64         `json:"id"`
	ViewName  string        `json:"view_name"`
	UpdatedAt time.Time     `json:"updated_at"`
	Duration  time.Duration `json:"duration"`
	Failed    bool          `json:"failed"`
}

// Filter narrows a log listing. Zero values mean no restriction.
type Filter struct {
	View       string
	FailedOnly bool
	Since      time.Time
	Limit      int
}

func (f Filter) matches(e LogEntry) bool {
	if f.View != "" && e.ViewName != f.View {
		return false
	}
	if f.FailedOnly && !e.Failed {
		return false
	}
	if !f.Since.IsZero() && e.UpdatedAt.Before(f.Since) {
		return false
	}
	return true
}

// LogStore is the refresh audit log. It only ever appends; listing returns the
// newest entries first.
type LogStore interface {
	Append(ctx context.Context, entry LogEntry) (LogEntry, error)
	List(ctx context.Context, filter Filter) ([]LogEntry, error)
}

// MemoryLog is an in-process LogStore
type MemoryLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewMemoryLog creates an empty log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements LogStore
func (l *MemoryLog) Append(ctx context.Context, entry LogEntry) (LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.ID = int64(len(l.entries) + 1)
	l.entries = append(l.entries, entry)
	return entry, nil
}

// List implements LogStore
func (l *MemoryLog) List(ctx context.Context, filter Filter) ([]LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []LogEntry
	for _, e := range l.entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
