package diff

import (
	"github.com/pgschema/pgmatview/internal/view"
)

// Status classifies a view's own query against its last applied state
type Status string

const (
	StatusUnchanged Status = "unchanged"
	StatusAdded     Status = "added"
	StatusChanged   Status = "changed"
	StatusRemoved   Status = "removed"
)

// Result is the diff outcome for one view
type Result struct {
	View   string `json:"view"`
	Status Status `json:"status"`

	// Effective is set on an unchanged view that must still be rebuilt because a view
	// it reads from is added, changed, removed or itself effectively changed.
	Effective bool     `json:"effective,omitempty"`
	CausedBy  []string `json:"caused_by,omitempty"`

	Managed bool   `json:"managed"`
	SQL     string `json:"-"`
	Hash    string `json:"hash,omitempty"`

	PreviousHash  string `json:"previous_hash,omitempty"`
	PreviousQuery string `json:"-"`

	// Definition is nil for removed views
	Definition *view.Definition `json:"-"`

	resolveErr error
}

// Exists reports whether the view was applied before
func (r *Result) Exists() bool {
	return r.PreviousHash != ""
}

// NeedsCreate reports whether the plan must (re)create the view
func (r *Result) NeedsCreate() bool {
	if !r.Managed {
		return false
	}
	return r.Status == StatusAdded || r.Status == StatusChanged || r.Effective
}

// NeedsDrop reports whether the plan must drop the existing view
func (r *Result) NeedsDrop() bool {
	if !r.Managed {
		return false
	}
	if r.Status == StatusRemoved {
		return true
	}
	return r.Exists() && (r.Status == StatusChanged || r.Effective)
}

// triggersDependents reports whether views reading from this one must be rebuilt.
// Unmanaged views are never rebuilt by a plan so they never trigger.
func (r *Result) triggersDependents() bool {
	return r.Managed && (r.Status != StatusUnchanged || r.Effective)
}
