package plan

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pgschema/pgmatview/internal/color"
	"github.com/pgschema/pgmatview/internal/version"
)

// Action is the user-facing effect of a plan on one view
type Action string

const (
	ActionAdd     Action = "add"
	ActionRebuild Action = "rebuild"
	ActionDestroy Action = "destroy"
)

// ViewChange summarizes what happens to one view
type ViewChange struct {
	View     string   `json:"view"`
	Action   Action   `json:"action"`
	Reason   string   `json:"reason,omitempty"`
	CausedBy []string `json:"caused_by,omitempty"`
}

// PlanSummary provides counts of changes by action
type PlanSummary struct {
	Add     int `json:"add"`
	Rebuild int `json:"rebuild"`
	Destroy int `json:"destroy"`
	Total   int `json:"total"`
}

// PlanJSON represents the structured JSON output format
type PlanJSON struct {
	Version          string       `json:"version"`
	PgmatviewVersion string       `json:"pgmatview_version"`
	CreatedAt        time.Time    `json:"created_at"`
	Summary          PlanSummary  `json:"summary"`
	Changes          []ViewChange `json:"changes"`
	Operations       []Operation  `json:"operations"`
	Statements       []string     `json:"statements"`
	Warnings         []string     `json:"warnings,omitempty"`
}

// Changes returns one entry per affected view in operation order
func (p *Plan) Changes() []ViewChange {
	created := make(map[string]bool)
	dropped := make(map[string]bool)
	for _, op := range p.Operations {
		switch op.Kind {
		case OperationCreate:
			created[op.View] = true
		case OperationDrop:
			dropped[op.View] = true
		}
	}

	seen := make(map[string]bool)
	var changes []ViewChange
	for _, op := range p.Operations {
		if seen[op.View] {
			continue
		}
		seen[op.View] = true

		change := ViewChange{View: op.View}
		switch {
		case created[op.View] && dropped[op.View]:
			change.Action = ActionRebuild
		case created[op.View]:
			change.Action = ActionAdd
		default:
			change.Action = ActionDestroy
		}

		if p.Diff != nil {
			if r, ok := p.Diff.Get(op.View); ok {
				change.Reason = string(r.Status)
				if r.Effective {
					change.Reason = "dependency changed"
					change.CausedBy = r.CausedBy
				}
			}
		} else {
			change.Reason = "teardown"
		}
		changes = append(changes, change)
	}
	return changes
}

// Summary counts the plan's changes
func (p *Plan) Summary() PlanSummary {
	var s PlanSummary
	for _, change := range p.Changes() {
		switch change.Action {
		case ActionAdd:
			s.Add++
		case ActionRebuild:
			s.Rebuild++
		case ActionDestroy:
			s.Destroy++
		}
		s.Total++
	}
	return s
}

// Statements returns every SQL statement of the plan in execution order
func (p *Plan) Statements() []string {
	var statements []string
	for _, op := range p.Operations {
		statements = append(statements, op.Statements()...)
	}
	return statements
}

// ToSQL returns only the SQL statements without any additional formatting
func (p *Plan) ToSQL() string {
	if !p.HasChanges() {
		return ""
	}
	return strings.Join(p.Statements(), "\n\n") + "\n"
}

// ReverseStatements returns the SQL that undoes the plan: operations in reverse
// order, each with its reverse statements. Drops whose previous query is unknown
// cannot be reversed and are skipped.
func (p *Plan) ReverseStatements() []string {
	var statements []string
	for i := len(p.Operations) - 1; i >= 0; i-- {
		statements = append(statements, p.Operations[i].ReverseStatements()...)
	}
	return statements
}

// ToReverseSQL is ToSQL for ReverseStatements
func (p *Plan) ToReverseSQL() string {
	statements := p.ReverseStatements()
	if len(statements) == 0 {
		return ""
	}
	return strings.Join(statements, "\n\n") + "\n"
}

// ToJSON returns the plan as structured JSON
func (p *Plan) ToJSON() (string, error) {
	planJSON := PlanJSON{
		Version:          "1.0.0",
		PgmatviewVersion: version.App(),
		CreatedAt:        p.CreatedAt,
		Summary:          p.Summary(),
		Changes:          p.Changes(),
		Operations:       p.Operations,
		Statements:       p.Statements(),
		Warnings:         p.Warnings,
	}
	if planJSON.Changes == nil {
		planJSON.Changes = []ViewChange{}
	}
	if planJSON.Operations == nil {
		planJSON.Operations = []Operation{}
	}
	if planJSON.Statements == nil {
		planJSON.Statements = []string{}
	}

	data, err := json.MarshalIndent(planJSON, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plan to JSON: %w", err)
	}
	return string(data), nil
}

// HumanColored returns a human-readable summary of the plan with color support
func (p *Plan) HumanColored(enableColor bool) string {
	c := color.New(enableColor)
	var out strings.Builder

	for _, warning := range p.Warnings {
		out.WriteString(c.Change("Warning: ") + warning + "\n")
	}
	if len(p.Warnings) > 0 {
		out.WriteString("\n")
	}

	if !p.HasChanges() {
		out.WriteString("No changes detected.\n")
		return out.String()
	}

	summary := p.Summary()
	out.WriteString(c.FormatPlanHeader(summary.Add, summary.Rebuild, summary.Destroy) + "\n\n")

	out.WriteString(c.Bold("Materialized views:") + "\n")
	for _, change := range p.Changes() {
		line := c.FormatPlanLine(string(change.Action), change.View)
		if change.Reason != "" {
			line += fmt.Sprintf(" (%s", change.Reason)
			if len(change.CausedBy) > 0 {
				line += ": " + strings.Join(change.CausedBy, ", ")
			}
			line += ")"
		}
		out.WriteString(line + "\n")
	}
	out.WriteString("\n")

	out.WriteString(c.Bold("DDL to be executed:") + "\n")
	out.WriteString(strings.Repeat("-", 50) + "\n\n")
	out.WriteString(p.ToSQL())

	return out.String()
}
