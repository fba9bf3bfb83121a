package plan

import (
	"fmt"
	"strings"

	"github.com/pgschema/pgmatview/internal/util"
)

// OperationKind tags an Operation
type OperationKind string

const (
	OperationDrop   OperationKind = "drop"
	OperationCreate OperationKind = "create"
)

// IndexSpec is the unique index created right after a view so it can be refreshed
// concurrently
type IndexSpec struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// Operation is one DDL step handed to the migration runner
type Operation struct {
	Kind OperationKind `json:"kind"`
	View string        `json:"view"`

	// Create only
	Query string     `json:"query,omitempty"`
	Hash  string     `json:"hash,omitempty"`
	Index *IndexSpec `json:"index,omitempty"`

	// Drop only. Forget tells the runner to clear the recorded state after the drop
	// (view removed or torn down); PreviousQuery lets the runner build the reverse step.
	Forget        bool       `json:"forget,omitempty"`
	PreviousQuery string     `json:"-"`
	PreviousIndex *IndexSpec `json:"-"`
}

// Statements returns the SQL for the operation in execution order
func (op Operation) Statements() []string {
	switch op.Kind {
	case OperationDrop:
		return []string{dropViewSQL(op.View)}
	case OperationCreate:
		return createViewSQL(op.View, op.Query, op.Index)
	}
	return nil
}

// ReverseStatements returns the SQL that undoes the operation. Reversing a drop
// needs the last applied query; nil is returned when it is unknown.
func (op Operation) ReverseStatements() []string {
	switch op.Kind {
	case OperationCreate:
		return []string{dropViewSQL(op.View)}
	case OperationDrop:
		if op.PreviousQuery == "" {
			return nil
		}
		return createViewSQL(op.View, op.PreviousQuery, op.PreviousIndex)
	}
	return nil
}

// String renders the operation like Drop(view) or Create(view)
func (op Operation) String() string {
	switch op.Kind {
	case OperationDrop:
		return fmt.Sprintf("Drop(%s)", op.View)
	case OperationCreate:
		return fmt.Sprintf("Create(%s)", op.View)
	}
	return string(op.Kind)
}

func dropViewSQL(name string) string {
	return fmt.Sprintf("DROP MATERIALIZED VIEW IF EXISTS %s;", util.QuoteQualifiedName(name))
}

func createViewSQL(name, query string, index *IndexSpec) []string {
	viewName := util.QuoteQualifiedName(name)
	statements := []string{
		fmt.Sprintf("CREATE MATERIALIZED VIEW %s AS\n%s;", viewName, trimQuery(query)),
	}
	if index != nil {
		statements = append(statements, fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s);",
			util.QuoteIdentifier(index.Name), viewName, util.QuoteIdentifierList(index.Columns)))
	}
	return statements
}

// trimQuery removes surrounding whitespace and trailing semicolons
func trimQuery(query string) string {
	return strings.TrimRight(strings.TrimSpace(query), "; \t\r\n")
}
