package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pgschema/pgmatview/internal/fingerprint"
	"github.com/pgschema/pgmatview/internal/graph"
	"github.com/pgschema/pgmatview/internal/state"
	"github.com/pgschema/pgmatview/internal/view"
)

func newTestView(name, sql string) *view.Definition {
	return &view.Definition{Name: name, Query: view.RawQuery{Text: sql}, Managed: true}
}

func applied(name, sql string) state.ViewState {
	return state.ViewState{ViewName: name, Hash: fingerprint.Compute(sql).Hash, Query: sql}
}

func generate(t *testing.T, defs []*view.Definition, states ...state.ViewState) (*Plan, error) {
	t.Helper()
	registry, err := view.NewRegistry(defs...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	stateMap := make(map[string]state.ViewState)
	for _, st := range states {
		stateMap[st.ViewName] = st
	}
	return Generate(registry, stateMap)
}

func opStrings(p *Plan) []string {
	var out []string
	for _, op := range p.Operations {
		out = append(out, op.String())
	}
	return out
}

func TestGenerateAddedViewsInDependencyOrder(t *testing.T) {
	p, err := generate(t, []*view.Definition{
		newTestView("b", "SELECT * FROM a"),
		newTestView("a", "SELECT 1 AS id"),
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if diff := cmp.Diff([]string{"Create(a)", "Create(b)"}, opStrings(p)); diff != "" {
		t.Errorf("operations mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateChangedDependentOnly(t *testing.T) {
	p, err := generate(t,
		[]*view.Definition{
			newTestView("a", "SELECT 1 AS id"),
			newTestView("b", "SELECT id, 2 AS two FROM a"),
		},
		applied("a", "SELECT 1 AS id"),
		applied("b", "SELECT id FROM a"),
	)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if diff := cmp.Diff([]string{"Drop(b)", "Create(b)"}, opStrings(p)); diff != "" {
		t.Errorf("operations mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateRebuildsEffectivelyChangedViews(t *testing.T) {
	p, err := generate(t,
		[]*view.Definition{
			newTestView("a", "SELECT 2 AS id"),
			newTestView("b", "SELECT * FROM a"),
			newTestView("c", "SELECT * FROM b"),
		},
		applied("a", "SELECT 1 AS id"),
		applied("b", "SELECT * FROM a"),
		applied("c", "SELECT * FROM b"),
	)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	want := []string{"Drop(c)", "Drop(b)", "Drop(a)", "Create(a)", "Create(b)", "Create(c)"}
	if diff := cmp.Diff(want, opStrings(p)); diff != "" {
		t.Errorf("operations mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateRemovedViews(t *testing.T) {
	p, err := generate(t,
		[]*view.Definition{newTestView("keep", "SELECT 1")},
		applied("keep", "SELECT 1"),
		applied("old_base", "SELECT 2 AS id"),
		applied("old_top", "SELECT * FROM old_base"),
	)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if diff := cmp.Diff([]string{"Drop(old_top)", "Drop(old_base)"}, opStrings(p)); diff != "" {
		t.Errorf("operations mismatch (-want +got):\n%s", diff)
	}
	for _, op := range p.Operations {
		if !op.Forget {
			t.Errorf("%s should clear the recorded state", op)
		}
		if op.ReverseStatements() == nil {
			t.Errorf("%s should be reversible from the applied query", op)
		}
	}
}

func TestGenerateCycleEmitsNothing(t *testing.T) {
	p, err := generate(t, []*view.Definition{
		newTestView("x", "SELECT * FROM y"),
		newTestView("y", "SELECT * FROM x"),
	})

	var cyclic *graph.CyclicDependencyError
	if !errors.As(err, &cyclic) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
	if p != nil {
		t.Errorf("expected no plan, got %d operations", len(p.Operations))
	}
}

func TestGenerateUnresolvedQuerySource(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "sql", "daily_sales.sql")
	p, err := generate(t, []*view.Definition{
		{Name: "daily_sales", Query: view.RawQuery{Path: missing}, Managed: true},
		newTestView("other", "SELECT 1"),
	})

	var unresolved *view.UnresolvedQuerySourceError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedQuerySourceError, got %v", err)
	}
	if !strings.Contains(err.Error(), missing) {
		t.Errorf("error should name %s, got %q", missing, err.Error())
	}
	if p != nil {
		t.Error("no partial plan may be returned")
	}
}

func TestGenerateUniqueIndex(t *testing.T) {
	def := newTestView("order_totals", "SELECT customer_id, sum(total) FROM orders GROUP BY 1;")
	def.RequiresUniqueIndex = true
	def.UniqueKey = []string{"customer_id"}

	p, err := generate(t, []*view.Definition{def})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	want := []string{
		"CREATE MATERIALIZED VIEW order_totals AS\nSELECT customer_id, sum(total) FROM orders GROUP BY 1;",
		"CREATE UNIQUE INDEX order_totals_pkey ON order_totals (customer_id);",
	}
	if diff := cmp.Diff(want, p.Statements()); diff != "" {
		t.Errorf("statements mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateRebuildsOnUniqueKeyChange(t *testing.T) {
	const query = "SELECT customer_id, sum(total) AS total FROM orders GROUP BY 1"
	keyed := func(columns ...string) *view.Definition {
		def := newTestView("order_totals", query)
		def.RequiresUniqueIndex = true
		def.UniqueKey = columns
		return def
	}

	tests := []struct {
		name    string
		def     *view.Definition
		applied state.ViewState
		want    []string
	}{
		{
			name:    "key added to applied view",
			def:     keyed("customer_id"),
			applied: applied("order_totals", query),
			want:    []string{"Drop(order_totals)", "Create(order_totals)"},
		},
		{
			name: "key columns changed",
			def:  keyed("customer_id", "total"),
			applied: state.ViewState{
				ViewName: "order_totals",
				Hash:     fingerprint.ComputeWithIndex(query, "order_totals_pkey", []string{"customer_id"}).Hash,
				Query:    query,
			},
			want: []string{"Drop(order_totals)", "Create(order_totals)"},
		},
		{
			name:    "key removed",
			def:     newTestView("order_totals", query),
			applied: state.ViewState{ViewName: "order_totals", Hash: fingerprint.ComputeWithIndex(query, "order_totals_pkey", []string{"customer_id"}).Hash, Query: query},
			want:    []string{"Drop(order_totals)", "Create(order_totals)"},
		},
		{
			name: "key unchanged",
			def:  keyed("customer_id"),
			applied: state.ViewState{
				ViewName: "order_totals",
				Hash:     fingerprint.ComputeWithIndex(query, "order_totals_pkey", []string{"customer_id"}).Hash,
				Query:    query,
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := generate(t, []*view.Definition{tt.def}, tt.applied)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, opStrings(p)); diff != "" {
				t.Errorf("operations mismatch (-want +got):\n%s", diff)
			}
		})
	}

	p, err := generate(t, []*view.Definition{keyed("customer_id")}, applied("order_totals", query))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	create := p.Operations[len(p.Operations)-1]
	if create.Index == nil || create.Index.Name != "order_totals_pkey" {
		t.Errorf("rebuilt view should carry its unique index, got %+v", create.Index)
	}
}

func TestGenerateNoChanges(t *testing.T) {
	p, err := generate(t,
		[]*view.Definition{newTestView("a", "SELECT 1")},
		applied("a", "select 1;"),
	)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if p.HasChanges() {
		t.Errorf("expected no operations, got %v", opStrings(p))
	}
	if got := p.HumanColored(false); !strings.Contains(got, "No changes detected.") {
		t.Errorf("unexpected human output %q", got)
	}
}

// TestGenerateOrderingProperty checks, over random DAGs and random prior states,
// that creates follow dependencies and drops precede them.
func TestGenerateOrderingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		n := 2 + rng.Intn(8)
		var defs []*view.Definition
		var states []state.ViewState
		edges := make(map[string][]string)

		for i := 0; i < n; i++ {
			name := fmt.Sprintf("v%d", i)
			var from []string
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					dep := fmt.Sprintf("v%d", j)
					from = append(from, dep)
					edges[name] = append(edges[name], dep)
				}
			}
			query := "SELECT 1 AS id"
			if len(from) > 0 {
				query = "SELECT * FROM " + strings.Join(from, ", ")
			}

			switch rng.Intn(3) {
			case 0: // added
			case 1: // unchanged
				states = append(states, applied(name, query))
			case 2: // changed
				states = append(states, applied(name, query+" LIMIT 1"))
			}
			defs = append(defs, newTestView(name, query))
		}

		p, err := generate(t, defs, states...)
		if err != nil {
			t.Fatalf("round %d: Generate() error = %v", round, err)
		}

		createAt := make(map[string]int)
		dropAt := make(map[string]int)
		for idx, op := range p.Operations {
			if op.Kind == OperationCreate {
				createAt[op.View] = idx
			} else {
				dropAt[op.View] = idx
			}
		}

		for from, tos := range edges {
			for _, to := range tos {
				if ci, ok := createAt[from]; ok {
					if cj, ok := createAt[to]; ok && cj > ci {
						t.Fatalf("round %d: Create(%s) must precede Create(%s): %v", round, to, from, opStrings(p))
					}
				}
				if di, ok := dropAt[from]; ok {
					if dj, ok := dropAt[to]; ok && dj < di {
						t.Fatalf("round %d: Drop(%s) must precede Drop(%s): %v", round, from, to, opStrings(p))
					}
				}
				// a dependent of a rebuilt view must be rebuilt too
				if _, ok := dropAt[to]; ok {
					if _, existed := dropAt[from]; !existed {
						if _, created := createAt[from]; !created {
							t.Fatalf("round %d: %s reads from rebuilt %s but is untouched: %v", round, from, to, opStrings(p))
						}
					}
				}
			}
		}
	}
}

func TestTeardown(t *testing.T) {
	g, err := graph.Build([]graph.Node{
		{Name: "base", SQL: "SELECT * FROM orders"},
		{Name: "mid", SQL: "SELECT * FROM base"},
		{Name: "top", SQL: "SELECT * FROM mid"},
		{Name: "unrelated", SQL: "SELECT 1"},
	})
	if err != nil {
		t.Fatalf("graph.Build() error = %v", err)
	}

	p := Teardown(g, map[string]state.ViewState{"mid": applied("mid", "SELECT * FROM base")}, "mid", "ghost")
	if diff := cmp.Diff([]string{"Drop(top)", "Drop(mid)", "Drop(ghost)"}, opStrings(p)); diff != "" {
		t.Errorf("operations mismatch (-want +got):\n%s", diff)
	}
	for _, op := range p.Operations {
		if !op.Forget {
			t.Errorf("%s should clear the recorded state", op)
		}
	}
	if summary := p.Summary(); summary.Destroy != 3 || summary.Total != 3 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestPlanOutputs(t *testing.T) {
	p, err := generate(t,
		[]*view.Definition{
			newTestView("a", "SELECT 2 AS id"),
			newTestView("b", "SELECT * FROM a"),
			newTestView("new_view", "SELECT 3"),
		},
		applied("a", "SELECT 1 AS id"),
		applied("b", "SELECT * FROM a"),
		applied("gone", "SELECT 4"),
	)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	summary := p.Summary()
	if diff := cmp.Diff(PlanSummary{Add: 1, Rebuild: 2, Destroy: 1, Total: 4}, summary); diff != "" {
		t.Errorf("Summary() mismatch (-want +got):\n%s", diff)
	}

	human := p.HumanColored(false)
	for _, want := range []string{
		"Plan: 1 to add, 2 to rebuild, 1 to drop.",
		"  ~ b (dependency changed: a)",
		"  - gone (removed)",
		"  + new_view (added)",
		"DROP MATERIALIZED VIEW IF EXISTS gone;",
	} {
		if !strings.Contains(human, want) {
			t.Errorf("human output missing %q:\n%s", want, human)
		}
	}

	out, err := p.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	var decoded PlanJSON
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Summary != summary {
		t.Errorf("JSON summary = %+v, want %+v", decoded.Summary, summary)
	}
	if len(decoded.Operations) != len(p.Operations) {
		t.Errorf("JSON has %d operations, want %d", len(decoded.Operations), len(p.Operations))
	}
}
