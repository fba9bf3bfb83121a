package plan

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/pgschema/pgmatview/internal/fingerprint"
	"github.com/pgschema/pgmatview/internal/plan"
	"github.com/pgschema/pgmatview/internal/state"
	"github.com/pgschema/pgmatview/internal/view"
)

func TestDetermineOutputs(t *testing.T) {
	tests := []struct {
		name             string
		outputHuman      string
		outputJSON       string
		outputSQL        string
		outputReverseSQL string
		expectError      bool
		errorMsg         string
		expectCount      int
	}{
		{
			name:        "no flags - default to human stdout",
			expectCount: 1,
		},
		{
			name:        "single json to stdout",
			outputJSON:  "stdout",
			expectCount: 1,
		},
		{
			name:             "multiple to files",
			outputHuman:      "plan.txt",
			outputJSON:       "plan.json",
			outputSQL:        "plan.sql",
			outputReverseSQL: "down.sql",
			expectCount:      4,
		},
		{
			name:        "json to stdout, sql to file",
			outputJSON:  "stdout",
			outputSQL:   "migration.sql",
			expectCount: 2,
		},
		{
			name:             "multiple stdout error",
			outputSQL:        "stdout",
			outputReverseSQL: "stdout",
			expectError:      true,
			errorMsg:         "only one output format can use stdout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetFlags()
			outputHuman = tt.outputHuman
			outputJSON = tt.outputJSON
			outputSQL = tt.outputSQL
			outputReverseSQL = tt.outputReverseSQL

			outputs, err := determineOutputs()

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(outputs) != tt.expectCount {
				t.Errorf("expected %d outputs, got %d", tt.expectCount, len(outputs))
			}
		})
	}
}

func samplePlan(t *testing.T) *plan.Plan {
	t.Helper()
	registry, err := view.NewRegistry(
		&view.Definition{Name: "a", Query: view.RawQuery{Text: "SELECT 2 AS id"}, Managed: true},
		&view.Definition{Name: "b", Query: view.RawQuery{Text: "SELECT * FROM a"}, Managed: true},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	states := map[string]state.ViewState{
		"a": {ViewName: "a", Hash: fingerprint.Compute("SELECT 1 AS id").Hash, Query: "SELECT 1 AS id"},
		"b": {ViewName: "b", Hash: fingerprint.Compute("SELECT * FROM a").Hash, Query: "SELECT * FROM a"},
	}
	p, err := plan.Generate(registry, states)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	return p
}

func TestProcessOutput_Stdout(t *testing.T) {
	ResetFlags()
	planNoColor = true

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	if err := processOutput(cmd, samplePlan(t), outputSpec{format: "human", target: "stdout"}); err != nil {
		t.Fatalf("processOutput() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"0 to add, 2 to rebuild, 0 to drop", "b (dependency changed: a)", "DROP MATERIALIZED VIEW IF EXISTS b;"} {
		if !strings.Contains(out, want) {
			t.Errorf("human output missing %q:\n%s", want, out)
		}
	}
}

func TestProcessOutput_FileCreation(t *testing.T) {
	tmpDir := t.TempDir()
	p := samplePlan(t)

	sqlFile := filepath.Join(tmpDir, "plan.sql")
	if err := processOutput(&cobra.Command{}, p, outputSpec{format: "sql", target: sqlFile}); err != nil {
		t.Fatalf("processOutput() error = %v", err)
	}
	content, err := os.ReadFile(sqlFile)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", sqlFile, err)
	}
	if string(content) != p.ToSQL() {
		t.Errorf("file content = %q, want %q", content, p.ToSQL())
	}

	reverseFile := filepath.Join(tmpDir, "down.sql")
	if err := processOutput(&cobra.Command{}, p, outputSpec{format: "reverse-sql", target: reverseFile}); err != nil {
		t.Fatalf("processOutput() error = %v", err)
	}
	content, err = os.ReadFile(reverseFile)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", reverseFile, err)
	}
	if !strings.Contains(string(content), "SELECT 1 AS id") {
		t.Errorf("reverse SQL should recreate the previous definition of a:\n%s", content)
	}
}
