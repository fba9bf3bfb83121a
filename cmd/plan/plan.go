package plan

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pgschema/pgmatview/cmd/util"
	"github.com/pgschema/pgmatview/internal/logger"
	"github.com/pgschema/pgmatview/internal/plan"
)

var (
	planConn     util.ConnectionFlags
	planManifest string

	outputHuman      string
	outputJSON       string
	outputSQL        string
	outputReverseSQL string
	planNoColor      bool
)

var PlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the materialized view migration plan",
	Long: `Compare the views in the manifest with the definitions last applied to the database
and print the drops and creates needed to bring them in line. Views whose query is
unchanged are rebuilt when a view they read from is rebuilt.`,
	RunE:         runPlan,
	SilenceUsage: true,
}

func init() {
	util.AddConnectionFlags(PlanCmd, &planConn)
	PlanCmd.Flags().StringVar(&planManifest, "manifest", "", "Path to the view manifest (default from config: views.yaml)")

	PlanCmd.Flags().StringVar(&outputHuman, "output-human", "", "Output human-readable format to stdout or file path")
	PlanCmd.Flags().StringVar(&outputJSON, "output-json", "", "Output JSON format to stdout or file path")
	PlanCmd.Flags().StringVar(&outputSQL, "output-sql", "", "Output SQL format to stdout or file path")
	PlanCmd.Flags().StringVar(&outputReverseSQL, "output-reverse-sql", "", "Output the SQL that undoes the plan to stdout or file path")
	PlanCmd.Flags().BoolVar(&planNoColor, "no-color", false, "Disable colored output")
}

// PlanConfig holds everything needed to compute a plan
type PlanConfig struct {
	Connection *util.ConnectionConfig
	Manifest   string
}

func runPlan(cmd *cobra.Command, args []string) error {
	outputs, err := determineOutputs()
	if err != nil {
		return err
	}

	conn, err := planConn.Resolve(cmd, util.Settings())
	if err != nil {
		return err
	}

	migrationPlan, err := GeneratePlan(cmd.Context(), &PlanConfig{Connection: conn, Manifest: planManifest})
	if err != nil {
		return err
	}

	for _, output := range outputs {
		if err := processOutput(cmd, migrationPlan, output); err != nil {
			return err
		}
	}
	return nil
}

// GeneratePlan connects to the database, reads the applied view states and plans the
// manifest against them. Nothing is written to the database.
func GeneratePlan(ctx context.Context, config *PlanConfig) (*plan.Plan, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	registry, err := util.LoadRegistry(config.Manifest)
	if err != nil {
		return nil, err
	}

	db, err := util.Connect(ctx, config.Connection)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	stores, err := util.OpenStores(ctx, db, false)
	if err != nil {
		return nil, err
	}
	states, err := stores.State.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger.Get().Debug("Planning materialized views", "registered", registry.Len(), "applied", len(states))

	p, err := plan.Generate(registry, states)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}
	return p, nil
}

// outputSpec represents a single output specification
type outputSpec struct {
	format string // "human", "json", "sql" or "reverse-sql"
	target string // "stdout" or file path
}

// determineOutputs parses the output flags and returns the list of outputs to generate
func determineOutputs() ([]outputSpec, error) {
	var outputs []outputSpec
	stdoutCount := 0

	for _, candidate := range []outputSpec{
		{format: "human", target: outputHuman},
		{format: "json", target: outputJSON},
		{format: "sql", target: outputSQL},
		{format: "reverse-sql", target: outputReverseSQL},
	} {
		if candidate.target == "" {
			continue
		}
		if candidate.target == "stdout" {
			stdoutCount++
		}
		outputs = append(outputs, candidate)
	}

	if stdoutCount > 1 {
		return nil, fmt.Errorf("only one output format can use stdout")
	}

	// Default behavior: if no outputs specified, output human to stdout
	if len(outputs) == 0 {
		outputs = append(outputs, outputSpec{format: "human", target: "stdout"})
	}

	return outputs, nil
}

// processOutput writes the plan in the specified format to the target destination
func processOutput(cmd *cobra.Command, migrationPlan *plan.Plan, output outputSpec) error {
	var content string
	var err error

	switch output.format {
	case "human":
		useColor := output.target == "stdout" && !planNoColor
		content = migrationPlan.HumanColored(useColor)
	case "json":
		content, err = migrationPlan.ToJSON()
		if err != nil {
			return fmt.Errorf("failed to generate JSON output: %w", err)
		}
		content += "\n"
	case "sql":
		content = migrationPlan.ToSQL()
	case "reverse-sql":
		content = migrationPlan.ToReverseSQL()
	default:
		return fmt.Errorf("unknown output format: %s", output.format)
	}

	if output.target == "stdout" {
		fmt.Fprint(cmd.OutOrStdout(), content)
		return nil
	}
	if err := os.WriteFile(output.target, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s output to %s: %w", output.format, output.target, err)
	}
	return nil
}

// ResetFlags resets all global flag variables to their default values for testing
func ResetFlags() {
	planConn = util.ConnectionFlags{}
	planManifest = ""
	outputHuman = ""
	outputJSON = ""
	outputSQL = ""
	outputReverseSQL = ""
	planNoColor = false
}
