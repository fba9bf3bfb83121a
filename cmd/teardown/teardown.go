package teardown

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgschema/pgmatview/cmd/util"
	"github.com/pgschema/pgmatview/internal/apply"
	"github.com/pgschema/pgmatview/internal/diff"
	"github.com/pgschema/pgmatview/internal/graph"
	"github.com/pgschema/pgmatview/internal/plan"
	"github.com/pgschema/pgmatview/internal/state"
)

var (
	teardownConn        util.ConnectionFlags
	teardownAutoApprove bool
	teardownDryRun      bool
	teardownNoColor     bool
)

var TeardownCmd = &cobra.Command{
	Use:   "teardown VIEW...",
	Short: "Drop materialized views that block a schema migration",
	Long: `Drop the named materialized views and every view that reads from them, dependents
first, and forget their recorded definitions. The next apply creates them again.

Use this when an ALTER on a base table fails because a materialized view depends on
the column being changed.`,
	Args:         cobra.MinimumNArgs(1),
	RunE:         runTeardown,
	SilenceUsage: true,
}

func init() {
	util.AddConnectionFlags(TeardownCmd, &teardownConn)
	TeardownCmd.Flags().BoolVar(&teardownAutoApprove, "auto-approve", false, "Drop without prompting for approval")
	TeardownCmd.Flags().BoolVar(&teardownDryRun, "dry-run", false, "Show the drops without executing them")
	TeardownCmd.Flags().BoolVar(&teardownNoColor, "no-color", false, "Disable colored output")
}

func runTeardown(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	conn, err := teardownConn.Resolve(cmd, util.Settings())
	if err != nil {
		return err
	}

	db, err := util.Connect(ctx, conn)
	if err != nil {
		return err
	}
	defer db.Close()

	stores, err := util.OpenStores(ctx, db, !teardownDryRun)
	if err != nil {
		return err
	}
	states, err := stores.State.Load(ctx)
	if err != nil {
		return err
	}

	p, err := TeardownPlan(states, args...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, p.HumanColored(!teardownNoColor))
	if teardownDryRun {
		return nil
	}

	if !teardownAutoApprove {
		approved, err := util.Confirm(cmd.InOrStdin(), out, "Do you want to drop these views?")
		if err != nil {
			return err
		}
		if !approved {
			fmt.Fprintln(out, "Teardown cancelled.")
			return nil
		}
	}

	runner := apply.NewRunner(apply.SQLDatabase{DB: db}, stores.State)
	if _, err := runner.Apply(ctx, p); err != nil {
		return fmt.Errorf("failed to tear down views: %w", err)
	}
	fmt.Fprintln(out, "Views dropped. Run apply to recreate them.")
	return nil
}

// TeardownPlan plans the drops for names against the views currently applied,
// whose recorded queries determine what reads from what
func TeardownPlan(states map[string]state.ViewState, names ...string) (*plan.Plan, error) {
	g, err := graph.Build(diff.Nodes(nil, states))
	if err != nil {
		return nil, err
	}
	return plan.Teardown(g, states, names...), nil
}
