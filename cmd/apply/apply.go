package apply

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgschema/pgmatview/cmd/util"
	"github.com/pgschema/pgmatview/internal/apply"
	"github.com/pgschema/pgmatview/internal/plan"
)

var (
	applyConn        util.ConnectionFlags
	applyManifest    string
	applyAutoApprove bool
	applyNoColor     bool
	applyDryRun      bool
	applyLockTimeout string
)

var ApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the materialized view migration plan",
	Long: `Plan the manifest against the database and execute the resulting drops and creates.
Each operation runs in its own transaction and the view's definition is recorded once
it is created.`,
	RunE:         runApply,
	SilenceUsage: true,
}

func init() {
	util.AddConnectionFlags(ApplyCmd, &applyConn)
	ApplyCmd.Flags().StringVar(&applyManifest, "manifest", "", "Path to the view manifest (default from config: views.yaml)")

	ApplyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Apply changes without prompting for approval")
	ApplyCmd.Flags().BoolVar(&applyNoColor, "no-color", false, "Disable colored output")
	ApplyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Show plan without applying changes")
	ApplyCmd.Flags().StringVar(&applyLockTimeout, "lock-timeout", "", "Maximum time to wait for database locks (e.g., 30s, 5m)")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	settings := util.Settings()

	conn, err := applyConn.Resolve(cmd, settings)
	if err != nil {
		return err
	}

	registry, err := util.LoadRegistry(applyManifest)
	if err != nil {
		return err
	}

	db, err := util.Connect(ctx, conn)
	if err != nil {
		return err
	}
	defer db.Close()

	stores, err := util.OpenStores(ctx, db, !applyDryRun)
	if err != nil {
		return err
	}
	states, err := stores.State.Load(ctx)
	if err != nil {
		return err
	}

	migrationPlan, err := plan.Generate(registry, states)
	if err != nil {
		return fmt.Errorf("failed to generate plan: %w", err)
	}

	out := cmd.OutOrStdout()
	if !migrationPlan.HasChanges() {
		for _, warning := range migrationPlan.Warnings {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
		fmt.Fprintln(out, "No changes to apply. Materialized views are up to date.")
		return nil
	}

	fmt.Fprint(out, migrationPlan.HumanColored(!applyNoColor))

	if applyDryRun {
		return nil
	}

	if !applyAutoApprove {
		approved, err := util.Confirm(cmd.InOrStdin(), out, "Do you want to apply these changes?")
		if err != nil {
			return err
		}
		if !approved {
			fmt.Fprintln(out, "Apply cancelled.")
			return nil
		}
	}

	fmt.Fprintln(out, "\nApplying changes...")

	lockTimeout := applyLockTimeout
	if lockTimeout == "" {
		lockTimeout = settings.Apply.LockTimeout
	}
	runner := apply.NewRunner(apply.SQLDatabase{DB: db}, stores.State, apply.WithLockTimeout(lockTimeout))
	if _, err := runner.Apply(ctx, migrationPlan); err != nil {
		return fmt.Errorf("failed to apply changes: %w", err)
	}

	fmt.Fprintln(out, "Changes applied successfully!")
	return nil
}

// ResetFlags resets all global flag variables to their default values for testing
func ResetFlags() {
	applyConn = util.ConnectionFlags{}
	applyManifest = ""
	applyAutoApprove = false
	applyNoColor = false
	applyDryRun = false
	applyLockTimeout = ""
}
