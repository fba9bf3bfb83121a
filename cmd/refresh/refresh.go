package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pgschema/pgmatview/cmd/util"
	"github.com/pgschema/pgmatview/internal/diff"
	"github.com/pgschema/pgmatview/internal/graph"
	"github.com/pgschema/pgmatview/internal/logger"
	"github.com/pgschema/pgmatview/internal/refresh"
	"github.com/pgschema/pgmatview/internal/telemetry"
	"github.com/pgschema/pgmatview/internal/view"
)

var (
	refreshConn         util.ConnectionFlags
	refreshManifest     string
	refreshAll          bool
	refreshConcurrently bool
	refreshParallel     int
)

var RefreshCmd = &cobra.Command{
	Use:   "refresh [VIEW...]",
	Short: "Refresh materialized views and log each attempt",
	Long: `Run REFRESH MATERIALIZED VIEW for the named views, or every registered view with --all.
Every attempt is appended to the refresh log with its duration and outcome.

With --all, views are refreshed in dependency order: a view is only refreshed once
the views it reads from are done.

By default views that declare a unique key are refreshed concurrently and the others
exclusively (refresh.mode: auto). --concurrently refreshes every view concurrently and
is never downgraded to a blocking refresh; --concurrently=false refreshes every view
exclusively.`,
	RunE:         runRefresh,
	SilenceUsage: true,
}

func init() {
	util.AddConnectionFlags(RefreshCmd, &refreshConn)
	RefreshCmd.Flags().StringVar(&refreshManifest, "manifest", "", "Path to the view manifest (default from config: views.yaml)")
	RefreshCmd.Flags().BoolVar(&refreshAll, "all", false, "Refresh every registered view")
	RefreshCmd.Flags().BoolVar(&refreshConcurrently, "concurrently", false, "Refresh every view concurrently, or none with =false (default from config: refresh.mode, auto)")
	RefreshCmd.Flags().IntVar(&refreshParallel, "parallel", 0, "Maximum number of views refreshed at once (default from config: refresh.parallel)")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !refreshAll {
		return fmt.Errorf("name at least one view or use --all")
	}
	if len(args) > 0 && refreshAll {
		return fmt.Errorf("--all cannot be combined with view names")
	}

	ctx := cmd.Context()
	settings := util.Settings()

	mode, err := refreshMode(cmd, settings.Refresh.Mode)
	if err != nil {
		return err
	}
	parallel := settings.Refresh.Parallel
	if cmd.Flags().Changed("parallel") {
		parallel = refreshParallel
	}

	conn, err := refreshConn.Resolve(cmd, settings)
	if err != nil {
		return err
	}

	registry, err := util.LoadRegistry(refreshManifest)
	if err != nil {
		return err
	}

	db, err := util.Connect(ctx, conn)
	if err != nil {
		return err
	}
	defer db.Close()

	stores, err := util.OpenStores(ctx, db, true)
	if err != nil {
		return err
	}

	executor, err := refresh.NewExecutor(db, refresh.NewPostgresCatalog(db), stores.Log, registry,
		refresh.WithMeter(telemetry.Meter("")))
	if err != nil {
		return err
	}

	names := args
	if refreshAll {
		names = registry.Names()
	}
	waves, err := Waves(registry, names)
	if err != nil {
		return err
	}

	return RunWaves(ctx, executor, waves, mode, parallel, cmd.OutOrStdout())
}

// refreshMode applies an explicit --concurrently over the configured mode
func refreshMode(cmd *cobra.Command, configured string) (refresh.Mode, error) {
	if !cmd.Flags().Changed("concurrently") {
		return refresh.ParseMode(configured)
	}
	if refreshConcurrently {
		return refresh.ModeConcurrent, nil
	}
	return refresh.ModeExclusive, nil
}

// Waves orders names so that a view's dependencies are refreshed before it. Names
// that are not registered go into a last wave, where the executor reports them.
func Waves(registry *view.Registry, names []string) ([][]string, error) {
	resolved := registry.Resolve()
	g, err := graph.Build(diff.Nodes(resolved, nil))
	if err != nil {
		return nil, err
	}

	waves := g.Levels(names)
	var unknown []string
	for _, name := range names {
		if !g.Has(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		waves = append(waves, unknown)
	}
	return waves, nil
}

// RunWaves refreshes each wave after the previous one finished. Failures are
// reported and do not stop later waves.
func RunWaves(ctx context.Context, executor *refresh.Executor, waves [][]string, mode refresh.Mode, parallel int, out io.Writer) error {
	var errs []error
	for i, wave := range waves {
		logger.Get().Debug("Refreshing wave", "wave", i+1, "views", wave)
		outcomes, err := executor.RefreshAll(ctx, wave, mode, parallel)
		for _, outcome := range outcomes {
			if outcome.Err != nil {
				fmt.Fprintf(out, "FAILED  %s: %v\n", outcome.View, outcome.Err)
				continue
			}
			fmt.Fprintf(out, "ok      %s (%s)\n", outcome.View, outcome.Entry.Duration)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("some refreshes failed: %w", errors.Join(errs...))
	}
	return nil
}

// ResetFlags resets all global flag variables to their default values for testing
func ResetFlags() {
	refreshConn = util.ConnectionFlags{}
	refreshManifest = ""
	refreshAll = false
	refreshConcurrently = false
	refreshParallel = 0
}
