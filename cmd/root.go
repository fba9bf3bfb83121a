package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgschema/pgmatview/cmd/apply"
	logCmd "github.com/pgschema/pgmatview/cmd/log"
	"github.com/pgschema/pgmatview/cmd/plan"
	"github.com/pgschema/pgmatview/cmd/refresh"
	"github.com/pgschema/pgmatview/cmd/teardown"
	"github.com/pgschema/pgmatview/cmd/util"
	"github.com/pgschema/pgmatview/internal/logger"
	"github.com/pgschema/pgmatview/internal/telemetry"
	"github.com/pgschema/pgmatview/internal/version"
)

var (
	Debug      bool
	ConfigPath string
)

var RootCmd = &cobra.Command{
	Use:   "pgmatview",
	Short: "PostgreSQL materialized view migrations and refreshes",
	Long: fmt.Sprintf(`pgmatview keeps PostgreSQL materialized views in step with their definitions.

Version: %s

Commands:
  plan      Show the drops and creates needed to match the manifest
  apply     Apply the plan
  teardown  Drop views blocking a schema migration
  refresh   Refresh views and log each attempt
  log       Show the refresh history

Use "pgmatview [command] --help" for more information about a command.`, version.String()),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		if err := telemetry.Init(cmd.Context(), "pgmatview", version.App()); err != nil {
			logger.Get().Warn("Telemetry disabled", "error", err)
		}
		return util.LoadSettings(ConfigPath)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "Enable debug logging")
	RootCmd.PersistentFlags().StringVar(&ConfigPath, "config", "", "Path to pgmatview.yaml (default: discovered from the working directory)")

	RootCmd.AddCommand(plan.PlanCmd)
	RootCmd.AddCommand(apply.ApplyCmd)
	RootCmd.AddCommand(teardown.TeardownCmd)
	RootCmd.AddCommand(refresh.RefreshCmd)
	RootCmd.AddCommand(logCmd.LogCmd)
	RootCmd.AddCommand(VersionCmd)
}

func setupLogger() {
	logger.SetGlobal(logger.New(os.Stderr, Debug), Debug)
}

func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
