package log

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgschema/pgmatview/cmd/util"
	"github.com/pgschema/pgmatview/internal/refresh"
)

var (
	logConn   util.ConnectionFlags
	logView   string
	logFailed bool
	logSince  time.Duration
	logLimit  int
	logJSON   bool
)

var LogCmd = &cobra.Command{
	Use:          "log",
	Short:        "Show the refresh history",
	Long:         "List refresh attempts recorded in the refresh log, newest first.",
	Args:         cobra.NoArgs,
	RunE:         runLog,
	SilenceUsage: true,
}

func init() {
	util.AddConnectionFlags(LogCmd, &logConn)
	LogCmd.Flags().StringVar(&logView, "view", "", "Only show refreshes of this view")
	LogCmd.Flags().BoolVar(&logFailed, "failed", false, "Only show failed refreshes")
	LogCmd.Flags().DurationVar(&logSince, "since", 0, "Only show refreshes newer than this (e.g. 24h)")
	LogCmd.Flags().IntVar(&logLimit, "limit", 20, "Maximum number of entries (0 for all)")
	LogCmd.Flags().BoolVar(&logJSON, "json", false, "Output JSON")
}

func runLog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	conn, err := logConn.Resolve(cmd, util.Settings())
	if err != nil {
		return err
	}

	db, err := util.Connect(ctx, conn)
	if err != nil {
		return err
	}
	defer db.Close()

	stores, err := util.OpenStores(ctx, db, false)
	if err != nil {
		return err
	}

	filter := refresh.Filter{View: logView, FailedOnly: logFailed, Limit: logLimit}
	if logSince > 0 {
		filter.Since = time.Now().Add(-logSince)
	}
	entries, err := stores.Log.List(ctx, filter)
	if err != nil {
		return err
	}

	if logJSON {
		return writeJSON(cmd.OutOrStdout(), entries)
	}
	return writeTable(cmd.OutOrStdout(), entries)
}

func writeJSON(out io.Writer, entries []refresh.LogEntry) error {
	if entries == nil {
		entries = []refresh.LogEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal refresh log: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func writeTable(out io.Writer, entries []refresh.LogEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No refreshes recorded.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVIEW\tUPDATED AT\tDURATION\tSTATUS")
	for _, e := range entries {
		status := "ok"
		if e.Failed {
			status = "failed"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.ID, e.ViewName, e.UpdatedAt.Format(time.RFC3339), e.Duration.Round(time.Millisecond), status)
	}
	return w.Flush()
}

// ResetFlags resets all global flag variables to their default values for testing
func ResetFlags() {
	logConn = util.ConnectionFlags{}
	logView = ""
	logFailed = false
	logSince = 0
	logLimit = 20
	logJSON = false
}
