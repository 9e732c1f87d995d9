package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/e2eshark/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	RunID    string
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the recorded results of a run",
		Long: `Show every test of a run recorded with "run --db": its result and the
wall time of each phase. Without --run the most recently started run is shown.

Example:
  e2eshark report --db results.db
  e2eshark report --db results.db --run 0190d4c6-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportRun(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show (defaults to the latest run)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func reportRun(opts *ReportOptions, cmd *cobra.Command) error {
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	runID := opts.RunID
	if runID == "" {
		if runID, err = st.LatestRun(ctx); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return NewExitError(ExitCommandError, "no runs recorded in "+opts.Database)
			}
			return WrapExitError(ExitCommandError, "failed to find latest run", err)
		}
	}

	run, err := st.ReadRun(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	if opts.Format == "json" {
		f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return f.RunSuccess(run.ID, run)
	}

	renderRun(cmd.OutOrStdout(), run, time.Now())
	return nil
}
