package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/e2eshark/internal/config"
	"github.com/roach88/e2eshark/internal/harness"
	"github.com/roach88/e2eshark/internal/scheduler"
	"github.com/roach88/e2eshark/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile string
	Progress   bool

	flags config.Config

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to scheduler.UUIDv7Generator.
	RunIDs scheduler.RunIDGenerator

	// PipelineOptions are appended to the pipeline's defaults (for testing).
	PipelineOptions []harness.Option
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	opts.flags = config.Default()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the selected tests",
		Long: `Run the selected tests through model export, torch-mlir import, IREE
compilation and inference, up to the requested depth.

Each test writes its artifacts, commands.log and time.log under
<rundirectory>/<framework>/<group>/<name>. One line is printed per test as it
finishes, followed by a summary. The command exits 1 when any test failed.

Example:
  e2eshark run -c ~/torch-mlir/build -f onnx -g operators
  e2eshark run -c ~/torch-mlir/build -i ~/iree-build -u inference -j 8 --db results.db
  e2eshark run --config nightly.yaml -t onnx/models/resnet50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, cmd)
		},
	}

	bindRunFlags(cmd, &opts.flags, &opts.ConfigFile)
	cmd.Flags().BoolVar(&opts.Progress, "progress", false, "show a progress bar on stderr (ignored with --verbose)")

	return cmd
}

func runTests(opts *RunOptions, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cmd, opts.ConfigFile, opts.flags)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	cfg.Verbose = cfg.Verbose || opts.Verbose
	if cfg, err = cfg.Resolve(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	batches, err := selectTests(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to select tests", err)
	}
	if err := os.MkdirAll(cfg.RunDir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "failed to create run directory", err)
	}

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = scheduler.UUIDv7Generator{}
	}
	runID := runIDs.Generate()

	// Setup signal handling; cancellation kills in-flight phases.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping tests", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var recorder scheduler.Recorder
	if cfg.DB != "" {
		slog.Info("opening database", "path", cfg.DB)
		st, err := store.Open(cfg.DB)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		if err := st.BeginRun(ctx, runID, time.Now(), cfg); err != nil {
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		defer func() {
			if err := st.FinishRun(context.WithoutCancel(ctx), runID, time.Now()); err != nil {
				slog.Error("error finishing run", "run", runID, "error", err)
			}
		}()
		recorder = st
	}

	// JSON output keeps stdout for the summary document.
	lines := cmd.OutOrStdout()
	if opts.Format == "json" {
		lines = cmd.ErrOrStderr()
	}

	pipeline := harness.New(cfg, append([]harness.Option{harness.WithLogger(logger)}, opts.PipelineOptions...)...)
	sched := &scheduler.Scheduler{
		Pipeline: pipeline,
		Jobs:     cfg.Jobs,
		Out:      lines,
		Recorder: recorder,
		RunID:    runID,
		Logger:   logger,
	}
	if opts.Progress && !cfg.Verbose {
		sched.Progress = cmd.ErrOrStderr()
	}

	slog.Info("starting run", "run", runID, "run_dir", cfg.RunDir, "mode", cfg.Mode, "upto", cfg.Upto, "jobs", cfg.Jobs)
	total := &scheduler.Summary{RunID: runID}
	for _, b := range batches {
		total.Merge(sched.Run(ctx, b.Framework, b.Tests))
	}

	fmt.Fprintln(lines, "Completed run of e2e shark tests")
	if err := renderSummary(cmd.OutOrStdout(), opts.Format, total); err != nil {
		return err
	}

	if errors.Is(ctx.Err(), context.Canceled) && parentCtx.Err() == nil {
		return NewExitError(ExitFailure, "run interrupted")
	}
	if !total.AllPassed() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d tests failed", total.Failed, total.Total()))
	}
	return nil
}
