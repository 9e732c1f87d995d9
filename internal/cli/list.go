package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/e2eshark/internal/config"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	ConfigFile string

	flags config.Config
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts, flags: config.Default()}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tests a run would select",
		Long: `List the tests selected by --frameworks and --groups, or the explicit
--tests, in the order run would schedule them. Duplicates are listed once.

Example:
  e2eshark list -f onnx,pytorch -g operators
  e2eshark list --format json -t onnx/operators/add`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listTests(opts, cmd)
		},
	}

	bindSelectionFlags(cmd, &opts.flags, &opts.ConfigFile)

	return cmd
}

func listTests(opts *ListOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, opts.ConfigFile, opts.flags)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	batches, err := selectTests(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to select tests", err)
	}

	var names []string
	seen := make(map[string]bool)
	for _, b := range batches {
		for _, id := range b.Tests {
			if seen[id.String()] {
				continue
			}
			seen[id.String()] = true
			names = append(names, id.String())
		}
	}

	if opts.Format == "json" {
		f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if names == nil {
			names = []string{}
		}
		return f.Success(names)
	}
	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}
