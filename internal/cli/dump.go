package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/venuelab/confmirror/internal/graph"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Output string
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Render the cache as a statement graph",
		Long: `Walk the local cache and emit one deduplicated statement per line.
Works entirely offline; run update first to populate the cache.

Example:
  confmirror dump
  confmirror dump --output venue.stmt`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write statements to this file instead of stdout")

	return cmd
}

func runDump(opts *DumpOptions) error {
	a, err := buildApp(opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	rendered, err := assembleAndRender(a)
	if err != nil {
		return err
	}
	if opts.Output == "" {
		_, err = os.Stdout.Write(rendered)
		return err
	}
	if err := os.WriteFile(opts.Output, rendered, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.Output, err)
	}
	return nil
}

func assembleAndRender(a *app) ([]byte, error) {
	asm, err := graph.NewAssembler(a.store, a.resolver, a.cfg.VenueID, a.stages, a.log)
	if err != nil {
		return nil, err
	}
	g, err := asm.Assemble()
	if err != nil {
		return nil, fmt.Errorf("assemble graph: %w", err)
	}
	return graph.Render(g), nil
}
