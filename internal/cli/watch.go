package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venuelab/confmirror/internal/identity"
	"github.com/venuelab/confmirror/internal/watch"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Output   string
	Debounce time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a rendered statement dump current as the cache changes",
		Long: `Render the statement graph once, then watch the cache directory and
re-render after each settled burst of changes. Pair with a periodic
update in another process to keep a consumer-facing dump fresh.

Example:
  confmirror watch --output venue.stmt`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "statement dump file to keep current (required)")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 0, "quiet period before re-rendering")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runWatch(opts *WatchOptions) error {
	a, err := buildApp(opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	render := func() {
		// Reload the identity map each pass; an update cycle in another
		// process may have grown it since the last render.
		resolver, err := identity.NewResolver(a.store, nil, a.log)
		if err != nil {
			a.log.Warn("reload identity map failed", zap.Error(err))
			return
		}
		a.resolver = resolver
		rendered, err := assembleAndRender(a)
		if err != nil {
			a.log.Warn("re-render failed", zap.Error(err))
			return
		}
		if err := os.WriteFile(opts.Output, rendered, 0o644); err != nil {
			a.log.Warn("write dump failed", zap.String("path", opts.Output), zap.Error(err))
			return
		}
		a.log.Info("dump refreshed", zap.String("path", opts.Output), zap.Int("bytes", len(rendered)))
	}
	render()

	w, err := watch.New(a.store.Root(), opts.Debounce, render, a.log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
