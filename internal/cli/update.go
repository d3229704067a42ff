package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venuelab/confmirror/internal/syncer"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	DryRun   bool
	Recache  string
	Profiles []string
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Run one incremental sync cycle against the remote venue",
		Long: `Fetch everything that changed since the last successful cycle and
fold it into the local cache. The cursor only advances when the cycle
completes and --dry-run is off.

Example:
  confmirror update
  confmirror update --dry-run
  confmirror update --recache profiles
  confmirror update --profiles '~Jane_Doe1' --profiles '~Sam_Roe2'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report the delta without writing anything")
	cmd.Flags().StringVar(&opts.Recache, "recache", "", "force re-fetch: submissions|profiles|profiles-with-publications|all")
	cmd.Flags().StringArrayVar(&opts.Profiles, "profiles", nil, "narrow the tracked-identity set to these IDs")

	return cmd
}

func runUpdate(opts *UpdateOptions) error {
	a, err := buildApp(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, err := syncer.New(syncer.Config{
		VenueID:       a.cfg.VenueID,
		Client:        a.client,
		Store:         a.store,
		Resolver:      a.resolver,
		Stages:        a.stages,
		Logger:        a.log,
		BibInvitation: a.cfg.BibInvitation,
		PageSize:      a.cfg.PageSize,
	})
	if err != nil {
		return err
	}

	report, err := orch.Run(ctx, syncer.Options{
		DryRun:   opts.DryRun,
		Recache:  opts.Recache,
		Profiles: opts.Profiles,
	})
	if err != nil {
		return err
	}

	failed := 0
	for _, src := range report.Sources {
		if src.Err != nil {
			failed++
		}
	}
	a.log.Info("cycle finished",
		zap.String("cycle_id", report.CycleID),
		zap.Bool("dry_run", report.DryRun),
		zap.Int64("cursor_before", report.CursorBefore),
		zap.Int64("cursor_after", report.CursorAfter),
		zap.Int("new_submissions", report.NewSubmissions),
		zap.Int("modified_submissions", report.ModifiedSubmissions),
		zap.Int("updated_profiles", report.UpdatedProfiles),
		zap.Int("failed_sources", failed))
	return nil
}
