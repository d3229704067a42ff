package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venuelab/confmirror/internal/cachestore"
	"github.com/venuelab/confmirror/internal/config"
	"github.com/venuelab/confmirror/internal/identity"
	"github.com/venuelab/confmirror/internal/logging"
	"github.com/venuelab/confmirror/internal/stages"
	"github.com/venuelab/confmirror/internal/venue"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the confmirror root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "confmirror",
		Short: "Local mirror of a conference-management venue",
		Long: `confmirror keeps a local, file-per-entity cache of one venue's
submissions, people, groups, assignments and task responses, and renders
the cache as a deduplicated statement graph.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewProfileCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// app bundles the wired collaborators every command needs.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *cachestore.Store
	client   venue.Client
	resolver *identity.Resolver
	stages   []stages.Definition
}

// buildApp loads configuration and wires the store, client, resolver and
// stage definitions. Offline commands pass needClient=false and work
// against the cache alone.
func buildApp(opts *RootOptions, needClient bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	env := cfg.Env
	if opts.Verbose {
		env = "development"
	}
	log, err := logging.New(env)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	backend, err := cachestore.BuildMetadataBackendFromDSN(cfg.MetadataDSN)
	if err != nil {
		return nil, fmt.Errorf("metadata backend: %w", err)
	}
	store, err := cachestore.NewStore(cfg.CacheDir, cachestore.Options{MetadataBackend: backend})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	var client venue.Client
	if needClient {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("CONFMIRROR_BASE_URL is required for remote commands")
		}
		client = venue.NewHTTPClient(cfg.BaseURL, cfg.Token, nil)
	}

	resolver, err := identity.NewResolver(store, client, log)
	if err != nil {
		return nil, fmt.Errorf("build resolver: %w", err)
	}

	defs, err := stages.LoadAll(cfg.StageDir, log)
	if err != nil {
		return nil, fmt.Errorf("load stage definitions: %w", err)
	}

	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		client:   client,
		resolver: resolver,
		stages:   defs,
	}, nil
}
