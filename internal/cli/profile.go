package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewProfileCommand creates the profile command.
func NewProfileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile <alias>...",
		Short: "Resolve aliases and print the cached profile snapshots",
		Long: `Resolve each alias (canonical ID, secondary name or email) against the
local identity map and print the cached snapshot as JSON. Unknown aliases
resolve to themselves and report no snapshot.

Example:
  confmirror profile '~Jane_Doe1' jane@example.org`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(rootOpts, args)
		},
	}
	return cmd
}

type profileReport struct {
	Alias     string          `json:"alias"`
	Canonical string          `json:"canonical"`
	Cached    bool            `json:"cached"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
}

func runProfile(rootOpts *RootOptions, aliases []string) error {
	a, err := buildApp(rootOpts, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	reports := make([]profileReport, 0, len(aliases))
	for _, alias := range aliases {
		canonical := a.resolver.Resolve(alias)
		rep := profileReport{Alias: alias, Canonical: canonical}
		if snap, ok := a.resolver.Snapshot(canonical); ok {
			raw, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("encode profile %s: %w", canonical, err)
			}
			rep.Cached = true
			rep.Snapshot = raw
		}
		reports = append(reports, rep)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
