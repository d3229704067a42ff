package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "confmirror", cmd.Use)
	assert.Contains(t, cmd.Long, "statement graph")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"update", "dump", "profile", "watch"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestUpdateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	updateCmd, _, err := cmd.Find([]string{"update"})
	require.NoError(t, err)

	dryRun := updateCmd.Flags().Lookup("dry-run")
	require.NotNil(t, dryRun)
	assert.Equal(t, "false", dryRun.DefValue)

	require.NotNil(t, updateCmd.Flags().Lookup("recache"))
	require.NotNil(t, updateCmd.Flags().Lookup("profiles"))
}

func TestDumpCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	dumpCmd, _, err := cmd.Find([]string{"dump"})
	require.NoError(t, err)

	outputFlag := dumpCmd.Flags().Lookup("output")
	require.NotNil(t, outputFlag)
	assert.Equal(t, "o", outputFlag.Shorthand)
}

func TestBuildAppOffline(t *testing.T) {
	t.Setenv("CONFMIRROR_VENUE_ID", "TestConf/2026")
	t.Setenv("CONFMIRROR_CACHE_DIR", t.TempDir())
	t.Setenv("CONFMIRROR_BASE_URL", "")

	a, err := buildApp(&RootOptions{}, false)
	require.NoError(t, err)
	assert.Equal(t, "TestConf/2026", a.cfg.VenueID)
	assert.Nil(t, a.client)
	assert.NotNil(t, a.resolver)
}

func TestBuildAppRemoteRequiresBaseURL(t *testing.T) {
	t.Setenv("CONFMIRROR_VENUE_ID", "TestConf/2026")
	t.Setenv("CONFMIRROR_CACHE_DIR", t.TempDir())
	t.Setenv("CONFMIRROR_BASE_URL", "")

	_, err := buildApp(&RootOptions{}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFMIRROR_BASE_URL")
}
