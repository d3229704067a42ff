package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresVenueID(t *testing.T) {
	t.Setenv("CONFMIRROR_VENUE_ID", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFMIRROR_VENUE_ID", "Conf/2026")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Conf/2026", cfg.VenueID)
	assert.Equal(t, "cache", cfg.CacheDir)
	assert.Equal(t, "custom-stages", cfg.StageDir)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONFMIRROR_VENUE_ID", "Conf/2026")
	t.Setenv("CONFMIRROR_ENV", "production")
	t.Setenv("CONFMIRROR_CACHE_DIR", "/var/lib/confmirror")
	t.Setenv("CONFMIRROR_PAGE_SIZE", "250")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "/var/lib/confmirror", cfg.CacheDir)
	assert.Equal(t, 250, cfg.PageSize)
}
