package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyround/storyround/internal/config"
)

func TestRunConfigure(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "storyround.json")

	origCfgFile := cfgFile
	t.Cleanup(func() {
		cfgFile = origCfgFile
		configurePort = 0
		configureSecret = ""
		configureIdentity = ""
		configureDataDir = ""
	})

	cfgFile = configPath
	configurePort = 9191
	configureSecret = "test-secret-0123456789abcdef"
	configureIdentity = "anonymous"
	configureDataDir = dir

	require.NoError(t, runConfigure(configureCmd, nil))

	_, err := os.Stat(configPath)
	require.NoError(t, err)

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Gateway.Port)
	assert.Equal(t, "anonymous", cfg.Identity.Provider)
	assert.Equal(t, dir, cfg.DataDir)
}

func TestRunConfigure_RejectsInvalidOverrides(t *testing.T) {
	dir := t.TempDir()

	origCfgFile := cfgFile
	t.Cleanup(func() {
		cfgFile = origCfgFile
		configureIdentity = ""
		configureDataDir = ""
	})

	cfgFile = filepath.Join(dir, "storyround.json")
	configureIdentity = "ldap"
	configureDataDir = dir

	err := runConfigure(configureCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity provider")
}
