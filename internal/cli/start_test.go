package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRunning(t *testing.T) {
	t.Run("missing pid file", func(t *testing.T) {
		assert.False(t, isRunning(filepath.Join(t.TempDir(), "missing.pid")))
	})

	t.Run("garbage pid file", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "storyround.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0644))
		assert.False(t, isRunning(pidFile))
	})

	t.Run("own pid", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "storyround.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644))
		assert.True(t, isRunning(pidFile))
	})
}

func TestReadPID(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "storyround.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("4242"), 0644))

	pid, err := readPID(pidFile)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	_, err = readPID(filepath.Join(t.TempDir(), "missing.pid"))
	assert.Error(t, err)
}

func TestDefaultPIDFilePath(t *testing.T) {
	path := defaultPIDFilePath()
	assert.Contains(t, path, "storyround.pid")
}
