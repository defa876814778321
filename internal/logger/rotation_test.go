package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates the log file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "storyround.log")

		w, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer w.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("creates missing parent directories", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "storyround.log")

		w, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer w.Close()

		_, err = os.Stat(filepath.Dir(logFile))
		assert.NoError(t, err)
	})

	t.Run("non-positive size cap falls back to the default", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "storyround.log")

		w, err := NewRotatingWriter(logFile, 0, 7, false)
		require.NoError(t, err)
		defer w.Close()

		assert.Equal(t, int64(defaultMaxSizeMB)*1024*1024, w.maxBytes)
	})
}

func TestRotatingWriter_Write(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "storyround.log")

	w, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer w.Close()

	line := []byte("word appended to session s1\n")
	n, err := w.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "word appended to session s1")
}

func TestRotatingWriter_RotatesPastSizeCap(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "storyround.log")

	w, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer w.Close()
	w.maxBytes = 64

	_, err = w.Write([]byte(strings.Repeat("a", 48) + "\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Repeat("b", 48) + "\n"))
	require.NoError(t, err)

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	require.Len(t, rotated, 1, "second write must rotate the first aside")

	// The live file holds only the post-rotation write.
	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "a")
	assert.Contains(t, string(content), "b")
}

func TestRotatingWriter_Close(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "storyround.log"), 10, 7, false)
	require.NoError(t, err)

	assert.NoError(t, w.Close())
}

func TestRotatingWriter_GzipRotated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyround.log.20260101-000000")
	require.NoError(t, os.WriteFile(path, []byte("archived log"), 0644))

	w := &RotatingWriter{compress: true}
	require.NoError(t, w.gzipRotated(path))

	_, err := os.Stat(path + ".gz")
	assert.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "plain rotation removed after gzip")
}

func TestRotatingWriter_RemoveExpired(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "storyround.log")

	stale := logFile + ".20200101-120000"
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0644))
	old := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := logFile + "." + time.Now().Format("20060102-150405")
	require.NoError(t, os.WriteFile(fresh, []byte("fresh"), 0644))

	w, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer w.Close()

	w.removeExpired()

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "rotation past maxAge removed")

	_, err = os.Stat(fresh)
	assert.NoError(t, err, "recent rotation kept")
}
