//nolint:paralleltest // Tests modify package-level session log state, cannot run in parallel
package spistream

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cleanupSessionLog closes whatever session log a test left open.
func cleanupSessionLog(t *testing.T) {
	t.Helper()
	_ = CloseSessionLog()
}

func TestInitSessionLog_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { cleanupSessionLog(t) })

	path, err := InitSessionLog(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	_, err = os.Stat(path)
	require.NoError(t, err, "Log file should exist")

	matched, err := regexp.MatchString(`^spistream_\d{8}_\d{6}\.log$`, filepath.Base(path))
	require.NoError(t, err)
	assert.True(t, matched, "unexpected log file name: %s", path)
}

func TestInitSessionLog_CurrentDirectory(t *testing.T) {
	origDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() {
		cleanupSessionLog(t)
		_ = os.Chdir(origDir)
	})

	path, err := InitSessionLog("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(path), path)
}

func TestInitSessionLog_MissingDirectory(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	_, err := InitSessionLog(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Empty(t, GetSessionLogPath())
}

func TestSessionLog_HeaderMessagesFooter(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	path, err := InitSessionLog(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, path, GetSessionLogPath())

	Debugf("exchange %d", 7)
	require.NoError(t, CloseSessionLog())
	assert.Empty(t, GetSessionLogPath())

	content, err := os.ReadFile(path) //nolint:gosec // path is from InitSessionLog
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "INFO: session started")
	for _, field := range []string{"args=", "go=", "os=", "pid="} {
		assert.Contains(t, lines[0], field)
	}
	assert.Contains(t, lines[1], "DEBUG: exchange 7")
	assert.Contains(t, lines[2], "INFO: session ended")
}

func TestInitSessionLog_ReplacesOpenLog(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	first, err := InitSessionLog(t.TempDir())
	require.NoError(t, err)
	second, err := InitSessionLog(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, second, GetSessionLogPath())

	content, err := os.ReadFile(first) //nolint:gosec // path is from InitSessionLog
	require.NoError(t, err)
	assert.Contains(t, string(content), "session ended")
}

func TestCloseSessionLog_NilFile(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })
	cleanupSessionLog(t)

	assert.NoError(t, CloseSessionLog())
}
