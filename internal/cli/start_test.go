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
	t.Run("should detect a live process from its pid file", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "corvid.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644))

		assert.True(t, isRunning(pidFile))
	})

	t.Run("should report false when the pid file is missing", func(t *testing.T) {
		assert.False(t, isRunning(filepath.Join(t.TempDir(), "corvid.pid")))
	})

	t.Run("should report false for a stale pid", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "corvid.pid")
		// Above the default Linux pid_max, so it never names a live process.
		require.NoError(t, os.WriteFile(pidFile, []byte("4194999\n"), 0644))

		assert.False(t, isRunning(pidFile))
	})

	t.Run("should report false for a garbled pid file", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "corvid.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid\n"), 0644))

		assert.False(t, isRunning(pidFile))
	})
}
