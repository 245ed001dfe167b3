package preflight

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerLifecycle(t *testing.T) {
	// Given: a fresh data directory
	dataDir := t.TempDir()
	require.True(t, NeedsCheck(dataDir), "fresh directory should need checks")

	// When: checks pass
	require.NoError(t, MarkPassed(dataDir))

	// Then: the marker suppresses further checks
	assert.False(t, NeedsCheck(dataDir))
	assert.FileExists(t, filepath.Join(dataDir, MarkerFile))

	// When: the marker is cleared (e.g. after invalidation)
	require.NoError(t, ClearMarker(dataDir))

	// Then: the next start checks again
	assert.True(t, NeedsCheck(dataDir))
}

func TestMarkPassed_StampsRFC3339(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, MarkPassed(dataDir))

	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	require.NoError(t, err)

	stamp, err := time.Parse(time.RFC3339, string(content))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), stamp, time.Minute)
}

func TestMarkPassed_CreatesMissingDataDir(t *testing.T) {
	// The data directory may not exist yet on a first run.
	dataDir := filepath.Join(t.TempDir(), "tenants", ".docrag")

	require.NoError(t, MarkPassed(dataDir))

	assert.DirExists(t, dataDir)
	assert.FileExists(t, filepath.Join(dataDir, MarkerFile))
}

func TestClearMarker_IdempotentWithoutMarker(t *testing.T) {
	assert.NoError(t, ClearMarker(t.TempDir()))
}

func TestMarkerAge(t *testing.T) {
	t.Run("fresh marker", func(t *testing.T) {
		dataDir := t.TempDir()
		require.NoError(t, MarkPassed(dataDir))

		assert.Less(t, MarkerAge(dataDir), time.Second)
	})

	t.Run("back-dated marker", func(t *testing.T) {
		// Given: a marker written two days ago
		dataDir := t.TempDir()
		stamp := time.Now().Add(-48 * time.Hour).Format(time.RFC3339)
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, MarkerFile), []byte(stamp), 0o644))

		age := MarkerAge(dataDir)
		assert.Greater(t, age, 47*time.Hour)
		assert.Less(t, age, 49*time.Hour)
	})

	t.Run("missing marker reads as zero", func(t *testing.T) {
		assert.Zero(t, MarkerAge(t.TempDir()))
	})

	t.Run("corrupt marker reads as zero", func(t *testing.T) {
		dataDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, MarkerFile), []byte("yesterday"), 0o644))

		assert.Zero(t, MarkerAge(dataDir))
	})
}
