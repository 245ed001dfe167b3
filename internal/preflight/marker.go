package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile records in the data directory that checks last passed.
// Its content is the pass timestamp in RFC 3339.
const MarkerFile = ".preflight-passed"

// NeedsCheck reports whether checks should run, which is whenever no
// marker exists under the data directory.
func NeedsCheck(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, MarkerFile))
	return os.IsNotExist(err)
}

// MarkPassed writes the marker, creating the data directory if needed.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}

	stamp := []byte(time.Now().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), stamp, 0o644)
}

// ClearMarker removes the marker so checks run again on the next start.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago checks last passed, or zero when the
// marker is missing or unreadable.
func MarkerAge(dataDir string) time.Duration {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return 0
	}

	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0
	}

	return time.Since(t)
}
