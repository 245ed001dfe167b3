package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.docrag/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docrag", "logs")
	}
	return filepath.Join(home, ".docrag", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// DaemonLogPath returns the background daemon log path.
func DaemonLogPath() string {
	return filepath.Join(DefaultLogDir(), "daemon.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceServer is the main server logs (default).
	LogSourceServer LogSource = "server"
	// LogSourceDaemon is the background daemon logs.
	LogSourceDaemon LogSource = "daemon"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
// 1. Explicit path (if provided)
// 2. ~/.docrag/logs/server.log (global)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	// Try global path
	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. Server may not have run with --debug yet.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	// Explicit path takes precedence
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceServer:
		serverPath := DefaultLogPath()
		checked = append(checked, serverPath)
		if _, err := os.Stat(serverPath); err == nil {
			paths = append(paths, serverPath)
		}

	case LogSourceDaemon:
		daemonPath := DaemonLogPath()
		checked = append(checked, daemonPath)
		if _, err := os.Stat(daemonPath); err == nil {
			paths = append(paths, daemonPath)
		}

	case LogSourceAll:
		serverPath := DefaultLogPath()
		daemonPath := DaemonLogPath()
		checked = append(checked, serverPath, daemonPath)

		if _, err := os.Stat(serverPath); err == nil {
			paths = append(paths, serverPath)
		}
		if _, err := os.Stat(daemonPath); err == nil {
			paths = append(paths, daemonPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: server, daemon, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "daemon":
		return LogSourceDaemon
	case "all":
		return LogSourceAll
	default:
		return LogSourceServer
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// getLogHint returns a helpful message on how to generate logs for the given source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceServer:
		return "To generate server logs:\n  docrag --debug serve"
	case LogSourceDaemon:
		return "To generate daemon logs:\n  docrag daemon start"
	case LogSourceAll:
		return "To generate logs:\n  Server: docrag --debug serve\n  Daemon: docrag daemon start"
	default:
		return ""
	}
}
