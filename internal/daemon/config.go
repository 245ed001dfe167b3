// Package daemon provides a resident question answering service. The
// daemon keeps namespaces, indices and caches loaded in memory, so CLI
// invocations connect over a Unix socket instead of paying the load cost
// on every question.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/DocQA-Labs/docrag/internal/config"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: ~/.docrag/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: ~/.docrag/daemon.pid
	PIDPath string

	// DataDir anchors the incomplete-build marker for background
	// prepares. Default: the current directory, like the main config.
	DataDir string

	// RequestTimeout bounds one client request on the wire. Answer
	// generation can use most of the pipeline's 90s budget, so this
	// stays above it. Default: 120s.
	RequestTimeout time.Duration

	// ShutdownGracePeriod is the time to wait for graceful shutdown.
	// Default: 10s
	ShutdownGracePeriod time.Duration

	// SnapshotIdle is how long a namespace sits quiet before its answer
	// cache is snapshotted to disk. Default: 60s.
	SnapshotIdle time.Duration

	// SnapshotCooldown is the minimum gap between snapshots of one
	// namespace. Default: 10m.
	SnapshotCooldown time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}

	docragDir := filepath.Join(home, ".docrag")

	return Config{
		SocketPath:          filepath.Join(docragDir, "daemon.sock"),
		PIDPath:             filepath.Join(docragDir, "daemon.pid"),
		DataDir:             ".",
		RequestTimeout:      120 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
		SnapshotIdle:        60 * time.Second,
		SnapshotCooldown:    10 * time.Minute,
	}
}

// FromConfig derives the daemon configuration from the application
// config, falling back to defaults for anything unset.
func FromConfig(app *config.Config) Config {
	cfg := DefaultConfig()
	if app == nil {
		return cfg
	}
	if app.Daemon.SocketPath != "" {
		cfg.SocketPath = app.Daemon.SocketPath
	}
	if app.Daemon.PidFile != "" {
		cfg.PIDPath = app.Daemon.PidFile
	}
	if app.Paths.DataDir != "" {
		cfg.DataDir = app.Paths.DataDir
	}
	return cfg
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	if c.SnapshotIdle <= 0 {
		return fmt.Errorf("snapshot idle must be positive")
	}
	if c.SnapshotCooldown < 0 {
		return fmt.Errorf("snapshot cooldown cannot be negative")
	}
	return nil
}

// EnsureDir creates the directories for the socket and PID files.
func (c Config) EnsureDir() error {
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	pidDir := filepath.Dir(c.PIDPath)
	if pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0755); err != nil {
			return fmt.Errorf("failed to create PID directory: %w", err)
		}
	}

	return nil
}
