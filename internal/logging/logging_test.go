package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)
	assert.Equal(t, "server.log", filepath.Base(cfg.FilePath))
}

func TestDebugConfig(t *testing.T) {
	assert.Equal(t, "debug", DebugConfig().Level)
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: file-only logging into a fresh directory
	logPath := filepath.Join(t.TempDir(), "server.log")
	logger, cleanup, err := Setup(Config{
		Level:         "debug",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      3,
		WriteToStderr: false,
	})
	require.NoError(t, err)
	defer cleanup()

	// When: logging a retrieval event
	logger.Info("hybrid retrieval complete",
		"tenant", "acme", "scenario", "support", "hits", 5)

	// Then: the line lands in the file as JSON
	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"hybrid retrieval complete"`)
	assert.Contains(t, string(content), `"tenant":"acme"`)
}

func TestSetup_StderrOffForStdioTransport(t *testing.T) {
	// stdio MCP mode owns stdout/stderr for the protocol; logs must
	// stay file-only.
	logPath := filepath.Join(t.TempDir(), "server.log")
	logger, cleanup, err := Setup(Config{
		Level:         "info",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      3,
		WriteToStderr: false,
	})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("tool call", "tool", "rag_query")

	_, err = os.Stat(logPath)
	assert.NoError(t, err)
}

func TestSetup_LevelFloor(t *testing.T) {
	// Given: an info-level logger
	logPath := filepath.Join(t.TempDir(), "server.log")
	logger, cleanup, err := Setup(Config{
		Level:         "info",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      3,
		WriteToStderr: false,
	})
	require.NoError(t, err)
	defer cleanup()

	// When: logging below and at the floor
	logger.Debug("bm25 scores", "file", "handbook.pdf")
	logger.Info("index loaded", "chunks", 340)

	// Then: only the info line survives
	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "bm25 scores")
	assert.Contains(t, string(content), "index loaded")
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo}, // unknown falls back to info
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, LevelFromString(tt.input))
		})
	}
}

func TestDefaultPaths(t *testing.T) {
	assert.Contains(t, DefaultLogDir(), filepath.Join(".docrag", "logs"))
	assert.Equal(t, "server.log", filepath.Base(DefaultLogPath()))
	assert.Equal(t, "daemon.log", filepath.Base(DaemonLogPath()))
}

func TestFindLogFile(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "server.log")
		require.NoError(t, os.WriteFile(logPath, []byte("{}\n"), 0o644))

		found, err := FindLogFile(logPath)
		require.NoError(t, err)
		assert.Equal(t, logPath, found)
	})

	t.Run("explicit path missing", func(t *testing.T) {
		_, err := FindLogFile(filepath.Join(t.TempDir(), "absent.log"))
		assert.Error(t, err)
	})
}

func TestFindLogFileBySource(t *testing.T) {
	t.Run("explicit path wins over source", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "server.log")
		require.NoError(t, os.WriteFile(logPath, []byte("{}\n"), 0o644))

		paths, err := FindLogFileBySource(LogSourceDaemon, logPath)
		require.NoError(t, err)
		assert.Equal(t, []string{logPath}, paths)
	})

	t.Run("explicit path missing", func(t *testing.T) {
		_, err := FindLogFileBySource(LogSourceServer, filepath.Join(t.TempDir(), "absent.log"))
		assert.Error(t, err)
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := FindLogFileBySource(LogSource("syslog"), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown log source")
	})
}

func TestParseLogSource(t *testing.T) {
	tests := []struct {
		input string
		want  LogSource
	}{
		{"server", LogSourceServer},
		{"daemon", LogSourceDaemon},
		{"all", LogSourceAll},
		{"journald", LogSourceServer}, // anything else defaults to server
		{"", LogSourceServer},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogSource(tt.input))
		})
	}
}

func TestEnsureLogDir(t *testing.T) {
	require.NoError(t, EnsureLogDir())

	info, err := os.Stat(DefaultLogDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
