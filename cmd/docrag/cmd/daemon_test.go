package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DocQA-Labs/docrag/internal/daemon"
)

func TestDaemonCmd_HasSubcommands(t *testing.T) {
	// Given: root command
	cmd := NewRootCmd()

	// When: finding daemon command
	daemonCmd, _, err := cmd.Find([]string{"daemon"})
	require.NoError(t, err)

	// Then: daemon command should have subcommands
	names := make(map[string]bool)
	for _, sc := range daemonCmd.Commands() {
		names[sc.Name()] = true
	}
	assert.True(t, names["start"], "should have start command")
	assert.True(t, names["stop"], "should have stop command")
	assert.True(t, names["status"], "should have status command")
}

func TestDaemonStartCmd_HasForegroundFlag(t *testing.T) {
	// Given: root command
	cmd := NewRootCmd()

	// When: finding daemon start command
	startCmd, _, err := cmd.Find([]string{"daemon", "start"})
	require.NoError(t, err)

	// Then: should have --foreground/-f flag
	flag := startCmd.Flags().Lookup("foreground")
	require.NotNil(t, flag, "should have --foreground flag")
	assert.Equal(t, "f", flag.Shorthand, "should have -f shorthand")
	assert.Equal(t, "false", flag.DefValue)
}

func TestDaemonStatusCmd_HasJSONFlag(t *testing.T) {
	// Given: root command
	cmd := NewRootCmd()

	// When: finding daemon status command
	statusCmd, _, err := cmd.Find([]string{"daemon", "status"})
	require.NoError(t, err)

	// Then: should have --json flag
	flag := statusCmd.Flags().Lookup("json")
	require.NotNil(t, flag, "should have --json flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestRunDaemonStatus_NotRunning(t *testing.T) {
	// Given: a socket path no daemon listens on
	dcfg := daemon.DefaultConfig()
	dcfg.SocketPath = filepath.Join(t.TempDir(), "test.sock")
	dcfg.PIDPath = filepath.Join(t.TempDir(), "test.pid")

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	// When: checking status
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := runDaemonStatus(ctx, cmd, dcfg, false)

	// Then: should succeed and report not running
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "not running", "should indicate daemon is not running")
}

func TestRunDaemonStatus_NotRunningJSON(t *testing.T) {
	// Given: a socket path no daemon listens on
	dcfg := daemon.DefaultConfig()
	dcfg.SocketPath = filepath.Join(t.TempDir(), "test.sock")
	dcfg.PIDPath = filepath.Join(t.TempDir(), "test.pid")

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	// When: checking status with JSON output
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := runDaemonStatus(ctx, cmd, dcfg, true)

	// Then: JSON should report running=false
	require.NoError(t, err)
	var status daemon.StatusResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &status))
	assert.False(t, status.Running)
}
