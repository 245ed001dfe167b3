package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespacesCmd_HasSubcommands(t *testing.T) {
	// Given: root command
	cmd := NewRootCmd()

	// When: finding namespaces command
	nsCmd, _, err := cmd.Find([]string{"namespaces"})
	require.NoError(t, err)

	// Then: list, delete, and prune should exist
	names := make(map[string]bool)
	for _, sc := range nsCmd.Commands() {
		names[sc.Name()] = true
	}
	assert.True(t, names["list"], "should have list command")
	assert.True(t, names["delete"], "should have delete command")
	assert.True(t, names["prune"], "should have prune command")
}

func TestNamespacesCmd_HasAlias(t *testing.T) {
	// Given: root command
	cmd := NewRootCmd()

	// When: resolving the short alias
	nsCmd, _, err := cmd.Find([]string{"ns"})

	// Then: it should resolve to namespaces
	require.NoError(t, err)
	assert.Equal(t, "namespaces", nsCmd.Name())
}

func TestNamespacesDeleteCmd_RequiresTwoArgs(t *testing.T) {
	// Given: the delete subcommand
	cmd := NewRootCmd()
	deleteCmd, _, err := cmd.Find([]string{"namespaces", "delete"})
	require.NoError(t, err)

	// Then: one arg is rejected, two are accepted
	assert.Error(t, deleteCmd.Args(deleteCmd, []string{"acme"}))
	assert.NoError(t, deleteCmd.Args(deleteCmd, []string{"acme", "support"}))
}

func TestNamespacesPruneCmd_HasOlderThanFlag(t *testing.T) {
	// Given: the prune subcommand
	cmd := NewRootCmd()
	pruneCmd, _, err := cmd.Find([]string{"namespaces", "prune"})
	require.NoError(t, err)

	// Then: should default to 30 days
	flag := pruneCmd.Flags().Lookup("older-than")
	require.NotNil(t, flag, "should have --older-than flag")
	assert.Equal(t, "720h0m0s", flag.DefValue)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in), "formatBytes(%d)", tt.in)
	}
}
