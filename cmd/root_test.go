//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"acquire", "runs", "trends", "migrate", "serve", "schedule"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "etrends", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestAcquireCommand_Args(t *testing.T) {
	assert.Error(t, acquireCmd.Args(acquireCmd, nil))
	assert.Error(t, acquireCmd.Args(acquireCmd, []string{"local", "federal"}))
	assert.NoError(t, acquireCmd.Args(acquireCmd, []string{"local"}))
	assert.ElementsMatch(t, []string{"local", "federal"}, acquireCmd.ValidArgs)
}

func TestRunsCommand_Flags(t *testing.T) {
	kind := runsCmd.Flags().Lookup("kind")
	require.NotNil(t, kind)
	assert.Equal(t, "", kind.DefValue)

	limit := runsCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "20", limit.DefValue)
}

func TestTrendsCommand_Flags(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range trendsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["latest"])
	assert.True(t, names["series"])

	format := trendsCmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "table", format.DefValue)
	require.NotNil(t, trendsCmd.PersistentFlags().Lookup("window"))
}

func TestServeCommand_Flags(t *testing.T) {
	port := serveCmd.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "0", port.DefValue)
}
