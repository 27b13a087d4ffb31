package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)

	output := out.String()
	assert.Contains(t, output, "Conduit Server")
	assert.Contains(t, output, "Version:")
	assert.Contains(t, output, "Go version:")
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/conduit")

	err := migrateCmd.RunE(migrateCmd, []string{"sideways"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown direction"))
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	err := migrateCmd.RunE(migrateCmd, []string{"up"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestRootCommandHasSubcommands(t *testing.T) {
	names := make([]string, 0)
	for _, sub := range rootCmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "migrate")
	assert.Contains(t, names, "version")
}
