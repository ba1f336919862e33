// File: cmd/root_test.go
package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	resetForTest(t)

	out, err := executeCommand(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "n2p version dev\n", out)
}

func TestVersionCommandSkipsConfigLoading(t *testing.T) {
	resetForTest(t)
	broken := filepath.Join(t.TempDir(), "config.yaml")
	writeTestFile(t, broken, "{{ not yaml")

	out, err := executeCommand(t, nil, "version", "--config", broken)
	require.NoError(t, err)
	assert.Equal(t, "n2p version dev\n", out)
}

func TestVersionFlag(t *testing.T) {
	resetForTest(t)

	out, err := executeCommand(t, nil, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "n2p version dev")
}

func TestRootShowsHelpWithoutSubcommand(t *testing.T) {
	resetForTest(t)

	out, err := executeCommand(t, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "categories")
	assert.Contains(t, out, "version")
}

func TestRootRejectsUnknownSubcommand(t *testing.T) {
	resetForTest(t)

	_, err := executeCommand(t, nil, "explode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explode")
}
