// File: cmd/categories_test.go
package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/internal/categories"
)

func TestCategoriesViewPrintsMap(t *testing.T) {
	resetForTest(t)
	env := newTestEnv(t, "http://127.0.0.1:1")

	out, err := executeCommand(t, nil, "categories", "view", "--config", env.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, out, "2 categories")
	assert.Contains(t, out, "SSH (1): 10881")
	assert.Contains(t, out, "TLS (1): 20007")
}

func TestCategoriesSimulatePreviewsClassification(t *testing.T) {
	resetForTest(t)
	env := newTestEnv(t, "http://127.0.0.1:1")

	out, err := executeCommand(t, nil,
		"categories", "simulate", "--config", env.ConfigPath, env.ExportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Simulated 1 file(s): 4 findings would consolidate into 2 flaw(s).")
	assert.Contains(t, out, "SSH")
	assert.Contains(t, out, "Uncategorized findings: 2")
}

func TestCategoriesShellWritePersists(t *testing.T) {
	resetForTest(t)
	env := newTestEnv(t, "http://127.0.0.1:1")

	script := strings.NewReader("add SSH 99999\nview\nwrite\nquit\n")
	out, err := executeCommand(t, script, "categories", "--config", env.ConfigPath)
	require.NoError(t, err)

	assert.Contains(t, out, "Category map session")
	assert.Contains(t, out, "Staged: add SSH 99999")
	assert.Contains(t, out, "State: pending, 1 operation(s):")
	assert.Contains(t, out, "SSH (2): 10881, 99999")
	assert.Contains(t, out, "Wrote 1 operation(s) to "+env.MapPath)

	m, err := categories.NewStore(env.MapPath, zap.NewNop()).Load()
	require.NoError(t, err)
	ssh, ok := m.Get("SSH")
	require.True(t, ok)
	assert.Equal(t, []string{"10881", "99999"}, ssh.MemberCheckIDs)
}

func TestCategoriesShellQuitDiscards(t *testing.T) {
	resetForTest(t)
	env := newTestEnv(t, "http://127.0.0.1:1")

	script := strings.NewReader("add SSH 99999\nquit\n")
	out, err := executeCommand(t, script, "categories", "--config", env.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Discarded 1 pending operation(s).")

	// The map file is untouched.
	m, err := categories.NewStore(env.MapPath, zap.NewNop()).Load()
	require.NoError(t, err)
	ssh, ok := m.Get("SSH")
	require.True(t, ok)
	assert.Equal(t, []string{"10881"}, ssh.MemberCheckIDs)
}

func TestCategoriesShellSimulateSeesPendingOps(t *testing.T) {
	resetForTest(t)
	env := newTestEnv(t, "http://127.0.0.1:1")

	script := strings.NewReader("add SSH 99999\nsimulate " + env.ExportPath + "\nquit\n")
	out, err := executeCommand(t, script, "categories", "--config", env.ConfigPath)
	require.NoError(t, err)

	// With 99999 pending in SSH, only the informational row stays out.
	assert.Contains(t, out, "4 findings would consolidate into 1 flaw(s).")
	assert.Contains(t, out, "Uncategorized findings: 1")
	assert.Contains(t, out, "Discarded 1 pending operation(s).")
}

func TestCategoriesShellRejectsBadOperations(t *testing.T) {
	resetForTest(t)
	env := newTestEnv(t, "http://127.0.0.1:1")

	script := strings.NewReader("add Bogus 1\nremove SSH 42\nfrobnicate\nquit\n")
	out, err := executeCommand(t, script, "categories", "--config", env.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, out, `Error: unknown category "Bogus"`)
	assert.Contains(t, out, `Error: check 42 is not a member of "SSH"`)
	assert.Contains(t, out, `Unknown command "frobnicate"; try help.`)
}
