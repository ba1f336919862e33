// File: cmd/run_test.go
package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyatt727/BSTI/api/schemas"
	"github.com/wyatt727/BSTI/internal/consolidate"
)

func TestRunCreatesThenSkips(t *testing.T) {
	resetForTest(t)
	ps := newPlatformServer(t)
	env := newTestEnv(t, ps.URL)

	firstReport := filepath.Join(env.Dir, "report1.json")
	out, err := executeCommand(t, nil,
		"run", "--config", env.ConfigPath, "--scope", "internal",
		"--report-file", firstReport, env.ExportPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "created: 2   updated: 0   unchanged: 0   failed: 0")

	summary := readSummary(t, firstReport)
	assert.Equal(t, schemas.ScopeInternal, summary.Scope)
	assert.Equal(t, 1, summary.FilesLoaded)
	assert.Equal(t, 4, summary.FindingsTotal)
	assert.Equal(t, 2, summary.FlawsTotal)
	assert.Equal(t, 2, summary.Created)
	assert.Zero(t, summary.Failed)

	assert.Equal(t, []string{"SSH Misconfigurations", "Standalone Service Issue"}, ps.createdTitles())
	_, authCalls, _ := ps.counters()
	assert.Equal(t, 1, authCalls)

	records := readLedger(t, env.LedgerPath)
	require.Len(t, records, 2)
	for key, record := range records {
		assert.Equal(t, key, record.FlawKey)
		assert.NotEmpty(t, record.RemoteID)
		assert.NotEmpty(t, record.Fingerprint)
	}

	// Second run over the same inputs: everything reconciles to unchanged
	// and the platform is never contacted again.
	requestsBefore, _, _ := ps.counters()
	secondReport := filepath.Join(env.Dir, "report2.json")
	out, err = executeCommand(t, nil,
		"run", "--config", env.ConfigPath, "--scope", "internal",
		"--report-file", secondReport, env.ExportPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "created: 0   updated: 0   unchanged: 2   failed: 0")

	summary = readSummary(t, secondReport)
	assert.Zero(t, summary.Created)
	assert.Zero(t, summary.Updated)
	assert.Equal(t, 2, summary.Unchanged)

	requestsAfter, authCalls, _ := ps.counters()
	assert.Equal(t, requestsBefore, requestsAfter, "second run should make no platform calls")
	assert.Equal(t, 1, authCalls)
}

func TestRunUpdatesChangedFlaw(t *testing.T) {
	resetForTest(t)
	ps := newPlatformServer(t)
	env := newTestEnv(t, ps.URL)

	out, err := executeCommand(t, nil, "run", "--config", env.ConfigPath, env.ExportPath)
	require.NoError(t, err, out)

	// A new affected host joins the SSH category group. The merged flaw's
	// content changes but its identity does not, so the run updates it in
	// place.
	writeTestFile(t, env.ExportPath, exportCSV+
		"10881,,High,10.0.0.7,tcp,22,SSH Weak Key Exchange,The server allows weak key exchange algorithms.,Disable weak key exchange algorithms.,,kex: diffie-hellman-group1-sha1\n")

	report := filepath.Join(env.Dir, "report.json")
	out, err = executeCommand(t, nil,
		"run", "--config", env.ConfigPath, "--report-file", report, env.ExportPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "created: 0   updated: 1   unchanged: 1   failed: 0")

	summary := readSummary(t, report)
	assert.Zero(t, summary.Created)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Unchanged)

	assert.Equal(t, 1, ps.updateCount())
	_, _, created := ps.counters()
	assert.Equal(t, 2, created, "update must not create a new remote flaw")
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	resetForTest(t)
	ps := newPlatformServer(t)
	env := newTestEnv(t, ps.URL)

	report := filepath.Join(env.Dir, "report.json")
	out, err := executeCommand(t, nil,
		"run", "--config", env.ConfigPath, "--dry-run", "--input-dir", env.Dir,
		"--report-file", report)
	require.NoError(t, err, out)

	assert.Contains(t, out, "(dry run)")
	assert.Contains(t, out, "would create: 2   would update: 0   unchanged: 0")

	summary := readSummary(t, report)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 2, summary.Planned)
	assert.Zero(t, summary.Created)

	requests, _, _ := ps.counters()
	assert.Zero(t, requests, "dry run must not contact the platform")
	assert.NoFileExists(t, env.LedgerPath)
}

func TestRunPartialFailureReturnsError(t *testing.T) {
	resetForTest(t)
	ps := newPlatformServer(t)
	ps.rejectTitle("Standalone Service Issue")
	env := newTestEnv(t, ps.URL)

	out, err := executeCommand(t, nil, "run", "--config", env.ConfigPath, env.ExportPath)
	require.Error(t, err)

	failedKey := consolidate.FlawKey("99999", schemas.ScopeInternal, "Standalone Service Issue")
	assert.Contains(t, err.Error(), "1 of 2 flaws failed")
	assert.Contains(t, err.Error(), failedKey)
	assert.Contains(t, out, "Failed flaws:")

	// The healthy flaw landed and is remembered; only the rejected one is
	// missing from the ledger.
	records := readLedger(t, env.LedgerPath)
	require.Len(t, records, 1)
	for _, record := range records {
		assert.Equal(t, "SSH Misconfigurations", record.Title)
	}

	// Once the platform stops rejecting it, a re-run repairs the report
	// without re-creating the flaw that already succeeded.
	ps.rejectTitle("")
	out, err = executeCommand(t, nil, "run", "--config", env.ConfigPath, env.ExportPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "created: 1   updated: 0   unchanged: 1   failed: 0")
	require.Len(t, readLedger(t, env.LedgerPath), 2)
}

func TestRunRefreshRemoteRecreatesDeletedFlaw(t *testing.T) {
	resetForTest(t)
	ps := newPlatformServer(t)
	env := newTestEnv(t, ps.URL)

	out, err := executeCommand(t, nil, "run", "--config", env.ConfigPath, env.ExportPath)
	require.NoError(t, err, out)

	// Someone deletes the SSH flaw in the platform UI. Without a refresh the
	// ledger still vouches for it; with one the run spots the gap and
	// re-creates the flaw.
	require.True(t, ps.deleteByTitle("SSH Misconfigurations"))

	out, err = executeCommand(t, nil, "run", "--config", env.ConfigPath, env.ExportPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "created: 0   updated: 0   unchanged: 2   failed: 0")

	out, err = executeCommand(t, nil,
		"run", "--config", env.ConfigPath, "--refresh-remote", env.ExportPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "created: 1   updated: 0   unchanged: 1   failed: 0")

	assert.Equal(t, []string{"SSH Misconfigurations", "Standalone Service Issue"}, ps.createdTitles())
}

func TestRunSeverityFloorFlagOverridesConfig(t *testing.T) {
	resetForTest(t)
	ps := newPlatformServer(t)
	env := newTestEnv(t, ps.URL)

	report := filepath.Join(env.Dir, "report.json")
	out, err := executeCommand(t, nil,
		"run", "--config", env.ConfigPath, "--dry-run", "--severity-floor", "info",
		"--report-file", report, env.ExportPath)
	require.NoError(t, err, out)

	// With the floor lowered the informational row becomes its own flaw.
	summary := readSummary(t, report)
	assert.Equal(t, 3, summary.FlawsTotal)
	assert.Equal(t, 3, summary.Planned)
}

func TestRunRejectsUnknownScope(t *testing.T) {
	resetForTest(t)
	env := newTestEnv(t, "http://127.0.0.1:1")

	_, err := executeCommand(t, nil,
		"run", "--config", env.ConfigPath, "--scope", "galactic", env.ExportPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown scope "galactic"`)
	assert.Contains(t, err.Error(), "valid scopes")
}

func TestRunRequiresInputs(t *testing.T) {
	resetForTest(t)
	env := newTestEnv(t, "http://127.0.0.1:1")

	_, err := executeCommand(t, nil, "run", "--config", env.ConfigPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input files")
}

func TestRunRejectsInvalidConcurrencyFlag(t *testing.T) {
	resetForTest(t)
	env := newTestEnv(t, "http://127.0.0.1:1")

	_, err := executeCommand(t, nil,
		"run", "--config", env.ConfigPath, "--concurrency", "99", env.ExportPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploader.concurrency")
}

func TestRunReportsMissingConfigFile(t *testing.T) {
	resetForTest(t)

	_, err := executeCommand(t, nil,
		"run", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "whatever.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestResolveInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.nessus", "a.csv", "notes.txt"} {
		writeTestFile(t, filepath.Join(dir, name), "x")
	}

	t.Run("PositionalOnly", func(t *testing.T) {
		paths, err := resolveInputs([]string{"direct.csv"}, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"direct.csv"}, paths)
	})

	t.Run("DirectoryDiscovery", func(t *testing.T) {
		paths, err := resolveInputs(nil, dir)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.nessus")}, paths)
	})

	t.Run("MergesBothSources", func(t *testing.T) {
		paths, err := resolveInputs([]string{"direct.csv"}, dir)
		require.NoError(t, err)
		assert.Equal(t,
			[]string{"direct.csv", filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.nessus")},
			paths)
	})

	t.Run("NoInputs", func(t *testing.T) {
		_, err := resolveInputs(nil, "")
		assert.ErrorContains(t, err, "no input files")
	})
}
