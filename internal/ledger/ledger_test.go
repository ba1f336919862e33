// File: internal/ledger/ledger_test.go
package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
)

func testRecord(key string) schemas.UploadRecord {
	return schemas.UploadRecord{
		FlawKey:     key,
		RemoteID:    "remote-" + key,
		Fingerprint: "fp-" + key,
		Canonical:   `{"severity":"Medium"}`,
		Title:       "SSH Misconfigurations",
		Scope:       schemas.ScopeInternal,
		UploadedAt:  time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		RunID:       "run-1",
	}
}

func TestFileLedgerRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "_processed_findings.json")

	writer := NewFileLedger(path, zap.NewNop())
	_, err := writer.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, writer.Put(ctx, testRecord("a")))
	require.NoError(t, writer.Put(ctx, testRecord("b")))

	// A fresh instance sees what the first one wrote.
	reader := NewFileLedger(path, zap.NewNop())
	records, err := reader.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, testRecord("a"), records["a"])
	assert.Equal(t, testRecord("b"), records["b"])
}

func TestFileLedgerMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	l := NewFileLedger(filepath.Join(t.TempDir(), "absent.json"), zap.NewNop())
	records, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileLedgerCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "_processed_findings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileLedger(path, zap.NewNop()).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing ledger")
}

func TestFileLedgerDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "_processed_findings.json")

	l := NewFileLedger(path, zap.NewNop())
	_, err := l.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, l.Put(ctx, testRecord("a")))
	require.NoError(t, l.Delete(ctx, "a"))
	require.NoError(t, l.Delete(ctx, "never-existed"))

	records, err := NewFileLedger(path, zap.NewNop()).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileLedgerPutIsDurableAndAtomic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "_processed_findings.json")

	l := NewFileLedger(path, zap.NewNop())
	_, err := l.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, l.Put(ctx, testRecord("a")))

	// The file exists as soon as Put returns, and no temp files linger.
	_, err = os.Stat(path)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "_processed_findings.json", entries[0].Name())
}
