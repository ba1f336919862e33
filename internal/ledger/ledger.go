// File: internal/ledger/ledger.go

// Package ledger persists upload records across runs. The default backend is
// a JSON file next to the operator's working data; a PostgreSQL backend
// exists for teams that share one ledger.
package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
)

// Sorted keys keep the file diffable between runs.
var json = jsoniter.Config{EscapeHTML: false, SortMapKeys: true, IndentionStep: 4}.Froze()

// Ledger is the persistence contract for upload records. Put must be durable
// before it returns so an interrupted run never re-creates what it already
// uploaded.
type Ledger interface {
	Load(ctx context.Context) (map[string]schemas.UploadRecord, error)
	Put(ctx context.Context, record schemas.UploadRecord) error
	Delete(ctx context.Context, flawKey string) error
	Close() error
}

// FileLedger stores records as one JSON object keyed by flaw key.
type FileLedger struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	records map[string]schemas.UploadRecord
}

// NewFileLedger returns a file backend rooted at path. The file is created
// on first Put; a missing file loads as an empty ledger.
func NewFileLedger(path string, logger *zap.Logger) *FileLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileLedger{
		path:   path,
		logger: logger.Named("ledger"),
	}
}

// Load reads the ledger file into memory and returns a copy of its records.
func (l *FileLedger) Load(_ context.Context) (map[string]schemas.UploadRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		l.logger.Info("No ledger file yet; starting empty.", zap.String("path", l.path))
		l.records = make(map[string]schemas.UploadRecord)
		return map[string]schemas.UploadRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", l.path, err)
	}

	records := make(map[string]schemas.UploadRecord)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("parsing ledger %s: %w", l.path, err)
		}
	}
	l.records = records

	out := make(map[string]schemas.UploadRecord, len(records))
	for k, v := range records {
		out[k] = v
	}
	l.logger.Debug("Ledger loaded.", zap.String("path", l.path), zap.Int("records", len(out)))
	return out, nil
}

// Put upserts one record and rewrites the file before returning.
func (l *FileLedger) Put(_ context.Context, record schemas.UploadRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.records == nil {
		l.records = make(map[string]schemas.UploadRecord)
	}
	l.records[record.FlawKey] = record
	return l.flushLocked()
}

// Delete removes one record. Deleting an absent key is a no-op.
func (l *FileLedger) Delete(_ context.Context, flawKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[flawKey]; !ok {
		return nil
	}
	delete(l.records, flawKey)
	return l.flushLocked()
}

// Close is a no-op for the file backend; every Put already flushed.
func (l *FileLedger) Close() error { return nil }

// flushLocked writes the whole record set atomically: temp file in the same
// directory, sync, rename. Callers hold l.mu.
func (l *FileLedger) flushLocked() error {
	data, err := json.Marshal(l.records)
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating ledger temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing ledger temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing ledger temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing ledger temp file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("replacing ledger %s: %w", l.path, err)
	}
	return nil
}
