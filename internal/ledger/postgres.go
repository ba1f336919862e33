// File: internal/ledger/postgres.go
package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

const sqlCreateTable = `
    CREATE TABLE IF NOT EXISTS upload_records (
        flaw_key    TEXT PRIMARY KEY,
        remote_id   TEXT NOT NULL,
        fingerprint TEXT NOT NULL,
        canonical   TEXT NOT NULL DEFAULT '',
        title       TEXT NOT NULL,
        scope       TEXT NOT NULL,
        uploaded_at TIMESTAMPTZ NOT NULL,
        run_id      TEXT NOT NULL
    );
`

const sqlUpsertRecord = `
    INSERT INTO upload_records (flaw_key, remote_id, fingerprint, canonical, title, scope, uploaded_at, run_id)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    ON CONFLICT (flaw_key) DO UPDATE SET
        remote_id   = EXCLUDED.remote_id,
        fingerprint = EXCLUDED.fingerprint,
        canonical   = EXCLUDED.canonical,
        title       = EXCLUDED.title,
        scope       = EXCLUDED.scope,
        uploaded_at = EXCLUDED.uploaded_at,
        run_id      = EXCLUDED.run_id;
`

// PostgresLedger stores upload records in a shared database so several
// operators reconcile against the same history.
type PostgresLedger struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresLedger verifies the connection and ensures the table exists.
func NewPostgresLedger(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresLedger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging ledger database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateTable); err != nil {
		return nil, fmt.Errorf("ensuring upload_records table: %w", err)
	}
	return &PostgresLedger{pool: pool, log: logger.Named("ledger")}, nil
}

// Load reads every record.
func (l *PostgresLedger) Load(ctx context.Context) (map[string]schemas.UploadRecord, error) {
	rows, err := l.pool.Query(ctx, `
        SELECT flaw_key, remote_id, fingerprint, canonical, title, scope, uploaded_at, run_id
        FROM upload_records;
    `)
	if err != nil {
		return nil, fmt.Errorf("querying upload records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]schemas.UploadRecord)
	for rows.Next() {
		var rec schemas.UploadRecord
		var scope string
		if err := rows.Scan(
			&rec.FlawKey, &rec.RemoteID, &rec.Fingerprint, &rec.Canonical,
			&rec.Title, &scope, &rec.UploadedAt, &rec.RunID,
		); err != nil {
			return nil, fmt.Errorf("scanning upload record row: %w", err)
		}
		rec.Scope = schemas.Scope(scope)
		records[rec.FlawKey] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating upload records: %w", err)
	}

	l.log.Debug("Ledger loaded.", zap.Int("records", len(records)))
	return records, nil
}

// Put upserts one record.
func (l *PostgresLedger) Put(ctx context.Context, record schemas.UploadRecord) error {
	_, err := l.pool.Exec(ctx, sqlUpsertRecord,
		record.FlawKey, record.RemoteID, record.Fingerprint, record.Canonical,
		record.Title, string(record.Scope), record.UploadedAt.UTC(), record.RunID,
	)
	if err != nil {
		return fmt.Errorf("upserting upload record %s: %w", record.FlawKey, err)
	}
	return nil
}

// Delete removes one record. Absent keys are a no-op.
func (l *PostgresLedger) Delete(ctx context.Context, flawKey string) error {
	if _, err := l.pool.Exec(ctx, `DELETE FROM upload_records WHERE flaw_key = $1;`, flawKey); err != nil {
		return fmt.Errorf("deleting upload record %s: %w", flawKey, err)
	}
	return nil
}

// Close releases the underlying pool.
func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
