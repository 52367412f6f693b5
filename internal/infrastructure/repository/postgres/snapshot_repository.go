package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
)

const schemaLockID int64 = 2026101401

var _ ports.SnapshotStore = (*SnapshotRepository)(nil)

// SnapshotRepository stores snapshot envelopes as JSONB rows keyed by
// snapshot key.
type SnapshotRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db, now: time.Now}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *SnapshotRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// api and worker may start together.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS orchestrator_snapshots (
	key TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Load(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load snapshot", errors.New("key is empty"))
	}
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
SELECT payload
FROM orchestrator_snapshots
WHERE key = $1
`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	return payload, nil
}

func (r *SnapshotRepository) Save(ctx context.Context, key string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save snapshot", errors.New("key is empty"))
	}
	version, err := envelopeVersion(data)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "save snapshot", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO orchestrator_snapshots (key, version, payload, updated_at)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (key) DO UPDATE
SET version = EXCLUDED.version,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at
`, key, version, string(data), r.now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}

// envelopeVersion reads the top-level version of a snapshot envelope.
func envelopeVersion(data []byte) (int, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("snapshot is not a JSON object: %w", err)
	}
	return head.Version, nil
}
