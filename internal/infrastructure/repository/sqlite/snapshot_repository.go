package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
)

var _ ports.SnapshotStore = (*SnapshotRepository)(nil)

// SnapshotRepository is the single-node snapshot store.
type SnapshotRepository struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file if needed. SQLite allows one writer, so the
// pool is pinned to a single connection.
func Open(path string) (*SnapshotRepository, error) {
	if path == "" {
		path = "./data/orchestrator.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	repo := NewSnapshotRepository(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db, now: time.Now}
}

func (r *SnapshotRepository) Close() error {
	return r.db.Close()
}

func (r *SnapshotRepository) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS orchestrator_snapshots (
	key TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate snapshots: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Load(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "load snapshot", errors.New("key is empty"))
	}
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM orchestrator_snapshots WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	return []byte(payload), nil
}

func (r *SnapshotRepository) Save(ctx context.Context, key string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save snapshot", errors.New("key is empty"))
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO orchestrator_snapshots (key, payload, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
`, key, string(data), r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}
