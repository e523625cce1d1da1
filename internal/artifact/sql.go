package artifact

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-intel/internal/db"
	"github.com/sells-group/invoice-intel/internal/store"
)

// SQLiteStore keeps artifacts in a model_artifacts table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	h, err := store.OpenSQLite(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "artifact: open sqlite")
	}
	return &SQLiteStore{db: h}, nil
}

const sqliteArtifactMigration = `
CREATE TABLE IF NOT EXISTS model_artifacts (
	task       TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// Migrate creates the artifact table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteArtifactMigration)
	return eris.Wrap(err, "artifact: sqlite migrate")
}

// Put upserts the payload for key in one statement.
func (s *SQLiteStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_artifacts (task, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(task) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "artifact: sqlite put %s", key)
}

// Get reads the payload for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM model_artifacts WHERE task = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: sqlite get %s", key)
	}
	return data, nil
}

// Close implements BlobStore.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// PostgresStore keeps artifacts in a model_artifacts table.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgresStore wraps an existing pool. The caller keeps ownership.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresArtifactMigration = `
CREATE TABLE IF NOT EXISTS model_artifacts (
	task       TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

var artifactUpsert = db.UpsertConfig{
	Table:        "model_artifacts",
	Columns:      []string{"task", "payload", "updated_at"},
	ConflictKeys: []string{"task"},
}

// Migrate creates the artifact table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresArtifactMigration)
	return eris.Wrap(err, "artifact: postgres migrate")
}

// Put upserts the payload for key with INSERT ... ON CONFLICT.
func (s *PostgresStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := db.Upsert(ctx, s.pool, artifactUpsert, []any{key, data, time.Now().UTC()})
	return eris.Wrapf(err, "artifact: postgres put %s", key)
}

// Get reads the payload for key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM model_artifacts WHERE task = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: postgres get %s", key)
	}
	return data, nil
}

// Close implements BlobStore.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
