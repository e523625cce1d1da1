package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/invoice-intel/internal/config"
	"github.com/sells-group/invoice-intel/internal/model"
	"github.com/sells-group/invoice-intel/internal/resilience"
)

func blobSuite(t *testing.T, s BlobStore) {
	ctx := context.Background()

	_, err := s.Get(ctx, "freight")
	assert.ErrorIs(t, err, model.ErrArtifactNotFound)

	require.NoError(t, s.Put(ctx, "freight", []byte("v1")))
	got, err := s.Get(ctx, "freight")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	require.NoError(t, s.Put(ctx, "freight", []byte("v2")))
	got, err = s.Get(ctx, "freight")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	_, err = s.Get(ctx, "invoice_flag")
	assert.ErrorIs(t, err, model.ErrArtifactNotFound)
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	blobSuite(t, s)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "freight.json", entries[0].Name())
}

func TestFileStore_InvalidKey(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "..", "a/b", `a\b`} {
		assert.Error(t, s.Put(context.Background(), key, []byte("x")), key)
		_, err := s.Get(context.Background(), key)
		assert.Error(t, err, key)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	blobSuite(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := Open(ctx, config.ArtifactConfig{Driver: "file", Dir: filepath.Join(dir, "m")}, config.StoreConfig{})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, fs)

	// The sqlite driver reuses the data store database when no URL is set.
	ss, err := Open(ctx, config.ArtifactConfig{Driver: "sqlite"}, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "inv.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, ss)
	blobSuite(t, ss)
	require.NoError(t, ss.Close())

	_, err = Open(ctx, config.ArtifactConfig{Driver: "s3"}, config.StoreConfig{})
	assert.Error(t, err)
}

func TestOpen_PostgresConnectRetry(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	cfg := config.ArtifactConfig{Driver: "postgres", DatabaseURL: "postgres://u@127.0.0.1:1/db?connect_timeout=1"}

	_, err := Open(context.Background(), cfg, config.StoreConfig{})
	require.ErrorContains(t, err, "artifact: connect")
	assert.Zero(t, logs.Len())

	policy := resilience.Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	_, err = Open(context.Background(), cfg, config.StoreConfig{}, WithConnectRetry(policy))
	require.ErrorContains(t, err, "artifact: connect")
	assert.Equal(t, 2, logs.FilterMessage("resilience: retrying").Len())
}

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewPostgresStore(mock), mock
}

func TestPostgresStore_Put(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "model_artifacts" .* ON CONFLICT \("task"\) DO UPDATE`).
		WithArgs("freight", []byte("v1"), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Put(context.Background(), "freight", []byte("v1")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT payload FROM model_artifacts WHERE task = \$1`).
		WithArgs("freight").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow([]byte("v1")))
	mock.ExpectQuery(`SELECT payload FROM model_artifacts WHERE task = \$1`).
		WithArgs("invoice_flag").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.Get(context.Background(), "freight")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	_, err = s.Get(context.Background(), "invoice_flag")
	assert.ErrorIs(t, err, model.ErrArtifactNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS model_artifacts`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
