// Package artifact persists trained models and their fitted transforms.
package artifact

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-intel/internal/config"
	"github.com/sells-group/invoice-intel/internal/db"
	"github.com/sells-group/invoice-intel/internal/model"
	"github.com/sells-group/invoice-intel/internal/resilience"
)

// BlobStore is a key-value store for serialized artifacts. Put replaces
// any previous value atomically; Get of a missing key fails with
// model.ErrArtifactNotFound.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// OpenOption adjusts how Open connects.
type OpenOption func(*openOptions)

type openOptions struct {
	retry *resilience.Policy
}

// WithConnectRetry retries a transient Postgres connection failure under p.
func WithConnectRetry(p resilience.Policy) OpenOption {
	return func(o *openOptions) { o.retry = &p }
}

// Open returns the blob store selected by cfg. Database-backed stores fall
// back to the data store URL when artifacts.database_url is empty, and are
// migrated before use.
func Open(ctx context.Context, cfg config.ArtifactConfig, storeCfg config.StoreConfig, opts ...OpenOption) (BlobStore, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	url := cfg.DatabaseURL
	if url == "" && cfg.Driver == storeCfg.Driver {
		url = storeCfg.DatabaseURL
	}

	switch cfg.Driver {
	case "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		s, err := NewSQLiteStore(url)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		return s, nil
	case "postgres":
		connect := db.Connect
		if o.retry != nil {
			connect = func(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
				return db.ConnectWithRetry(ctx, url, maxConns, *o.retry)
			}
		}
		pool, err := connect(ctx, url, storeCfg.MaxConns)
		if err != nil {
			return nil, eris.Wrap(err, "artifact: connect")
		}
		s := &PostgresStore{pool: pool, closeFn: pool.Close}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("artifact: unknown driver %q", cfg.Driver)
	}
}

func notFound(key string) error {
	return eris.Wrapf(model.ErrArtifactNotFound, "artifact: %s", key)
}

// FileStore keeps one JSON file per key in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "artifact: create dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", eris.Errorf("artifact: invalid key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

// Put writes data to a temp file in the same directory, syncs it and
// renames it over the destination.
func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "artifact: create temp for %s", key)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) } //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		cleanup()
		return eris.Wrapf(err, "artifact: write %s", key)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		cleanup()
		return eris.Wrapf(err, "artifact: sync %s", key)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return eris.Wrapf(err, "artifact: close %s", key)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		cleanup()
		return eris.Wrapf(err, "artifact: rename %s", key)
	}
	return nil
}

// Get reads the file for key.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", key)
	}
	return data, nil
}

// Close implements BlobStore.
func (s *FileStore) Close() error { return nil }
