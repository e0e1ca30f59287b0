package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/photoshare/backend/internal/assets"
)

const lockRetryDelay = 20 * time.Millisecond

// FileStore keeps one JSON document per user in a directory. Readers and
// writers coordinate through an advisory lock file so several processes can
// share the directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir when needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file cache: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file cache: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(userID string) string {
	return filepath.Join(s.dir, url.PathEscape(userID)+".json")
}

// Get returns the cached records for userID in display order. A user with no
// cache file has no records.
func (s *FileStore) Get(ctx context.Context, userID string) ([]assets.Record, error) {
	path := s.path(userID)
	lock := flock.New(path + ".lock")
	locked, err := lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("file cache: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("file cache: lock %s: not acquired", path)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file cache: read %s: %w", path, err)
	}
	return decode(data)
}

// Put replaces the cached records for userID. The document is written to a
// temporary file and renamed into place.
func (s *FileStore) Put(ctx context.Context, userID string, records []assets.Record) error {
	data, err := encode(records)
	if err != nil {
		return err
	}

	path := s.path(userID)
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("file cache: lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("file cache: lock %s: not acquired", path)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("file cache: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file cache: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file cache: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file cache: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file cache: rename %s: %w", path, err)
	}
	return nil
}
