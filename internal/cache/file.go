package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps one JSON file per key: {key, storedAt, payload}.
// Writes go to a temp file in the same directory and are renamed into
// place, so readers see either the old or the new record.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(key string) string {
	name := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(key)
	return filepath.Join(f.dir, name+".json")
}

func (f *FileStore) Load(_ context.Context, key string) (Entry, bool, error) {
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if e.Key != key || e.StoredAt.IsZero() {
		return Entry{}, false, fmt.Errorf("%w: %s: key or storedAt mismatch", ErrCorrupt, key)
	}
	return e, true, nil
}

func (f *FileStore) Save(_ context.Context, e Entry) error {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Key, err)
	}
	tmp, err := os.CreateTemp(f.dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", e.Key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", e.Key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", e.Key, err)
	}
	if err := os.Rename(name, f.path(e.Key)); err != nil {
		return fmt.Errorf("rename %s: %w", e.Key, err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
