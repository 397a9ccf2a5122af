package imagerate

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// BlobStore abstracts a durable key-value slot store (file, SQLite, browser storage, etc.)
type BlobStore interface {
	// Get returns the value stored under key; found=false if absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set replaces the value stored under key. Readers never observe a partial write.
	Set(ctx context.Context, key string, value []byte) error
}

// Updater is implemented by stores that can run a read-modify-write cycle atomically.
// fn receives the current value; returning nil leaves the slot untouched.
type Updater interface {
	Update(ctx context.Context, key string, fn func(old []byte, found bool) ([]byte, error)) error
}

// MemoryStore is an in-process BlobStore. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, key string, fn func([]byte, bool) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.items[key]
	next, err := fn(append([]byte(nil), old...), ok)
	if err != nil {
		return err
	}
	if next != nil {
		m.items[key] = append([]byte(nil), next...)
	}
	return nil
}

// FileStore keeps each key in its own file under Dir. Writes go to a temp file
// that is renamed into place, so readers see either the old or the new value.
// Concurrent writers from different processes are last-writer-wins.
type FileStore struct {
	Dir string
}

func (f *FileStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", goerr.New("invalid store key", goerr.V("key", key))
	}
	return filepath.Join(f.Dir, key+".json"), nil
}

func (f *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(p) //nolint:gosec // path is built from a validated key under Dir
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to read slot", goerr.V("path", p))
	}
	return data, true, nil
}

func (f *FileStore) Set(_ context.Context, key string, value []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create store directory", goerr.V("dir", f.Dir))
	}

	tmp, err := os.CreateTemp(f.Dir, "."+key+"-*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", f.Dir))
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to write slot", goerr.V("path", tmp.Name()))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to sync slot", goerr.V("path", tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close slot", goerr.V("path", tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return goerr.Wrap(err, "failed to replace slot", goerr.V("path", p))
	}
	return nil
}
