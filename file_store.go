package mqtt

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

const (
	msgExt = ".msg"
	tmpExt = ".tmp"
)

// FileStore persists packets as one file per key under
// <dir>/<clientID>-<serverURI>/. Writes go to a temporary file that is
// renamed into place.
type FileStore struct {
	mu   sync.RWMutex
	dir  string
	path string
}

// NewFileStore returns a store rooted at dir. An empty dir means the
// current working directory.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (f *FileStore) Open(clientID, serverURI string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = wd
	}

	path := filepath.Join(dir, url.PathEscape(clientID+"-"+serverURI))
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("open file store: %w", err)
	}
	f.path = path
	return nil
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = ""
	return nil
}

func (f *FileStore) Put(key string, bufs ...[]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path == "" {
		return ErrStoreNotOpen
	}

	tmp := filepath.Join(f.path, key+tmpExt)
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	for _, b := range bufs {
		if _, err := file.Write(b); err != nil {
			_ = file.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, f.file(key))
}

func (f *FileStore) Get(key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.path == "" {
		return nil, ErrStoreNotOpen
	}

	data, err := os.ReadFile(f.file(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *FileStore) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path == "" {
		return ErrStoreNotOpen
	}

	err := os.Remove(f.file(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileStore) Keys() ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.path == "" {
		return nil, ErrStoreNotOpen
	}
	return f.keys()
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path == "" {
		return ErrStoreNotOpen
	}

	keys, err := f.keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := os.Remove(f.file(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (f *FileStore) keys() ([]string, error) {
	entries, err := os.ReadDir(f.path)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, e := range entries {
		if key, ok := strings.CutSuffix(e.Name(), msgExt); ok && !e.IsDir() {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (f *FileStore) file(key string) string {
	return filepath.Join(f.path, key+msgExt)
}
