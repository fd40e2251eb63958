package legacy

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

// KV is a synchronous key -> string store.
// Implementations must be safe for concurrent use.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error

	// Keys lists every key, sorted.
	Keys() ([]string, error)
}

// FileKV stores one file per key inside a directory.
// Writes go through a temp file and rename, so a reader sees either the old
// or the new value, never a torn one.
type FileKV struct {
	dir string
	mu  sync.Mutex
}

// NewFileKV creates dir if needed and returns a store rooted there.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create legacy store directory: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

// Dir returns the directory holding the key files.
func (f *FileKV) Dir() string {
	return f.dir
}

// FileName maps a key to the file name it is stored under.
func FileName(key string) string {
	return url.PathEscape(key)
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, FileName(key))
}

// Get implements KV.
func (f *FileKV) Get(key string) (string, bool, error) {
	// #nosec G304 - path built from escaped key inside our directory
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements KV.
func (f *FileKV) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := atomic.WriteFile(f.path(key), strings.NewReader(value)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, key, err)
	}
	return nil
}

// Remove implements KV.
func (f *FileKV) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Keys implements KV.
func (f *FileKV) Keys() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read legacy store directory: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, err := url.PathUnescape(entry.Name())
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// MemKV is an in-memory KV. Setting FailWrites makes every Set fail, which
// simulates a full or read-only backing store.
type MemKV struct {
	mu         sync.Mutex
	data       map[string]string
	FailWrites error
	writes     int
}

// NewMemKV returns an empty in-memory store.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string]string)}
}

// Get implements KV.
func (m *MemKV) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements KV.
func (m *MemKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, key, m.FailWrites)
	}
	m.writes++
	m.data[key] = value
	return nil
}

// Remove implements KV.
func (m *MemKV) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys implements KV.
func (m *MemKV) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Writes reports how many Set calls succeeded.
func (m *MemKV) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
