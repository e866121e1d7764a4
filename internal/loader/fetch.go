package loader

import (
	"io/fs"
	"os"
	"sync"
)

// Fetcher reads module sources by canonical path.
type Fetcher interface {
	Fetch(path string) ([]byte, error)
	// Exists reports whether path names a regular file.
	Exists(path string) bool
}

// FileFetcher reads sources from the local filesystem.
type FileFetcher struct{}

func (FileFetcher) Fetch(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (FileFetcher) Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// MemoryFetcher serves sources from a map. It is safe for concurrent use.
type MemoryFetcher struct {
	mu    sync.RWMutex
	files map[string]string
	reads map[string]int
}

// NewMemoryFetcher creates a fetcher holding files.
func NewMemoryFetcher(files map[string]string) *MemoryFetcher {
	m := &MemoryFetcher{files: make(map[string]string), reads: make(map[string]int)}
	for k, v := range files {
		m.files[k] = v
	}
	return m
}

// Set adds or replaces a file.
func (m *MemoryFetcher) Set(path, source string) {
	m.mu.Lock()
	m.files[path] = source
	m.mu.Unlock()
}

// Reads returns how often path was fetched.
func (m *MemoryFetcher) Reads(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[path]
}

func (m *MemoryFetcher) Fetch(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	m.reads[path]++
	return []byte(src), nil
}

func (m *MemoryFetcher) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok
}
