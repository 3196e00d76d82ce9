package jsonstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/memtide/memtide-go/pkg/core"
)

// FileStore is a MemoryStore persisted to a JSON file. The file is
// loaded once on open and rewritten after every mutation as an atomic
// replace: entries are marshaled to a temp file in the same directory,
// then renamed over the target. A crash mid-write therefore leaves the
// previous file intact.
type FileStore struct {
	store *MemoryStore
	path  string

	// mu serializes persists so concurrent mutations cannot interleave
	// their file writes.
	mu sync.Mutex
}

// Compile-time interface checks for both store flavors.
var (
	_ core.GarbageCollectableStore = (*MemoryStore)(nil)
	_ core.FilterableStore         = (*MemoryStore)(nil)
	_ core.GarbageCollectableStore = (*FileStore)(nil)
	_ core.FilterableStore         = (*FileStore)(nil)
)

// NewFileStore opens a file-backed store at path, loading any existing
// entries.
//
// Example:
//
//	store, err := jsonstore.NewFileStore("./memtide.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, core.NewMemoryError("new_file_store",
			fmt.Errorf("%w: path is required", core.ErrInvalidConfig))
	}

	fs := &FileStore{
		store: NewMemoryStore(),
		path:  path,
	}
	if _, err := os.Stat(path); err == nil {
		if err := fs.Load(); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, core.NewMemoryError("new_file_store", err)
	}
	return fs, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Add persists an entry and rewrites the backing file.
func (s *FileStore) Add(ctx context.Context, entry *core.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Add(ctx, entry); err != nil {
		return err
	}
	return s.saveLocked(ctx)
}

// Get returns the entry with the given id, or ErrNotFound.
func (s *FileStore) Get(ctx context.Context, id string) (*core.MemoryEntry, error) {
	return s.store.Get(ctx, id)
}

// Search returns non-expired entries whose content contains query,
// ranked by relevance score descending and truncated to topK.
func (s *FileStore) Search(ctx context.Context, query string, topK int) ([]*core.MemoryEntry, error) {
	return s.store.Search(ctx, query, topK)
}

// ListAll returns every non-expired entry in insertion order.
func (s *FileStore) ListAll(ctx context.Context) ([]*core.MemoryEntry, error) {
	return s.store.ListAll(ctx)
}

// ListAllUnfiltered returns every entry, expired included.
func (s *FileStore) ListAllUnfiltered(ctx context.Context) ([]*core.MemoryEntry, error) {
	return s.store.ListAllUnfiltered(ctx)
}

// Delete removes an entry by id and rewrites the backing file when
// something was removed.
func (s *FileStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted, err := s.store.Delete(ctx, id)
	if err != nil || !deleted {
		return deleted, err
	}
	return true, s.saveLocked(ctx)
}

// Clear removes every entry and rewrites the backing file.
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	return s.saveLocked(ctx)
}

// SearchFiltered returns non-expired entries matching every non-zero
// filter field.
func (s *FileStore) SearchFiltered(ctx context.Context, filters core.SearchFilters) ([]*core.MemoryEntry, error) {
	return s.store.SearchFiltered(ctx, filters)
}

// DeleteByUser removes every entry scoped to userID and rewrites the
// backing file when something was removed.
func (s *FileStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted, err := s.store.DeleteByUser(ctx, userID)
	if err != nil || deleted == 0 {
		return deleted, err
	}
	return deleted, s.saveLocked(ctx)
}

// Save rewrites the backing file from the current contents.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(context.Background())
}

func (s *FileStore) saveLocked(ctx context.Context) error {
	entries, err := s.store.ListAllUnfiltered(ctx)
	if err != nil {
		return core.NewMemoryError("save", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return core.NewMemoryError("save", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return core.NewMemoryError("save", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return core.NewMemoryError("save", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return core.NewMemoryError("save", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return core.NewMemoryError("save", err)
	}
	return nil
}

// Load replaces the in-memory contents from the backing file.
func (s *FileStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return core.NewMemoryError("load", err)
	}
	var entries []*core.MemoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return core.NewMemoryError("load", err)
	}

	ctx := context.Background()
	if err := s.store.Clear(ctx); err != nil {
		return core.NewMemoryError("load", err)
	}
	for _, entry := range entries {
		if err := s.store.Add(ctx, entry); err != nil {
			return core.NewMemoryError("load", err)
		}
	}
	return nil
}
