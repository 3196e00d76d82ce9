// Package jsonstore provides the reference in-memory entry store and a
// JSON-file-backed variant with atomic persistence. Both keep insertion
// order, so listings are reproducible.
package jsonstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/memtide/memtide-go/pkg/core"
)

// MemoryStore is an in-memory entry store. Entries are deep-copied on
// the way in and out, so callers can never mutate stored state through
// a retained pointer.
//
// MemoryStore implements core.MemoryEntryStore,
// core.GarbageCollectableStore, and core.FilterableStore. All methods
// are safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*core.MemoryEntry
	order   []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*core.MemoryEntry),
	}
}

// Add persists an entry, replacing any entry with the same id.
func (s *MemoryStore) Add(ctx context.Context, entry *core.MemoryEntry) error {
	if entry == nil || entry.ID == "" {
		return core.NewMemoryError("add",
			fmt.Errorf("%w: entry with an id is required", core.ErrInvalidInput))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; !exists {
		s.order = append(s.order, entry.ID)
	}
	s.entries[entry.ID] = entry.Clone()
	return nil
}

// Get returns the entry with the given id, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*core.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, core.NewMemoryError("get",
			fmt.Errorf("%w: %q", core.ErrNotFound, id))
	}
	return entry.Clone(), nil
}

// Search returns non-expired entries whose content contains query
// case-insensitively, ranked by relevance score descending (insertion
// order on ties) and truncated to topK.
func (s *MemoryStore) Search(ctx context.Context, query string, topK int) ([]*core.MemoryEntry, error) {
	if topK <= 0 {
		topK = core.DefaultSearchLimit
	}
	needle := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*core.MemoryEntry
	for _, id := range s.order {
		entry := s.entries[id]
		if entry.IsExpired() {
			continue
		}
		if !strings.Contains(strings.ToLower(entry.Content), needle) {
			continue
		}
		matches = append(matches, entry)
	}
	sortByRelevance(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return cloneAll(matches), nil
}

// ListAll returns every non-expired entry in insertion order.
func (s *MemoryStore) ListAll(ctx context.Context) ([]*core.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var live []*core.MemoryEntry
	for _, id := range s.order {
		entry := s.entries[id]
		if entry.IsExpired() {
			continue
		}
		live = append(live, entry)
	}
	return cloneAll(live), nil
}

// ListAllUnfiltered returns every entry, expired included, in insertion
// order.
func (s *MemoryStore) ListAllUnfiltered(ctx context.Context) ([]*core.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*core.MemoryEntry, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, s.entries[id])
	}
	return cloneAll(all), nil
}

// Delete removes an entry by id, reporting whether it existed.
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false, nil
	}
	delete(s.entries, id)
	s.removeFromOrder(id)
	return true, nil
}

// Clear removes every entry.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*core.MemoryEntry)
	s.order = nil
	return nil
}

// SearchFiltered returns non-expired entries matching every non-zero
// filter field, ranked by relevance score descending.
func (s *MemoryStore) SearchFiltered(ctx context.Context, filters core.SearchFilters) ([]*core.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*core.MemoryEntry
	for _, id := range s.order {
		entry := s.entries[id]
		if entry.IsExpired() {
			continue
		}
		if !filters.Matches(entry) {
			continue
		}
		matches = append(matches, entry)
	}
	sortByRelevance(matches)
	return cloneAll(matches), nil
}

// DeleteByUser removes every entry scoped to userID, returning the
// number removed.
func (s *MemoryStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, core.NewMemoryError("delete_by_user",
			fmt.Errorf("%w: user id is required", core.ErrInvalidInput))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	kept := s.order[:0]
	for _, id := range s.order {
		if s.entries[id].UserID == userID {
			delete(s.entries, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return deleted, nil
}

// Len returns the number of stored entries, expired included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) removeFromOrder(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// sortByRelevance orders entries by relevance score descending, keeping
// the incoming order on ties.
func sortByRelevance(entries []*core.MemoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RelevanceScore > entries[j].RelevanceScore
	})
}

// cloneAll deep-copies a result set.
func cloneAll(entries []*core.MemoryEntry) []*core.MemoryEntry {
	clones := make([]*core.MemoryEntry, len(entries))
	for i, entry := range entries {
		clones[i] = entry.Clone()
	}
	return clones
}
