// Package storage provides store decorators shared by every backend.
// The backends themselves live in the subpackages (jsonstore, sqlite,
// postgres, mysql, redis).
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/memtide/memtide-go/pkg/core"
)

// UserScope wraps any entry store and pins a user (and optionally a
// session) onto it: writes are stamped with the scope, reads only ever
// see entries inside it. Several scopes can share one underlying store
// without seeing each other's entries.
//
// UserScope implements core.MemoryEntryStore, so it drops in anywhere a
// store goes, including the memory manager's persistent store.
type UserScope struct {
	store      core.MemoryEntryStore
	filterable core.FilterableStore
	userID     string
	sessionID  string
}

var _ core.MemoryEntryStore = (*UserScope)(nil)

// ScopeOption configures a user scope at construction.
type ScopeOption func(*UserScope)

// WithSession additionally pins the scope to a session.
func WithSession(sessionID string) ScopeOption {
	return func(s *UserScope) {
		s.sessionID = sessionID
	}
}

// NewUserScope creates a scoped view over store for userID.
//
// Example:
//
//	scope, err := storage.NewUserScope(store, "alice",
//	    storage.WithSession("session-42"),
//	)
func NewUserScope(store core.MemoryEntryStore, userID string, opts ...ScopeOption) (*UserScope, error) {
	if store == nil {
		return nil, core.NewMemoryError("new_user_scope",
			fmt.Errorf("%w: store is required", core.ErrInvalidConfig))
	}
	if userID == "" {
		return nil, core.NewMemoryError("new_user_scope",
			fmt.Errorf("%w: user id is required", core.ErrInvalidConfig))
	}

	scope := &UserScope{store: store, userID: userID}
	for _, opt := range opts {
		opt(scope)
	}
	scope.filterable, _ = store.(core.FilterableStore)
	return scope, nil
}

// UserID returns the pinned user id.
func (s *UserScope) UserID() string { return s.userID }

// SessionID returns the pinned session id, empty when the scope covers
// all of the user's sessions.
func (s *UserScope) SessionID() string { return s.sessionID }

// Add stamps the scope onto the entry and persists it.
func (s *UserScope) Add(ctx context.Context, entry *core.MemoryEntry) error {
	if entry == nil {
		return core.NewMemoryError("add",
			fmt.Errorf("%w: entry is required", core.ErrInvalidInput))
	}
	entry.UserID = s.userID
	if s.sessionID != "" {
		entry.SessionID = s.sessionID
	}
	return s.store.Add(ctx, entry)
}

// Get returns the entry with the given id. Entries outside the scope
// report ErrNotFound, exactly like entries that do not exist.
func (s *UserScope) Get(ctx context.Context, id string) (*core.MemoryEntry, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.matches(entry) {
		return nil, core.NewMemoryError("get",
			fmt.Errorf("%w: %q", core.ErrNotFound, id))
	}
	return entry, nil
}

// Search returns the scope's non-expired entries whose content contains
// query, ranked by relevance score descending and truncated to topK.
func (s *UserScope) Search(ctx context.Context, query string, topK int) ([]*core.MemoryEntry, error) {
	if topK <= 0 {
		topK = core.DefaultSearchLimit
	}
	candidates, err := s.listScoped(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var matches []*core.MemoryEntry
	for _, entry := range candidates {
		if !strings.Contains(strings.ToLower(entry.Content), needle) {
			continue
		}
		matches = append(matches, entry)
		if len(matches) >= topK {
			break
		}
	}
	return matches, nil
}

// ListAll returns every non-expired entry inside the scope.
func (s *UserScope) ListAll(ctx context.Context) ([]*core.MemoryEntry, error) {
	return s.listScoped(ctx)
}

// ListAllUnfiltered returns every entry inside the scope, expired
// included. The underlying store must support unfiltered listing.
func (s *UserScope) ListAllUnfiltered(ctx context.Context) ([]*core.MemoryEntry, error) {
	gcStore, ok := s.store.(core.GarbageCollectableStore)
	if !ok {
		return nil, core.NewMemoryError("list_all_unfiltered",
			fmt.Errorf("%w: underlying store cannot list expired entries", core.ErrStorageOperation))
	}
	all, err := gcStore.ListAllUnfiltered(ctx)
	if err != nil {
		return nil, err
	}
	var scoped []*core.MemoryEntry
	for _, entry := range all {
		if s.matches(entry) {
			scoped = append(scoped, entry)
		}
	}
	return scoped, nil
}

// Delete removes an entry by id when it lies inside the scope. Entries
// outside the scope are left alone and reported as not deleted.
func (s *UserScope) Delete(ctx context.Context, id string) (bool, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !s.matches(entry) {
		return false, nil
	}
	return s.store.Delete(ctx, id)
}

// Clear removes every entry inside the scope, leaving other scopes on
// the shared store untouched.
func (s *UserScope) Clear(ctx context.Context) error {
	_, err := s.DeleteAll(ctx)
	return err
}

// DeleteAll removes every entry inside the scope and returns the number
// removed. Scopes without a session pin use the backend's bulk
// user-delete when it offers one.
func (s *UserScope) DeleteAll(ctx context.Context) (int, error) {
	if s.filterable != nil && s.sessionID == "" {
		return s.filterable.DeleteByUser(ctx, s.userID)
	}

	entries, err := s.ListAllUnfiltered(ctx)
	if err != nil {
		// Stores without unfiltered listing still clear their live view.
		entries, err = s.listScoped(ctx)
		if err != nil {
			return 0, err
		}
	}
	deleted := 0
	for _, entry := range entries {
		removed, err := s.store.Delete(ctx, entry.ID)
		if err != nil {
			return deleted, err
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}

// listScoped fetches the scope's non-expired entries, using the
// backend's filtered search when it offers one.
func (s *UserScope) listScoped(ctx context.Context) ([]*core.MemoryEntry, error) {
	if s.filterable != nil {
		return s.filterable.SearchFiltered(ctx, core.SearchFilters{
			UserID:    s.userID,
			SessionID: s.sessionID,
		})
	}

	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var scoped []*core.MemoryEntry
	for _, entry := range all {
		if s.matches(entry) {
			scoped = append(scoped, entry)
		}
	}
	return scoped, nil
}

// matches reports whether the entry lies inside the scope.
func (s *UserScope) matches(entry *core.MemoryEntry) bool {
	if entry.UserID != s.userID {
		return false
	}
	return s.sessionID == "" || entry.SessionID == s.sessionID
}
