package core

import (
	"context"
	"time"
)

// MemoryEntryStore is the persistence boundary for memory entries.
// Every operation is individually atomic; the store gives no cross-call
// transactional guarantee. Adding an entry whose id already exists
// replaces the stored entry, since entry updates are replacements.
type MemoryEntryStore interface {
	// Add persists an entry, replacing any entry with the same id.
	Add(ctx context.Context, entry *MemoryEntry) error

	// Get returns the entry with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*MemoryEntry, error)

	// Search returns non-expired entries whose content contains query,
	// ranked by relevance score descending and truncated to topK.
	// topK <= 0 uses DefaultSearchLimit.
	Search(ctx context.Context, query string, topK int) ([]*MemoryEntry, error)

	// ListAll returns every non-expired entry.
	ListAll(ctx context.Context) ([]*MemoryEntry, error)

	// Delete removes an entry by id, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

// GarbageCollectableStore extends MemoryEntryStore with the unfiltered
// listing the garbage collector needs to see expired entries.
type GarbageCollectableStore interface {
	MemoryEntryStore

	// ListAllUnfiltered returns every entry including expired ones.
	ListAllUnfiltered(ctx context.Context) ([]*MemoryEntry, error)
}

// SearchFilters narrows a filtered search. Zero-valued fields are
// ignored; Tags requires the entry to carry every listed tag.
type SearchFilters struct {
	// UserID restricts results to entries scoped to this user.
	UserID string

	// SessionID restricts results to entries scoped to this session.
	SessionID string

	// MemoryType restricts results to one memory type.
	MemoryType MemoryType

	// Tags restricts results to entries carrying all of these tags.
	Tags []string

	// CreatedAfter excludes entries created at or before this instant.
	CreatedAfter *time.Time

	// CreatedBefore excludes entries created at or after this instant.
	CreatedBefore *time.Time
}

// FilterableStore is implemented by stores that can narrow listings by
// scope and attributes, and bulk-delete by user.
type FilterableStore interface {
	// SearchFiltered returns non-expired entries matching every
	// non-zero filter field, ranked by relevance score descending.
	SearchFiltered(ctx context.Context, filters SearchFilters) ([]*MemoryEntry, error)

	// DeleteByUser removes every entry scoped to userID and returns
	// the number removed.
	DeleteByUser(ctx context.Context, userID string) (int, error)
}

// DefaultSearchLimit is the result cap applied when a search is invoked
// without an explicit topK.
const DefaultSearchLimit = 5

// Matches reports whether the entry satisfies every non-zero filter
// field. Store implementations that filter client-side share it.
func (f SearchFilters) Matches(entry *MemoryEntry) bool {
	if f.UserID != "" && entry.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && entry.SessionID != f.SessionID {
		return false
	}
	if f.MemoryType != "" && entry.MemoryType != f.MemoryType {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, tag := range entry.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedAfter != nil && !entry.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !entry.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

// Extractor turns conversation turns into candidate memory entries.
// Implementations decide what is worth remembering; the core never
// invokes a language model itself.
type Extractor interface {
	Extract(ctx context.Context, turns []ConversationTurn) ([]*MemoryEntry, error)
}

// Consolidator decides how new entries relate to the existing store:
// one ConsolidationResult per new entry, in order.
type Consolidator interface {
	Consolidate(ctx context.Context, newEntries, existing []*MemoryEntry) ([]ConsolidationResult, error)
}

// CompactionStrategy rewrites evicted turns into a rolling summary.
// Compaction is non-cumulative: each call receives the previous summary
// (empty on the first call) and returns its full replacement.
type CompactionStrategy interface {
	Compact(ctx context.Context, turns []ConversationTurn, previousSummary string) (string, error)
}

// CompactionFunc adapts a plain function to CompactionStrategy.
type CompactionFunc func(ctx context.Context, turns []ConversationTurn, previousSummary string) (string, error)

// Compact implements CompactionStrategy.
func (f CompactionFunc) Compact(ctx context.Context, turns []ConversationTurn, previousSummary string) (string, error) {
	return f(ctx, turns, previousSummary)
}
