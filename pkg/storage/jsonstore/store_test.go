package jsonstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtide/memtide-go/pkg/core"
	"github.com/memtide/memtide-go/pkg/storage/jsonstore"
)

func TestMemoryStoreAddAndGet(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	entry := core.NewMemoryEntry("User prefers dark mode",
		core.WithID("mem-1"),
		core.WithTags("preference"),
	)
	require.NoError(t, store.Add(ctx, entry))

	got, err := store.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "User prefers dark mode", got.Content)
	assert.Equal(t, []string{"preference"}, got.Tags)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestMemoryStoreAddValidation(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	err := store.Add(ctx, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))

	err = store.Add(ctx, &core.MemoryEntry{Content: "no id"})
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestMemoryStoreAddReplaces(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("first", core.WithID("mem-1"))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("anchor", core.WithID("mem-2"))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("second", core.WithID("mem-1"))))

	assert.Equal(t, 2, store.Len())

	got, err := store.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Content)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].Content, "replacement keeps the original position")
}

func TestMemoryStoreIsolatesEntries(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	entry := core.NewMemoryEntry("original", core.WithID("mem-1"), core.WithTags("a"))
	require.NoError(t, store.Add(ctx, entry))

	// Mutating the caller's entry after Add must not leak in.
	entry.Content = "mutated"
	entry.Tags[0] = "z"

	got, err := store.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content)
	assert.Equal(t, []string{"a"}, got.Tags)

	// Mutating a returned entry must not leak back.
	got.Content = "tampered"
	again, err := store.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Content)
}

func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("User likes coffee",
		core.WithID("low"), core.WithRelevanceScore(0.2))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("User LIKES tea most",
		core.WithID("high"), core.WithRelevanceScore(0.9))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("Unrelated note",
		core.WithID("other"), core.WithRelevanceScore(1.0))))

	results, err := store.Search(ctx, "likes", 10)
	require.NoError(t, err)
	require.Len(t, results, 2, "matching is case-insensitive")
	assert.Equal(t, "high", results[0].ID, "results rank by relevance descending")
	assert.Equal(t, "low", results[1].ID)

	results, err = store.Search(ctx, "likes", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "high", results[0].ID)
}

func TestMemoryStoreSearchDefaultLimit(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	for i := 0; i < core.DefaultSearchLimit+2; i++ {
		entry := core.NewMemoryEntry(fmt.Sprintf("shared topic %d", i),
			core.WithID(fmt.Sprintf("mem-%d", i)))
		require.NoError(t, store.Add(ctx, entry))
	}

	results, err := store.Search(ctx, "shared topic", 0)
	require.NoError(t, err)
	assert.Len(t, results, core.DefaultSearchLimit)
}

func TestMemoryStoreSearchTiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("topic one",
		core.WithID("first"), core.WithRelevanceScore(0.5))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("topic two",
		core.WithID("second"), core.WithRelevanceScore(0.5))))

	results, err := store.Search(ctx, "topic", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].ID)
	assert.Equal(t, "second", results[1].ID)
}

func TestMemoryStoreExpiryFiltering(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("live entry", core.WithID("live"))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("expired entry", core.WithID("expired"),
		core.WithExpiresAt(time.Now().Add(-time.Minute)))))

	results, err := store.Search(ctx, "entry", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "live", results[0].ID)

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "live", all[0].ID)

	unfiltered, err := store.ListAllUnfiltered(ctx)
	require.NoError(t, err)
	assert.Len(t, unfiltered, 2, "the unfiltered listing keeps expired entries visible")
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("gone soon", core.WithID("mem-1"))))

	deleted, err := store.Delete(ctx, "mem-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "mem-1")
	require.NoError(t, err)
	assert.False(t, deleted, "deleting a missing entry is not an error")

	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("one", core.WithID("mem-1"))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("two", core.WithID("mem-2"))))

	require.NoError(t, store.Clear(ctx))

	assert.Equal(t, 0, store.Len())
	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStoreSearchFiltered(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("alice schedule fact",
		core.WithID("a1"),
		core.WithUserID("alice"),
		core.WithSessionID("s1"),
		core.WithTags("schedule", "work"),
		core.WithMemoryType(core.MemoryTypeEpisodic),
		core.WithRelevanceScore(0.4))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("alice preference fact",
		core.WithID("a2"),
		core.WithUserID("alice"),
		core.WithTags("preference"),
		core.WithRelevanceScore(0.9))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("bob fact",
		core.WithID("b1"),
		core.WithUserID("bob"),
		core.WithTags("schedule"))))

	tests := []struct {
		name    string
		filters core.SearchFilters
		wantIDs []string
	}{
		{"by user ranked by relevance", core.SearchFilters{UserID: "alice"}, []string{"a2", "a1"}},
		{"by user and session", core.SearchFilters{UserID: "alice", SessionID: "s1"}, []string{"a1"}},
		{"by memory type", core.SearchFilters{MemoryType: core.MemoryTypeEpisodic}, []string{"a1"}},
		{"by tag", core.SearchFilters{Tags: []string{"schedule"}}, []string{"b1", "a1"}},
		{"all tags must match", core.SearchFilters{Tags: []string{"schedule", "work"}}, []string{"a1"}},
		{"no filters match everything", core.SearchFilters{}, []string{"a2", "b1", "a1"}},
		{"no match", core.SearchFilters{UserID: "carol"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.SearchFiltered(ctx, tt.filters)
			require.NoError(t, err)
			ids := make([]string, 0, len(results))
			for _, entry := range results {
				ids = append(ids, entry.ID)
			}
			if tt.wantIDs == nil {
				assert.Empty(t, ids)
			} else {
				assert.Equal(t, tt.wantIDs, ids)
			}
		})
	}
}

func TestMemoryStoreDeleteByUser(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("alice 1",
		core.WithID("a1"), core.WithUserID("alice"))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("alice 2",
		core.WithID("a2"), core.WithUserID("alice"))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("bob 1",
		core.WithID("b1"), core.WithUserID("bob"))))

	deleted, err := store.DeleteByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(ctx, "b1")
	assert.NoError(t, err)

	_, err = store.DeleteByUser(ctx, "")
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}
