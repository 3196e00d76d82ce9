package intelligence_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtide/memtide-go/pkg/core"
	"github.com/memtide/memtide-go/pkg/intelligence"
)

// embedderStub returns configured vectors by text and counts how often
// each text was embedded.
type embedderStub struct {
	mu       sync.Mutex
	vectors  map[string][]float64
	fallback []float64
	calls    map[string]int
}

func newEmbedderStub(vectors map[string][]float64, fallback []float64) *embedderStub {
	return &embedderStub{
		vectors:  vectors,
		fallback: fallback,
		calls:    make(map[string]int),
	}
}

func (s *embedderStub) embed(ctx context.Context, text string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[text]++
	if vec, ok := s.vectors[text]; ok {
		return vec, nil
	}
	return s.fallback, nil
}

func (s *embedderStub) callCount(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[text]
}

func TestNewSimilarityConsolidatorValidation(t *testing.T) {
	embed := func(ctx context.Context, text string) ([]float64, error) {
		return []float64{1, 0}, nil
	}

	_, err := intelligence.NewSimilarityConsolidator(nil, 0.85)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))

	_, err = intelligence.NewSimilarityConsolidator(embed, -0.1)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))

	_, err = intelligence.NewSimilarityConsolidator(embed, 1.1)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))

	_, err = intelligence.NewSimilarityConsolidator(embed, intelligence.DefaultSimilarityThreshold)
	assert.NoError(t, err)
}

func TestConsolidateMergesNearDuplicate(t *testing.T) {
	ctx := context.Background()

	// Every text embeds to the same vector, so similarity is always 1.0.
	stub := newEmbedderStub(nil, []float64{0.6, 0.8})
	consolidator, err := intelligence.NewSimilarityConsolidator(stub.embed, 0.85)
	require.NoError(t, err)

	existing := core.NewMemoryEntry("User likes coding",
		memoryOptions("existing-1", "alice", "s1")...)
	incoming := core.NewMemoryEntry("User really likes coding a lot")

	results, err := consolidator.Consolidate(ctx,
		[]*core.MemoryEntry{incoming}, []*core.MemoryEntry{existing})
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Equal(t, core.ActionUpdate, result.Action)
	require.NotNil(t, result.Entry)

	merged := result.Entry
	assert.Equal(t, "existing-1", merged.ID, "the merged entry keeps the existing identity")
	assert.Equal(t, "User really likes coding a lot", merged.Content, "the longer content wins")
	assert.Equal(t, existing.ContentHash, merged.ContentHash)
	assert.Equal(t, existing.CreatedAt, merged.CreatedAt)
	assert.Equal(t, "alice", merged.UserID)
	assert.Equal(t, "s1", merged.SessionID)
	assert.Equal(t, existing.AccessCount+1, merged.AccessCount)
	assert.True(t, merged.UpdatedAt.After(existing.UpdatedAt) || merged.UpdatedAt.Equal(existing.UpdatedAt))
}

func memoryOptions(id, userID, sessionID string) []core.EntryOption {
	return []core.EntryOption{
		core.WithID(id),
		core.WithUserID(userID),
		core.WithSessionID(sessionID),
	}
}

func TestConsolidateShorterIncomingKeepsExistingContent(t *testing.T) {
	ctx := context.Background()
	stub := newEmbedderStub(nil, []float64{1, 0})
	consolidator, err := intelligence.NewSimilarityConsolidator(stub.embed, 0.85)
	require.NoError(t, err)

	existing := core.NewMemoryEntry("User really likes coding a lot", core.WithID("existing-1"))
	incoming := core.NewMemoryEntry("User likes coding")

	results, err := consolidator.Consolidate(ctx,
		[]*core.MemoryEntry{incoming}, []*core.MemoryEntry{existing})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, core.ActionUpdate, results[0].Action)
	assert.Equal(t, "User really likes coding a lot", results[0].Entry.Content)
}

func TestConsolidateMergeUnionsAndOverrides(t *testing.T) {
	ctx := context.Background()
	stub := newEmbedderStub(nil, []float64{1, 0})
	consolidator, err := intelligence.NewSimilarityConsolidator(stub.embed, 0.85)
	require.NoError(t, err)

	existing := core.NewMemoryEntry("User likes coding",
		core.WithID("existing-1"),
		core.WithTags("preference", "coding"),
		core.WithLinks("l1"),
		core.WithSourceTurns("t1"),
		core.WithMetadata(map[string]interface{}{"origin": "old", "kept": "yes"}),
		core.WithRelevanceScore(0.9),
	)
	incoming := core.NewMemoryEntry("User likes coding in Go",
		core.WithTags("coding", "golang"),
		core.WithLinks("l2"),
		core.WithSourceTurns("t2"),
		core.WithMetadata(map[string]interface{}{"origin": "new"}),
		core.WithRelevanceScore(0.4),
	)

	results, err := consolidator.Consolidate(ctx,
		[]*core.MemoryEntry{incoming}, []*core.MemoryEntry{existing})
	require.NoError(t, err)
	require.Len(t, results, 1)

	merged := results[0].Entry
	assert.Equal(t, []string{"preference", "coding", "golang"}, merged.Tags,
		"tags union keeps existing order, then new")
	assert.Equal(t, []string{"l1", "l2"}, merged.Links)
	assert.Equal(t, []string{"t1", "t2"}, merged.SourceTurns)
	assert.Equal(t, "new", merged.Metadata["origin"], "incoming metadata wins on collision")
	assert.Equal(t, "yes", merged.Metadata["kept"])
	assert.Equal(t, 0.9, merged.RelevanceScore, "relevance takes the maximum")
}

func TestConsolidateExactDuplicateIsNone(t *testing.T) {
	ctx := context.Background()
	stub := newEmbedderStub(nil, []float64{1, 0})
	consolidator, err := intelligence.NewSimilarityConsolidator(stub.embed, 0.85)
	require.NoError(t, err)

	existing := core.NewMemoryEntry("User likes coding")
	duplicate := core.NewMemoryEntry("User likes coding")

	results, err := consolidator.Consolidate(ctx,
		[]*core.MemoryEntry{duplicate}, []*core.MemoryEntry{existing})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, core.ActionNone, results[0].Action)
	assert.Nil(t, results[0].Entry)
	assert.Equal(t, 0, stub.callCount("User likes coding"),
		"hash duplicates must short-circuit before any embedding")
}

func TestConsolidateBelowThresholdAdds(t *testing.T) {
	ctx := context.Background()

	// Orthogonal vectors: similarity 0.
	stub := newEmbedderStub(map[string][]float64{
		"User likes coding":  {1, 0},
		"User lives in Oslo": {0, 1},
	}, nil)
	consolidator, err := intelligence.NewSimilarityConsolidator(stub.embed, 0.85)
	require.NoError(t, err)

	existing := core.NewMemoryEntry("User likes coding")
	incoming := core.NewMemoryEntry("User lives in Oslo")

	results, err := consolidator.Consolidate(ctx,
		[]*core.MemoryEntry{incoming}, []*core.MemoryEntry{existing})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, core.ActionAdd, results[0].Action)
	assert.Same(t, incoming, results[0].Entry, "added entries pass through unchanged")
}

func TestConsolidateEmptyStoreAddsEverything(t *testing.T) {
	ctx := context.Background()
	stub := newEmbedderStub(nil, []float64{1, 0})
	consolidator, err := intelligence.NewSimilarityConsolidator(stub.embed, 0.85)
	require.NoError(t, err)

	entries := []*core.MemoryEntry{
		core.NewMemoryEntry("first"),
		core.NewMemoryEntry("second"),
	}

	results, err := consolidator.Consolidate(ctx, entries, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, result := range results {
		assert.Equal(t, core.ActionAdd, result.Action)
		assert.Same(t, entries[i], result.Entry)
	}
}

func TestConsolidateCachesExistingEmbeddings(t *testing.T) {
	ctx := context.Background()
	stub := newEmbedderStub(map[string][]float64{
		"stored fact": {1, 0},
		"new fact":    {0, 1},
		"newer fact":  {0, 1},
	}, nil)
	consolidator, err := intelligence.NewSimilarityConsolidator(stub.embed, 0.85)
	require.NoError(t, err)

	existing := []*core.MemoryEntry{core.NewMemoryEntry("stored fact")}

	_, err = consolidator.Consolidate(ctx,
		[]*core.MemoryEntry{core.NewMemoryEntry("new fact")}, existing)
	require.NoError(t, err)
	_, err = consolidator.Consolidate(ctx,
		[]*core.MemoryEntry{core.NewMemoryEntry("newer fact")}, existing)
	require.NoError(t, err)

	assert.Equal(t, 1, stub.callCount("stored fact"),
		"existing entries are embedded once per consolidator lifetime")
	assert.Equal(t, 1, stub.callCount("new fact"))
	assert.Equal(t, 1, stub.callCount("newer fact"))
}

func TestConsolidateDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	stub := newEmbedderStub(map[string][]float64{
		"three dims": {1, 0, 0},
		"two dims":   {1, 0},
	}, nil)
	consolidator, err := intelligence.NewSimilarityConsolidator(stub.embed, 0.85)
	require.NoError(t, err)

	existing := core.NewMemoryEntry("two dims")
	incoming := core.NewMemoryEntry("three dims")

	_, err = consolidator.Consolidate(ctx,
		[]*core.MemoryEntry{incoming}, []*core.MemoryEntry{existing})

	assert.True(t, errors.Is(err, core.ErrDimensionMismatch),
		"mismatched vector lengths are a hard error")
}

func TestConsolidateEmbedErrorPropagates(t *testing.T) {
	ctx := context.Background()
	embedErr := errors.New("embedding service down")
	embed := func(ctx context.Context, text string) ([]float64, error) {
		return nil, embedErr
	}
	consolidator, err := intelligence.NewSimilarityConsolidator(embed, 0.85)
	require.NoError(t, err)

	_, err = consolidator.Consolidate(ctx,
		[]*core.MemoryEntry{core.NewMemoryEntry("anything")},
		[]*core.MemoryEntry{core.NewMemoryEntry("stored")})

	assert.True(t, errors.Is(err, embedErr))
}

func TestConsolidateZeroVectorScoresZero(t *testing.T) {
	ctx := context.Background()
	stub := newEmbedderStub(map[string][]float64{
		"silent": {0, 0},
	}, []float64{1, 0})
	consolidator, err := intelligence.NewSimilarityConsolidator(stub.embed, 0.85)
	require.NoError(t, err)

	existing := core.NewMemoryEntry("stored fact")
	incoming := core.NewMemoryEntry("silent")

	results, err := consolidator.Consolidate(ctx,
		[]*core.MemoryEntry{incoming}, []*core.MemoryEntry{existing})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, core.ActionAdd, results[0].Action)
}

func TestConsolidateOrderPreserved(t *testing.T) {
	ctx := context.Background()
	stub := newEmbedderStub(map[string][]float64{
		"User likes coding":        {1, 0},
		"User likes coding a lot!": {1, 0},
		"User lives in Oslo":       {0, 1},
	}, nil)
	consolidator, err := intelligence.NewSimilarityConsolidator(stub.embed, 0.85)
	require.NoError(t, err)

	existing := []*core.MemoryEntry{core.NewMemoryEntry("User likes coding")}
	incoming := []*core.MemoryEntry{
		core.NewMemoryEntry("User likes coding"),        // hash duplicate
		core.NewMemoryEntry("User likes coding a lot!"), // near duplicate
		core.NewMemoryEntry("User lives in Oslo"),       // novel
	}

	results, err := consolidator.Consolidate(ctx, incoming, existing)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, core.ActionNone, results[0].Action)
	assert.Equal(t, core.ActionUpdate, results[1].Action)
	assert.Equal(t, core.ActionAdd, results[2].Action)
}
