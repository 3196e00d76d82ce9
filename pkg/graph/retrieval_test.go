package graph_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtide/memtide-go/pkg/core"
	"github.com/memtide/memtide-go/pkg/graph"
	"github.com/memtide/memtide-go/pkg/storage/jsonstore"
)

// knownEntities extracts any of the given entity ids mentioned in the
// query, in the order given.
func knownEntities(ids ...string) graph.EntityExtractor {
	return func(query string) []string {
		lowered := strings.ToLower(query)
		var found []string
		for _, id := range ids {
			if strings.Contains(lowered, id) {
				found = append(found, id)
			}
		}
		return found
	}
}

func TestNewGraphRetrieverValidation(t *testing.T) {
	extractor := knownEntities("alice")
	g := graph.NewSimpleGraphMemory()
	store := jsonstore.NewMemoryStore()

	tests := []struct {
		name    string
		build   func() (*graph.GraphRetriever, error)
		wantErr bool
	}{
		{
			name: "valid",
			build: func() (*graph.GraphRetriever, error) {
				return graph.NewGraphRetriever(extractor, g, store)
			},
		},
		{
			name: "nil extractor",
			build: func() (*graph.GraphRetriever, error) {
				return graph.NewGraphRetriever(nil, g, store)
			},
			wantErr: true,
		},
		{
			name: "nil graph",
			build: func() (*graph.GraphRetriever, error) {
				return graph.NewGraphRetriever(extractor, nil, store)
			},
			wantErr: true,
		},
		{
			name: "nil store",
			build: func() (*graph.GraphRetriever, error) {
				return graph.NewGraphRetriever(extractor, g, nil)
			},
			wantErr: true,
		},
		{
			name: "zero depth",
			build: func() (*graph.GraphRetriever, error) {
				return graph.NewGraphRetriever(extractor, g, store, graph.WithMaxDepth(0))
			},
			wantErr: true,
		},
		{
			name: "negative item cap",
			build: func() (*graph.GraphRetriever, error) {
				return graph.NewGraphRetriever(extractor, g, store, graph.WithMaxItems(-1))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			if tt.wantErr {
				assert.True(t, errors.Is(err, core.ErrInvalidConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetrieveProjectsNeighborhood(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	aliceFact := core.NewMemoryEntry("Alice prefers morning meetings",
		core.WithID("mem-alice"),
		core.WithRelevanceScore(0.8),
		core.WithTags("preference"),
	)
	projectFact := core.NewMemoryEntry("Project X ships in March",
		core.WithID("mem-project"),
		core.WithRelevanceScore(0.6),
	)
	require.NoError(t, store.Add(ctx, aliceFact))
	require.NoError(t, store.Add(ctx, projectFact))

	g := graph.NewSimpleGraphMemory()
	g.AddRelationship("alice", "works_on", "project-x")
	require.NoError(t, g.LinkMemory("alice", "mem-alice"))
	require.NoError(t, g.LinkMemory("project-x", "mem-project"))

	retriever, err := graph.NewGraphRetriever(knownEntities("alice"), g, store)
	require.NoError(t, err)

	items, err := retriever.Retrieve(ctx, "what does alice prefer?")
	require.NoError(t, err)
	require.Len(t, items, 2, "the neighborhood's memories come along")

	first := items[0]
	assert.Equal(t, "Alice prefers morning meetings", first.Content)
	assert.Equal(t, core.SourceMemory, first.Source)
	assert.Equal(t, 0.8, first.Score, "the score is the entry's relevance")
	assert.Equal(t, 6, first.Priority, "graph items rank below live turns")
	assert.Equal(t, "mem-alice", first.Metadata["memory_id"])
	assert.Equal(t, "semantic", first.Metadata["memory_type"])
	assert.Equal(t, []string{"preference"}, first.Metadata["tags"])
	assert.Equal(t, "graph_retrieval", first.Metadata["source"])
	assert.Equal(t, aliceFact.CreatedAt, first.CreatedAt)

	assert.Equal(t, "Project X ships in March", items[1].Content)
}

func TestRetrieveNoEntitiesNoItems(t *testing.T) {
	store := jsonstore.NewMemoryStore()
	g := graph.NewSimpleGraphMemory()

	retriever, err := graph.NewGraphRetriever(knownEntities("alice"), g, store)
	require.NoError(t, err)

	items, err := retriever.Retrieve(context.Background(), "nothing recognizable here")
	assert.NoError(t, err)
	assert.Nil(t, items)
}

func TestRetrieveSkipsDanglingLinks(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	kept := core.NewMemoryEntry("still here", core.WithID("mem-kept"))
	require.NoError(t, store.Add(ctx, kept))

	g := graph.NewSimpleGraphMemory()
	g.AddEntity("alice", nil)
	require.NoError(t, g.LinkMemory("alice", "mem-pruned"))
	require.NoError(t, g.LinkMemory("alice", "mem-kept"))

	retriever, err := graph.NewGraphRetriever(knownEntities("alice"), g, store)
	require.NoError(t, err)

	items, err := retriever.Retrieve(ctx, "tell me about alice")
	require.NoError(t, err)
	require.Len(t, items, 1, "links to pruned entries are skipped quietly")
	assert.Equal(t, "still here", items[0].Content)
}

func TestRetrieveSkipsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	expired := core.NewMemoryEntry("gone soon", core.WithID("mem-expired"),
		core.WithExpiresAt(time.Now().Add(-time.Minute)))
	require.NoError(t, store.Add(ctx, expired))

	g := graph.NewSimpleGraphMemory()
	g.AddEntity("alice", nil)
	require.NoError(t, g.LinkMemory("alice", "mem-expired"))

	retriever, err := graph.NewGraphRetriever(knownEntities("alice"), g, store)
	require.NoError(t, err)

	items, err := retriever.Retrieve(ctx, "alice?")
	assert.NoError(t, err)
	assert.Empty(t, items)
}

func TestRetrieveHonorsItemCap(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()
	g := graph.NewSimpleGraphMemory()
	g.AddEntity("alice", nil)

	for _, id := range []string{"mem-1", "mem-2", "mem-3"} {
		require.NoError(t, store.Add(ctx, core.NewMemoryEntry("fact "+id, core.WithID(id))))
		require.NoError(t, g.LinkMemory("alice", id))
	}

	retriever, err := graph.NewGraphRetriever(knownEntities("alice"), g, store,
		graph.WithMaxItems(2))
	require.NoError(t, err)

	items, err := retriever.Retrieve(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "fact mem-1", items[0].Content)
	assert.Equal(t, "fact mem-2", items[1].Content)
}

func TestRetrieveHonorsDepth(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("near", core.WithID("mem-near"))))
	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("far", core.WithID("mem-far"))))

	g := graph.NewSimpleGraphMemory()
	g.AddRelationship("alice", "knows", "bob")
	g.AddRelationship("bob", "knows", "carol")
	require.NoError(t, g.LinkMemory("bob", "mem-near"))
	require.NoError(t, g.LinkMemory("carol", "mem-far"))

	shallow, err := graph.NewGraphRetriever(knownEntities("alice"), g, store,
		graph.WithMaxDepth(1))
	require.NoError(t, err)

	items, err := shallow.Retrieve(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "near", items[0].Content)

	deep, err := graph.NewGraphRetriever(knownEntities("alice"), g, store,
		graph.WithMaxDepth(2))
	require.NoError(t, err)

	items, err = deep.Retrieve(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRetrieveMergesEntityNeighborhoods(t *testing.T) {
	ctx := context.Background()
	store := jsonstore.NewMemoryStore()

	require.NoError(t, store.Add(ctx, core.NewMemoryEntry("shared fact", core.WithID("mem-shared"))))

	g := graph.NewSimpleGraphMemory()
	g.AddEntity("alice", nil)
	g.AddEntity("bob", nil)
	require.NoError(t, g.LinkMemory("alice", "mem-shared"))
	require.NoError(t, g.LinkMemory("bob", "mem-shared"))

	retriever, err := graph.NewGraphRetriever(knownEntities("alice", "bob"), g, store)
	require.NoError(t, err)

	items, err := retriever.Retrieve(ctx, "alice and bob")
	require.NoError(t, err)
	assert.Len(t, items, 1, "a memory reachable from several entities appears once")
}
