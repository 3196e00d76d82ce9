package graph

import (
	"context"
	"fmt"

	"github.com/memtide/memtide-go/pkg/core"
)

const (
	// DefaultMaxDepth is the graph traversal depth used when none is
	// configured.
	DefaultMaxDepth = 2

	// DefaultMaxItems caps the number of context items a retrieval
	// emits when none is configured.
	DefaultMaxItems = 5

	// retrievalPriority is the packing priority of graph-retrieved
	// memory items, one notch below live conversation turns.
	retrievalPriority = 6
)

// EntityExtractor pulls entity ids out of a query string. Applications
// supply their own, from a simple keyword table to an NER model.
type EntityExtractor func(query string) []string

// GraphRetriever answers queries by walking the entity graph: entities
// mentioned in the query lead to their graph neighborhoods, whose
// linked memory entries become context items.
type GraphRetriever struct {
	extractor EntityExtractor
	graph     *SimpleGraphMemory
	store     core.MemoryEntryStore
	maxDepth  int
	maxItems  int
}

// RetrieverOption configures a graph retriever at construction.
type RetrieverOption func(*GraphRetriever)

// WithMaxDepth bounds the traversal depth. The default is
// DefaultMaxDepth.
func WithMaxDepth(depth int) RetrieverOption {
	return func(r *GraphRetriever) {
		r.maxDepth = depth
	}
}

// WithMaxItems caps the number of emitted context items. The default is
// DefaultMaxItems.
func WithMaxItems(items int) RetrieverOption {
	return func(r *GraphRetriever) {
		r.maxItems = items
	}
}

// NewGraphRetriever creates a retriever. The extractor, graph, and
// store are all required; depth and item caps must be positive.
//
// Example:
//
//	retriever, err := graph.NewGraphRetriever(extractEntities, g, store,
//	    graph.WithMaxDepth(2),
//	    graph.WithMaxItems(5),
//	)
func NewGraphRetriever(extractor EntityExtractor, g *SimpleGraphMemory, store core.MemoryEntryStore, opts ...RetrieverOption) (*GraphRetriever, error) {
	if extractor == nil {
		return nil, core.NewMemoryError("new_graph_retriever",
			fmt.Errorf("%w: entity extractor is required", core.ErrInvalidConfig))
	}
	if g == nil {
		return nil, core.NewMemoryError("new_graph_retriever",
			fmt.Errorf("%w: graph is required", core.ErrInvalidConfig))
	}
	if store == nil {
		return nil, core.NewMemoryError("new_graph_retriever",
			fmt.Errorf("%w: store is required", core.ErrInvalidConfig))
	}

	r := &GraphRetriever{
		extractor: extractor,
		graph:     g,
		store:     store,
		maxDepth:  DefaultMaxDepth,
		maxItems:  DefaultMaxItems,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxDepth <= 0 {
		return nil, core.NewMemoryError("new_graph_retriever",
			fmt.Errorf("%w: max depth %d must be positive", core.ErrInvalidConfig, r.maxDepth))
	}
	if r.maxItems <= 0 {
		return nil, core.NewMemoryError("new_graph_retriever",
			fmt.Errorf("%w: max items %d must be positive", core.ErrInvalidConfig, r.maxItems))
	}
	return r, nil
}

// Retrieve turns a query into memory-backed context items. Entities
// extracted from the query are expanded to their neighborhoods; the
// union of linked memory ids (first-seen order) is resolved against the
// store in one listing. Ids that no longer resolve are skipped: the
// graph holds weak references and entries may have been pruned.
func (r *GraphRetriever) Retrieve(ctx context.Context, query string) ([]core.ContextItem, error) {
	entities := r.extractor(query)
	if len(entities) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var memoryIDs []string
	for _, entity := range entities {
		for _, id := range r.graph.RelatedMemoryIDs(entity, r.maxDepth) {
			if seen[id] {
				continue
			}
			seen[id] = true
			memoryIDs = append(memoryIDs, id)
		}
	}
	if len(memoryIDs) == 0 {
		return nil, nil
	}

	entries, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, core.NewMemoryError("graph_retrieve", err)
	}
	byID := make(map[string]*core.MemoryEntry, len(entries))
	for _, entry := range entries {
		byID[entry.ID] = entry
	}

	items := make([]core.ContextItem, 0, r.maxItems)
	for _, id := range memoryIDs {
		if len(items) >= r.maxItems {
			break
		}
		entry, ok := byID[id]
		if !ok {
			continue
		}
		items = append(items, core.NewContextItem(
			entry.Content,
			core.SourceMemory,
			entry.RelevanceScore,
			retrievalPriority,
			0,
			map[string]interface{}{
				"memory_id":   entry.ID,
				"memory_type": string(entry.MemoryType),
				"tags":        append([]string(nil), entry.Tags...),
				"source":      "graph_retrieval",
			},
			entry.CreatedAt,
		))
	}
	return items, nil
}
