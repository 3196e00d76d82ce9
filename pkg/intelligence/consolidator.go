package intelligence

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/memtide/memtide-go/pkg/core"
)

// DefaultSimilarityThreshold is the cosine similarity at or above which
// two entries are treated as the same fact.
const DefaultSimilarityThreshold = 0.85

// EmbedFunc produces an embedding vector for a text. An
// embedder.Provider's Embed method satisfies it directly.
type EmbedFunc func(ctx context.Context, text string) ([]float64, error)

// SimilarityConsolidator reconciles new entries against the existing
// store by embedding similarity: exact content-hash duplicates are
// dropped, near-duplicates above the threshold are merged into the
// existing entry, and everything else is added as new.
//
// Embeddings of existing entries are cached per entry id for the
// lifetime of the consolidator. New entries are embedded on every call:
// they have no identity in the store yet.
type SimilarityConsolidator struct {
	embedFn   EmbedFunc
	threshold float64

	mu    sync.Mutex
	cache map[string][]float64
}

// NewSimilarityConsolidator creates a consolidator. embedFn is
// required; threshold must lie in [0, 1].
//
// Example:
//
//	consolidator, err := intelligence.NewSimilarityConsolidator(
//	    provider.Embed,
//	    intelligence.DefaultSimilarityThreshold,
//	)
func NewSimilarityConsolidator(embedFn EmbedFunc, threshold float64) (*SimilarityConsolidator, error) {
	if embedFn == nil {
		return nil, core.NewMemoryError("new_similarity_consolidator",
			fmt.Errorf("%w: embed function is required", core.ErrInvalidConfig))
	}
	if threshold < 0 || threshold > 1 {
		return nil, core.NewMemoryError("new_similarity_consolidator",
			fmt.Errorf("%w: similarity threshold %v outside [0, 1]", core.ErrInvalidConfig, threshold))
	}
	return &SimilarityConsolidator{
		embedFn:   embedFn,
		threshold: threshold,
		cache:     make(map[string][]float64),
	}, nil
}

// Consolidate returns one decision per new entry, in input order. Every
// new entry is compared against the same existing snapshot; decisions
// within one call do not see each other.
func (c *SimilarityConsolidator) Consolidate(ctx context.Context, newEntries, existing []*core.MemoryEntry) ([]core.ConsolidationResult, error) {
	results := make([]core.ConsolidationResult, 0, len(newEntries))

	for _, entry := range newEntries {
		if hasHashDuplicate(entry, existing) {
			results = append(results, core.ConsolidationResult{Action: core.ActionNone})
			continue
		}

		newVec, err := c.embedFn(ctx, entry.Content)
		if err != nil {
			return nil, core.NewMemoryError("consolidate", err)
		}

		var best *core.MemoryEntry
		bestScore := 0.0
		for _, candidate := range existing {
			vec, err := c.embeddingFor(ctx, candidate)
			if err != nil {
				return nil, core.NewMemoryError("consolidate", err)
			}
			score, err := cosineSimilarity(newVec, vec)
			if err != nil {
				return nil, core.NewMemoryError("consolidate", err)
			}
			if score > bestScore {
				bestScore = score
				best = candidate
			}
		}

		if best != nil && bestScore >= c.threshold {
			results = append(results, core.ConsolidationResult{
				Action: core.ActionUpdate,
				Entry:  mergeEntries(best, entry),
			})
			continue
		}
		results = append(results, core.ConsolidationResult{
			Action: core.ActionAdd,
			Entry:  entry,
		})
	}
	return results, nil
}

// embeddingFor returns the cached embedding for an existing entry,
// computing and caching it on first sight.
func (c *SimilarityConsolidator) embeddingFor(ctx context.Context, entry *core.MemoryEntry) ([]float64, error) {
	c.mu.Lock()
	vec, ok := c.cache[entry.ID]
	c.mu.Unlock()
	if ok {
		return vec, nil
	}

	vec, err := c.embedFn(ctx, entry.Content)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[entry.ID] = vec
	c.mu.Unlock()
	return vec, nil
}

// hasHashDuplicate reports whether any existing entry carries the same
// content hash.
func hasHashDuplicate(entry *core.MemoryEntry, existing []*core.MemoryEntry) bool {
	for _, candidate := range existing {
		if candidate.ContentHash == entry.ContentHash {
			return true
		}
	}
	return false
}

// mergeEntries folds a near-duplicate new entry into the existing one.
// The merged entry keeps the existing identity (id, CreatedAt,
// ContentHash, MemoryType, ExpiresAt, user and session scope,
// LastAccessed); only UpdatedAt is refreshed. The longer content wins,
// the new content on a length tie.
func mergeEntries(existing, incoming *core.MemoryEntry) *core.MemoryEntry {
	merged := existing.Clone()

	if len(incoming.Content) >= len(existing.Content) {
		merged.Content = incoming.Content
	}

	merged.Tags = unionStrings(existing.Tags, incoming.Tags)
	merged.Links = unionStrings(existing.Links, incoming.Links)
	merged.SourceTurns = unionStrings(existing.SourceTurns, incoming.SourceTurns)

	if merged.Metadata == nil {
		merged.Metadata = make(map[string]interface{}, len(incoming.Metadata))
	}
	for k, v := range incoming.Metadata {
		merged.Metadata[k] = v
	}

	merged.AccessCount = existing.AccessCount + 1
	merged.RelevanceScore = math.Max(existing.RelevanceScore, incoming.RelevanceScore)
	merged.UpdatedAt = time.Now()
	return merged
}

// unionStrings merges two string slices keeping first-occurrence order,
// existing values first.
func unionStrings(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	union := make([]string, 0, len(existing)+len(incoming))
	for _, lists := range [][]string{existing, incoming} {
		for _, v := range lists {
			if seen[v] {
				continue
			}
			seen[v] = true
			union = append(union, v)
		}
	}
	return union
}

// cosineSimilarity returns the cosine of the angle between two vectors.
// Mismatched lengths are a hard error, never silently truncated; a zero
// vector scores 0 against everything.
func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", core.ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
