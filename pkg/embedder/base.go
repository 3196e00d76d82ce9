// Package embedder defines the text embedding boundary.
//
// Embeddings power similarity-based consolidation: the consolidator
// compares a new memory against stored ones in vector space. The core
// never calls an embedding API itself; it accepts a Provider (or just
// its Embed method) from the caller.
package embedder

import "context"

// Provider converts text into embedding vectors.
//
// A Provider's Embed method satisfies the consolidator's embedding
// function signature directly:
//
//	consolidator, err := intelligence.NewSimilarityConsolidator(provider.Embed)
type Provider interface {
	// Embed converts one text into its embedding vector.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts several texts in one request, returning one
	// vector per input in the same order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the width of the vectors this provider emits.
	Dimensions() int

	// Close releases any resources held by the provider.
	Close() error
}
