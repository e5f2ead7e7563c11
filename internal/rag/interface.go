// Package rag defines the retrieval-augmented-generation components of the
// core: vector storage, embedding, and intent-routed retrieval. Concrete
// implementations (Qdrant, etc.) satisfy these interfaces so the pipeline
// layer never depends on a specific backend.
package rag

import (
	"context"
)

// Collection names, one per reference dataset. Every intent routes to one or
// more of these; CollectionAdvisory is the generic fallback.
const (
	CollectionPrices      = "prices"
	CollectionSoil        = "soil"
	CollectionPestControl = "pest_control"
	CollectionFertilizers = "fertilizers"
	CollectionSchemes     = "schemes"
	CollectionAdvisory    = "advisory"
)

// AllCollections lists every known collection name.
func AllCollections() []string {
	return []string{
		CollectionPrices,
		CollectionSoil,
		CollectionPestControl,
		CollectionFertilizers,
		CollectionSchemes,
		CollectionAdvisory,
	}
}

// Document represents a unit of retrieved or stored knowledge.
type Document struct {
	// ID is the unique identifier for this document.
	ID string

	// Text is the raw text content.
	Text string

	// Metadata holds key-value pairs from the per-collection vocabulary
	// (crop, market, district, season, source_collection, ...).
	Metadata map[string]string

	// Score is the similarity score assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// VectorStore is the interface for persisting and searching document
// embeddings across named collections.
// Implementations must be safe to call from multiple goroutines; writes to a
// single collection are expected to come from a single writer at a time.
type VectorStore interface {
	// CreateCollection ensures a collection with the given name and embedding
	// dimension exists. Idempotent; fails with a DimensionConflict fault when
	// the collection already exists with a different dimension.
	CreateCollection(ctx context.Context, name string, dim int) error

	// Upsert stores or updates a batch of documents with their pre-computed
	// embeddings. embeddings[i] is the vector for docs[i]. The batch is
	// validated before any write: a vector whose length differs from the
	// collection dimension fails the whole batch with a ShapeMismatch fault.
	Upsert(ctx context.Context, name string, docs []Document, embeddings [][]float32) error

	// Search returns up to topK documents ordered by descending cosine
	// similarity. filter is a conjunction of equality predicates on metadata;
	// nil or empty means unconstrained. topK=0 returns an empty slice without
	// error. A missing collection fails with a NotFound fault.
	Search(ctx context.Context, name string, queryEmbedding []float32, topK int, filter map[string]string) ([]Document, error)

	// Rebuild atomically replaces the collection's contents with the given
	// documents. Concurrent readers observe either the old version or the new
	// one, never a partial state.
	Rebuild(ctx context.Context, name string, dim int, docs []Document, embeddings [][]float32) error

	// ListCollections returns a snapshot of known collection names.
	ListCollections(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
