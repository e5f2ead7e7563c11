package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/DevjeetSahu/agriquery-go/internal/fault"
	"github.com/DevjeetSahu/agriquery-go/internal/logging"
	"github.com/DevjeetSahu/agriquery-go/internal/rag"
)

// embedBatchSize is the number of documents embedded per call. Batching
// amortizes per-request overhead without exceeding provider input limits.
const embedBatchSize = 32

// Rebuilder embeds datasets and atomically replaces collection contents.
type Rebuilder struct {
	// embedder is the shared embedding function.
	embedder rag.Embedder
	// store is the shared vector store.
	store rag.VectorStore
	// dim is the embedding dimension, fixed at construction.
	dim int
	// dataDir is where dataset files live.
	dataDir string
}

// NewRebuilder constructs a Rebuilder. dim must match the embedder's output
// dimension; it becomes the dimension of every rebuilt collection.
func NewRebuilder(embedder rag.Embedder, store rag.VectorStore, dim int, dataDir string) (*Rebuilder, error) {
	if embedder == nil || store == nil {
		return nil, fmt.Errorf("ingestion: embedder and store must not be nil")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("ingestion: dimension must be positive, got %d", dim)
	}
	return &Rebuilder{embedder: embedder, store: store, dim: dim, dataDir: dataDir}, nil
}

// Rebuild embeds one dataset and replaces its collection in a single logical
// step. An empty dataset produces an empty (but existing) collection.
func (r *Rebuilder) Rebuild(ctx context.Context, ds *Dataset) error {
	log := logging.FromContext(ctx)

	embeddings, err := r.embedAll(ctx, ds.Documents)
	if err != nil {
		return err
	}

	if err := r.store.Rebuild(ctx, ds.Collection, r.dim, ds.Documents, embeddings); err != nil {
		return fmt.Errorf("ingestion: rebuild of %q failed: %w", ds.Collection, err)
	}

	log.Info("ingestion: collection rebuilt",
		slog.String("collection", ds.Collection),
		slog.Int("documents", len(ds.Documents)),
	)
	return nil
}

// RebuildCollections rebuilds the named collections from the data directory,
// or, when names is empty, every known collection that has a dataset file
// there. Returns the collections rebuilt, sorted.
func (r *Rebuilder) RebuildCollections(ctx context.Context, names []string) ([]string, error) {
	datasets, err := LoadDir(r.dataDir)
	if err != nil {
		return nil, err
	}

	targets := names
	if len(targets) == 0 {
		targets = make([]string, 0, len(datasets))
		for name := range datasets {
			targets = append(targets, name)
		}
	}

	rebuilt := make([]string, 0, len(targets))
	for _, name := range targets {
		ds, ok := datasets[name]
		if !ok {
			return nil, fault.New(fault.KindNotFound,
				"no dataset file for collection %q under %s", name, r.dataDir)
		}
		if err := r.Rebuild(ctx, ds); err != nil {
			return rebuilt, err
		}
		rebuilt = append(rebuilt, name)
	}

	sort.Strings(rebuilt)
	return rebuilt, nil
}

// embedAll embeds the documents in batches. The returned slice is parallel
// to docs.
func (r *Rebuilder) embedAll(ctx context.Context, docs []rag.Document) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(docs))

	for start := 0; start < len(docs); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(docs) {
			end = len(docs)
		}

		texts := make([]string, 0, end-start)
		for _, d := range docs[start:end] {
			texts = append(texts, d.Text)
		}

		batch, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("ingestion: embedding batch [%d:%d] failed: %w", start, end, err)
		}
		embeddings = append(embeddings, batch...)
	}

	return embeddings, nil
}
