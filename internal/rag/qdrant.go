package rag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/DevjeetSahu/agriquery-go/internal/fault"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
//
// Every logical collection name is a Qdrant alias pointing at a versioned
// physical collection. Rebuild populates a fresh physical collection and
// repoints the alias in a single alias-update request, so concurrent readers
// always observe either the old set or the new one — never a partial state.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// mu guards dims.
	mu sync.Mutex
	// dims caches the declared embedding dimension per logical collection so
	// shape validation does not need a round-trip on every upsert.
	dims map[string]int
}

// NewQdrantStore creates a new QdrantStore and verifies connectivity.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, dims: make(map[string]int)}, nil
}

// physicalName returns a fresh versioned physical collection name for the
// given logical name.
func physicalName(name string) string {
	return fmt.Sprintf("%s__v%d", name, time.Now().UnixNano())
}

// resolve returns the physical collection backing the logical name, or a
// NotFound fault when no alias with that name exists.
func (s *QdrantStore) resolve(ctx context.Context, name string) (string, error) {
	aliases, err := s.client.ListAliases(ctx)
	if err != nil {
		return "", fmt.Errorf("qdrant: failed to list aliases: %w", err)
	}
	for _, a := range aliases {
		if a.GetAliasName() == name {
			return a.GetCollectionName(), nil
		}
	}
	return "", fault.New(fault.KindNotFound, "collection %q does not exist", name)
}

// dimension returns the embedding dimension of the logical collection,
// consulting the local cache first.
func (s *QdrantStore) dimension(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	if d, ok := s.dims[name]; ok {
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	phys, err := s.resolve(ctx, name)
	if err != nil {
		return 0, err
	}
	info, err := s.client.GetCollectionInfo(ctx, phys)
	if err != nil {
		return 0, fmt.Errorf("qdrant: failed to read collection info for %q: %w", name, err)
	}
	d := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()) //nolint:gosec // dimensions are small

	s.mu.Lock()
	s.dims[name] = d
	s.mu.Unlock()
	return d, nil
}

// CreateCollection ensures the logical collection exists with the given
// dimension. Idempotent; an existing collection with a different dimension
// fails with DimensionConflict.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fault.New(fault.KindInvalidArgument, "dimension must be positive, got %d", dim)
	}

	switch _, err := s.resolve(ctx, name); {
	case err == nil:
		existing, derr := s.dimension(ctx, name)
		if derr != nil {
			return derr
		}
		if existing != dim {
			return fault.New(fault.KindDimensionConflict,
				"collection %q exists with dimension %d, requested %d", name, existing, dim)
		}
		return nil
	case !fault.Is(err, fault.KindNotFound):
		return err
	}

	phys := physicalName(name)
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: phys,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim), //nolint:gosec // dim validated positive above
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}

	if err := s.client.CreateAlias(ctx, name, phys); err != nil {
		return fmt.Errorf("qdrant: failed to alias collection %q: %w", name, err)
	}

	s.mu.Lock()
	s.dims[name] = dim
	s.mu.Unlock()
	return nil
}

// Upsert stores or updates a batch of documents. The whole batch is shape-
// validated before any point is written so a partial batch is never visible.
func (s *QdrantStore) Upsert(ctx context.Context, name string, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fault.New(fault.KindInvalidArgument,
			"docs and embeddings must be parallel: %d vs %d", len(docs), len(embeddings))
	}
	if len(docs) == 0 {
		return nil
	}

	dim, err := s.dimension(ctx, name)
	if err != nil {
		return err
	}
	for i, emb := range embeddings {
		if len(emb) != dim {
			return fault.New(fault.KindShapeMismatch,
				"embedding %d has length %d, collection %q expects %d", i, len(emb), name, dim)
		}
	}

	phys, err := s.resolve(ctx, name)
	if err != nil {
		return err
	}
	return s.upsertPoints(ctx, phys, docs, embeddings)
}

// upsertPoints writes the batch into the named physical collection.
func (s *QdrantStore) upsertPoints(ctx context.Context, phys string, docs []Document, embeddings [][]float32) error {
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]interface{}{
			"text": doc.Text,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}

		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: phys,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert into %q failed: %w", phys, err)
	}
	return nil
}

// Search performs a cosine similarity search and returns up to topK results
// ordered by descending score. filter is a conjunction of metadata equality
// predicates.
func (s *QdrantStore) Search(ctx context.Context, name string, queryEmbedding []float32, topK int, filter map[string]string) ([]Document, error) {
	if topK < 0 {
		return nil, fault.New(fault.KindInvalidArgument, "topK must be non-negative, got %d", topK)
	}
	if topK == 0 {
		return []Document{}, nil
	}

	phys, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	limit := uint64(topK)
	query := &qdrant.QueryPoints{
		CollectionName: phys,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if f := buildFilter(filter); f != nil {
		query.Filter = f
	}

	results, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search in %q failed: %w", name, err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		doc := Document{
			ID:       r.GetId().GetUuid(),
			Score:    r.GetScore(),
			Metadata: make(map[string]string),
		}
		for k, v := range r.GetPayload() {
			if k == "text" {
				doc.Text = v.GetStringValue()
				continue
			}
			doc.Metadata[k] = v.GetStringValue()
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// buildFilter converts a metadata equality map into a Qdrant conjunction
// filter. Returns nil for an empty map.
func buildFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: must}
}

// Rebuild populates a fresh physical collection with the given documents and
// atomically repoints the logical alias at it. The previous physical
// collection is dropped after the swap.
func (s *QdrantStore) Rebuild(ctx context.Context, name string, dim int, docs []Document, embeddings [][]float32) error {
	if dim <= 0 {
		return fault.New(fault.KindInvalidArgument, "dimension must be positive, got %d", dim)
	}
	if len(docs) != len(embeddings) {
		return fault.New(fault.KindInvalidArgument,
			"docs and embeddings must be parallel: %d vs %d", len(docs), len(embeddings))
	}
	for i, emb := range embeddings {
		if len(emb) != dim {
			return fault.New(fault.KindShapeMismatch,
				"embedding %d has length %d, rebuild of %q expects %d", i, len(emb), name, dim)
		}
	}

	oldPhys, _ := s.resolve(ctx, name) // empty when the collection is new

	newPhys := physicalName(name)
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: newPhys,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim), //nolint:gosec // dim validated positive above
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: rebuild of %q failed to create staging collection: %w", name, err)
	}

	if err := s.upsertPoints(ctx, newPhys, docs, embeddings); err != nil {
		// Best-effort cleanup of the orphaned staging collection.
		_ = s.client.DeleteCollection(ctx, newPhys)
		return err
	}

	// Repoint the alias in a single request — the swap is atomic on the
	// server, which is what keeps concurrent readers consistent.
	actions := []*qdrant.AliasOperations{}
	if oldPhys != "" {
		actions = append(actions, &qdrant.AliasOperations{
			Action: &qdrant.AliasOperations_DeleteAlias{
				DeleteAlias: &qdrant.DeleteAlias{AliasName: name},
			},
		})
	}
	actions = append(actions, &qdrant.AliasOperations{
		Action: &qdrant.AliasOperations_CreateAlias{
			CreateAlias: &qdrant.CreateAlias{AliasName: name, CollectionName: newPhys},
		},
	})
	if err := s.client.UpdateAliases(ctx, actions); err != nil {
		_ = s.client.DeleteCollection(ctx, newPhys)
		return fmt.Errorf("qdrant: rebuild of %q failed to swap alias: %w", name, err)
	}

	s.mu.Lock()
	s.dims[name] = dim
	s.mu.Unlock()

	if oldPhys != "" {
		if err := s.client.DeleteCollection(ctx, oldPhys); err != nil {
			// The alias already points at the new data. The old physical
			// collection stays behind; later rebuilds drop only the
			// collection the alias points at, so it is not cleaned up here.
			return fmt.Errorf("qdrant: rebuild of %q succeeded but dropping %q failed: %w", name, oldPhys, err)
		}
	}
	return nil
}

// ListCollections returns the logical (aliased) collection names.
func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	aliases, err := s.client.ListAliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to list aliases: %w", err)
	}
	names := make([]string, 0, len(aliases))
	for _, a := range aliases {
		names = append(names, a.GetAliasName())
	}
	return names, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Ping checks Qdrant reachability for readiness probes.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.ListCollections(ctx); err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}
	return nil
}

// Name returns the probe label for readiness responses.
func (s *QdrantStore) Name() string { return "qdrant" }
