package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/DevjeetSahu/agriquery-go/internal/budget"
	"github.com/DevjeetSahu/agriquery-go/internal/intent"
	"github.com/DevjeetSahu/agriquery-go/internal/logging"
)

// contextSeparator joins retrieved payloads in the assembled context.
const contextSeparator = "\n---\n"

// WeatherProvider is the external weather collaborator consulted for
// weather-intent queries instead of the vector store. The real proxy lives
// outside the core; tests and offline deployments inject a static stub.
type WeatherProvider interface {
	// Lookup returns weather observations for the given district as a hit
	// set. district may be empty (provider default location).
	Lookup(ctx context.Context, district string) ([]Document, error)
}

// Context is the assembled evidence for one query.
type Context struct {
	// Hits are the retained documents, ordered by descending score.
	Hits []Document
	// AssembledText is the concatenation of hit payloads, capped at the
	// retriever's byte budget. Empty when nothing was retrieved.
	AssembledText string
	// Collections lists the collections that contributed hits.
	Collections []string
}

// Empty reports whether the retrieval produced no evidence.
func (c *Context) Empty() bool { return len(c.Hits) == 0 }

// Retriever assembles evidence for a query given its intent. Routing is
// declarative (see routing.go); fan-out searches run against the shared
// vector store with per-collection score normalization before merging.
// It is safe for concurrent use.
type Retriever struct {
	// embedder converts query text to a dense vector, once per query.
	embedder Embedder
	// store performs the vector similarity searches.
	store VectorStore
	// weather is the external collaborator for weather intents. May be nil,
	// in which case weather queries return an empty context.
	weather WeatherProvider
	// defaultTopK is the global top-k budget when the caller passes 0.
	defaultTopK int
	// contextBytes caps the assembled context size.
	contextBytes int
}

// RetrieverConfig holds the construction parameters for a Retriever.
type RetrieverConfig struct {
	// Embedder is the shared embedding function.
	Embedder Embedder
	// Store is the shared vector store.
	Store VectorStore
	// Weather is the optional weather collaborator.
	Weather WeatherProvider
	// DefaultTopK is the fallback top-k budget. Defaults to 5.
	DefaultTopK int
	// ContextBytes is the assembled-context byte budget. Defaults to 8 KiB.
	ContextBytes int
}

// NewRetriever constructs a Retriever from the given config.
func NewRetriever(cfg *RetrieverConfig) (*Retriever, error) {
	if cfg == nil || cfg.Embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}

	topK := cfg.DefaultTopK
	if topK <= 0 {
		topK = 5
	}
	ctxBytes := cfg.ContextBytes
	if ctxBytes <= 0 {
		ctxBytes = budget.DefaultContextBytes
	}

	return &Retriever{
		embedder:     cfg.Embedder,
		store:        cfg.Store,
		weather:      cfg.Weather,
		defaultTopK:  topK,
		contextBytes: ctxBytes,
	}, nil
}

// Retrieve assembles the retrieval context for a query and its decision.
// topK=0 selects the configured default. An empty context is a valid result
// and is surfaced honestly; per-collection failures during fan-out degrade
// the context rather than failing the query, as long as at least one
// collection responds.
func (r *Retriever) Retrieve(ctx context.Context, query string, dec intent.Decision, topK int) (*Context, error) {
	if topK < 0 {
		topK = 0
	}
	if topK == 0 {
		topK = r.defaultTopK
	}

	if dec.Label == intent.LabelWeather {
		return r.retrieveWeather(ctx, dec)
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}
	queryVec := embeddings[0]

	collections := routesFor(dec.Label)
	ks := splitTopK(topK, len(collections))

	log := logging.FromContext(ctx)

	// Fan out, keeping per-collection result sets separate so scores can be
	// normalized before merging.
	perCollection := make([][]Document, 0, len(collections))
	contributed := make([]string, 0, len(collections))
	var firstErr error
	failures := 0

	for i, coll := range collections {
		docs, searchErr := r.store.Search(ctx, coll, queryVec, ks[i], filterFor(coll, dec.Entities))
		if searchErr != nil {
			failures++
			if firstErr == nil {
				firstErr = searchErr
			}
			log.Warn("rag: collection search failed, continuing fan-out",
				slog.String("collection", coll),
				slog.Any("error", searchErr),
			)
			continue
		}
		if len(docs) == 0 {
			continue
		}
		for j := range docs {
			if docs[j].Metadata == nil {
				docs[j].Metadata = map[string]string{}
			}
			docs[j].Metadata["source_collection"] = coll
		}
		perCollection = append(perCollection, docs)
		contributed = append(contributed, coll)
	}

	if failures == len(collections) && firstErr != nil {
		return nil, fmt.Errorf("rag: all %d collections failed: %w", failures, firstErr)
	}
	if failures > 0 {
		logging.Degraded(ctx, "rag: partial fan-out failure",
			slog.Int("failed", failures),
			slog.Int("total", len(collections)),
		)
	}

	merged := mergeScored(perCollection)
	if len(merged) > topK {
		merged = merged[:topK]
	}

	return r.assemble(merged, contributed), nil
}

// retrieveWeather delegates to the external weather collaborator.
func (r *Retriever) retrieveWeather(ctx context.Context, dec intent.Decision) (*Context, error) {
	if r.weather == nil {
		logging.Degraded(ctx, "rag: weather intent with no weather provider configured")
		return &Context{}, nil
	}

	docs, err := r.weather.Lookup(ctx, dec.Entities.District)
	if err != nil {
		return nil, fmt.Errorf("rag: weather lookup failed: %w", err)
	}
	return r.assemble(docs, []string{"weather"}), nil
}

// assemble formats the merged hits into the final Context, enforcing the
// byte budget by dropping lowest-scored items first.
func (r *Retriever) assemble(hits []Document, collections []string) *Context {
	if len(hits) == 0 {
		return &Context{Collections: collections}
	}

	items := make([]string, len(hits))
	for i, d := range hits {
		src := d.Metadata["source_collection"]
		if src == "" {
			src = collections[0]
		}
		items[i] = fmt.Sprintf("[%s] %s", src, d.Text)
	}

	kept := budget.TruncateItems(items, contextSeparator, r.contextBytes)
	if len(kept) < len(hits) {
		hits = hits[:len(kept)]
	}

	return &Context{
		Hits:          hits,
		AssembledText: strings.Join(kept, contextSeparator),
		Collections:   collections,
	}
}

// mergeScored merges per-collection result sets into a single list ordered
// by descending score. When more than one collection contributed, scores are
// min-max normalized per collection first so one collection's score scale
// cannot dominate the merge.
func mergeScored(perCollection [][]Document) []Document {
	if len(perCollection) == 0 {
		return nil
	}
	if len(perCollection) == 1 {
		out := append([]Document(nil), perCollection[0]...)
		sortByScore(out)
		return out
	}

	var merged []Document
	for _, docs := range perCollection {
		merged = append(merged, normalizeScores(docs)...)
	}
	sortByScore(merged)
	return merged
}

// normalizeScores min-max scales a collection's scores into [0,1].
// A single-document set (or a constant set) maps to 1.0.
func normalizeScores(docs []Document) []Document {
	if len(docs) == 0 {
		return docs
	}

	minScore, maxScore := docs[0].Score, docs[0].Score
	for _, d := range docs[1:] {
		if d.Score < minScore {
			minScore = d.Score
		}
		if d.Score > maxScore {
			maxScore = d.Score
		}
	}

	out := make([]Document, len(docs))
	span := maxScore - minScore
	for i, d := range docs {
		if span == 0 {
			d.Score = 1.0
		} else {
			d.Score = (d.Score - minScore) / span
		}
		out[i] = d
	}
	return out
}

// sortByScore orders documents by descending score, breaking ties by
// source collection then ID so results are deterministic.
func sortByScore(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		si, sj := docs[i].Metadata["source_collection"], docs[j].Metadata["source_collection"]
		if si != sj {
			return si < sj
		}
		return docs[i].ID < docs[j].ID
	})
}
