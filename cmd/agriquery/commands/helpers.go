package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/DevjeetSahu/agriquery-go/internal/embedder"
	"github.com/DevjeetSahu/agriquery-go/internal/engine"
	"github.com/DevjeetSahu/agriquery-go/internal/history"
	"github.com/DevjeetSahu/agriquery-go/internal/ingestion"
	"github.com/DevjeetSahu/agriquery-go/internal/intent"
	"github.com/DevjeetSahu/agriquery-go/internal/llm"
	"github.com/DevjeetSahu/agriquery-go/internal/pipeline"
	"github.com/DevjeetSahu/agriquery-go/internal/provider"
	"github.com/DevjeetSahu/agriquery-go/internal/rag"
	"github.com/DevjeetSahu/agriquery-go/internal/server"
	"github.com/DevjeetSahu/agriquery-go/internal/weather"
	"github.com/DevjeetSahu/agriquery-go/internal/workflow"
)

// coreComponents bundles everything a command needs to drive the engine,
// plus the teardown function releasing stores and background goroutines.
type coreComponents struct {
	// Engine is the callable core surface.
	Engine *engine.Engine
	// History is the answer log, nil when disabled.
	History history.Store
	// Pingers are the readiness probes for the serve command.
	Pingers []server.Pinger
	// Close releases every owned resource. Always safe to call.
	Close func()
}

// buildCore wires the full dependency graph: embedder singleton, Qdrant
// store, retriever, provider-backed LLM client, classifier, pipeline,
// workflow manager, rebuilder, and history store.
func buildCore(ctx context.Context, log *slog.Logger) (*coreComponents, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*coreComponents, error) {
		closeAll()
		return nil, err
	}

	// Embedding function — process-wide, initialized once with a warmup.
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	embBackend := embedder.ResolveBackend()
	dims := embedder.DefaultDimensions(embBackend)
	log.Info("embedder initialised",
		slog.String("provider", embBackend),
		slog.Int("dimensions", dims),
	)

	// Vector store.
	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:   getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:   getEnvInt("QDRANT_PORT", 6334),
		APIKey: os.Getenv("QDRANT_API_KEY"),
		UseTLS: os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return fail(fmt.Errorf("failed to connect to Qdrant: %w", err))
	}
	closers = append(closers, func() { _ = store.Close() })

	// Retriever with the static weather fallback.
	retriever, err := rag.NewRetriever(&rag.RetrieverConfig{
		Embedder:     emb,
		Store:        store,
		Weather:      weather.NewStatic(),
		DefaultTopK:  getEnvInt("RETRIEVAL_TOP_K", 5),
		ContextBytes: getEnvInt("CONTEXT_BYTE_BUDGET", 8192),
	})
	if err != nil {
		return fail(err)
	}

	// Chat model + LLM client.
	providerCfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return fail(fmt.Errorf("failed to initialise model provider: %w", err))
	}
	log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

	llmClient, err := llm.New(&llm.Config{
		ChatModel: chatModel,
		RetryMax:  getEnvInt("LLM_RETRY_MAX", llm.DefaultRetryMax),
		RetryBase: time.Duration(getEnvInt("LLM_RETRY_BASE_MS", llm.DefaultRetryBaseMS)) * time.Millisecond,
		RetryCap:  time.Duration(getEnvInt("LLM_RETRY_CAP_MS", llm.DefaultRetryCapMS)) * time.Millisecond,
	})
	if err != nil {
		return fail(err)
	}

	// Classifier and pipeline.
	classifier, err := intent.NewClassifier(llmClient)
	if err != nil {
		return fail(err)
	}
	pipe, err := pipeline.New(&pipeline.Config{
		Classifier: classifier,
		Retriever:  retriever,
		Generator:  llmClient,
		TopK:       getEnvInt("RETRIEVAL_TOP_K", 5),
	})
	if err != nil {
		return fail(err)
	}

	// Workflow manager owns its TTL reaper.
	manager, err := workflow.NewManager(&workflow.Config{
		Runner: pipe,
		TTL:    time.Duration(getEnvInt("WORKFLOW_TTL_SECONDS", 3600)) * time.Second,
		Cap:    getEnvInt("WORKFLOW_CAP", 10000),
		Logger: log,
	})
	if err != nil {
		return fail(err)
	}
	closers = append(closers, manager.Stop)

	// Rebuilder over the reference dataset directory.
	rebuilder, err := ingestion.NewRebuilder(emb, store, dims,
		getEnvOrDefault("AGRIQUERY_DATA_DIR", "data"))
	if err != nil {
		return fail(err)
	}

	// Answer history store. AGRIQUERY_HISTORY_DB overrides the default path;
	// "disabled" turns it off. Open failures degrade to no history.
	var hist history.Store
	dbPath := os.Getenv("AGRIQUERY_HISTORY_DB")
	switch dbPath {
	case "disabled":
		log.Info("history: disabled via AGRIQUERY_HISTORY_DB=disabled")
	default:
		if dbPath == "" {
			dbPath, err = history.DefaultDBPath()
			if err != nil {
				log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
				dbPath = ""
			}
		}
		if dbPath != "" {
			hs, hsErr := history.Open(dbPath)
			if hsErr != nil {
				log.Warn("history: failed to open store, disabling", slog.Any("error", hsErr))
			} else {
				hist = hs
				closers = append(closers, func() { _ = hs.Close() })
				log.Info("history: store opened", slog.String("path", dbPath))
			}
		}
	}

	eng, err := engine.New(&engine.Config{
		Pipeline:  pipe,
		Workflows: manager,
		Rebuilder: rebuilder,
		History:   hist,
	})
	if err != nil {
		return fail(err)
	}

	return &coreComponents{
		Engine:  eng,
		History: hist,
		Pingers: []server.Pinger{store, &embedderPinger{emb: emb}},
		Close:   closeAll,
	}, nil
}

// embedderPinger probes the embedding backend with a one-token embed.
type embedderPinger struct {
	emb rag.Embedder
}

// Ping embeds a single token to verify the backend is reachable.
func (p *embedderPinger) Ping(ctx context.Context) error {
	if _, err := p.emb.Embed(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("embedder unreachable: %w", err)
	}
	return nil
}

// Name returns the probe label for readiness responses.
func (p *embedderPinger) Name() string { return "embedder" }

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
