// Package pipeline implements single-shot query answering:
// classify → retrieve → prompt → generate. Complex queries are not executed
// here — the pipeline returns a workflow handoff and the caller drives the
// WorkflowManager. The same retrieve→prompt→generate mini-pipeline backs
// workflow subtask execution, so simple answers and subtask answers share
// one code path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/DevjeetSahu/agriquery-go/internal/fault"
	"github.com/DevjeetSahu/agriquery-go/internal/intent"
	"github.com/DevjeetSahu/agriquery-go/internal/llm"
	"github.com/DevjeetSahu/agriquery-go/internal/logging"
	"github.com/DevjeetSahu/agriquery-go/internal/rag"
	"github.com/DevjeetSahu/agriquery-go/internal/workflow"
)

// DefaultMaxQueryBytes caps accepted query length.
const DefaultMaxQueryBytes = 2000

// Generator is the slice of the LLM client the pipeline needs for free-text
// answers. *llm.Client satisfies it; tests inject a fake.
type Generator interface {
	Generate(ctx context.Context, msgs []*schema.Message, p *llm.Params) (string, error)
}

// Classifier is the intent-classification dependency.
// *intent.Classifier satisfies it; tests inject a fake.
type Classifier interface {
	Classify(ctx context.Context, query string) intent.Decision
}

// ContextRetriever is the retrieval dependency.
// *rag.Retriever satisfies it; tests inject a fake.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, dec intent.Decision, topK int) (*rag.Context, error)
}

// Handoff is the envelope returned for complex queries instead of an answer.
// The caller starts a workflow from it and drives execution.
type Handoff struct {
	// Subtasks is the ordered decomposition from the classifier.
	Subtasks []intent.SubtaskSpec
}

// Result is the outcome of a single-shot answer.
type Result struct {
	// Response is the generated answer. Empty when IsWorkflow is true.
	Response string
	// Intent is the classified routing decision.
	Intent intent.Decision
	// ContextSummary describes the evidence used (collections and hit count).
	ContextSummary string
	// IsWorkflow is true when the query needs a decomposed workflow; the
	// Handoff field carries the subtasks.
	IsWorkflow bool
	// Handoff is set iff IsWorkflow.
	Handoff *Handoff
}

// Config holds the construction parameters for a Pipeline.
type Config struct {
	// Classifier decides routing and complexity. Required.
	Classifier Classifier
	// Retriever assembles evidence. Required.
	Retriever ContextRetriever
	// Generator produces answers. Required.
	Generator Generator
	// TopK is the default retrieval budget. Zero selects the retriever default.
	TopK int
	// MaxQueryBytes caps accepted query length. Zero selects the default.
	MaxQueryBytes int
}

// Pipeline is the single-shot query orchestrator. It is safe for concurrent
// use and also serves as the workflow.SubtaskRunner.
type Pipeline struct {
	classifier    Classifier
	retriever     ContextRetriever
	generator     Generator
	topK          int
	maxQueryBytes int
}

// New constructs a Pipeline from the given config.
func New(cfg *Config) (*Pipeline, error) {
	if cfg == nil || cfg.Classifier == nil {
		return nil, fmt.Errorf("pipeline: classifier must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("pipeline: retriever must not be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("pipeline: generator must not be nil")
	}

	maxQuery := cfg.MaxQueryBytes
	if maxQuery <= 0 {
		maxQuery = DefaultMaxQueryBytes
	}

	return &Pipeline{
		classifier:    cfg.Classifier,
		retriever:     cfg.Retriever,
		generator:     cfg.Generator,
		topK:          cfg.TopK,
		maxQueryBytes: maxQuery,
	}, nil
}

// Answer runs the single-shot flow for a query. Complex queries return a
// Result with IsWorkflow set and a Handoff instead of a response — the
// caller invokes the WorkflowManager from there.
func (p *Pipeline) Answer(ctx context.Context, query string, topK int) (*Result, error) {
	if query == "" {
		return nil, fault.New(fault.KindInvalidArgument, "query must not be empty")
	}
	if len(query) > p.maxQueryBytes {
		return nil, fault.New(fault.KindInvalidArgument,
			"query length %d exceeds the %d-byte maximum", len(query), p.maxQueryBytes)
	}
	if topK <= 0 {
		topK = p.topK
	}

	dec := p.classifier.Classify(ctx, query)

	if dec.IsComplex {
		logging.FromContext(ctx).Info("pipeline: complex query handed off",
			slog.Int("subtasks", len(dec.Subtasks)),
		)
		return &Result{
			Intent:     dec,
			IsWorkflow: true,
			Handoff:    &Handoff{Subtasks: dec.Subtasks},
		}, nil
	}

	response, retrieval, err := p.answerSimple(ctx, query, dec, topK)
	if err != nil {
		return nil, err
	}

	return &Result{
		Response:       response,
		Intent:         dec,
		ContextSummary: summarizeContext(retrieval),
	}, nil
}

// answerSimple runs retrieve→prompt→generate for a resolved decision.
func (p *Pipeline) answerSimple(ctx context.Context, query string, dec intent.Decision, topK int) (string, *rag.Context, error) {
	retrieval, err := p.retriever.Retrieve(ctx, query, dec, topK)
	if err != nil {
		return "", nil, fmt.Errorf("pipeline: retrieval failed: %w", err)
	}
	if retrieval.Empty() {
		logging.Degraded(ctx, "pipeline: empty retrieval context",
			slog.String("intent", string(dec.Label)),
		)
	}

	msgs := buildAnswerMessages(query, retrieval)
	response, err := p.generator.Generate(ctx, msgs, nil)
	if err != nil {
		return "", nil, fmt.Errorf("pipeline: generation failed: %w", err)
	}
	return response, retrieval, nil
}

// RunSubtask implements workflow.SubtaskRunner. The subtask's own intent
// routes retrieval — no classification round-trip — and the prompt keeps the
// original query in view.
func (p *Pipeline) RunSubtask(ctx context.Context, originalQuery string, spec intent.SubtaskSpec) (string, error) {
	query := subtaskQuery(spec, originalQuery)
	dec := intent.Decision{
		Label:      spec.IntentType,
		Confidence: 1.0,
		Entities:   intent.ExtractEntities(spec.Description + " " + originalQuery),
	}

	response, _, err := p.answerSimple(ctx, query, dec, p.topK)
	if err != nil {
		return "", fmt.Errorf("pipeline: subtask %d failed: %w", spec.OrderIndex, err)
	}
	return response, nil
}

// Synthesize implements workflow.SubtaskRunner. It prompts the LLM with the
// original query and every subtask response to produce the final summary.
func (p *Pipeline) Synthesize(ctx context.Context, originalQuery string, subtasks []intent.SubtaskSpec, results []workflow.SubtaskResult) (string, error) {
	msgs := buildSynthesisMessages(originalQuery, subtasks, results)
	summary, err := p.generator.Generate(ctx, msgs, nil)
	if err != nil {
		return "", fmt.Errorf("pipeline: synthesis failed: %w", err)
	}
	return summary, nil
}

// summarizeContext renders a short description of the evidence for the
// caller-facing result.
func summarizeContext(c *rag.Context) string {
	if c == nil || c.Empty() {
		return "no reference context"
	}
	return fmt.Sprintf("%d hits from %v", len(c.Hits), c.Collections)
}
