// Package engine exposes the core-to-caller surface of the query-answering
// system: answer, workflow execution, workflow summary/status, and index
// rebuild. The HTTP server is a thin shell over this package; every decision
// lives below it.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DevjeetSahu/agriquery-go/internal/fault"
	"github.com/DevjeetSahu/agriquery-go/internal/history"
	"github.com/DevjeetSahu/agriquery-go/internal/intent"
	"github.com/DevjeetSahu/agriquery-go/internal/logging"
	"github.com/DevjeetSahu/agriquery-go/internal/pipeline"
	"github.com/DevjeetSahu/agriquery-go/internal/workflow"
)

// Answerer is the single-shot pipeline dependency.
// *pipeline.Pipeline satisfies it; tests inject a fake.
type Answerer interface {
	Answer(ctx context.Context, query string, topK int) (*pipeline.Result, error)
}

// WorkflowOps is the workflow manager dependency.
// *workflow.Manager satisfies it; tests inject a fake.
type WorkflowOps interface {
	Start(ctx context.Context, query string, subtasks []intent.SubtaskSpec) (string, error)
	Execute(ctx context.Context, id string, index int) (workflow.SubtaskResult, error)
	Finalize(ctx context.Context, id string) (string, error)
	Status(id string) (*workflow.Snapshot, error)
}

// IndexRebuilder is the dataset-rebuild dependency.
// *ingestion.Rebuilder satisfies it; tests inject a fake.
type IndexRebuilder interface {
	RebuildCollections(ctx context.Context, names []string) ([]string, error)
}

// AnswerOutput is the result of Answer: either a direct response or a
// workflow handoff the caller drives to completion.
type AnswerOutput struct {
	// IsWorkflow discriminates the two shapes.
	IsWorkflow bool `json:"is_workflow"`

	// Response and ContextSummary are set for single-shot answers; Intent
	// and Confidence are set for both shapes.
	Response       string  `json:"response,omitempty"`
	Intent         string  `json:"intent,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	ContextSummary string  `json:"context_summary,omitempty"`

	// WorkflowID and Subtasks are set for workflow handoffs.
	WorkflowID string               `json:"workflow_id,omitempty"`
	Subtasks   []intent.SubtaskSpec `json:"subtasks,omitempty"`

	// Degraded marks answers whose classification came from the classifier's
	// fallback decision. An empty retrieval context does not set it; the
	// pipeline logs that case itself. Logged by callers, never serialized —
	// the API surface stays silent about degraded mode.
	Degraded bool `json:"-"`
}

// Config holds the construction parameters for an Engine.
type Config struct {
	// Pipeline answers single-shot queries and subtasks. Required.
	Pipeline Answerer
	// Workflows manages decomposed queries. Required.
	Workflows WorkflowOps
	// Rebuilder rebuilds vector collections. Optional; RebuildIndex fails
	// with InvalidArgument when absent.
	Rebuilder IndexRebuilder
	// History records answers. Optional; recording failures are non-fatal.
	History history.Store
}

// Engine is the top-level callable surface. It is safe for concurrent use.
type Engine struct {
	pipeline  Answerer
	workflows WorkflowOps
	rebuilder IndexRebuilder
	history   history.Store
}

// New constructs an Engine from the given config.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Pipeline == nil {
		return nil, fmt.Errorf("engine: pipeline must not be nil")
	}
	if cfg.Workflows == nil {
		return nil, fmt.Errorf("engine: workflow manager must not be nil")
	}
	return &Engine{
		pipeline:  cfg.Pipeline,
		workflows: cfg.Workflows,
		rebuilder: cfg.Rebuilder,
		history:   cfg.History,
	}, nil
}

// Answer resolves a query: single-shot queries return a response, complex
// queries create a workflow and return its ID and subtasks for the caller to
// execute.
func (e *Engine) Answer(ctx context.Context, query string, topK int) (*AnswerOutput, error) {
	res, err := e.pipeline.Answer(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	if res.IsWorkflow {
		id, startErr := e.workflows.Start(ctx, query, res.Handoff.Subtasks)
		if startErr != nil {
			return nil, startErr
		}
		return &AnswerOutput{
			IsWorkflow: true,
			WorkflowID: id,
			Intent:     string(res.Intent.Label),
			Confidence: res.Intent.Confidence,
			Subtasks:   res.Handoff.Subtasks,
		}, nil
	}

	e.record(ctx, history.Record{
		Query:    query,
		Intent:   string(res.Intent.Label),
		Response: res.Response,
		Degraded: res.Intent.Degraded,
	})

	return &AnswerOutput{
		Response:       res.Response,
		Intent:         string(res.Intent.Label),
		Confidence:     res.Intent.Confidence,
		ContextSummary: res.ContextSummary,
		Degraded:       res.Intent.Degraded,
	}, nil
}

// WorkflowExecute runs the next subtask of a workflow.
func (e *Engine) WorkflowExecute(ctx context.Context, id string, index int) (workflow.SubtaskResult, error) {
	return e.workflows.Execute(ctx, id, index)
}

// WorkflowSummary finalizes a fully executed workflow and returns its
// synthesis.
func (e *Engine) WorkflowSummary(ctx context.Context, id string) (string, error) {
	summary, err := e.workflows.Finalize(ctx, id)
	if err != nil {
		return "", err
	}

	snap, statusErr := e.workflows.Status(id)
	originalQuery := ""
	if statusErr == nil {
		originalQuery = snap.OriginalQuery
	}
	e.record(ctx, history.Record{
		Query:      originalQuery,
		Intent:     string(intent.LabelComplex),
		Response:   summary,
		WorkflowID: id,
	})

	return summary, nil
}

// WorkflowStatus returns a snapshot of the workflow.
func (e *Engine) WorkflowStatus(id string) (*workflow.Snapshot, error) {
	return e.workflows.Status(id)
}

// RebuildIndex rebuilds the named collection, or every collection with a
// dataset when name is empty.
func (e *Engine) RebuildIndex(ctx context.Context, name string) ([]string, error) {
	if e.rebuilder == nil {
		return nil, fault.New(fault.KindInvalidArgument, "index rebuild is not configured")
	}
	var names []string
	if name != "" {
		names = []string{name}
	}
	return e.rebuilder.RebuildCollections(ctx, names)
}

// record persists an answer to the history store. Failures are logged and
// swallowed — history is an audit trail, not part of the answer path.
func (e *Engine) record(ctx context.Context, rec history.Record) {
	if e.history == nil {
		return
	}
	if err := e.history.Record(ctx, rec); err != nil {
		logging.FromContext(ctx).Warn("engine: failed to record answer history",
			slog.Any("error", err),
		)
	}
}
