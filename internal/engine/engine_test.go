package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/DevjeetSahu/agriquery-go/internal/fault"
	"github.com/DevjeetSahu/agriquery-go/internal/history"
	"github.com/DevjeetSahu/agriquery-go/internal/intent"
	"github.com/DevjeetSahu/agriquery-go/internal/pipeline"
	"github.com/DevjeetSahu/agriquery-go/internal/workflow"
)

// fakeAnswerer returns a scripted pipeline result.
type fakeAnswerer struct {
	res *pipeline.Result
	err error
}

func (f *fakeAnswerer) Answer(context.Context, string, int) (*pipeline.Result, error) {
	return f.res, f.err
}

// fakeWorkflows records calls and returns scripted outcomes.
type fakeWorkflows struct {
	startID    string
	startErr   error
	execResult workflow.SubtaskResult
	execErr    error
	summary    string
	finalErr   error
	snapshot   *workflow.Snapshot
	started    []string
}

func (f *fakeWorkflows) Start(_ context.Context, query string, _ []intent.SubtaskSpec) (string, error) {
	f.started = append(f.started, query)
	return f.startID, f.startErr
}
func (f *fakeWorkflows) Execute(context.Context, string, int) (workflow.SubtaskResult, error) {
	return f.execResult, f.execErr
}
func (f *fakeWorkflows) Finalize(context.Context, string) (string, error) {
	return f.summary, f.finalErr
}
func (f *fakeWorkflows) Status(string) (*workflow.Snapshot, error) {
	if f.snapshot == nil {
		return nil, fault.New(fault.KindNotFound, "no snapshot scripted")
	}
	return f.snapshot, nil
}

func newTestEngine(t *testing.T, a Answerer, w WorkflowOps, h history.Store) *Engine {
	t.Helper()
	e, err := New(&Config{Pipeline: a, Workflows: w, History: h})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestAnswer_SingleShotRecordsHistory(t *testing.T) {
	t.Parallel()

	h, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	a := &fakeAnswerer{res: &pipeline.Result{
		Response: "2400 INR/quintal",
		Intent:   intent.Decision{Label: intent.LabelMarketPrice, Confidence: 0.9},
	}}
	e := newTestEngine(t, a, &fakeWorkflows{}, h)

	out, err := e.Answer(context.Background(), "tomato price in bargarh", 0)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if out.IsWorkflow {
		t.Fatal("single-shot marked as workflow")
	}
	if out.Response != "2400 INR/quintal" || out.Intent != "market_price" {
		t.Errorf("output: %+v", out)
	}

	recs, err := h.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 1 || recs[0].Response != "2400 INR/quintal" {
		t.Errorf("history: %+v", recs)
	}
}

func TestAnswer_ComplexStartsWorkflow(t *testing.T) {
	t.Parallel()

	subtasks := []intent.SubtaskSpec{
		{Description: "a", IntentType: intent.LabelFertilizer, OrderIndex: 0},
		{Description: "b", IntentType: intent.LabelGovernmentScheme, OrderIndex: 1},
	}
	a := &fakeAnswerer{res: &pipeline.Result{
		Intent:     intent.Decision{Label: intent.LabelComplex, Confidence: 0.8, IsComplex: true, Subtasks: subtasks},
		IsWorkflow: true,
		Handoff:    &pipeline.Handoff{Subtasks: subtasks},
	}}
	w := &fakeWorkflows{startID: "wf-123"}
	e := newTestEngine(t, a, w, nil)

	out, err := e.Answer(context.Background(), "compare a and b", 0)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !out.IsWorkflow || out.WorkflowID != "wf-123" {
		t.Errorf("output: %+v", out)
	}
	if len(out.Subtasks) != 2 {
		t.Errorf("subtasks: %d", len(out.Subtasks))
	}
	if len(w.started) != 1 || w.started[0] != "compare a and b" {
		t.Errorf("workflow starts: %v", w.started)
	}
}

func TestAnswer_PipelineErrorPropagates(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{err: fault.New(fault.KindInvalidArgument, "query too long")}
	e := newTestEngine(t, a, &fakeWorkflows{}, nil)

	_, err := e.Answer(context.Background(), "q", 0)
	if fault.KindOf(err) != fault.KindInvalidArgument {
		t.Errorf("got %v", err)
	}
}

func TestWorkflowSummary_RecordsHistoryWithWorkflowID(t *testing.T) {
	t.Parallel()

	h, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	w := &fakeWorkflows{
		summary:  "final summary",
		snapshot: &workflow.Snapshot{WorkflowID: "wf-9", OriginalQuery: "the original"},
	}
	e := newTestEngine(t, &fakeAnswerer{}, w, h)

	summary, err := e.WorkflowSummary(context.Background(), "wf-9")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary != "final summary" {
		t.Errorf("summary: %q", summary)
	}

	recs, _ := h.Recent(context.Background(), 5)
	if len(recs) != 1 || recs[0].WorkflowID != "wf-9" || recs[0].Query != "the original" {
		t.Errorf("history: %+v", recs)
	}
}

func TestWorkflowSummary_FinalizeErrorNotRecorded(t *testing.T) {
	t.Parallel()

	h, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	w := &fakeWorkflows{finalErr: fault.New(fault.KindIncomplete, "not done")}
	e := newTestEngine(t, &fakeAnswerer{}, w, h)

	_, err = e.WorkflowSummary(context.Background(), "wf-9")
	if fault.KindOf(err) != fault.KindIncomplete {
		t.Fatalf("got %v", err)
	}
	recs, _ := h.Recent(context.Background(), 5)
	if len(recs) != 0 {
		t.Errorf("failed finalize recorded history: %+v", recs)
	}
}

func TestRebuildIndex_Unconfigured(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, &fakeAnswerer{}, &fakeWorkflows{}, nil)
	_, err := e.RebuildIndex(context.Background(), "")
	if fault.KindOf(err) != fault.KindInvalidArgument {
		t.Errorf("got %v", err)
	}
}

// brokenHistory always fails, proving history errors are non-fatal.
type brokenHistory struct{}

func (brokenHistory) Record(context.Context, history.Record) error {
	return errors.New("disk full")
}
func (brokenHistory) Recent(context.Context, int) ([]history.Record, error) {
	return nil, errors.New("disk full")
}
func (brokenHistory) Close() error { return nil }

func TestAnswer_HistoryFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{res: &pipeline.Result{
		Response: "ok",
		Intent:   intent.Decision{Label: intent.LabelGeneral, Confidence: 0.5},
	}}
	e := newTestEngine(t, a, &fakeWorkflows{}, brokenHistory{})

	out, err := e.Answer(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("history failure broke the answer: %v", err)
	}
	if out.Response != "ok" {
		t.Errorf("output: %+v", out)
	}
}
