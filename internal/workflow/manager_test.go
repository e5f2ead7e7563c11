package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DevjeetSahu/agriquery-go/internal/fault"
	"github.com/DevjeetSahu/agriquery-go/internal/intent"
)

// fakeRunner scripts subtask and synthesis outcomes.
type fakeRunner struct {
	// failAt, when ≥0, fails the subtask with that order index.
	failAt int
	// failSynthesis forces Synthesize to fail.
	failSynthesis bool
	// runCalls counts RunSubtask invocations.
	runCalls int
}

func (f *fakeRunner) RunSubtask(_ context.Context, _ string, spec intent.SubtaskSpec) (string, error) {
	f.runCalls++
	if f.failAt >= 0 && spec.OrderIndex == f.failAt {
		return "", errors.New("upstream generation failed")
	}
	return fmt.Sprintf("answer for %q", spec.Description), nil
}

func (f *fakeRunner) Synthesize(_ context.Context, query string, _ []intent.SubtaskSpec, results []SubtaskResult) (string, error) {
	if f.failSynthesis {
		return "", errors.New("synthesis model unavailable")
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Response
	}
	return fmt.Sprintf("summary of %q: %s", query, strings.Join(parts, "; ")), nil
}

func newTestManager(t *testing.T, runner *fakeRunner) *Manager {
	t.Helper()
	if runner == nil {
		runner = &fakeRunner{failAt: -1}
	}
	m, err := NewManager(&Config{Runner: runner})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Stop)
	return m
}

func threeSubtasks() []intent.SubtaskSpec {
	return []intent.SubtaskSpec{
		{Description: "fertilizer plan for rice", IntentType: intent.LabelFertilizer, OrderIndex: 0},
		{Description: "fertilizer plan for wheat", IntentType: intent.LabelFertilizer, OrderIndex: 1},
		{Description: "schemes subsidizing fertilizer", IntentType: intent.LabelGovernmentScheme, OrderIndex: 2},
	}
}

func TestStart_RejectsTooFewAndTooManySubtasks(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Start(ctx, "q", threeSubtasks()[:1])
	if fault.KindOf(err) != fault.KindInvalidArgument {
		t.Errorf("1 subtask: got %v", err)
	}

	many := make([]intent.SubtaskSpec, MaxSubtasks+1)
	for i := range many {
		many[i] = intent.SubtaskSpec{Description: fmt.Sprintf("t%d", i), IntentType: intent.LabelGeneral}
	}
	_, err = m.Start(ctx, "q", many)
	if fault.KindOf(err) != fault.KindInvalidArgument {
		t.Errorf("%d subtasks: got %v", MaxSubtasks+1, err)
	}
}

func TestStart_IdempotentOnIdenticalInput(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	ctx := context.Background()

	id1, err := m.Start(ctx, "compare rice and wheat", threeSubtasks())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id2, err := m.Start(ctx, "compare rice and wheat", threeSubtasks())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if id1 != id2 {
		t.Errorf("identical Start returned different IDs: %s vs %s", id1, id2)
	}

	id3, err := m.Start(ctx, "a different query", threeSubtasks())
	if err != nil {
		t.Fatalf("third start: %v", err)
	}
	if id3 == id1 {
		t.Error("different query reused the workflow ID")
	}
}

func TestExecute_HappyPathThroughFinalize(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, err := m.Start(ctx, "compare rice and wheat fertilizer and schemes", threeSubtasks())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := range 3 {
		res, execErr := m.Execute(ctx, id, i)
		if execErr != nil {
			t.Fatalf("execute %d: %v", i, execErr)
		}
		if !res.Completed || res.Response == "" || res.Error != "" {
			t.Fatalf("execute %d result: %+v", i, res)
		}
		if res.OrderIndex != i {
			t.Errorf("execute %d: order index %d", i, res.OrderIndex)
		}
	}

	snap, err := m.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Progress != 1.0 {
		t.Errorf("progress: got %v, want 1.0", snap.Progress)
	}
	for i, r := range snap.Completed {
		if r.OrderIndex != i {
			t.Errorf("completed[%d].OrderIndex = %d", i, r.OrderIndex)
		}
	}

	summary, err := m.Finalize(ctx, id)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !strings.Contains(summary, "rice") {
		t.Errorf("summary: %q", summary)
	}

	snap, _ = m.Status(id)
	if snap.Status != StatusCompleted || snap.Summary == "" {
		t.Errorf("post-finalize status: %+v", snap)
	}
}

func TestExecute_OutOfOrderRejected(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, _ := m.Start(ctx, "q", threeSubtasks())

	if _, err := m.Execute(ctx, id, 0); err != nil {
		t.Fatalf("execute 0: %v", err)
	}

	// Skipping ahead must fail and leave the completed count unchanged.
	_, err := m.Execute(ctx, id, 2)
	if fault.KindOf(err) != fault.KindOutOfOrder {
		t.Fatalf("execute 2: got %v, want OutOfOrder", err)
	}

	// Re-running a finished index must also fail.
	_, err = m.Execute(ctx, id, 0)
	if fault.KindOf(err) != fault.KindOutOfOrder {
		t.Fatalf("re-execute 0: got %v, want OutOfOrder", err)
	}

	snap, _ := m.Status(id)
	if len(snap.Completed) != 1 {
		t.Errorf("completed count changed: %d", len(snap.Completed))
	}
}

func TestExecute_FailurePropagation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, &fakeRunner{failAt: 1})
	ctx := context.Background()

	id, _ := m.Start(ctx, "q", threeSubtasks())

	if _, err := m.Execute(ctx, id, 0); err != nil {
		t.Fatalf("execute 0: %v", err)
	}

	// Subtask failure is a structured diagnostic, not an error.
	res, err := m.Execute(ctx, id, 1)
	if err != nil {
		t.Fatalf("execute 1 returned an error instead of a diagnostic: %v", err)
	}
	if res.Error == "" || res.Response != "" {
		t.Fatalf("failed subtask result: %+v", res)
	}

	snap, _ := m.Status(id)
	if snap.Status != StatusErrored {
		t.Fatalf("status after failure: %s", snap.Status)
	}

	_, err = m.Execute(ctx, id, 2)
	if fault.KindOf(err) != fault.KindWorkflowErrored {
		t.Errorf("execute on errored workflow: got %v", err)
	}
	_, err = m.Finalize(ctx, id)
	if fault.KindOf(err) != fault.KindWorkflowErrored {
		t.Errorf("finalize on errored workflow: got %v", err)
	}
}

func TestFinalize_IncompleteRejected(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, _ := m.Start(ctx, "q", threeSubtasks())
	_, _ = m.Execute(ctx, id, 0)

	_, err := m.Finalize(ctx, id)
	if fault.KindOf(err) != fault.KindIncomplete {
		t.Errorf("finalize incomplete: got %v", err)
	}
}

func TestFinalize_SynthesisFailureErrorsWorkflow(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, &fakeRunner{failAt: -1, failSynthesis: true})
	ctx := context.Background()

	id, _ := m.Start(ctx, "q", threeSubtasks())
	for i := range 3 {
		if _, err := m.Execute(ctx, id, i); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}

	_, err := m.Finalize(ctx, id)
	if fault.KindOf(err) != fault.KindWorkflowErrored {
		t.Fatalf("finalize: got %v", err)
	}
	snap, _ := m.Status(id)
	if snap.Status != StatusErrored {
		t.Errorf("status after synthesis failure: %s", snap.Status)
	}
}

func TestExecute_CancellationDiscardsPartialResult(t *testing.T) {
	t.Parallel()

	runner := &cancelAwareRunner{}
	m, err := NewManager(&Config{Runner: runner})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Stop)

	ctx := context.Background()
	id, _ := m.Start(ctx, "q", threeSubtasks())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	_, execErr := m.Execute(cancelled, id, 0)
	if fault.KindOf(execErr) != fault.KindCancelled {
		t.Fatalf("cancelled execute: got %v", execErr)
	}

	// No partial result persisted; the same index is executable again.
	snap, _ := m.Status(id)
	if len(snap.Completed) != 0 {
		t.Fatalf("partial result persisted: %+v", snap.Completed)
	}
	if _, err := m.Execute(ctx, id, 0); err != nil {
		t.Errorf("re-execute after cancellation: %v", err)
	}
}

// cancelAwareRunner honors context cancellation like the real pipeline does.
type cancelAwareRunner struct{}

func (cancelAwareRunner) RunSubtask(ctx context.Context, _ string, spec intent.SubtaskSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fault.Wrap(fault.KindCancelled, err, "run aborted")
	}
	return "ok: " + spec.Description, nil
}

func (cancelAwareRunner) Synthesize(context.Context, string, []intent.SubtaskSpec, []SubtaskResult) (string, error) {
	return "summary", nil
}

func TestStatus_UnknownWorkflow(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	_, err := m.Status("no-such-id")
	if fault.KindOf(err) != fault.KindNotFound {
		t.Errorf("unknown workflow: got %v", err)
	}
}

func TestReap_EvictsExpiredTerminalWorkflows(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, _ := m.Start(ctx, "q", threeSubtasks())
	for i := range 3 {
		_, _ = m.Execute(ctx, id, i)
	}
	if _, err := m.Finalize(ctx, id); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// Stop the background reaper, then move the clock past the TTL and reap
	// deterministically.
	m.Stop()
	m.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Minute) }
	m.reap()

	if _, err := m.Status(id); fault.KindOf(err) != fault.KindNotFound {
		t.Errorf("expired workflow still present: %v", err)
	}
}

func TestReap_KeepsActiveWorkflows(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, _ := m.Start(ctx, "q", threeSubtasks())

	m.Stop()
	m.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Minute) }
	m.reap()

	if _, err := m.Status(id); err != nil {
		t.Errorf("active workflow reaped: %v", err)
	}
}

func TestCap_EvictsLRUTerminalFirst(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{failAt: -1}
	m, err := NewManager(&Config{Runner: runner, Cap: 2})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Stop)
	ctx := context.Background()

	// Fill the registry: one terminal, one active.
	terminal, _ := m.Start(ctx, "terminal query", threeSubtasks())
	for i := range 3 {
		_, _ = m.Execute(ctx, terminal, i)
	}
	if _, err := m.Finalize(ctx, terminal); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	active, _ := m.Start(ctx, "active query", threeSubtasks())

	// A third Start must evict the terminal workflow, not the active one.
	third, err := m.Start(ctx, "third query", threeSubtasks())
	if err != nil {
		t.Fatalf("start at capacity: %v", err)
	}

	if _, err := m.Status(terminal); fault.KindOf(err) != fault.KindNotFound {
		t.Errorf("terminal workflow not evicted: %v", err)
	}
	if _, err := m.Status(active); err != nil {
		t.Errorf("active workflow evicted: %v", err)
	}
	if _, err := m.Status(third); err != nil {
		t.Errorf("new workflow missing: %v", err)
	}
}

func TestCap_AllActiveRejectsStart(t *testing.T) {
	t.Parallel()

	m, err := NewManager(&Config{Runner: &fakeRunner{failAt: -1}, Cap: 1})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Stop)
	ctx := context.Background()

	_, _ = m.Start(ctx, "first", threeSubtasks())
	_, err = m.Start(ctx, "second", threeSubtasks())
	if fault.KindOf(err) != fault.KindUpstreamBusy {
		t.Errorf("start over capacity with no terminal workflows: got %v", err)
	}
}
