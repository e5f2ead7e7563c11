package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/DevjeetSahu/agriquery-go/internal/fault"
	"github.com/DevjeetSahu/agriquery-go/internal/intent"
	"github.com/DevjeetSahu/agriquery-go/internal/llm"
	"github.com/DevjeetSahu/agriquery-go/internal/rag"
	"github.com/DevjeetSahu/agriquery-go/internal/workflow"
)

// fakeClassifier returns a fixed decision.
type fakeClassifier struct {
	dec intent.Decision
}

func (f *fakeClassifier) Classify(context.Context, string) intent.Decision { return f.dec }

// fakeRetriever returns a scripted context or error.
type fakeRetriever struct {
	ctx  *rag.Context
	err  error
	seen []intent.Decision
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, dec intent.Decision, _ int) (*rag.Context, error) {
	f.seen = append(f.seen, dec)
	if f.err != nil {
		return nil, f.err
	}
	if f.ctx == nil {
		return &rag.Context{}, nil
	}
	return f.ctx, nil
}

// fakeGenerator echoes the last user message, prefixed, or fails.
type fakeGenerator struct {
	err      error
	lastMsgs []*schema.Message
}

func (f *fakeGenerator) Generate(_ context.Context, msgs []*schema.Message, _ *llm.Params) (string, error) {
	f.lastMsgs = msgs
	if f.err != nil {
		return "", f.err
	}
	return "generated answer", nil
}

func priceContext() *rag.Context {
	return &rag.Context{
		Hits: []rag.Document{{
			ID:   "p1",
			Text: "Tomato at Bargarh mandi: 2400 INR/quintal",
			Metadata: map[string]string{
				"source_collection": rag.CollectionPrices,
				"commodity":         "tomato",
				"market":            "bargarh",
			},
			Score: 0.95,
		}},
		AssembledText: "[prices] Tomato at Bargarh mandi: 2400 INR/quintal",
		Collections:   []string{rag.CollectionPrices},
	}
}

func newTestPipeline(t *testing.T, c Classifier, r ContextRetriever, g Generator) *Pipeline {
	t.Helper()
	p, err := New(&Config{Classifier: c, Retriever: r, Generator: g, TopK: 5})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestAnswer_SimpleQuery(t *testing.T) {
	t.Parallel()

	cl := &fakeClassifier{dec: intent.Decision{Label: intent.LabelMarketPrice, Confidence: 0.9}}
	rt := &fakeRetriever{ctx: priceContext()}
	gen := &fakeGenerator{}
	p := newTestPipeline(t, cl, rt, gen)

	res, err := p.Answer(context.Background(), "What is the price of tomato in Bargarh today?", 0)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.IsWorkflow {
		t.Fatal("simple query marked as workflow")
	}
	if res.Response != "generated answer" {
		t.Errorf("response: %q", res.Response)
	}
	if res.Intent.Label != intent.LabelMarketPrice {
		t.Errorf("intent: %s", res.Intent.Label)
	}

	// The retrieval context must reach the prompt.
	user := gen.lastMsgs[len(gen.lastMsgs)-1].Content
	if !strings.Contains(user, "2400 INR/quintal") {
		t.Errorf("prompt missing retrieval context: %q", user)
	}
}

func TestAnswer_ComplexQueryHandsOff(t *testing.T) {
	t.Parallel()

	subtasks := []intent.SubtaskSpec{
		{Description: "a", IntentType: intent.LabelFertilizer, OrderIndex: 0},
		{Description: "b", IntentType: intent.LabelGovernmentScheme, OrderIndex: 1},
	}
	cl := &fakeClassifier{dec: intent.Decision{
		Label: intent.LabelComplex, Confidence: 0.8, IsComplex: true, Subtasks: subtasks,
	}}
	rt := &fakeRetriever{}
	gen := &fakeGenerator{}
	p := newTestPipeline(t, cl, rt, gen)

	res, err := p.Answer(context.Background(), "compare a and b", 0)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !res.IsWorkflow || res.Handoff == nil {
		t.Fatal("expected workflow handoff")
	}
	if len(res.Handoff.Subtasks) != 2 {
		t.Errorf("handoff subtasks: %d", len(res.Handoff.Subtasks))
	}
	if len(rt.seen) != 0 {
		t.Error("complex query must not retrieve")
	}
	if gen.lastMsgs != nil {
		t.Error("complex query must not generate")
	}
}

func TestAnswer_EmptyContextStillGenerates(t *testing.T) {
	t.Parallel()

	cl := &fakeClassifier{dec: intent.Decision{Label: intent.LabelGeneral, Confidence: 0.0, Degraded: true}}
	rt := &fakeRetriever{} // empty context
	gen := &fakeGenerator{}
	p := newTestPipeline(t, cl, rt, gen)

	res, err := p.Answer(context.Background(), "obscure question", 0)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Response == "" {
		t.Error("no response for empty context")
	}

	user := gen.lastMsgs[len(gen.lastMsgs)-1].Content
	if !strings.Contains(user, "no matching reference data") {
		t.Errorf("prompt does not acknowledge empty context: %q", user)
	}
	if res.ContextSummary != "no reference context" {
		t.Errorf("context summary: %q", res.ContextSummary)
	}
}

func TestAnswer_RejectsEmptyAndOversizedQueries(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, &fakeClassifier{}, &fakeRetriever{}, &fakeGenerator{})

	_, err := p.Answer(context.Background(), "", 0)
	if fault.KindOf(err) != fault.KindInvalidArgument {
		t.Errorf("empty query: got %v", err)
	}

	_, err = p.Answer(context.Background(), strings.Repeat("x", DefaultMaxQueryBytes+1), 0)
	if fault.KindOf(err) != fault.KindInvalidArgument {
		t.Errorf("oversized query: got %v", err)
	}
}

func TestAnswer_GenerationFailurePropagates(t *testing.T) {
	t.Parallel()

	cl := &fakeClassifier{dec: intent.Decision{Label: intent.LabelSoil, Confidence: 0.9}}
	gen := &fakeGenerator{err: errors.New("model down")}
	p := newTestPipeline(t, cl, &fakeRetriever{}, gen)

	_, err := p.Answer(context.Background(), "soil question", 0)
	if err == nil {
		t.Fatal("expected generation error")
	}
}

func TestRunSubtask_UsesSubtaskIntentWithoutClassifying(t *testing.T) {
	t.Parallel()

	cl := &fakeClassifier{dec: intent.Decision{Label: intent.LabelGeneral}}
	rt := &fakeRetriever{ctx: priceContext()}
	gen := &fakeGenerator{}
	p := newTestPipeline(t, cl, rt, gen)

	spec := intent.SubtaskSpec{
		Description: "fertilizer plan for rice in bargarh",
		IntentType:  intent.LabelFertilizer,
		OrderIndex:  0,
	}
	resp, err := p.RunSubtask(context.Background(), "original question", spec)
	if err != nil {
		t.Fatalf("run subtask: %v", err)
	}
	if resp == "" {
		t.Error("empty subtask response")
	}

	if len(rt.seen) != 1 || rt.seen[0].Label != intent.LabelFertilizer {
		t.Errorf("subtask retrieval decision: %+v", rt.seen)
	}
	if rt.seen[0].Entities.Crop != "rice" || rt.seen[0].Entities.District != "bargarh" {
		t.Errorf("subtask entities: %+v", rt.seen[0].Entities)
	}

	// The prompt must reference the original query for context.
	user := gen.lastMsgs[len(gen.lastMsgs)-1].Content
	if !strings.Contains(user, "original question") {
		t.Errorf("subtask prompt lost the original query: %q", user)
	}
}

func TestSynthesize_IncludesAllStepResults(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	p := newTestPipeline(t, &fakeClassifier{}, &fakeRetriever{}, gen)

	subtasks := []intent.SubtaskSpec{
		{Description: "rice fertilizer", IntentType: intent.LabelFertilizer, OrderIndex: 0},
		{Description: "wheat fertilizer", IntentType: intent.LabelFertilizer, OrderIndex: 1},
	}
	results := []workflow.SubtaskResult{
		{OrderIndex: 0, Completed: true, Response: "urea 120kg/ha for rice"},
		{OrderIndex: 1, Completed: true, Response: "dap 100kg/ha for wheat"},
	}

	if _, err := p.Synthesize(context.Background(), "compare rice and wheat", subtasks, results); err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	user := gen.lastMsgs[len(gen.lastMsgs)-1].Content
	for _, want := range []string{"urea 120kg/ha", "dap 100kg/ha", "rice fertilizer", "wheat fertilizer", "compare rice and wheat"} {
		if !strings.Contains(user, want) {
			t.Errorf("synthesis prompt missing %q", want)
		}
	}
}
