package intent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/DevjeetSahu/agriquery-go/internal/llm"
)

// fakeGenerator is a scripted StructuredGenerator. It unmarshals its JSON
// payload into out, or returns err.
type fakeGenerator struct {
	// payload is the JSON the "model" would emit.
	payload string
	// err, when set, simulates a failed LLM call.
	err error
	// calls counts invocations.
	calls int
}

func (f *fakeGenerator) GenerateStructured(_ context.Context, _ []*schema.Message, out any, _ *llm.Params) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.payload), out)
}

func newTestClassifier(t *testing.T, gen StructuredGenerator) *Classifier {
	t.Helper()
	c, err := NewClassifier(gen)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	return c
}

func TestClassify_HeuristicFastPath(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{payload: `{}`}
	c := newTestClassifier(t, gen)

	cases := []struct {
		query string
		want  Label
	}{
		{"What is the price of tomato in Bargarh today?", LabelMarketPrice},
		{"How to control pest infestation in my paddy field", LabelPestControl},
		{"NPK fertilizer dose for potato", LabelFertilizer},
		{"Is there any government subsidy or yojana for drip systems?", LabelGovernmentScheme},
	}
	for _, tc := range cases {
		d := c.Classify(context.Background(), tc.query)
		if d.Label != tc.want {
			t.Errorf("%q: got %s, want %s", tc.query, d.Label, tc.want)
		}
		if d.IsComplex {
			t.Errorf("%q: fast path marked complex", tc.query)
		}
		if d.Confidence != fastPathConfidence {
			t.Errorf("%q: confidence %v, want %v", tc.query, d.Confidence, fastPathConfidence)
		}
	}
	if gen.calls != 0 {
		t.Errorf("fast path called the LLM %d times", gen.calls)
	}
}

func TestClassify_ConjunctionForcesLLMPass(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{payload: `{
		"label": "complex", "confidence": 0.85, "is_complex": true,
		"subtasks": [
			{"description": "fertilizer plan for rice", "intent_type": "fertilizer", "order_index": 0},
			{"description": "fertilizer plan for wheat", "intent_type": "fertilizer", "order_index": 1},
			{"description": "subsidy schemes for fertilizer", "intent_type": "government_scheme", "order_index": 2}
		]}`}
	c := newTestClassifier(t, gen)

	d := c.Classify(context.Background(),
		"Compare fertilizer recommendations for rice and wheat, and list government schemes that subsidize them.")

	if gen.calls != 1 {
		t.Fatalf("LLM calls: got %d, want 1", gen.calls)
	}
	if !d.IsComplex {
		t.Fatal("expected complex decision")
	}
	if len(d.Subtasks) != 3 {
		t.Fatalf("subtasks: got %d, want 3", len(d.Subtasks))
	}
	for i, st := range d.Subtasks {
		if st.OrderIndex != i {
			t.Errorf("subtask %d: order index %d", i, st.OrderIndex)
		}
	}
}

func TestClassify_ComplexWithOneSubtaskCoercedSimple(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{payload: `{
		"label": "market_price", "confidence": 0.7, "is_complex": true,
		"subtasks": [{"description": "only one", "intent_type": "market_price", "order_index": 0}]}`}
	c := newTestClassifier(t, gen)

	d := c.Classify(context.Background(), "price of tomato versus onion")
	if d.IsComplex {
		t.Error("single-subtask decision must be coerced to simple")
	}
	if len(d.Subtasks) != 0 {
		t.Errorf("simple decision carries %d subtasks", len(d.Subtasks))
	}
}

func TestClassify_UnknownSubtaskIntentReplacedWithGeneral(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{payload: `{
		"label": "complex", "confidence": 0.8, "is_complex": true,
		"subtasks": [
			{"description": "a", "intent_type": "astrology", "order_index": 0},
			{"description": "b", "intent_type": "soil", "order_index": 1}
		]}`}
	c := newTestClassifier(t, gen)

	d := c.Classify(context.Background(), "compare this and that")
	if d.Subtasks[0].IntentType != LabelGeneral {
		t.Errorf("unknown subtask intent: got %s, want general", d.Subtasks[0].IntentType)
	}
	if d.Subtasks[1].IntentType != LabelSoil {
		t.Errorf("known subtask intent rewritten: got %s", d.Subtasks[1].IntentType)
	}
}

func TestClassify_LowConfidenceFallsBackToGeneral(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{payload: `{
		"label": "complex", "confidence": 0.2, "is_complex": true,
		"subtasks": [
			{"description": "a", "intent_type": "soil", "order_index": 0},
			{"description": "b", "intent_type": "soil", "order_index": 1}
		]}`}
	c := newTestClassifier(t, gen)

	d := c.Classify(context.Background(), "compare everything about things")
	if d.Label != LabelGeneral {
		t.Errorf("low-confidence label: got %s, want general", d.Label)
	}
	if !d.IsComplex {
		t.Error("complexity flag must be preserved on low-confidence fallback")
	}
}

func TestClassify_DegradedOnLLMFailure(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{err: errors.New("upstream down")}
	c := newTestClassifier(t, gen)

	// A query with no lexicon signal so the heuristic cannot answer.
	d := c.Classify(context.Background(), "compare xylem and phloem transport efficiency")

	if d.Label != LabelGeneral || d.Confidence != 0.0 || d.IsComplex {
		t.Errorf("degraded decision: got %+v", d)
	}
	if !d.Degraded {
		t.Error("degraded flag not set")
	}
}

func TestClassify_EntitiesExtracted(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{payload: `{}`}
	c := newTestClassifier(t, gen)

	d := c.Classify(context.Background(), "What is the price of tomato in Bargarh today?")
	if d.Entities.Crop != "tomato" {
		t.Errorf("crop: got %q", d.Entities.Crop)
	}
	if d.Entities.District != "bargarh" {
		t.Errorf("district: got %q", d.Entities.District)
	}
}

func TestNewDecision_ClampsConfidence(t *testing.T) {
	t.Parallel()

	if d := NewDecision(LabelSoil, 1.7, false, nil); d.Confidence != 1 {
		t.Errorf("confidence not clamped high: %v", d.Confidence)
	}
	if d := NewDecision(LabelGeneral, -0.5, false, nil); d.Confidence != 0 {
		t.Errorf("confidence not clamped low: %v", d.Confidence)
	}
}

func TestNewDecision_RenumbersSubtasks(t *testing.T) {
	t.Parallel()

	d := NewDecision(LabelComplex, 0.9, true, []SubtaskSpec{
		{Description: "a", IntentType: LabelSoil, OrderIndex: 3},
		{Description: "b", IntentType: LabelSoil, OrderIndex: 7},
	})
	if d.Subtasks[0].OrderIndex != 0 || d.Subtasks[1].OrderIndex != 1 {
		t.Errorf("order indexes not contiguous: %+v", d.Subtasks)
	}
}

func TestExtractEntities_NoMatch(t *testing.T) {
	t.Parallel()

	e := ExtractEntities("how do I improve drainage?")
	if e.Crop != "" || e.District != "" {
		t.Errorf("unexpected entities: %+v", e)
	}
}
