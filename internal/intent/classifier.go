package intent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cloudwego/eino/schema"

	"github.com/DevjeetSahu/agriquery-go/internal/llm"
	"github.com/DevjeetSahu/agriquery-go/internal/logging"
)

// Heuristic fast-path thresholds. A single intent must win by a clear margin
// before the LLM pass is skipped.
const (
	// fastPathMinScore is the minimum lexicon score required for a fast-path win.
	fastPathMinScore = 0.1
	// fastPathMargin is the minimum lead over the runner-up. Two labels closer
	// than this are ambiguous and fall through to the LLM.
	fastPathMargin = 0.1
	// fastPathConfidence is the confidence reported for fast-path decisions.
	fastPathConfidence = 0.9
)

// classifySystemPrompt instructs the LLM classification pass. Complexity is
// deliberately restrictive: decomposition costs a full workflow, so the
// model is told to prefer single-pass answers.
const classifySystemPrompt = `You are the routing classifier for an agricultural question-answering
assistant serving farmers in Bargarh district, Odisha.

Classify the user's query into exactly one of these intents:
- market_price: crop prices, mandi rates, buying/selling values
- weather: rainfall, forecasts, temperature, climate
- pest_control: pests, diseases, spraying, crop protection
- fertilizer: fertilizers, nutrients, NPK, manure, dosing
- soil: soil health, soil types, pH, testing
- government_scheme: subsidies, loans, insurance, policies
- crop_advisory: variety selection, sowing/harvest timing, cultivation
- general: agricultural queries that fit none of the above

Set is_complex=true ONLY when the query cannot be answered by a single
retrieval and generation pass: it needs data from multiple knowledge areas,
asks for a comparison across crops or dimensions, or has explicit sequencing
("first ... then ..."). A complex query must be decomposed into 2 to 10
subtasks, each with a description, an intent_type from the list above, and
an order_index starting at 0.

Respond with ONLY a JSON object:
{"label": "<intent>", "confidence": <0.0-1.0>, "is_complex": <bool>,
 "subtasks": [{"description": "...", "intent_type": "...", "order_index": 0}]}`

// StructuredGenerator is the slice of the LLM client the classifier needs.
// *llm.Client satisfies it; tests inject a fake.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, msgs []*schema.Message, out any, p *llm.Params) error
}

// Classifier decides routing and complexity for incoming queries.
// It is safe for concurrent use.
type Classifier struct {
	// llm is the structured-output generator for the LLM pass.
	llm StructuredGenerator
}

// NewClassifier constructs a Classifier over the given generator.
func NewClassifier(gen StructuredGenerator) (*Classifier, error) {
	if gen == nil {
		return nil, fmt.Errorf("intent: generator must not be nil")
	}
	return &Classifier{llm: gen}, nil
}

// Classify returns the routing decision for the query.
//
// The heuristic pre-pass handles unambiguous single-intent queries without
// an LLM round-trip. Everything else — ambiguous scores, conjunction
// markers, no lexicon signal — goes to the LLM in structured-output mode.
// If the LLM fails, classification degrades to a general simple decision
// rather than failing the whole query.
func (c *Classifier) Classify(ctx context.Context, query string) Decision {
	log := logging.FromContext(ctx)
	entities := ExtractEntities(query)

	if d, ok := c.heuristic(query); ok {
		d.Entities = entities
		log.Debug("intent: heuristic fast path",
			slog.String("label", string(d.Label)),
			slog.Float64("confidence", d.Confidence),
		)
		return d
	}

	d, err := c.llmClassify(ctx, query)
	if err != nil {
		logging.Degraded(ctx, "intent: LLM classification failed, degrading to general",
			slog.Any("error", err),
		)
		return Decision{Label: LabelGeneral, Confidence: 0.0, IsComplex: false, Entities: entities, Degraded: true}
	}

	d.Entities = entities
	return d
}

// heuristic runs the lexicon pre-pass. ok is false when the query is
// ambiguous or carries conjunction markers and must go to the LLM.
func (c *Classifier) heuristic(query string) (Decision, bool) {
	normalized := normalize(query)
	if normalized == "" {
		return Decision{}, false
	}
	if hasConjunction(normalized) {
		return Decision{}, false
	}

	type scored struct {
		label Label
		score float64
	}
	scores := make([]scored, 0, len(intentLexicons))
	for label, lex := range intentLexicons {
		if s := scoreIntent(normalized, lex); s > 0 {
			scores = append(scores, scored{label, s})
		}
	}
	if len(scores) == 0 {
		return Decision{}, false
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].label < scores[j].label // deterministic tie order
	})

	best := scores[0]
	if best.score < fastPathMinScore {
		return Decision{}, false
	}
	if len(scores) > 1 && best.score-scores[1].score < fastPathMargin {
		// Two intents within the margin — ambiguous, let the LLM decide.
		return Decision{}, false
	}

	return NewDecision(best.label, fastPathConfidence, false, nil), true
}

// llmClassify runs the structured LLM pass and coerces the raw output.
func (c *Classifier) llmClassify(ctx context.Context, query string) (Decision, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(classifySystemPrompt),
		schema.UserMessage(fmt.Sprintf("Classify this query: %q", query)),
	}

	var raw llmDecision
	temp := float32(0.1) // low temperature for consistent classification
	err := c.llm.GenerateStructured(ctx, msgs, &raw, &llm.Params{Temperature: &temp})
	if err != nil {
		return Decision{}, fmt.Errorf("intent: structured classification failed: %w", err)
	}

	conf, _ := raw.confidence()
	subtasks := make([]SubtaskSpec, 0, len(raw.Subtasks))
	for _, st := range raw.Subtasks {
		subtasks = append(subtasks, SubtaskSpec{
			Description: st.Description,
			IntentType:  Label(st.IntentType),
			OrderIndex:  st.OrderIndex,
		})
	}

	return NewDecision(Label(raw.Label), conf, raw.IsComplex, subtasks), nil
}
