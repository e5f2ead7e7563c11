// Package intent classifies user queries into the routing taxonomy and
// detects multi-step (complex) queries that must be decomposed into
// workflows. Classification runs a heuristic lexicon pre-pass first and only
// falls back to the LLM for ambiguous or potentially complex queries.
package intent

import (
	"fmt"
)

// Label is one intent from the closed taxonomy. The set drives both
// retrieval routing and prompt templates.
type Label string

const (
	LabelMarketPrice      Label = "market_price"
	LabelWeather          Label = "weather"
	LabelPestControl      Label = "pest_control"
	LabelFertilizer       Label = "fertilizer"
	LabelSoil             Label = "soil"
	LabelGovernmentScheme Label = "government_scheme"
	LabelCropAdvisory     Label = "crop_advisory"
	LabelGeneral          Label = "general"
	LabelComplex          Label = "complex"
)

// knownLabels is the membership set for validation.
var knownLabels = map[Label]bool{
	LabelMarketPrice:      true,
	LabelWeather:          true,
	LabelPestControl:      true,
	LabelFertilizer:       true,
	LabelSoil:             true,
	LabelGovernmentScheme: true,
	LabelCropAdvisory:     true,
	LabelGeneral:          true,
	LabelComplex:          true,
}

// Known reports whether l is a member of the taxonomy.
func Known(l Label) bool { return knownLabels[l] }

// SubtaskSpec is one atomic step of a decomposed query.
type SubtaskSpec struct {
	// Description is the natural-language task for this step.
	Description string `json:"description"`
	// IntentType routes the step's retrieval.
	IntentType Label `json:"intent_type"`
	// OrderIndex is contiguous from 0 and strictly increasing within a workflow.
	OrderIndex int `json:"order_index"`
}

// Entities are the heuristically extracted query entities used to build
// retrieval metadata filters. Empty fields mean no constraint.
type Entities struct {
	// Crop is the recognized crop or commodity name, lowercase.
	Crop string
	// District is the recognized district or mandi name, lowercase.
	District string
}

// Decision is the classifier's routing verdict for a query.
//
// The complexity invariant is enforced at construction: IsComplex is true
// only when at least two subtasks are present, and a simple decision never
// carries subtasks.
type Decision struct {
	// Label is the routing intent.
	Label Label `json:"label"`
	// Confidence is the classifier's confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// IsComplex marks queries that need a decomposed workflow.
	IsComplex bool `json:"is_complex"`
	// Subtasks is the ordered decomposition; present iff IsComplex.
	Subtasks []SubtaskSpec `json:"subtasks,omitempty"`
	// Entities are the extracted filter entities (not LLM-provided).
	Entities Entities `json:"-"`
	// Degraded marks a decision produced by the fallback path after an LLM
	// failure. Surfaced in logs only, never to the caller.
	Degraded bool `json:"-"`
}

// NewDecision constructs a Decision, coercing it into a valid state:
// a complex decision with fewer than two subtasks becomes simple, subtask
// order indexes are renumbered contiguously from 0, unknown subtask intents
// are replaced with general, and low-confidence labels (<0.3) fall back to
// general while the complexity flag is preserved.
func NewDecision(label Label, confidence float64, complex bool, subtasks []SubtaskSpec) Decision {
	if !Known(label) {
		label = LabelGeneral
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0.3 && label != LabelGeneral {
		label = LabelGeneral
	}

	if complex && len(subtasks) >= 2 {
		fixed := make([]SubtaskSpec, len(subtasks))
		for i, st := range subtasks {
			if !Known(st.IntentType) || st.IntentType == LabelComplex {
				st.IntentType = LabelGeneral
			}
			st.OrderIndex = i
			fixed[i] = st
		}
		return Decision{Label: label, Confidence: confidence, IsComplex: true, Subtasks: fixed}
	}

	return Decision{Label: label, Confidence: confidence, IsComplex: false}
}

// llmDecision is the raw structured-output shape requested from the LLM.
// It is validated by the llm client before being coerced into a Decision.
type llmDecision struct {
	Label      string `json:"label"`
	Confidence any    `json:"confidence"`
	IsComplex  bool   `json:"is_complex"`
	Subtasks   []struct {
		Description string `json:"description"`
		IntentType  string `json:"intent_type"`
		OrderIndex  int    `json:"order_index"`
	} `json:"subtasks"`
}

// Validate implements llm.Validator. It checks only hard structural
// constraints; semantic coercion happens in NewDecision.
func (d *llmDecision) Validate() error {
	if d.Label == "" {
		return fmt.Errorf("label is empty")
	}
	if c, ok := d.confidence(); !ok {
		return fmt.Errorf("confidence is not a number")
	} else if c < 0 || c > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", c)
	}
	if d.IsComplex && len(d.Subtasks) > 0 {
		for i, st := range d.Subtasks {
			if st.Description == "" {
				return fmt.Errorf("subtask %d has empty description", i)
			}
		}
	}
	return nil
}

// confidence normalizes the confidence field, which models sometimes emit as
// a string.
func (d *llmDecision) confidence() (float64, bool) {
	switch v := d.Confidence.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
