package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeStructured extracts the first JSON object from raw model output and
// decodes it into out. Models frequently wrap JSON in markdown fencing or
// prepend prose, so the decoder locates the outermost {...} span before
// unmarshalling. If out implements Validator its semantic constraints are
// checked as well.
func decodeStructured(content string, out any) error {
	jsonStr, err := extractJSONObject(content)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(strings.NewReader(jsonStr))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}

	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("output violates schema constraints: %w", err)
		}
	}
	return nil
}

// extractJSONObject strips markdown fencing and returns the outermost JSON
// object span in content.
func extractJSONObject(content string) (string, error) {
	s := strings.TrimSpace(content)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON object found in output")
	}
	return s[start : end+1], nil
}
