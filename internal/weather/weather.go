// Package weather provides the static fallback implementation of the
// retriever's weather collaborator. The production weather proxy is an
// external service; this stub keeps weather-intent queries answerable in
// offline and test deployments with seasonal climatology for the served
// districts.
package weather

import (
	"context"
	"fmt"
	"strings"

	"github.com/DevjeetSahu/agriquery-go/internal/rag"
)

// climatology holds the canned district summaries served by the static
// provider. Keys are lowercase district names.
var climatology = map[string]string{
	"bargarh": "Bargarh district: tropical climate, annual rainfall around 1400mm " +
		"concentrated in the June-September monsoon. Kharif paddy is the dominant " +
		"crop; rabi season is dry with irrigation from the Hirakud command area.",
	"sambalpur": "Sambalpur district: monsoon-fed, annual rainfall near 1500mm. " +
		"High summer temperatures (April-May above 40C); sowing typically follows " +
		"monsoon onset in mid-June.",
}

// defaultSummary is returned when the district is unknown or unspecified.
const defaultSummary = "Western Odisha: monsoon-driven agriculture with June-September " +
	"rains. Consult the district agriculture office for short-range forecasts."

// Static is a WeatherProvider serving canned climatology. It is safe for
// concurrent use.
type Static struct{}

// NewStatic constructs the static provider.
func NewStatic() *Static { return &Static{} }

// Lookup returns the climatology summary for the district as a single-hit
// document set.
func (s *Static) Lookup(_ context.Context, district string) ([]rag.Document, error) {
	key := strings.ToLower(strings.TrimSpace(district))

	text, ok := climatology[key]
	if !ok {
		text = defaultSummary
		key = "region"
	}

	return []rag.Document{{
		ID:    fmt.Sprintf("weather-%s", key),
		Text:  text,
		Score: 1.0,
		Metadata: map[string]string{
			"source_collection": "weather",
			"district":          key,
		},
	}}, nil
}
