package rag

import (
	"github.com/DevjeetSahu/agriquery-go/internal/intent"
)

// routingTable lists the collections searched for one intent, primary first.
// Routing changes are data-only: add or reorder entries here and the
// retrieval fan-out follows.
var routingTable = map[intent.Label][]string{
	intent.LabelMarketPrice:      {CollectionPrices, CollectionSchemes}, // schemes carry MSP notifications
	intent.LabelPestControl:      {CollectionPestControl},
	intent.LabelFertilizer:       {CollectionFertilizers, CollectionSoil},
	intent.LabelSoil:             {CollectionSoil},
	intent.LabelGovernmentScheme: {CollectionSchemes},
	intent.LabelCropAdvisory:     {CollectionFertilizers, CollectionSoil, CollectionPestControl},
	intent.LabelGeneral: {
		CollectionAdvisory,
		CollectionPrices,
		CollectionFertilizers,
		CollectionSoil,
		CollectionPestControl,
		CollectionSchemes,
	},
	// LabelWeather is handled by the external weather collaborator, not the
	// vector store — see Retriever.Retrieve.
}

// routesFor returns the ordered collection list for a label, defaulting to
// the general fan-out for anything unrecognized.
func routesFor(label intent.Label) []string {
	if r, ok := routingTable[label]; ok {
		return r
	}
	return routingTable[intent.LabelGeneral]
}

// splitTopK distributes the global top-k budget across n collections:
// the primary gets ⌈0.6·K⌉ and each secondary an even share of the rest.
// Every collection gets at least 1 when K > 0.
func splitTopK(k, n int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if n == 1 {
		return []int{k}
	}

	primary := (k*6 + 9) / 10 // ⌈0.6·K⌉
	if primary < 1 {
		primary = 1
	}
	rest := k - primary
	secondaries := n - 1

	out := make([]int, n)
	out[0] = primary
	for i := 1; i < n; i++ {
		share := rest / secondaries
		if i <= rest%secondaries {
			share++
		}
		if share < 1 {
			share = 1
		}
		out[i] = share
	}
	return out
}

// filterFor builds the metadata filter for one collection from the extracted
// query entities. Each collection has its own vocabulary: price rows are
// keyed by commodity and market, agronomy rows by crop and district.
func filterFor(collection string, e intent.Entities) map[string]string {
	f := map[string]string{}
	switch collection {
	case CollectionPrices:
		if e.Crop != "" {
			f["commodity"] = e.Crop
		}
		if e.District != "" {
			f["market"] = e.District
		}
	default:
		if e.Crop != "" {
			f["crop"] = e.Crop
		}
		if e.District != "" {
			f["district"] = e.District
		}
	}
	if len(f) == 0 {
		return nil
	}
	return f
}
