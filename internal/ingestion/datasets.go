// Package ingestion populates the vector collections from the reference
// datasets (market prices, soil, pest control, fertilizers, schemes). Each
// dataset is a JSON file named after its collection; rebuilds embed every
// document and atomically replace the collection's contents.
package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/DevjeetSahu/agriquery-go/internal/fault"
	"github.com/DevjeetSahu/agriquery-go/internal/rag"
)

// Dataset is one collection's reference documents, ready for embedding.
type Dataset struct {
	// Collection is the target collection name.
	Collection string
	// Documents are the records to index.
	Documents []rag.Document
}

// datasetRecord is the on-disk JSON shape of one document.
type datasetRecord struct {
	// ID is optional; a UUID is assigned at upsert when absent.
	ID string `json:"id,omitempty"`
	// Text is the retrievable payload.
	Text string `json:"text"`
	// Metadata carries the collection's filter keys (crop, market, ...).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LoadDataset reads one dataset file. The collection name is derived from
// the file name (e.g. "prices.json" → "prices").
func LoadDataset(path string) (*Dataset, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: failed to read dataset %s: %w", path, err)
	}

	var records []datasetRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("ingestion: failed to parse dataset %s: %w", path, err)
	}

	docs := make([]rag.Document, 0, len(records))
	for i, rec := range records {
		if rec.Text == "" {
			return nil, fault.New(fault.KindInvalidArgument,
				"dataset %s record %d has empty text", path, i)
		}
		meta := map[string]string{"source_collection": name}
		for k, v := range rec.Metadata {
			meta[k] = v
		}
		docs = append(docs, rag.Document{ID: rec.ID, Text: rec.Text, Metadata: meta})
	}

	return &Dataset{Collection: name, Documents: docs}, nil
}

// LoadDir loads every *.json dataset under dir, keyed by collection name.
// Files whose names are not known collections are skipped with no error so
// the data directory can carry unrelated files.
func LoadDir(dir string) (map[string]*Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingestion: failed to read dataset directory %s: %w", dir, err)
	}

	known := make(map[string]bool, len(rag.AllCollections()))
	for _, c := range rag.AllCollections() {
		known[c] = true
	}

	out := make(map[string]*Dataset)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		if !known[name] {
			continue
		}
		ds, err := LoadDataset(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[name] = ds
	}
	return out, nil
}
