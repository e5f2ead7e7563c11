package history

import (
	"context"
	"testing"
	"time"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_History_RecordAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	first := Record{
		Query:     "tomato price in bargarh",
		Intent:    "market_price",
		Response:  "2400 INR/quintal",
		CreatedAt: time.Now().Add(-time.Minute),
	}
	second := Record{
		Query:      "compare rice and wheat fertilizer",
		Intent:     "complex",
		Response:   "summary",
		WorkflowID: "wf-1",
		Degraded:   true,
		CreatedAt:  time.Now(),
	}
	if err := s.Record(ctx, first); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record(ctx, second); err != nil {
		t.Fatalf("record: %v", err)
	}

	recs, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %d", len(recs))
	}
	// Newest first.
	if recs[0].WorkflowID != "wf-1" || !recs[0].Degraded {
		t.Errorf("recs[0]: %+v", recs[0])
	}
	if recs[1].Intent != "market_price" {
		t.Errorf("recs[1]: %+v", recs[1])
	}
}

func Test_History_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for range 6 {
		if err := s.Record(ctx, Record{Query: "q", Intent: "general", Response: "r"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	recs, err := s.Recent(ctx, 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 4 {
		t.Errorf("want 4 records, got %d", len(recs))
	}
}
