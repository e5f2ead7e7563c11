package budget

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"ab", 1}, // short non-empty strings round up to 1
		{"abcdefgh", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.in); got != tc.want {
			t.Errorf("Estimate(%d chars): got %d, want %d", len(tc.in), got, tc.want)
		}
	}
}

func TestTruncateItems_DropsLowestRankedFirst(t *testing.T) {
	t.Parallel()

	items := []string{"aaaa", "bbbb", "cccc"}
	got := TruncateItems(items, "\n", 9) // "aaaa\nbbbb" = 9 bytes; "cccc" does not fit

	if len(got) != 2 || got[0] != "aaaa" || got[1] != "bbbb" {
		t.Errorf("got %v, want [aaaa bbbb]", got)
	}
}

func TestTruncateItems_AllFit(t *testing.T) {
	t.Parallel()

	items := []string{"a", "b"}
	got := TruncateItems(items, "\n", 100)
	if len(got) != 2 {
		t.Errorf("got %d items, want 2", len(got))
	}
}

func TestTruncateItems_OversizedFirstItemHardCut(t *testing.T) {
	t.Parallel()

	items := []string{strings.Repeat("x", 50)}
	got := TruncateItems(items, "\n", 10)
	if len(got) != 1 || len(got[0]) != 10 {
		t.Fatalf("oversized item: got %d items (len %d), want 1 item of len 10", len(got), len(got[0]))
	}
}

func TestTruncateItems_ZeroBudget(t *testing.T) {
	t.Parallel()

	if got := TruncateItems([]string{"a"}, "\n", 0); got != nil {
		t.Errorf("zero budget: got %v, want nil", got)
	}
}
