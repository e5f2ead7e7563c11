package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Classified(t *testing.T) {
	t.Parallel()

	err := New(KindNotFound, "workflow %s", "abc")
	if got := KindOf(err); got != KindNotFound {
		t.Errorf("KindOf: got %q, want %q", got, KindNotFound)
	}
}

func TestKindOf_WrappedChain(t *testing.T) {
	t.Parallel()

	inner := New(KindUpstreamQuota, "429 from provider")
	outer := fmt.Errorf("llm: generate failed: %w", inner)

	if got := KindOf(outer); got != KindUpstreamQuota {
		t.Errorf("KindOf through fmt.Errorf: got %q, want %q", got, KindUpstreamQuota)
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	t.Parallel()

	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("unclassified error: got %q, want %q", got, KindInternal)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("nil error: got %q, want empty kind", got)
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	t.Parallel()

	if err := Wrap(KindInternal, nil, "ignored"); err != nil {
		t.Errorf("Wrap(nil): got %v, want nil", err)
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind Kind
		want bool
	}{
		{KindUpstreamUnavailable, true},
		{KindUpstreamBusy, true},
		{KindUpstreamAuth, false},
		{KindUpstreamQuota, false},
		{KindContentRefused, false},
		{KindInvalidArgument, false},
		{KindSchemaViolation, false},
	}
	for _, tc := range cases {
		if got := Retryable(New(tc.kind, "x")); got != tc.want {
			t.Errorf("Retryable(%s): got %v, want %v", tc.kind, got, tc.want)
		}
	}
}
