// Package fault defines the error taxonomy shared by every component of the
// query-answering core. Each error carries a Kind that callers branch on with
// [KindOf] or [Is]; the wrapped cause is preserved for logging.
//
// Caller errors (InvalidArgument, NotFound, OutOfOrder, ...) are never
// retried. Upstream kinds describe provider signals and drive the retry
// policy in the llm package; vector-store calls in the rag package are not
// retried. KindInternal always represents a bug and is logged with full
// detail.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the core's taxonomy.
type Kind string

const (
	// KindInvalidArgument is a caller error; never retried.
	KindInvalidArgument Kind = "invalid_argument"
	// KindNotFound signals a missing workflow or collection.
	KindNotFound Kind = "not_found"
	// KindOutOfOrder signals a subtask executed out of sequence.
	KindOutOfOrder Kind = "out_of_order"
	// KindIncomplete signals a summary request before all subtasks completed.
	KindIncomplete Kind = "incomplete"
	// KindWorkflowErrored signals an operation on a workflow in the errored state.
	KindWorkflowErrored Kind = "workflow_errored"
	// KindSchemaViolation signals LLM structured output that did not conform
	// to its schema after all retries.
	KindSchemaViolation Kind = "schema_violation"
	// KindUpstreamAuth signals an authentication failure from a provider.
	KindUpstreamAuth Kind = "upstream_auth"
	// KindUpstreamQuota signals a quota or rate-limit rejection from a provider.
	KindUpstreamQuota Kind = "upstream_quota"
	// KindUpstreamBusy signals connection-pool or circuit-breaker saturation.
	KindUpstreamBusy Kind = "upstream_busy"
	// KindUpstreamUnavailable signals a persistent transient failure (5xx,
	// timeout) that survived the retry policy.
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	// KindContentRefused signals a content-policy refusal; never retried.
	KindContentRefused Kind = "content_refused"
	// KindDimensionConflict signals a collection created with one dimension
	// being reopened with another.
	KindDimensionConflict Kind = "dimension_conflict"
	// KindShapeMismatch signals an embedding whose length differs from the
	// collection's declared dimension.
	KindShapeMismatch Kind = "shape_mismatch"
	// KindCancelled signals cooperative cancellation via context.
	KindCancelled Kind = "cancelled"
	// KindInternal is everything else; it represents a bug.
	KindInternal Kind = "internal"
)

// Error is a classified error. It implements the standard error and
// unwrapping interfaces so errors.Is/As work across package boundaries.
type Error struct {
	// Kind is the taxonomy class of this error.
	Kind Kind
	// Msg is the human-readable description. User-facing surfaces strip
	// anything the wrapped cause adds.
	Msg string
	// Err is the wrapped cause, if any.
	Err error
}

// Error returns the formatted message including the wrapped cause.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause for errors.Is/As traversal.
func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err returns nil so call sites can
// wrap unconditionally.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, walking the wrap chain. Unclassified errors
// report KindInternal; nil reports the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its wrap chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error's kind may be retried by a local
// policy. Only transient upstream failures qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUpstreamUnavailable, KindUpstreamBusy:
		return true
	default:
		return false
	}
}
