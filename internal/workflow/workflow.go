// Package workflow orchestrates decomposed multi-step queries: it persists
// workflow state in a mutex-guarded in-memory registry, executes subtasks
// strictly in order through the query pipeline, and synthesizes the final
// summary once every subtask has completed.
//
// Workflows are in-memory only and do not survive a process restart.
// Terminal workflows are retained for a TTL and evicted by a background
// reaper owned by the Manager.
package workflow

import (
	"time"

	"github.com/DevjeetSahu/agriquery-go/internal/intent"
)

// Status is the lifecycle state of a workflow.
// Transitions: pending → running → (completed | errored).
type Status string

const (
	// StatusPending is a created workflow with no subtask executed yet.
	StatusPending Status = "pending"
	// StatusRunning is a workflow with at least one subtask executed.
	StatusRunning Status = "running"
	// StatusCompleted is a finalized workflow with a summary.
	StatusCompleted Status = "completed"
	// StatusErrored is a workflow terminated by a subtask or synthesis failure.
	StatusErrored Status = "errored"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusErrored
}

// MaxSubtasks caps the decomposition size accepted by Start.
const MaxSubtasks = 10

// SubtaskResult records the outcome of one executed subtask.
// When Completed is true exactly one of Response/Error is set.
type SubtaskResult struct {
	// OrderIndex is the subtask's position; equals its slice index.
	OrderIndex int `json:"order_index"`
	// Completed is true once execution finished, successfully or not.
	Completed bool `json:"completed"`
	// Response is the generated answer on success.
	Response string `json:"response,omitempty"`
	// Error is the failure diagnostic on failure.
	Error string `json:"error,omitempty"`
}

// Workflow is the persistent record of one decomposed query.
// All fields are owned by the Manager; callers only ever see copies.
type Workflow struct {
	// ID uniquely identifies the workflow.
	ID string `json:"workflow_id"`
	// OriginalQuery is the user query that was decomposed.
	OriginalQuery string `json:"original_query"`
	// Subtasks is the ordered decomposition, fixed at Start.
	Subtasks []intent.SubtaskSpec `json:"subtasks"`
	// Completed holds results for executed subtasks; Completed[i].OrderIndex == i.
	Completed []SubtaskResult `json:"completed"`
	// Status is the lifecycle state.
	Status Status `json:"status"`
	// Summary is the synthesis, set only when Status is completed.
	Summary string `json:"summary,omitempty"`
	// CreatedAt and UpdatedAt track the record lifecycle.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress returns the completed fraction in [0,1].
func (w *Workflow) Progress() float64 {
	if len(w.Subtasks) == 0 {
		return 0
	}
	return float64(len(w.Completed)) / float64(len(w.Subtasks))
}

// clone returns a deep copy safe to hand outside the Manager's locks.
func (w *Workflow) clone() *Workflow {
	cp := *w
	cp.Subtasks = append([]intent.SubtaskSpec(nil), w.Subtasks...)
	cp.Completed = append([]SubtaskResult(nil), w.Completed...)
	return &cp
}

// Snapshot is the caller-facing view returned by Manager.Status.
type Snapshot struct {
	// WorkflowID identifies the workflow.
	WorkflowID string `json:"workflow_id"`
	// OriginalQuery is the decomposed user query.
	OriginalQuery string `json:"original_query"`
	// Status is the lifecycle state at snapshot time.
	Status Status `json:"status"`
	// Progress is len(completed)/len(subtasks).
	Progress float64 `json:"progress"`
	// Subtasks is the full decomposition.
	Subtasks []intent.SubtaskSpec `json:"subtasks"`
	// Completed holds the executed subtask results.
	Completed []SubtaskResult `json:"completed"`
	// Summary is present once the workflow completed.
	Summary string `json:"summary,omitempty"`
}
