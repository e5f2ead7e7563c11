package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DevjeetSahu/agriquery-go/internal/fault"
	"github.com/DevjeetSahu/agriquery-go/internal/intent"
	"github.com/DevjeetSahu/agriquery-go/internal/logging"
)

// Defaults for the retention policy.
const (
	// DefaultTTL is how long terminal workflows are retained before the
	// reaper may evict them. It also bounds the Start idempotency window.
	DefaultTTL = time.Hour
	// DefaultCap is the maximum number of workflows (active + terminal) held
	// in the registry before LRU eviction of terminal entries kicks in.
	DefaultCap = 10000
)

// SubtaskRunner executes one subtask and synthesizes the final summary.
// The query pipeline implements it; tests inject a fake.
type SubtaskRunner interface {
	// RunSubtask answers one subtask through the retrieve→prompt→generate
	// mini-pipeline, using the subtask's own intent for routing.
	RunSubtask(ctx context.Context, originalQuery string, spec intent.SubtaskSpec) (string, error)

	// Synthesize produces the final summary from the original query and the
	// ordered subtask results.
	Synthesize(ctx context.Context, originalQuery string, subtasks []intent.SubtaskSpec, results []SubtaskResult) (string, error)
}

// entry is one registry slot. Its mutex serializes all operations on the
// workflow it holds; the registry lock is never held across a subtask run.
type entry struct {
	// mu serializes Execute/Finalize/Status for this workflow.
	mu sync.Mutex
	// wf is the owned workflow record.
	wf *Workflow
	// lastAccess drives LRU eviction.
	lastAccess time.Time
	// dedupeKey links back to the Start idempotency index.
	dedupeKey string
}

// Config holds the construction parameters for a Manager.
type Config struct {
	// Runner executes subtasks and synthesis. Required.
	Runner SubtaskRunner
	// TTL overrides DefaultTTL. Zero selects the default.
	TTL time.Duration
	// Cap overrides DefaultCap. Zero selects the default.
	Cap int
	// Logger receives reaper and eviction events. Nil uses slog.Default.
	Logger *slog.Logger
}

// Manager owns the workflow registry and its retention policy.
// All methods are safe for concurrent use; operations on a single workflow
// are serialized, independent workflows proceed in parallel.
type Manager struct {
	// mu guards workflows, dedupe, and lastAccess fields.
	mu sync.Mutex
	// workflows maps workflow ID to its registry entry.
	workflows map[string]*entry
	// dedupe maps the Start idempotency key to the workflow ID it produced.
	dedupe map[string]string

	// runner executes subtasks and synthesis.
	runner SubtaskRunner
	// ttl and cap parameterize retention.
	ttl time.Duration
	cap int

	// log receives lifecycle events.
	log *slog.Logger
	// stopReaper terminates the background reaper goroutine.
	stopReaper chan struct{}
	// stopOnce guards double-Stop.
	stopOnce sync.Once

	// now is the clock, swapped in tests.
	now func() time.Time
}

// NewManager constructs a Manager and starts its TTL reaper. Call Stop when
// the manager's owner shuts down.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil || cfg.Runner == nil {
		return nil, fmt.Errorf("workflow: runner must not be nil")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	capacity := cfg.Cap
	if capacity <= 0 {
		capacity = DefaultCap
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		workflows:  make(map[string]*entry),
		dedupe:     make(map[string]string),
		runner:     cfg.Runner,
		ttl:        ttl,
		cap:        capacity,
		log:        log,
		stopReaper: make(chan struct{}),
		now:        time.Now,
	}

	go m.reapLoop()
	return m, nil
}

// Stop terminates the background reaper. Idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopReaper) })
}

// Start creates a workflow in the pending state and returns its ID.
// Calling Start again with identical arguments within the TTL window returns
// the same ID. Decompositions must have 2 to 10 subtasks.
func (m *Manager) Start(ctx context.Context, query string, subtasks []intent.SubtaskSpec) (string, error) {
	if query == "" {
		return "", fault.New(fault.KindInvalidArgument, "query must not be empty")
	}
	if len(subtasks) < 2 {
		return "", fault.New(fault.KindInvalidArgument,
			"workflow needs at least 2 subtasks, got %d", len(subtasks))
	}
	if len(subtasks) > MaxSubtasks {
		return "", fault.New(fault.KindInvalidArgument,
			"workflow exceeds the %d-subtask limit: %d", MaxSubtasks, len(subtasks))
	}

	// Normalize order indexes so Completed[i].OrderIndex == i holds by
	// construction for the whole lifecycle.
	specs := make([]intent.SubtaskSpec, len(subtasks))
	for i, st := range subtasks {
		st.OrderIndex = i
		specs[i] = st
	}

	key := dedupeKey(query, specs)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.dedupe[key]; ok {
		if e, alive := m.workflows[id]; alive {
			e.lastAccess = now
			return id, nil
		}
		delete(m.dedupe, key) // evicted — fall through and create fresh
	}

	if len(m.workflows) >= m.cap {
		if !m.evictLRUTerminalLocked() {
			return "", fault.New(fault.KindUpstreamBusy,
				"workflow registry is at capacity (%d) with no terminal workflows to evict", m.cap)
		}
	}

	id := uuid.NewString()
	m.workflows[id] = &entry{
		wf: &Workflow{
			ID:            id,
			OriginalQuery: query,
			Subtasks:      specs,
			Status:        StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		lastAccess: now,
		dedupeKey:  key,
	}
	m.dedupe[key] = id

	logging.FromContext(ctx).Info("workflow: started",
		slog.String("workflow_id", id),
		slog.Int("subtasks", len(specs)),
	)
	return id, nil
}

// Execute runs the subtask at index through the runner. Subtasks execute
// strictly in order: index must equal the number of already-completed
// subtasks. A runner failure is recorded as a SubtaskResult with Error set
// and moves the workflow to errored — the result is returned as a structured
// diagnostic, not an error. Cancellation discards the partial result and
// leaves the workflow as it was.
func (m *Manager) Execute(ctx context.Context, id string, index int) (SubtaskResult, error) {
	e, err := m.lookup(id)
	if err != nil {
		return SubtaskResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wf := e.wf
	switch wf.Status {
	case StatusErrored:
		return SubtaskResult{}, fault.New(fault.KindWorkflowErrored,
			"workflow %s already errored", id)
	case StatusCompleted:
		return SubtaskResult{}, fault.New(fault.KindOutOfOrder,
			"workflow %s is already completed", id)
	}

	if index != len(wf.Completed) || index >= len(wf.Subtasks) {
		return SubtaskResult{}, fault.New(fault.KindOutOfOrder,
			"subtask %d requested, next executable index is %d of %d", index, len(wf.Completed), len(wf.Subtasks))
	}

	prevStatus, prevUpdated := wf.Status, wf.UpdatedAt
	wf.Status = StatusRunning
	wf.UpdatedAt = m.now()

	response, runErr := m.runner.RunSubtask(ctx, wf.OriginalQuery, wf.Subtasks[index])
	if runErr != nil {
		if fault.Is(runErr, fault.KindCancelled) || ctx.Err() != nil {
			// Discard the partial result and restore the prior state; the
			// workflow stays runnable.
			wf.Status, wf.UpdatedAt = prevStatus, prevUpdated
			return SubtaskResult{}, fault.Wrap(fault.KindCancelled, runErr,
				"subtask %d cancelled", index)
		}

		result := SubtaskResult{OrderIndex: index, Completed: true, Error: runErr.Error()}
		wf.Completed = append(wf.Completed, result)
		wf.Status = StatusErrored
		wf.UpdatedAt = m.now()

		logging.FromContext(ctx).Error("workflow: subtask failed",
			slog.String("workflow_id", id),
			slog.Int("index", index),
			slog.Any("error", runErr),
		)
		return result, nil
	}

	result := SubtaskResult{OrderIndex: index, Completed: true, Response: response}
	wf.Completed = append(wf.Completed, result)
	wf.UpdatedAt = m.now()
	return result, nil
}

// Finalize synthesizes and stores the summary once every subtask has
// completed successfully, transitioning the workflow to completed.
// A synthesis failure transitions to errored.
func (m *Manager) Finalize(ctx context.Context, id string) (string, error) {
	e, err := m.lookup(id)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wf := e.wf
	if wf.Status == StatusCompleted {
		return wf.Summary, nil // finalize is idempotent on a completed workflow
	}
	if wf.Status == StatusErrored {
		return "", fault.New(fault.KindWorkflowErrored, "workflow %s errored", id)
	}
	if len(wf.Completed) != len(wf.Subtasks) {
		return "", fault.New(fault.KindIncomplete,
			"workflow %s has %d of %d subtasks completed", id, len(wf.Completed), len(wf.Subtasks))
	}
	for _, r := range wf.Completed {
		if r.Error != "" {
			return "", fault.New(fault.KindWorkflowErrored,
				"workflow %s has a failed subtask at index %d", id, r.OrderIndex)
		}
	}

	summary, synthErr := m.runner.Synthesize(ctx, wf.OriginalQuery, wf.Subtasks, wf.Completed)
	if synthErr != nil {
		if fault.Is(synthErr, fault.KindCancelled) || ctx.Err() != nil {
			return "", fault.Wrap(fault.KindCancelled, synthErr, "synthesis cancelled")
		}
		wf.Status = StatusErrored
		wf.UpdatedAt = m.now()
		return "", fault.Wrap(fault.KindWorkflowErrored, synthErr,
			"synthesis failed for workflow %s", id)
	}

	wf.Summary = summary
	wf.Status = StatusCompleted
	wf.UpdatedAt = m.now()

	logging.FromContext(ctx).Info("workflow: completed",
		slog.String("workflow_id", id),
		slog.Int("subtasks", len(wf.Subtasks)),
	)
	return summary, nil
}

// Status returns a point-in-time snapshot of the workflow.
func (m *Manager) Status(id string) (*Snapshot, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wf := e.wf.clone()
	return &Snapshot{
		WorkflowID:    wf.ID,
		OriginalQuery: wf.OriginalQuery,
		Status:        wf.Status,
		Progress:      wf.Progress(),
		Subtasks:      wf.Subtasks,
		Completed:     wf.Completed,
		Summary:       wf.Summary,
	}, nil
}

// lookup fetches the registry entry and bumps its LRU clock.
func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.workflows[id]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "workflow %s does not exist", id)
	}
	e.lastAccess = m.now()
	return e, nil
}

// evictLRUTerminalLocked removes the least-recently-accessed terminal
// workflow. Returns false when no terminal workflow exists.
// Caller must hold m.mu.
func (m *Manager) evictLRUTerminalLocked() bool {
	var victimID string
	var victim *entry
	for id, e := range m.workflows {
		if !e.wf.Status.Terminal() {
			continue
		}
		if victim == nil || e.lastAccess.Before(victim.lastAccess) {
			victimID, victim = id, e
		}
	}
	if victim == nil {
		return false
	}
	delete(m.workflows, victimID)
	delete(m.dedupe, victim.dedupeKey)
	m.log.Debug("workflow: evicted for capacity", slog.String("workflow_id", victimID))
	return true
}

// reapLoop evicts terminal workflows whose TTL has expired. It runs until
// Stop is called.
func (m *Manager) reapLoop() {
	interval := m.ttl / 10
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopReaper:
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

// reap removes terminal workflows older than the TTL.
func (m *Manager) reap() {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.workflows {
		if e.wf.Status.Terminal() && e.wf.UpdatedAt.Before(cutoff) {
			delete(m.workflows, id)
			delete(m.dedupe, e.dedupeKey)
			m.log.Debug("workflow: reaped expired workflow", slog.String("workflow_id", id))
		}
	}
}

// dedupeKey derives the Start idempotency key from the query and the
// decomposition.
func dedupeKey(query string, subtasks []intent.SubtaskSpec) string {
	h := sha256.New()
	h.Write([]byte(query))
	for _, st := range subtasks {
		fmt.Fprintf(h, "|%s|%s", st.Description, st.IntentType)
	}
	return hex.EncodeToString(h.Sum(nil))
}
