package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/DevjeetSahu/agriquery-go/internal/fault"
	"github.com/DevjeetSahu/agriquery-go/internal/logging"
)

// handleQuery handles POST /api/query. Single-shot queries return the
// generated answer; complex queries return a workflow handoff the client
// drives through the workflow endpoints.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fault.New(fault.KindInvalidArgument, "invalid request body"))
		return
	}
	if req.Query == "" {
		writeError(w, r, fault.New(fault.KindInvalidArgument, "query is required"))
		return
	}

	out, err := s.engine.Answer(r.Context(), req.Query, req.TopK)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ann := annotate(r.Context())
	ann.intent = out.Intent
	ann.workflowID = out.WorkflowID
	ann.degraded = out.Degraded

	if out.IsWorkflow {
		s.metrics.queriesTotal.WithLabelValues("workflow").Inc()
	} else {
		s.metrics.queriesTotal.WithLabelValues("single").Inc()
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleWorkflowExecute handles POST /api/workflows/{id}/subtasks/{index}.
func (s *Server) handleWorkflowExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	annotate(r.Context()).workflowID = id

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeError(w, r, fault.New(fault.KindInvalidArgument, "subtask index must be a non-negative integer"))
		return
	}

	result, execErr := s.engine.WorkflowExecute(r.Context(), id, index)
	if execErr != nil {
		writeError(w, r, execErr)
		return
	}

	if result.Error != "" {
		s.metrics.subtasksTotal.WithLabelValues("error").Inc()
	} else {
		s.metrics.subtasksTotal.WithLabelValues("ok").Inc()
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleWorkflowSummary handles POST /api/workflows/{id}/summary, finalizing
// the workflow and returning the synthesis.
func (s *Server) handleWorkflowSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	annotate(r.Context()).workflowID = id

	summary, err := s.engine.WorkflowSummary(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summaryResponse{Summary: summary, Completed: true})
}

// handleWorkflowStatus handles GET /api/workflows/{id}.
func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	annotate(r.Context()).workflowID = id

	snap, err := s.engine.WorkflowStatus(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

// handleRebuild handles POST /api/rebuild.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fault.New(fault.KindInvalidArgument, "invalid request body"))
			return
		}
	}

	rebuilt, err := s.engine.RebuildIndex(r.Context(), req.Collection)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rebuildResponse{CollectionsRebuilt: rebuilt})
}

// handleHistory handles GET /api/history?n=20.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, r, fault.New(fault.KindInvalidArgument, "answer history is not configured"))
		return
	}

	n := 20
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, r, fault.New(fault.KindInvalidArgument, "n must be in [1,500]"))
			return
		}
		n = parsed
	}

	recs, err := s.history.Recent(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recs)
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("server: response encode error", slog.Any("error", err))
	}
}

// writeError maps a classified error onto an HTTP status and a safe JSON
// envelope. Internal detail never crosses the boundary: unclassified errors
// are logged in full and reported as a generic internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	status := statusFor(kind)

	msg := err.Error()
	if kind == fault.KindInternal {
		logging.FromContext(r.Context()).Error("server: internal error",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		msg = "internal error"
	}

	writeJSON(w, r, status, errorResponse{Error: string(kind), Message: msg})
}

// statusFor maps taxonomy kinds to HTTP status codes.
func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindInvalidArgument, fault.KindShapeMismatch, fault.KindDimensionConflict:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindOutOfOrder, fault.KindIncomplete, fault.KindWorkflowErrored:
		return http.StatusConflict
	case fault.KindUpstreamAuth:
		return http.StatusBadGateway
	case fault.KindUpstreamQuota, fault.KindUpstreamBusy:
		return http.StatusServiceUnavailable
	case fault.KindUpstreamUnavailable, fault.KindSchemaViolation:
		return http.StatusBadGateway
	case fault.KindContentRefused:
		return http.StatusUnprocessableEntity
	case fault.KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}
