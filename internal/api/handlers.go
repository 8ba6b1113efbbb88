package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkeep-io/persona-orchestrator/internal/dispatcher"
	"github.com/arkeep-io/persona-orchestrator/internal/repository"
)

// Dispatcher is the subset of *dispatcher.Dispatcher the HTTP handlers
// depend on.
type Dispatcher interface {
	Submit(ctx context.Context, req dispatcher.Request) string
	Cancel(executionID string) bool
}

type executionHandler struct {
	dispatch   Dispatcher
	executions repository.ExecutionRepository
	logger     *zap.Logger
}

// newExecutionHandler constructs the handler bundle backing the execute/
// read/cancel routes.
func newExecutionHandler(dispatch Dispatcher, executions repository.ExecutionRepository, logger *zap.Logger) *executionHandler {
	return &executionHandler{dispatch: dispatch, executions: executions, logger: logger.Named("api")}
}

// executeRequest is the body accepted by POST /api/execute.
type executeRequest struct {
	PersonaID string                 `json:"personaId,omitempty"`
	Prompt    string                 `json:"prompt,omitempty"`
	InputData map[string]interface{} `json:"inputData,omitempty"`
	TimeoutMs int64                  `json:"timeoutMs,omitempty"`
}

// Execute handles POST /api/execute. Per DESIGN.md decision 1, a direct
// submit through this route bypasses the Event Processor's maxConcurrent
// gate entirely (that gate is only enforced at event-matching time) — this
// is a known, logged relaxation rather than a bug.
func (h *executionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.PersonaID == "" && body.Prompt == "" {
		ErrBadRequest(w, "either personaId or prompt is required")
		return
	}

	req := dispatcher.Request{
		ProjectID: projectIDFromCtx(r.Context()),
		Prompt:    body.Prompt,
		InputData: body.InputData,
		TimeoutMs: body.TimeoutMs,
	}
	if body.PersonaID != "" {
		id, err := uuid.Parse(body.PersonaID)
		if err != nil {
			ErrBadRequest(w, "personaId is not a valid UUID")
			return
		}
		req.PersonaID = &id
	}

	h.logger.Warn("direct execute submit bypasses the Event Processor's maxConcurrent gate",
		zap.String("project_id", req.ProjectID))

	executionID := h.dispatch.Submit(r.Context(), req)
	Accepted(w, executionResponse{ExecutionID: executionID, Status: "queued"})
}

type executionResponse struct {
	ExecutionID  string   `json:"executionId"`
	Status       string   `json:"status"`
	Output       []string `json:"output,omitempty"`
	DurationMs   int64    `json:"durationMs,omitempty"`
	SessionID    *string  `json:"sessionId,omitempty"`
	TotalCostUSD float64  `json:"totalCostUsd,omitempty"`
}

// GetExecution handles GET /api/executions/:id, reading the durable
// execution record — the source of truth once an in-flight entry is reaped
// by the Dispatcher's retention sweep (see DESIGN.md decision 3).
func (h *executionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		ErrBadRequest(w, "id is not a valid UUID")
		return
	}

	rec, err := h.executions.GetByID(r.Context(), id)
	if err != nil {
		if err == repository.ErrNotFound {
			ErrNotFound(w)
			return
		}
		h.logger.Error("get execution failed", zap.String("execution_id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	var output []string
	if rec.OutputData != "" {
		output = strings.Split(strings.TrimRight(rec.OutputData, "\n"), "\n")
	}

	Ok(w, executionResponse{
		ExecutionID:  rec.ID.String(),
		Status:       rec.Status,
		Output:       output,
		DurationMs:   rec.DurationMs,
		SessionID:    rec.SessionID,
		TotalCostUSD: rec.CostUSD,
	})
}

// CancelExecution handles POST /api/executions/:id/cancel. Per §5, this is
// advisory — the authoritative terminal transition arrives via the worker's
// next complete frame.
func (h *executionHandler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		ErrBadRequest(w, "id is not a valid UUID")
		return
	}

	if !h.dispatch.Cancel(id) {
		ErrNotFound(w)
		return
	}
	Ok(w, envelope{"executionId": id, "cancelRequested": true})
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	Ok(w, envelope{"status": "ok"})
}
