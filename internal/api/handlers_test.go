package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkeep-io/persona-orchestrator/internal/dispatcher"
)

type fakeDispatcher struct {
	submitted   []dispatcher.Request
	executionID string
	cancelled   []string
	cancelOK    bool
}

func (f *fakeDispatcher) Submit(ctx context.Context, req dispatcher.Request) string {
	f.submitted = append(f.submitted, req)
	if f.executionID != "" {
		return f.executionID
	}
	return "exec-1"
}

func (f *fakeDispatcher) Cancel(executionID string) bool {
	f.cancelled = append(f.cancelled, executionID)
	return f.cancelOK
}

func newTestHandler(dispatch *fakeDispatcher) *executionHandler {
	return newExecutionHandler(dispatch, nil, zap.NewNop())
}

func TestExecuteRequiresPersonaOrPrompt(t *testing.T) {
	h := newTestHandler(&fakeDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()

	h.Execute(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteSubmitsAndReturns202(t *testing.T) {
	fake := &fakeDispatcher{executionID: "exec-123"}
	h := newTestHandler(fake)

	body := `{"prompt":"do the thing"}`
	req := httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.Execute(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(fake.submitted) != 1 || fake.submitted[0].Prompt != "do the thing" {
		t.Errorf("expected one submitted request carrying the prompt, got %+v", fake.submitted)
	}
	if !strings.Contains(w.Body.String(), "exec-123") {
		t.Errorf("expected response to carry the execution id, got %s", w.Body.String())
	}
}

func TestExecuteRejectsInvalidPersonaID(t *testing.T) {
	h := newTestHandler(&fakeDispatcher{})

	body := `{"personaId":"not-a-uuid"}`
	req := httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.Execute(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCancelExecutionNotFound(t *testing.T) {
	fake := &fakeDispatcher{cancelOK: false}
	h := newTestHandler(fake)

	id := uuid.New().String()
	req := httptest.NewRequest(http.MethodPost, "/api/executions/"+id+"/cancel", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	h.CancelExecution(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	if len(fake.cancelled) != 1 || fake.cancelled[0] != id {
		t.Errorf("expected Cancel called with %q, got %v", id, fake.cancelled)
	}
}

func TestCancelExecutionRejectsInvalidID(t *testing.T) {
	h := newTestHandler(&fakeDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/executions/not-a-uuid/cancel", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "not-a-uuid")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	h.CancelExecution(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("expected status ok in body, got %s", w.Body.String())
	}
}
