// Package dispatcher implements the Dispatcher (§4.3): it owns the ready
// queue and the in-flight execution table, pairs queued requests with idle
// workers, injects credentials and the assembled prompt into each
// assignment, fans worker output to the message bus, and reacts to the
// Worker Pool's lifecycle notifications through the explicit Handlers
// interface defined by internal/workerpool rather than a runtime event
// emitter (see the "Event-emitter fan-out" design note).
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkeep-io/persona-orchestrator/internal/bus"
	"github.com/arkeep-io/persona-orchestrator/internal/credential"
	"github.com/arkeep-io/persona-orchestrator/internal/db"
	"github.com/arkeep-io/persona-orchestrator/internal/prompt"
	"github.com/arkeep-io/persona-orchestrator/internal/repository"
	"github.com/arkeep-io/persona-orchestrator/internal/wire"
	"github.com/arkeep-io/persona-orchestrator/internal/workerpool"
	"github.com/arkeep-io/persona-orchestrator/pkg/protocol"
)

// DefaultTimeoutMs is the assignment timeout used when a request does not
// specify one, per §4.3 step 5.
const DefaultTimeoutMs int64 = 300_000

// RetentionWindow is how long a terminal in-flight execution entry is kept
// in the active map before the sweep reaps it. The database row remains the
// durable source of truth after the entry is swept — see DESIGN.md decision 3.
const RetentionWindow = 10 * time.Minute

// RetentionSweepInterval is how often the sweep job runs.
const RetentionSweepInterval = 10 * time.Minute

// WorkerPool is the subset of *workerpool.Pool the Dispatcher depends on.
// Declared as an interface so tests can supply a fake without standing up a
// real WebSocket listener.
type WorkerPool interface {
	Assign(workerID string, assign wire.Assign) bool
	Send(workerID string, t wire.Type, payload any) bool
	GetIdleWorker() (string, bool)
}

// TokenProvider is the subset of *token.Provider the Dispatcher depends on.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context) (string, bool)
}

// Request is the external representation of a unit of work submitted to the
// Dispatcher, from HTTP, the message bus, or the Event Processor tick.
type Request struct {
	// ExecutionID is minted by the caller when it must be known before
	// Submit returns (the Event Processor tick does this); left empty, the
	// Dispatcher mints a fresh UUIDv7.
	ExecutionID string
	ProjectID   string
	// PersonaID is nil for an ad hoc execution with no stored persona —
	// Prompt is then sent to the worker unmodified.
	PersonaID *uuid.UUID
	Prompt    string
	InputData map[string]interface{}
	TimeoutMs int64
}

type queuedRequest struct {
	req         Request
	submittedAt time.Time
}

// activeExecution is the in-memory record of one in-flight or recently
// terminal execution, per the In-flight execution entity in §3.
type activeExecution struct {
	WorkerID     string
	PersonaID    *uuid.UUID
	StartedAt    time.Time
	Output       []string
	Status       string
	ExitCode     int
	DurationMs   int64
	SessionID    *string
	TotalCostUSD *float64
	Terminal     bool
	TerminalAt   time.Time
}

// Dispatcher owns the ready queue and active execution table described in
// §4.3. The zero value is not usable — create instances with New.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []queuedRequest
	active map[string]*activeExecution

	pool          WorkerPool
	tokenProvider TokenProvider
	staticToken   string
	credentials   *credential.Materializer
	personas      repository.PersonaRepository
	tools         repository.ToolRepository
	executions    repository.ExecutionRepository
	bus           bus.Client
	logger        *zap.Logger

	sweep gocron.Scheduler
}

// Config bundles the Dispatcher's dependencies.
type Config struct {
	Pool          WorkerPool
	TokenProvider TokenProvider // optional; nil falls back to StaticToken
	StaticToken   string
	Credentials   *credential.Materializer
	Personas      repository.PersonaRepository
	Tools         repository.ToolRepository
	Executions    repository.ExecutionRepository
	Bus           bus.Client
	Logger        *zap.Logger
}

// New constructs a Dispatcher and registers its retention sweep job on a
// scheduler it owns exclusively, matching the rest of this service's
// one-scheduler-per-periodic-concern convention (§5: "each tick runs on its
// own scheduler").
func New(cfg Config) (*Dispatcher, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("dispatcher: create scheduler: %w", err)
	}

	d := &Dispatcher{
		active:        make(map[string]*activeExecution),
		pool:          cfg.Pool,
		tokenProvider: cfg.TokenProvider,
		staticToken:   cfg.StaticToken,
		credentials:   cfg.Credentials,
		personas:      cfg.Personas,
		tools:         cfg.Tools,
		executions:    cfg.Executions,
		bus:           cfg.Bus,
		logger:        cfg.Logger.Named("dispatcher"),
		sweep:         sched,
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(RetentionSweepInterval),
		gocron.NewTask(d.sweepTerminal),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("dispatcher-retention-sweep"),
	); err != nil {
		return nil, fmt.Errorf("dispatcher: register retention sweep: %w", err)
	}

	return d, nil
}

// SetPool attaches the Worker Pool once it has been constructed. The two
// depend on each other — the Pool takes the Dispatcher as its Handlers at
// construction, so the Dispatcher's own Pool reference is wired in as a
// second step rather than through Config.
func (d *Dispatcher) SetPool(pool WorkerPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pool = pool
}

// Start begins the retention sweep.
func (d *Dispatcher) Start() {
	d.sweep.Start()
}

// Shutdown stops the retention sweep. The Worker Pool broadcasts its own
// shutdown frame separately — see §4.3.
func (d *Dispatcher) Shutdown() {
	if err := d.sweep.Shutdown(); err != nil {
		d.logger.Warn("retention sweep shutdown error", zap.Error(err))
	}
}

// Submit enqueues req and attempts to pair it with an idle worker
// immediately. Returns the executionId the caller can use to track it.
func (d *Dispatcher) Submit(ctx context.Context, req Request) string {
	if req.ExecutionID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		req.ExecutionID = id.String()
	}

	d.logger.Info("execution submitted",
		zap.String("execution_id", req.ExecutionID),
		zap.String("project_id", req.ProjectID),
	)

	if id, err := uuid.Parse(req.ExecutionID); err == nil {
		rec := &db.ExecutionRecord{
			ProjectID: req.ProjectID,
			PersonaID: req.PersonaID,
			Status:    string(protocol.ExecutionStatusQueued),
		}
		rec.ID = id
		if err := d.executions.Create(ctx, rec); err != nil {
			d.logger.Warn("failed to create execution record",
				zap.String("execution_id", req.ExecutionID), zap.Error(err))
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, queuedRequest{req: req, submittedAt: time.Now().UTC()})
	d.processQueueLocked(ctx)
	return req.ExecutionID
}

// processQueueLocked pairs the head of the queue with an idle worker, if
// any is available. Called with mu held; a no-op if the queue is empty or
// no worker is idle, which makes duplicate worker-ready/worker-connected
// notifications idempotent per §5.
func (d *Dispatcher) processQueueLocked(ctx context.Context) {
	if len(d.queue) == 0 {
		return
	}
	workerID, ok := d.pool.GetIdleWorker()
	if !ok {
		return
	}
	qr := d.queue[0]
	d.queue = d.queue[1:]
	d.dispatchToWorkerLocked(ctx, workerID, qr)
}

// dispatchToWorkerLocked implements §4.3's five dispatch steps. Called with
// mu held — per §5 the Dispatcher uses one coarse lock covering the queue
// and active table, so the token refresh and DB lookups below run
// serialized with every other queue/active mutation.
func (d *Dispatcher) dispatchToWorkerLocked(ctx context.Context, workerID string, qr queuedRequest) {
	executionID := qr.req.ExecutionID

	token, ok := d.acquireToken(ctx)
	if !ok {
		d.logger.Error("no access token available for dispatch, re-queuing at front",
			zap.String("execution_id", executionID))
		d.requeueFrontLocked(qr)
		return
	}

	env := map[string]string{credential.BearerEnvVar: token}
	var hints []credential.Hint
	finalPrompt := qr.req.Prompt
	var persona *db.Persona

	if qr.req.PersonaID != nil {
		p, err := d.personas.GetByID(ctx, *qr.req.PersonaID)
		if err != nil {
			d.logger.Warn("persona lookup failed, dispatching with raw prompt",
				zap.String("persona_id", qr.req.PersonaID.String()), zap.Error(err))
		} else {
			persona = p

			materializedEnv, h, err := d.credentials.Materialize(ctx, persona.ID, token, persona.ModelProfile)
			if err != nil {
				d.logger.Warn("credential materialization failed, using bearer-only env",
					zap.String("persona_id", persona.ID.String()), zap.Error(err))
			} else {
				env = materializedEnv
				hints = h
			}

			finalPrompt = prompt.Assemble(persona, d.loadTools(ctx, persona.ID), qr.req.InputData, toPromptHints(hints))
		}
	}

	timeoutMs := qr.req.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = DefaultTimeoutMs
	}

	d.active[executionID] = &activeExecution{
		WorkerID:  workerID,
		PersonaID: qr.req.PersonaID,
		StartedAt: time.Now().UTC(),
		Status:    string(protocol.ExecutionStatusRunning),
	}
	d.updateExecutionStatus(ctx, executionID, map[string]interface{}{
		"status":     string(protocol.ExecutionStatusRunning),
		"started_at": time.Now().UTC(),
	})

	assign := wire.Assign{
		ExecutionID: executionID,
		PersonaID:   personaIDString(qr.req.PersonaID),
		Prompt:      finalPrompt,
		Env:         env,
		Config: wire.AssignConfig{
			TimeoutMs:      timeoutMs,
			MaxOutputBytes: workerpool.MaxOutputBytes,
		},
	}

	if !d.pool.Assign(workerID, assign) {
		d.logger.Warn("assign send failed, re-queuing at front",
			zap.String("execution_id", executionID), zap.String("worker_id", workerID))
		delete(d.active, executionID)
		d.updateExecutionStatus(ctx, executionID, map[string]interface{}{"status": string(protocol.ExecutionStatusQueued)})
		d.requeueFrontLocked(qr)
		return
	}

	d.logger.Info("dispatched execution",
		zap.String("execution_id", executionID),
		zap.String("worker_id", workerID),
		zap.String("max_output", humanize.IBytes(workerpool.MaxOutputBytes)),
	)
}

// requeueFrontLocked pushes qr back onto the front of the queue so it is
// the next request considered, without consuming the idle worker slot that
// was never successfully claimed.
func (d *Dispatcher) requeueFrontLocked(qr queuedRequest) {
	d.queue = append([]queuedRequest{qr}, d.queue...)
}

func (d *Dispatcher) loadTools(ctx context.Context, personaID uuid.UUID) []prompt.Tool {
	toolIDs, err := d.personas.ListToolIDs(ctx, personaID)
	if err != nil || len(toolIDs) == 0 {
		if err != nil {
			d.logger.Warn("failed to list bound tool ids", zap.String("persona_id", personaID.String()), zap.Error(err))
		}
		return nil
	}
	defs, err := d.tools.ListByIDs(ctx, toolIDs)
	if err != nil {
		d.logger.Warn("failed to load bound tools", zap.String("persona_id", personaID.String()), zap.Error(err))
		return nil
	}
	return toPromptTools(defs)
}

// acquireToken returns a fresh bearer token, preferring the OAuth Token
// Provider and falling back to a statically configured token per §4.3 step 1.
func (d *Dispatcher) acquireToken(ctx context.Context) (string, bool) {
	if d.tokenProvider != nil {
		if tok, ok := d.tokenProvider.GetValidAccessToken(ctx); ok {
			return tok, true
		}
	}
	if d.staticToken != "" {
		return d.staticToken, true
	}
	return "", false
}

// Cancel sends an advisory cancel frame to the worker running executionID.
// It does not mutate state itself — the authoritative terminal transition
// arrives via the worker's subsequent complete frame, per §4.3/§5.
func (d *Dispatcher) Cancel(executionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ae, ok := d.active[executionID]
	if !ok || ae.Status != string(protocol.ExecutionStatusRunning) {
		return false
	}
	return d.pool.Send(ae.WorkerID, wire.TypeCancel, wire.Cancel{ExecutionID: executionID})
}

// ─── Worker Pool notification handlers (workerpool.Handlers) ────────────────

// OnWorkerConnected implements workerpool.Handlers.
func (d *Dispatcher) OnWorkerConnected(workerID string) {
	ctx := context.Background()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processQueueLocked(ctx)
}

// OnWorkerReady implements workerpool.Handlers.
func (d *Dispatcher) OnWorkerReady(workerID string) {
	ctx := context.Background()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processQueueLocked(ctx)
}

// OnStdout implements workerpool.Handlers.
func (d *Dispatcher) OnStdout(workerID string, msg wire.Stdout) {
	d.appendOutput(msg.ExecutionID, msg.Chunk)
	d.emitOutput(context.Background(), msg.ExecutionID, msg.Chunk, msg.Timestamp)
}

// OnStderr implements workerpool.Handlers. Chunks are prefixed "[STDERR] "
// per §4.3.
func (d *Dispatcher) OnStderr(workerID string, msg wire.Stderr) {
	chunk := "[STDERR] " + msg.Chunk
	d.appendOutput(msg.ExecutionID, chunk)
	d.emitOutput(context.Background(), msg.ExecutionID, chunk, msg.Timestamp)
}

func (d *Dispatcher) appendOutput(executionID, chunk string) {
	d.mu.Lock()
	if ae, ok := d.active[executionID]; ok {
		ae.Output = append(ae.Output, chunk)
	}
	d.mu.Unlock()

	if id, err := uuid.Parse(executionID); err == nil {
		if err := d.executions.AppendOutput(context.Background(), id, chunk); err != nil {
			d.logger.Warn("failed to persist output chunk", zap.String("execution_id", executionID), zap.Error(err))
		}
	}
}

// OnEvent implements workerpool.Handlers: worker-emitted persona events are
// re-emitted onto the bus unchanged, per §4.3's "persona-event" handler.
func (d *Dispatcher) OnEvent(workerID string, msg wire.Event) {
	d.emitPersonaEvent(context.Background(), workerID, msg)
}

// OnComplete implements workerpool.Handlers.
func (d *Dispatcher) OnComplete(workerID string, msg wire.Complete) {
	ctx := context.Background()
	status := normalizeTerminalStatus(msg.Status)

	d.mu.Lock()
	ae, ok := d.active[msg.ExecutionID]
	var personaID *uuid.UUID
	if ok {
		ae.Status = status
		ae.ExitCode = msg.ExitCode
		ae.DurationMs = msg.DurationMs
		ae.SessionID = msg.SessionID
		ae.TotalCostUSD = msg.TotalCostUSD
		ae.Terminal = true
		ae.TerminalAt = time.Now().UTC()
		personaID = ae.PersonaID
	}
	d.processQueueLocked(ctx)
	d.mu.Unlock()

	fields := map[string]interface{}{
		"status":       status,
		"duration_ms":  msg.DurationMs,
		"completed_at": time.Now().UTC(),
	}
	if msg.SessionID != nil {
		fields["session_id"] = *msg.SessionID
	}
	if msg.TotalCostUSD != nil {
		fields["cost_usd"] = *msg.TotalCostUSD
	}
	d.updateExecutionStatus(ctx, msg.ExecutionID, fields)

	if personaID != nil && msg.TotalCostUSD != nil {
		if err := d.personas.AdjustBudgetSpent(ctx, *personaID, *msg.TotalCostUSD); err != nil {
			d.logger.Warn("failed to adjust persona budget spent",
				zap.String("persona_id", personaID.String()), zap.Error(err))
		}
	}

	d.emitLifecycle(ctx, msg.ExecutionID, status, msg.DurationMs, "", msg.SessionID, msg.TotalCostUSD)
}

// OnWorkerDisconnected implements workerpool.Handlers. A worker that drops
// mid-execution fails that execution with the fixed message the spec
// mandates — it is not retried automatically, per §7.
func (d *Dispatcher) OnWorkerDisconnected(workerID string, currentExecutionID *string) {
	if currentExecutionID == nil {
		return
	}
	executionID := *currentExecutionID

	d.mu.Lock()
	ae, ok := d.active[executionID]
	if ok {
		ae.Status = string(protocol.ExecutionStatusFailed)
		ae.Terminal = true
		ae.TerminalAt = time.Now().UTC()
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	d.updateExecutionStatus(ctx, executionID, map[string]interface{}{
		"status":        string(protocol.ExecutionStatusFailed),
		"error_message": "Worker disconnected",
		"completed_at":  time.Now().UTC(),
		"duration_ms":   int64(0),
	})
	d.emitLifecycle(ctx, executionID, string(protocol.ExecutionStatusFailed), 0, "Worker disconnected", nil, nil)
}

// ─── Bus fan-out ──────────────────────────────────────────────────────────

type outputMessage struct {
	ExecutionID string `json:"executionId"`
	Chunk       string `json:"chunk"`
	Timestamp   int64  `json:"timestamp"`
}

func (d *Dispatcher) emitOutput(ctx context.Context, executionID, chunk string, timestamp int64) {
	payload, err := json.Marshal(outputMessage{ExecutionID: executionID, Chunk: chunk, Timestamp: timestamp})
	if err != nil {
		d.logger.Warn("failed to marshal output message", zap.Error(err))
		return
	}
	d.bus.Produce(ctx, bus.TopicOutput, []byte(executionID), payload)
}

type lifecycleMessage struct {
	ExecutionID  string   `json:"executionId"`
	Status       string   `json:"status"`
	DurationMs   int64    `json:"durationMs"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	SessionID    *string  `json:"sessionId,omitempty"`
	TotalCostUSD *float64 `json:"totalCostUsd,omitempty"`
}

func (d *Dispatcher) emitLifecycle(ctx context.Context, executionID, status string, durationMs int64, errMsg string, sessionID *string, totalCostUSD *float64) {
	payload, err := json.Marshal(lifecycleMessage{
		ExecutionID:  executionID,
		Status:       status,
		DurationMs:   durationMs,
		ErrorMessage: errMsg,
		SessionID:    sessionID,
		TotalCostUSD: totalCostUSD,
	})
	if err != nil {
		d.logger.Warn("failed to marshal lifecycle message", zap.Error(err))
		return
	}
	d.bus.Produce(ctx, bus.TopicLifecycle, []byte(executionID), payload)
}

type personaEventMessage struct {
	WorkerID    string          `json:"workerId"`
	ExecutionID string          `json:"executionId"`
	EventType   string          `json:"eventType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func (d *Dispatcher) emitPersonaEvent(ctx context.Context, workerID string, msg wire.Event) {
	payload, err := json.Marshal(personaEventMessage{
		WorkerID:    workerID,
		ExecutionID: msg.ExecutionID,
		EventType:   msg.EventType,
		Payload:     msg.Payload,
	})
	if err != nil {
		d.logger.Warn("failed to marshal persona event message", zap.Error(err))
		return
	}
	d.bus.Produce(ctx, bus.TopicEvents, []byte(msg.ExecutionID), payload)
}

// ─── Retention sweep ──────────────────────────────────────────────────────

// sweepTerminal removes active-map entries that reached a terminal state
// more than RetentionWindow ago. Execution records in the database are left
// in place — see DESIGN.md decision 3.
func (d *Dispatcher) sweepTerminal() {
	cutoff := time.Now().UTC().Add(-RetentionWindow)

	d.mu.Lock()
	for id, ae := range d.active {
		if ae.Terminal && ae.TerminalAt.Before(cutoff) {
			delete(d.active, id)
		}
	}
	d.mu.Unlock()
}

// ─── Helpers ──────────────────────────────────────────────────────────────

func (d *Dispatcher) updateExecutionStatus(ctx context.Context, executionID string, fields map[string]interface{}) {
	id, err := uuid.Parse(executionID)
	if err != nil {
		d.logger.Warn("invalid execution id, skipping status update", zap.String("execution_id", executionID))
		return
	}
	if err := d.executions.UpdateStatus(ctx, id, fields); err != nil {
		d.logger.Warn("failed to update execution status", zap.String("execution_id", executionID), zap.Error(err))
	}
}

func normalizeTerminalStatus(status string) string {
	switch status {
	case string(protocol.ExecutionStatusCompleted), string(protocol.ExecutionStatusFailed), string(protocol.ExecutionStatusCancelled):
		return status
	default:
		return string(protocol.ExecutionStatusFailed)
	}
}

func personaIDString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func toPromptTools(defs []db.ToolDefinition) []prompt.Tool {
	tools := make([]prompt.Tool, len(defs))
	for i, t := range defs {
		tools[i] = prompt.Tool{
			Name:                t.Name,
			Category:            t.Category,
			Description:         t.Description,
			ImplementationGuide: t.ImplementationGuide,
			ScriptPath:          t.ScriptPath,
			InputSchema:         t.InputSchema,
			RequiresCredential:  t.RequiresCredential,
		}
	}
	return tools
}

func toPromptHints(hints []credential.Hint) []prompt.CredentialHint {
	out := make([]prompt.CredentialHint, len(hints))
	for i, h := range hints {
		out[i] = prompt.CredentialHint{Name: h.Name}
	}
	return out
}
