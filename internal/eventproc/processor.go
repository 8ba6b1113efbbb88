// Package eventproc implements the Event Processor tick (§4.6): a periodic
// job that drains pending events, matches them against enabled subscriptions
// (internal/eventmatch), enforces each matched persona's maxConcurrent gate,
// and submits one execution per surviving match to the Dispatcher. The tick
// is registered as a single job on a caller-supplied scheduler, the same
// shape internal/token uses for its warm-refresh job.
package eventproc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkeep-io/persona-orchestrator/internal/db"
	"github.com/arkeep-io/persona-orchestrator/internal/dispatcher"
	"github.com/arkeep-io/persona-orchestrator/internal/eventmatch"
	"github.com/arkeep-io/persona-orchestrator/internal/prompt"
	"github.com/arkeep-io/persona-orchestrator/internal/repository"
	"github.com/arkeep-io/persona-orchestrator/pkg/protocol"
)

// TickInterval is the default polling cadence, overridable at construction
// via Config.Interval.
const TickInterval = 2 * time.Second

// ClaimBatchSize is the maximum number of pending events claimed per tick.
const ClaimBatchSize = 50

// DefaultProjectID is the tenant under which global (cross-project)
// subscription matching applies, per §4.6.
const DefaultProjectID = "default"

// Dispatcher is the subset of *dispatcher.Dispatcher the processor depends
// on, declared narrowly so tests can supply a fake.
type Dispatcher interface {
	Submit(ctx context.Context, req dispatcher.Request) string
}

// Processor runs the Event Processor tick on a scheduler it owns
// exclusively, matching the "each tick runs on its own scheduler" rule.
type Processor struct {
	events        repository.EventRepository
	subscriptions repository.SubscriptionRepository
	personas      repository.PersonaRepository
	tools         repository.ToolRepository
	executions    repository.ExecutionRepository
	dispatch      Dispatcher
	logger        *zap.Logger
	interval      time.Duration

	sched gocron.Scheduler
}

// Config bundles the Processor's dependencies.
type Config struct {
	Events        repository.EventRepository
	Subscriptions repository.SubscriptionRepository
	Personas      repository.PersonaRepository
	Tools         repository.ToolRepository
	Executions    repository.ExecutionRepository
	Dispatcher    Dispatcher
	Logger        *zap.Logger
	// Interval overrides TickInterval; zero keeps the default.
	Interval time.Duration
}

// New constructs a Processor and registers its tick job.
func New(cfg Config) (*Processor, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = TickInterval
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("eventproc: create scheduler: %w", err)
	}

	p := &Processor{
		events:        cfg.Events,
		subscriptions: cfg.Subscriptions,
		personas:      cfg.Personas,
		tools:         cfg.Tools,
		executions:    cfg.Executions,
		dispatch:      cfg.Dispatcher,
		logger:        cfg.Logger.Named("eventproc"),
		interval:      interval,
		sched:         sched,
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(p.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("event-processor-tick"),
	); err != nil {
		return nil, fmt.Errorf("eventproc: register tick: %w", err)
	}

	return p, nil
}

// Start begins ticking.
func (p *Processor) Start() {
	p.sched.Start()
}

// Shutdown stops ticking.
func (p *Processor) Shutdown() {
	if err := p.sched.Shutdown(); err != nil {
		p.logger.Warn("shutdown error", zap.Error(err))
	}
}

// tick is the job body. Exceptions from processing a single event are caught
// and logged at the event boundary so one bad event never stalls the batch,
// per §4.6/§7's tick-exception policy.
func (p *Processor) tick() {
	ctx := context.Background()

	events, err := p.events.ClaimPending(ctx, "", ClaimBatchSize)
	if err != nil {
		p.logger.Error("claim pending events failed", zap.Error(err))
		return
	}

	for _, evt := range events {
		p.processEvent(ctx, evt)
	}
}

// processEvent implements the per-event body of §4.6 step 2. evt has
// already been claimed (flipped to "processing") by ClaimPending.
func (p *Processor) processEvent(ctx context.Context, evt db.Event) {
	subs, err := p.loadCandidateSubscriptions(ctx, evt)
	if err != nil {
		p.logger.Error("list subscriptions failed",
			zap.String("event_id", evt.ID.String()), zap.Error(err))
		p.finalize(ctx, evt.ID, string(protocol.EventStatusFailed))
		return
	}

	matches := make([]db.EventSubscription, 0, len(subs))
	for _, sub := range subs {
		if eventmatch.Matches(toSubscriptionLike(sub), toEventLike(evt)) {
			matches = append(matches, sub)
		}
	}

	if len(matches) == 0 {
		p.finalize(ctx, evt.ID, string(protocol.EventStatusSkipped))
		return
	}

	var delivered, failed int
	for _, sub := range matches {
		if p.deliver(ctx, evt, sub) {
			delivered++
		} else {
			failed++
		}
	}

	p.finalize(ctx, evt.ID, finalStatus(delivered, failed))
}

// loadCandidateSubscriptions returns the subscriptions the event could match
// before per-subscription filtering: project-scoped unless the event's
// projectId is the default tenant, per §4.6.
func (p *Processor) loadCandidateSubscriptions(ctx context.Context, evt db.Event) ([]db.EventSubscription, error) {
	if evt.ProjectID != DefaultProjectID {
		return p.subscriptions.ListEnabledByEventType(ctx, evt.ProjectID, evt.EventType)
	}
	return p.subscriptions.ListEnabledByEventTypeAnyProject(ctx, evt.EventType)
}

// deliver attempts one subscription match: persona lookup, concurrency gate,
// payload parsing, prompt assembly, and submission. Returns false for any
// failure path enumerated in §4.6/§7, each of which counts as a failed match
// rather than aborting the event.
func (p *Processor) deliver(ctx context.Context, evt db.Event, sub db.EventSubscription) bool {
	persona, err := p.personas.GetByID(ctx, sub.PersonaID)
	if err != nil {
		p.logger.Warn("subscription persona missing, counting as failed match",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("persona_id", sub.PersonaID.String()),
			zap.Error(err))
		return false
	}

	running, err := p.executions.CountRunning(ctx, persona.ID)
	if err != nil {
		p.logger.Warn("count running executions failed, counting as failed match",
			zap.String("persona_id", persona.ID.String()), zap.Error(err))
		return false
	}
	if running >= int64(persona.MaxConcurrent) {
		p.logger.Info("persona at maxConcurrent, skipping match",
			zap.String("persona_id", persona.ID.String()),
			zap.Int64("running", running),
			zap.Int("max_concurrent", persona.MaxConcurrent))
		return false
	}

	inputData := parsePayload(evt.Payload)

	toolIDs, err := p.personas.ListToolIDs(ctx, persona.ID)
	var tools []prompt.Tool
	if err == nil && len(toolIDs) > 0 {
		if defs, err := p.tools.ListByIDs(ctx, toolIDs); err == nil {
			tools = toPromptTools(defs)
		}
	}

	finalPrompt := prompt.Assemble(persona, tools, inputData, nil)

	executionID, err := uuid.NewV7()
	if err != nil {
		executionID = uuid.New()
	}

	personaID := persona.ID
	req := dispatcher.Request{
		ExecutionID: executionID.String(),
		ProjectID:   persona.ProjectID,
		PersonaID:   &personaID,
		Prompt:      finalPrompt,
		InputData:   inputData,
		TimeoutMs:   persona.TimeoutMs,
	}
	p.dispatch.Submit(ctx, req)
	return true
}

// finalize sets the event's terminal status. Failure to persist it is logged
// but does not resurrect the event for a later tick — it was already
// claimed, per §4.6's processing-CAS guard.
func (p *Processor) finalize(ctx context.Context, id uuid.UUID, status string) {
	if err := p.events.Finalize(ctx, id, status, time.Now().UTC()); err != nil {
		p.logger.Warn("finalize event failed", zap.String("event_id", id.String()), zap.String("status", status), zap.Error(err))
	}
}

// finalStatus implements §4.6's status-decision rule.
func finalStatus(delivered, failed int) string {
	switch {
	case failed == 0:
		return string(protocol.EventStatusDelivered)
	case delivered > 0:
		return string(protocol.EventStatusPartial)
	default:
		return string(protocol.EventStatusFailed)
	}
}

// parsePayload parses raw as a JSON object; on parse failure or an empty
// payload it falls back to {"raw": <payload>}, per §4.6/§7.
func parsePayload(raw *string) map[string]interface{} {
	if raw == nil || *raw == "" {
		return map[string]interface{}{}
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(*raw), &parsed); err != nil {
		return map[string]interface{}{"raw": *raw}
	}
	return parsed
}

func toSubscriptionLike(sub db.EventSubscription) eventmatch.SubscriptionLike {
	return eventmatch.SubscriptionLike{
		PersonaID:    sub.PersonaID,
		EventType:    sub.EventType,
		SourceFilter: sub.SourceFilter,
		Enabled:      sub.Enabled,
	}
}

func toEventLike(evt db.Event) eventmatch.EventLike {
	return eventmatch.EventLike{
		EventType:       evt.EventType,
		SourceID:        evt.SourceID,
		TargetPersonaID: evt.TargetPersonaID,
	}
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
