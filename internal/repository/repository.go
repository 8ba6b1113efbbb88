// Package repository provides the GORM-backed persistence interfaces for
// every entity the orchestrator's core subsystems read or write: personas,
// tool definitions, credentials, events, event subscriptions, triggers, and
// execution records.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arkeep-io/persona-orchestrator/internal/db"
)

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// PersonaRepository
// -----------------------------------------------------------------------------

type PersonaRepository interface {
	Create(ctx context.Context, persona *db.Persona) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Persona, error)
	Update(ctx context.Context, persona *db.Persona) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, projectID string, opts ListOptions) ([]db.Persona, int64, error)
	ListEnabled(ctx context.Context, projectID string) ([]db.Persona, error)

	// AddTool links a ToolDefinition to a Persona.
	AddTool(ctx context.Context, personaID, toolID uuid.UUID) error
	RemoveTool(ctx context.Context, personaID, toolID uuid.UUID) error
	ListToolIDs(ctx context.Context, personaID uuid.UUID) ([]uuid.UUID, error)

	// AdjustBudgetSpent atomically adds delta to budget_spent_usd. Used by the
	// Dispatcher when an execution completes and reports a cost.
	AdjustBudgetSpent(ctx context.Context, id uuid.UUID, delta float64) error
}

// -----------------------------------------------------------------------------
// ToolRepository
// -----------------------------------------------------------------------------

type ToolRepository interface {
	Create(ctx context.Context, tool *db.ToolDefinition) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.ToolDefinition, error)
	Update(ctx context.Context, tool *db.ToolDefinition) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, projectID string, opts ListOptions) ([]db.ToolDefinition, int64, error)

	// ListByIDs returns the tool definitions matching the given IDs, in no
	// particular order. Used by the Dispatcher and the Event Processor tick to
	// resolve a persona's bound tools in a single query.
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]db.ToolDefinition, error)
}

// -----------------------------------------------------------------------------
// CredentialRepository
// -----------------------------------------------------------------------------

type CredentialRepository interface {
	Create(ctx context.Context, credential *db.Credential) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Credential, error)
	Update(ctx context.Context, credential *db.Credential) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListByPersona returns every credential bound to a persona, decrypted
	// field included (decryption happens transparently via db.EncryptedString.Scan).
	ListByPersona(ctx context.Context, personaID uuid.UUID) ([]db.Credential, error)
}

// -----------------------------------------------------------------------------
// EventRepository
// -----------------------------------------------------------------------------

type EventRepository interface {
	Create(ctx context.Context, event *db.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Event, error)

	// ClaimPending selects up to limit events in status "pending" and
	// atomically flips them to "processing", returning only the rows this
	// call actually claimed. An empty projectID claims across every
	// project. Used by the Event Processor tick to guard against two
	// overlapping ticks processing the same event twice.
	ClaimPending(ctx context.Context, projectID string, limit int) ([]db.Event, error)

	// Finalize sets the terminal status and processedAt timestamp of an event.
	Finalize(ctx context.Context, id uuid.UUID, status string, processedAt time.Time) error

	List(ctx context.Context, projectID string, opts ListOptions) ([]db.Event, int64, error)
}

// -----------------------------------------------------------------------------
// SubscriptionRepository
// -----------------------------------------------------------------------------

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *db.EventSubscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.EventSubscription, error)
	Update(ctx context.Context, sub *db.EventSubscription) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListEnabledByEventType returns every enabled subscription for a project
	// and event type. The Event Processor tick further filters these by
	// sourceFilter in-process (see internal/eventmatch).
	ListEnabledByEventType(ctx context.Context, projectID, eventType string) ([]db.EventSubscription, error)

	// ListEnabledByEventTypeAnyProject returns every enabled subscription for
	// an event type regardless of project. Used for events whose projectId is
	// "default", per §4.6: the project filter only applies when the event's
	// projectId is not the default tenant.
	ListEnabledByEventTypeAnyProject(ctx context.Context, eventType string) ([]db.EventSubscription, error)
}

// -----------------------------------------------------------------------------
// TriggerRepository
// -----------------------------------------------------------------------------

type TriggerRepository interface {
	Create(ctx context.Context, trigger *db.Trigger) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Trigger, error)
	Update(ctx context.Context, trigger *db.Trigger) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, projectID string, opts ListOptions) ([]db.Trigger, int64, error)

	// ListDue returns every enabled, non-polling trigger whose nextTriggerAt
	// is at or before asOf. Used by the Trigger Scheduler tick.
	ListDue(ctx context.Context, asOf time.Time) ([]db.Trigger, error)

	// UpdateSchedule persists the trigger's last/next fire timestamps after
	// the scheduler tick fires it.
	UpdateSchedule(ctx context.Context, id uuid.UUID, lastTriggeredAt, nextTriggerAt time.Time) error
}

// -----------------------------------------------------------------------------
// ExecutionRepository
// -----------------------------------------------------------------------------

type ExecutionRepository interface {
	Create(ctx context.Context, execution *db.ExecutionRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.ExecutionRecord, error)
	Update(ctx context.Context, execution *db.ExecutionRecord) error

	// UpdateStatus transitions an execution record to a new status, optionally
	// setting startedAt/completedAt/durationMs/sessionID/costUSD/errorMessage.
	// Called by the Dispatcher at every lifecycle transition.
	UpdateStatus(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error

	// AppendOutput appends a chunk to the accumulated OutputData column.
	// Called once per stdout/stderr frame forwarded by the Worker Pool.
	AppendOutput(ctx context.Context, id uuid.UUID, chunk string) error

	List(ctx context.Context, projectID string, opts ListOptions) ([]db.ExecutionRecord, int64, error)

	// DeleteTerminalOlderThan removes execution records in a terminal status
	// (completed/failed/cancelled) whose updatedAt predates cutoff. The
	// Dispatcher's retention sweep does not call it.
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// CountRunning returns the number of executions currently in status
	// "running" for a persona. Used by the Event Processor tick to enforce
	// maxConcurrent at the matching gate.
	CountRunning(ctx context.Context, personaID uuid.UUID) (int64, error)
}
