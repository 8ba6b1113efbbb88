// Package protocol defines shared domain vocabulary used across the
// orchestrator: execution lifecycle states, event lifecycle states, trigger
// kinds, worker states, and pagination helpers. It carries no behavior.
package protocol

// ─── Execution ───────────────────────────────────────────────────────────────

// ExecutionStatus represents the lifecycle state of an Execution Record.
type ExecutionStatus string

const (
	ExecutionStatusQueued    ExecutionStatus = "queued"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// ─── Event ───────────────────────────────────────────────────────────────────

// EventStatus represents the lifecycle state of a pending Event.
// Transitions only ever move forward: pending -> processing -> one terminal state.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusDelivered  EventStatus = "delivered"
	EventStatusPartial    EventStatus = "partial"
	EventStatusFailed     EventStatus = "failed"
	EventStatusSkipped    EventStatus = "skipped"
)

// ─── Trigger ─────────────────────────────────────────────────────────────────

// TriggerType identifies how a Trigger produces events.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypePolling  TriggerType = "polling"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeChain    TriggerType = "chain"
)

// ─── Worker ──────────────────────────────────────────────────────────────────

// WorkerState represents the lifecycle state of a registered worker session.
type WorkerState string

const (
	WorkerStateConnecting   WorkerState = "connecting"
	WorkerStateIdle         WorkerState = "idle"
	WorkerStateExecuting    WorkerState = "executing"
	WorkerStateDisconnected WorkerState = "disconnected"
)

// ─── Worker-emitted event kinds (wire codec "event" frame) ──────────────────

// WorkerEventType identifies the kind of persona-emitted event carried by a
// worker's "event" frame.
type WorkerEventType string

const (
	WorkerEventManualReview  WorkerEventType = "manual_review"
	WorkerEventUserMessage   WorkerEventType = "user_message"
	WorkerEventPersonaAction WorkerEventType = "persona_action"
	WorkerEventEmitEvent     WorkerEventType = "emit_event"
)

// ─── Model profile providers ─────────────────────────────────────────────────

// ModelProfileProvider selects which upstream model provider a persona's
// model profile targets. Each non-default provider overrides the base-URL
// and auth-token env vars injected into a worker assignment.
type ModelProfileProvider string

const (
	ModelProfileDefault ModelProfileProvider = ""
	ModelProfileOllama  ModelProfileProvider = "ollama"
	ModelProfileLiteLLM ModelProfileProvider = "litellm"
	ModelProfileCustom  ModelProfileProvider = "custom"
)

// ─── Pagination ──────────────────────────────────────────────────────────────

// Page holds pagination parameters for list queries.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PagedResult wraps a list result with total count for pagination.
type PagedResult[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  Page  `json:"page"`
}
