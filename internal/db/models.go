package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base embeds the fields common to every top-level entity: a UUIDv7 primary
// key generated on insert, and the two timestamps GORM maintains automatically.
type base struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate generates a time-ordered UUIDv7 primary key if one has not
// already been set by the caller (executions mint their own ID up front so
// the Dispatcher can reference it before the row exists).
func (b *base) BeforeCreate(_ *gorm.DB) error {
	if b.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// ─── Persona ─────────────────────────────────────────────────────────────────

// Persona is the template of an executable agent run. Immutable at execution
// time — the Dispatcher and Prompt Assembler only ever read it.
type Persona struct {
	base

	ProjectID        string `gorm:"index;not null;default:default"`
	Name             string `gorm:"not null"`
	SystemPrompt     string
	StructuredPrompt string // opaque JSON blob; parsed by the Prompt Assembler when present
	Enabled          bool   `gorm:"not null;default:true"`
	MaxConcurrent    int    `gorm:"not null;default:1"`
	TimeoutMs        int64  `gorm:"not null;default:300000"`
	ModelProfile     string // opaque JSON blob: {"provider": "ollama", ...}
	BudgetUSD        float64
	BudgetSpentUSD   float64
}

// PersonaTool links a Persona to a ToolDefinition many-to-many. A join
// row rather than a GORM many2many tag — see Policy in the teacher lineage
// for why UUID-keyed associations are resolved with manual queries instead.
type PersonaTool struct {
	base

	PersonaID uuid.UUID `gorm:"index;not null"`
	ToolID    uuid.UUID `gorm:"index;not null"`
}

// ToolDefinition contributes documentation text to the assembled prompt for
// every persona it is bound to.
type ToolDefinition struct {
	base

	ProjectID           string `gorm:"index;not null;default:default"`
	Name                string `gorm:"not null"`
	Category            string
	Description         string
	ImplementationGuide string
	ScriptPath          string
	InputSchema         string // opaque JSON schema blob
	RequiresCredential  string // base credential name, empty if none required
}

// ─── Credential ──────────────────────────────────────────────────────────────

// Credential is an encrypted per-persona secret. Ciphertext, nonce, and
// authentication tag are packed together by EncryptedString's Value/Scan —
// see encrypt.go. Never exposed via read APIs; decrypted only in memory at
// dispatch time by the Credential Materializer.
type Credential struct {
	base

	ProjectID string          `gorm:"index;not null;default:default"`
	PersonaID uuid.UUID       `gorm:"index;not null"`
	Name      string          `gorm:"not null"` // base name, e.g. "github" -> CONNECTOR_GITHUB
	Secret    EncryptedString `gorm:"type:text"`
}

// ─── Event ───────────────────────────────────────────────────────────────────

// Event is a pending piece of work. Created pending; mutated only by the
// Event Processor tick; never destroyed by the core.
type Event struct {
	base

	ProjectID       string     `gorm:"index;not null;default:default"`
	EventType       string     `gorm:"index;not null"`
	SourceType      string     `gorm:"not null"`
	SourceID        *string    `gorm:"index"`
	TargetPersonaID *uuid.UUID `gorm:"index"`
	Payload         *string
	Status          string `gorm:"index;not null;default:pending"`
	UseCaseID       *string
	ProcessedAt     *time.Time
}

// ─── Event Subscription ──────────────────────────────────────────────────────

// EventSubscription is a declarative binding from an event type (optionally
// filtered by source) to a persona. Pure configuration — the core only reads it.
type EventSubscription struct {
	base

	ProjectID    string    `gorm:"index;not null;default:default"`
	PersonaID    uuid.UUID `gorm:"index;not null"`
	EventType    string    `gorm:"index;not null"`
	SourceFilter *string   // exact match, or a trailing "*" prefix match
	Enabled      bool      `gorm:"not null;default:true"`
}

// ─── Trigger ─────────────────────────────────────────────────────────────────

// Trigger is a time- or rule-based event source evaluated by the Trigger
// Scheduler tick. Config is an opaque JSON string interpreted per TriggerType.
type Trigger struct {
	base

	ProjectID       string    `gorm:"index;not null;default:default"`
	PersonaID       uuid.UUID `gorm:"index;not null"`
	TriggerType     string    `gorm:"not null"`
	Config          string    // opaque JSON, e.g. {"cron":"every 10s","event_type":"tick"}
	Enabled         bool      `gorm:"index;not null;default:true"`
	LastTriggeredAt *time.Time
	NextTriggerAt   *time.Time `gorm:"index"`
	UseCaseID       *string
}

// ─── Execution Record ────────────────────────────────────────────────────────

// ExecutionRecord is the durable record of one execution. Created by the
// Dispatcher at submit time in status "queued"; mutated on every state
// transition. It is the source of truth for completed/failed/cancelled
// executions once the in-memory active-execution entry is reaped (see
// dispatcher's retention sweep).
type ExecutionRecord struct {
	base

	ProjectID    string     `gorm:"index;not null;default:default"`
	PersonaID    *uuid.UUID `gorm:"index"`
	Status       string     `gorm:"index;not null;default:queued"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
	DurationMs   int64
	SessionID    *string
	CostUSD      float64
	ErrorMessage string
	OutputData   string // accumulated stdout/stderr, append-only
}
