// Package triggersched implements the Trigger Scheduler tick (§4.7): a
// periodic job that finds due time-based triggers, synthesizes a pending
// event for each, and recomputes the trigger's next fire time. Built with
// the same tick-construction idiom as internal/eventproc.
package triggersched

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/arkeep-io/persona-orchestrator/internal/db"
	"github.com/arkeep-io/persona-orchestrator/internal/repository"
)

// TickInterval is the default polling cadence, overridable at construction
// via Config.Interval.
const TickInterval = 5 * time.Second

// PollingTriggerType is excluded from this tick — it is driven by a
// separate, external mechanism, per §4.7 step 2.
const PollingTriggerType = "polling"

// DefaultEventType is used when a trigger's config omits event_type.
const DefaultEventType = "trigger_fired"

// fallbackInterval is the next-fire interval used when a trigger's config
// names neither a recognized cron shorthand nor interval_seconds, per §4.7's
// explicit-fallback rule (see DESIGN.md decision 2).
const fallbackInterval = time.Hour

// everyPattern matches the reduced "every N{s,m,h,d}" cron grammar this
// service supports — not a general cron expression.
var everyPattern = regexp.MustCompile(`(?i)^every (\d+)([smhd])$`)

// Scheduler runs the Trigger Scheduler tick on a scheduler it owns
// exclusively.
type Scheduler struct {
	triggers repository.TriggerRepository
	events   repository.EventRepository
	personas repository.PersonaRepository
	logger   *zap.Logger
	interval time.Duration

	sched gocron.Scheduler
}

// Config bundles the Scheduler's dependencies.
type Config struct {
	Triggers repository.TriggerRepository
	Events   repository.EventRepository
	Personas repository.PersonaRepository
	Logger   *zap.Logger
	// Interval overrides TickInterval; zero keeps the default.
	Interval time.Duration
}

// triggerConfig mirrors the JSON shape a Trigger.Config blob may carry.
// Unknown fields are ignored.
type triggerConfig struct {
	Cron            string          `json:"cron"`
	IntervalSeconds int64           `json:"interval_seconds"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
}

// New constructs a Scheduler and registers its tick job.
func New(cfg Config) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = TickInterval
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("triggersched: create scheduler: %w", err)
	}

	s := &Scheduler{
		triggers: cfg.Triggers,
		events:   cfg.Events,
		personas: cfg.Personas,
		logger:   cfg.Logger.Named("triggersched"),
		interval: interval,
		sched:    sched,
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("trigger-scheduler-tick"),
	); err != nil {
		return nil, fmt.Errorf("triggersched: register tick: %w", err)
	}

	return s, nil
}

// Start begins ticking.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Shutdown stops ticking.
func (s *Scheduler) Shutdown() {
	if err := s.sched.Shutdown(); err != nil {
		s.logger.Warn("shutdown error", zap.Error(err))
	}
}

// tick is the job body. Per-trigger exceptions are isolated so one bad
// trigger config never stalls the rest of the batch, per §4.7.
func (s *Scheduler) tick() {
	ctx := context.Background()
	now := time.Now().UTC()

	due, err := s.triggers.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("list due triggers failed", zap.Error(err))
		return
	}

	for _, trg := range due {
		if trg.TriggerType == PollingTriggerType {
			continue
		}
		s.fire(ctx, trg, now)
	}
}

// fire implements §4.7 step 3 for a single due trigger.
func (s *Scheduler) fire(ctx context.Context, trg db.Trigger, now time.Time) {
	var cfg triggerConfig
	if trg.Config != "" {
		if err := json.Unmarshal([]byte(trg.Config), &cfg); err != nil {
			s.logger.Warn("trigger config did not parse as JSON, using defaults",
				zap.String("trigger_id", trg.ID.String()), zap.Error(err))
		}
	}

	eventType := cfg.EventType
	if eventType == "" {
		eventType = DefaultEventType
	}

	persona, err := s.personas.GetByID(ctx, trg.PersonaID)
	if err != nil {
		s.logger.Warn("trigger persona missing, publishing event under default project",
			zap.String("trigger_id", trg.ID.String()),
			zap.String("persona_id", trg.PersonaID.String()), zap.Error(err))
	}

	projectID := "default"
	if persona != nil {
		projectID = persona.ProjectID
	}

	sourceID := trg.ID.String()
	personaID := trg.PersonaID
	var payload *string
	if len(cfg.Payload) > 0 {
		p := string(cfg.Payload)
		payload = &p
	}

	event := &db.Event{
		ProjectID:       projectID,
		EventType:       eventType,
		SourceType:      "trigger",
		SourceID:        &sourceID,
		TargetPersonaID: &personaID,
		Payload:         payload,
		Status:          "pending",
		UseCaseID:       trg.UseCaseID,
	}
	if err := s.events.Create(ctx, event); err != nil {
		s.logger.Error("publish trigger event failed",
			zap.String("trigger_id", trg.ID.String()), zap.Error(err))
		return
	}

	nextTriggerAt := s.computeNextFire(trg, cfg, now)
	if err := s.triggers.UpdateSchedule(ctx, trg.ID, now, nextTriggerAt); err != nil {
		s.logger.Error("update trigger schedule failed",
			zap.String("trigger_id", trg.ID.String()), zap.Error(err))
	}
}

// computeNextFire implements §4.7's next-fire computation, falling back to
// fallbackInterval (logged explicitly) when the trigger's config names
// neither a recognized cron shorthand nor interval_seconds.
func (s *Scheduler) computeNextFire(trg db.Trigger, cfg triggerConfig, now time.Time) time.Time {
	if d, ok := parseEveryCron(cfg.Cron); ok {
		return now.Add(d)
	}
	if cfg.IntervalSeconds > 0 {
		return now.Add(time.Duration(cfg.IntervalSeconds) * time.Second)
	}

	s.logger.Warn("trigger has no recognized schedule, falling back to hourly",
		zap.String("trigger_id", trg.ID.String()),
		zap.String("config_cron", cfg.Cron),
		zap.Int64("config_interval_seconds", cfg.IntervalSeconds))
	return now.Add(fallbackInterval)
}

// parseEveryCron parses the "every N{s,m,h,d}" grammar described in §4.7.
func parseEveryCron(cron string) (time.Duration, bool) {
	m := everyPattern.FindStringSubmatch(cron)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	var unit time.Duration
	switch m[2] {
	case "s", "S":
		unit = time.Second
	case "m", "M":
		unit = time.Minute
	case "h", "H":
		unit = time.Hour
	case "d", "D":
		unit = 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(n) * unit, true
}
