package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/domain/repository"
	"github.com/fluxgraph/engine/internal/infrastructure/cache"
	"github.com/fluxgraph/engine/internal/queue"
	"github.com/robfig/cron/v3"
)

// CronScheduler turns cron/interval Trigger rows into queue admission
// calls. Unlike a workflow run, a scheduler tick never carries inline
// credentials or a connector app, so it only ever exercises the admission
// pipeline's health/quota checks, not the per-connector in-flight cap.
type CronScheduler struct {
	triggerRepo repository.TriggerRepository
	admitter    *queue.Admitter
	cache       *cache.RedisCache
	logger      *slog.Logger

	cron    *cron.Cron
	entries map[string]cron.EntryID // triggerID -> entryID
	mu      sync.RWMutex
}

// CronSchedulerConfig holds the scheduler's collaborators.
type CronSchedulerConfig struct {
	TriggerRepo repository.TriggerRepository
	Admitter    *queue.Admitter
	Cache       *cache.RedisCache
	Logger      *slog.Logger
}

// NewCronScheduler creates a cron scheduler with second precision, UTC by
// default (a trigger's own "timezone" config overrides this per-schedule).
func NewCronScheduler(cfg CronSchedulerConfig) (*CronScheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{
		triggerRepo: cfg.TriggerRepo,
		admitter:    cfg.Admitter,
		cache:       cfg.Cache,
		logger:      logger.With("component", "trigger.cron"),
		cron:        cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		entries:     make(map[string]cron.EntryID),
	}, nil
}

// Start schedules every cron/interval trigger among triggers and starts the
// underlying cron.Cron.
func (cs *CronScheduler) Start(ctx context.Context, triggers []*domain.Trigger) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, t := range triggers {
		if t.Type == domain.TriggerTypeCron || t.Type == domain.TriggerTypeInterval {
			if err := cs.addTriggerLocked(ctx, t); err != nil {
				cs.logger.Error("failed to add trigger", "triggerId", t.ID, "error", err)
				continue
			}
		}
	}

	cs.cron.Start()
	return nil
}

// Stop stops the cron scheduler, waiting for in-flight jobs to finish.
func (cs *CronScheduler) Stop() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	stopCtx := cs.cron.Stop()
	<-stopCtx.Done()
	return nil
}

// AddTrigger adds a single cron/interval trigger at runtime.
func (cs *CronScheduler) AddTrigger(ctx context.Context, t *domain.Trigger) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.addTriggerLocked(ctx, t)
}

func (cs *CronScheduler) addTriggerLocked(ctx context.Context, t *domain.Trigger) error {
	if t.Type != domain.TriggerTypeCron && t.Type != domain.TriggerTypeInterval {
		return nil
	}

	if entryID, exists := cs.entries[t.ID]; exists {
		cs.cron.Remove(entryID)
		delete(cs.entries, t.ID)
	}

	schedule, err := cs.parseSchedule(t)
	if err != nil {
		return fmt.Errorf("parse schedule: %w", err)
	}

	entryID := cs.cron.Schedule(schedule, cs.createJob(t))
	cs.entries[t.ID] = entryID

	entry := cs.cron.Entry(entryID)
	if err := cs.updateNextExecution(ctx, t.ID, entry.Next); err != nil {
		cs.logger.Error("failed to update next execution", "triggerId", t.ID, "error", err)
	}

	return nil
}

// RemoveTrigger unschedules a trigger.
func (cs *CronScheduler) RemoveTrigger(ctx context.Context, triggerID string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if entryID, exists := cs.entries[triggerID]; exists {
		cs.cron.Remove(entryID)
		delete(cs.entries, triggerID)
	}
	return nil
}

func (cs *CronScheduler) parseSchedule(t *domain.Trigger) (cron.Schedule, error) {
	switch t.Type {
	case domain.TriggerTypeCron:
		return cs.parseCronSchedule(t)
	case domain.TriggerTypeInterval:
		return cs.parseIntervalSchedule(t)
	default:
		return nil, fmt.Errorf("unsupported trigger type: %s", t.Type)
	}
}

func (cs *CronScheduler) parseCronSchedule(t *domain.Trigger) (cron.Schedule, error) {
	scheduleStr, ok := t.Config["schedule"].(string)
	if !ok {
		return nil, fmt.Errorf("schedule not found in trigger config")
	}

	// A "CRON_TZ=<zone> " prefix is robfig/cron's own mechanism for binding a
	// spec's wall-clock to a timezone; letting the parser own that instead
	// of separately converting instants keeps DST transitions correct.
	if tz, ok := t.Config["timezone"].(string); ok && tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", tz, err)
		}
		scheduleStr = fmt.Sprintf("CRON_TZ=%s %s", tz, scheduleStr)
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(scheduleStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %s: %w", scheduleStr, err)
	}

	return schedule, nil
}

func (cs *CronScheduler) parseIntervalSchedule(t *domain.Trigger) (cron.Schedule, error) {
	intervalValue, ok := t.Config["interval"]
	if !ok {
		return nil, fmt.Errorf("interval not found in trigger config")
	}

	var duration time.Duration
	var err error
	switch v := intervalValue.(type) {
	case string:
		duration, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid interval duration %s: %w", v, err)
		}
	case float64:
		duration = time.Duration(v) * time.Second
	case int:
		duration = time.Duration(v) * time.Second
	default:
		return nil, fmt.Errorf("invalid interval type: %T", intervalValue)
	}

	if duration <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}

	return cron.ConstantDelaySchedule{Delay: duration}, nil
}

func (cs *CronScheduler) createJob(t *domain.Trigger) cron.Job {
	return cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := cs.fire(ctx, t); err != nil {
			cs.logger.Error("trigger execution failed", "triggerId", t.ID, "error", err)
		}
	})
}

func (cs *CronScheduler) fire(ctx context.Context, t *domain.Trigger) error {
	input := make(map[string]any)
	if defaultInput, ok := t.Config["input"].(map[string]any); ok {
		input = defaultInput
	}

	req := queue.RunRequest{
		OrgID:        t.OrgID,
		WorkflowID:   t.WorkflowID,
		Environment:  t.Environment,
		Trigger:      domain.TriggerScheduled,
		InitialInput: input,
	}
	if _, err := cs.admitter.Enqueue(ctx, req, queue.Limits{}); err != nil {
		return fmt.Errorf("enqueue run: %w", err)
	}

	state, err := LoadTriggerState(ctx, cs.cache, t.ID)
	if err != nil {
		state = NewTriggerState(t.ID)
	}
	state.MarkExecuted()

	cs.mu.RLock()
	if entryID, exists := cs.entries[t.ID]; exists {
		state.SetNextExecution(cs.cron.Entry(entryID).Next)
	}
	cs.mu.RUnlock()

	if err := state.Save(ctx, cs.cache); err != nil {
		cs.logger.Error("failed to save trigger state", "triggerId", t.ID, "error", err)
	}

	if err := cs.triggerRepo.MarkTriggered(ctx, t.ID); err != nil {
		cs.logger.Error("failed to mark trigger as triggered", "triggerId", t.ID, "error", err)
	}

	return nil
}

func (cs *CronScheduler) updateNextExecution(ctx context.Context, triggerID string, nextTime time.Time) error {
	if cs.cache == nil {
		return nil
	}

	state, err := LoadTriggerState(ctx, cs.cache, triggerID)
	if err != nil {
		state = NewTriggerState(triggerID)
	}
	state.SetNextExecution(nextTime)
	return state.Save(ctx, cs.cache)
}
