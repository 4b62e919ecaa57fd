// Package trigger drives cron, interval, internal-event, and webhook
// triggers into queue admission, independent of the manual "run this
// workflow now" path the service layer exposes directly.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/domain/repository"
	"github.com/fluxgraph/engine/internal/infrastructure/cache"
	"github.com/fluxgraph/engine/internal/queue"
)

// Manager orchestrates every trigger type's handler and routes trigger
// lifecycle events (create/update/delete) to the right one.
type Manager struct {
	triggerRepo repository.TriggerRepository
	admitter    *queue.Admitter
	cache       *cache.RedisCache
	logger      *slog.Logger

	cronScheduler   *CronScheduler
	eventListener   *EventListener
	webhookRegistry *WebhookRegistry

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// ManagerConfig holds the manager's collaborators.
type ManagerConfig struct {
	TriggerRepo repository.TriggerRepository
	Admitter    *queue.Admitter
	Cache       *cache.RedisCache
	Logger      *slog.Logger
}

// NewManager validates cfg and wires up the cron, event, and webhook
// handlers, but does not yet load or start anything (see Start).
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.TriggerRepo == nil {
		return nil, fmt.Errorf("trigger repository is required")
	}
	if cfg.Admitter == nil {
		return nil, fmt.Errorf("admitter is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("redis cache is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		triggerRepo: cfg.TriggerRepo,
		admitter:    cfg.Admitter,
		cache:       cfg.Cache,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}

	if err := m.initializeHandlers(); err != nil {
		cancel()
		return nil, fmt.Errorf("initialize handlers: %w", err)
	}

	return m, nil
}

func (m *Manager) initializeHandlers() error {
	cronScheduler, err := NewCronScheduler(CronSchedulerConfig{
		TriggerRepo: m.triggerRepo,
		Admitter:    m.admitter,
		Cache:       m.cache,
		Logger:      m.logger,
	})
	if err != nil {
		return fmt.Errorf("create cron scheduler: %w", err)
	}
	m.cronScheduler = cronScheduler

	eventListener, err := NewEventListener(EventListenerConfig{
		TriggerRepo: m.triggerRepo,
		Admitter:    m.admitter,
		Cache:       m.cache,
		Logger:      m.logger,
	})
	if err != nil {
		return fmt.Errorf("create event listener: %w", err)
	}
	m.eventListener = eventListener

	m.webhookRegistry = NewWebhookRegistry(WebhookRegistryConfig{
		TriggerRepo: m.triggerRepo,
		Admitter:    m.admitter,
		Cache:       m.cache,
		Logger:      m.logger,
	})

	return nil
}

// Start loads every enabled trigger and starts the cron scheduler, event
// listener, and webhook registry.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	triggers, err := m.triggerRepo.ListEnabledTriggers(m.ctx)
	if err != nil {
		return fmt.Errorf("load enabled triggers: %w", err)
	}

	if err := m.cronScheduler.Start(m.ctx, triggers); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	if err := m.eventListener.Start(m.ctx, triggers); err != nil {
		return fmt.Errorf("start event listener: %w", err)
	}
	if err := m.webhookRegistry.RegisterAll(m.ctx, triggers); err != nil {
		return fmt.Errorf("register webhooks: %w", err)
	}

	return nil
}

// Stop gracefully shuts down every handler.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancel()

	if err := m.cronScheduler.Stop(); err != nil {
		return fmt.Errorf("stop cron scheduler: %w", err)
	}
	if err := m.eventListener.Stop(); err != nil {
		return fmt.Errorf("stop event listener: %w", err)
	}

	return nil
}

// OnTriggerCreated routes a newly created, enabled trigger to its handler.
func (m *Manager) OnTriggerCreated(ctx context.Context, t *domain.Trigger) error {
	if !t.Enabled {
		return nil
	}

	switch t.Type {
	case domain.TriggerTypeCron, domain.TriggerTypeInterval:
		return m.cronScheduler.AddTrigger(ctx, t)
	case domain.TriggerTypeEvent:
		return m.eventListener.AddTrigger(ctx, t)
	case domain.TriggerTypeWebhook:
		return m.webhookRegistry.RegisterWebhook(ctx, t)
	}

	return nil
}

// OnTriggerUpdated re-registers a trigger: remove the old binding, then add
// it back if it is still enabled.
func (m *Manager) OnTriggerUpdated(ctx context.Context, t *domain.Trigger) error {
	if err := m.OnTriggerDeleted(ctx, t.ID); err != nil {
		return err
	}
	if t.Enabled {
		return m.OnTriggerCreated(ctx, t)
	}
	return nil
}

// OnTriggerDeleted removes a trigger from every handler and clears its
// persisted state.
func (m *Manager) OnTriggerDeleted(ctx context.Context, triggerID string) error {
	if err := m.cronScheduler.RemoveTrigger(ctx, triggerID); err != nil {
		m.logger.Error("failed to remove cron trigger", "triggerId", triggerID, "error", err)
	}
	if err := m.eventListener.RemoveTrigger(ctx, triggerID); err != nil {
		m.logger.Error("failed to remove event trigger", "triggerId", triggerID, "error", err)
	}
	if err := m.webhookRegistry.UnregisterWebhook(ctx, triggerID); err != nil {
		m.logger.Error("failed to unregister webhook", "triggerId", triggerID, "error", err)
	}
	if err := DeleteTriggerState(ctx, m.cache, triggerID); err != nil {
		m.logger.Error("failed to clear trigger state", "triggerId", triggerID, "error", err)
	}
	return nil
}

// WebhookRegistry exposes the webhook registry so the REST layer can route
// inbound webhook deliveries without reaching into Manager internals.
func (m *Manager) WebhookRegistry() *WebhookRegistry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.webhookRegistry
}
