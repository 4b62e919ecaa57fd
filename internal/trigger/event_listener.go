package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/domain/repository"
	"github.com/fluxgraph/engine/internal/infrastructure/cache"
	"github.com/fluxgraph/engine/internal/queue"
	"github.com/redis/go-redis/v9"
)

// EventListener fires event-type triggers off internal events published on
// Redis pub/sub (workflow-to-workflow chaining, external signals relayed by
// the host). It is distinct from C6's event stream: that is the run's own
// append-only log, this is a pub/sub fan-in used only to decide whether to
// start a new run.
type EventListener struct {
	triggerRepo repository.TriggerRepository
	admitter    *queue.Admitter
	cache       *cache.RedisCache
	logger      *slog.Logger

	pubsub      *redis.PubSub
	triggers    map[string][]*domain.Trigger // eventType -> triggers
	mu          sync.RWMutex
	stopChan    chan struct{}
	stoppedChan chan struct{}
	isRunning   bool
}

// EventListenerConfig holds the listener's collaborators.
type EventListenerConfig struct {
	TriggerRepo repository.TriggerRepository
	Admitter    *queue.Admitter
	Cache       *cache.RedisCache
	Logger      *slog.Logger
}

// NewEventListener creates an event listener.
func NewEventListener(cfg EventListenerConfig) (*EventListener, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EventListener{
		triggerRepo: cfg.TriggerRepo,
		admitter:    cfg.Admitter,
		cache:       cfg.Cache,
		logger:      logger.With("component", "trigger.event"),
		triggers:    make(map[string][]*domain.Trigger),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}, nil
}

// Start subscribes to every event-type trigger's channel among triggers.
func (el *EventListener) Start(ctx context.Context, triggers []*domain.Trigger) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	for _, t := range triggers {
		if t.Type == domain.TriggerTypeEvent {
			if err := el.addTriggerLocked(ctx, t); err != nil {
				el.logger.Error("failed to add event trigger", "triggerId", t.ID, "error", err)
				continue
			}
		}
	}

	if len(el.triggers) > 0 {
		el.pubsub = el.cache.Client().Subscribe(ctx, el.getChannels()...)
		el.isRunning = true
		go el.listen(ctx)
	} else {
		close(el.stoppedChan)
	}

	return nil
}

// Stop unsubscribes and waits for the listen loop to exit.
func (el *EventListener) Stop() error {
	el.mu.Lock()
	isRunning := el.isRunning
	el.mu.Unlock()

	if isRunning {
		close(el.stopChan)
	}

	if el.pubsub != nil {
		if err := el.pubsub.Close(); err != nil {
			return fmt.Errorf("close pub/sub: %w", err)
		}
	}

	if isRunning {
		<-el.stoppedChan
	}

	return nil
}

// AddTrigger registers a single event trigger at runtime.
func (el *EventListener) AddTrigger(ctx context.Context, t *domain.Trigger) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	return el.addTriggerLocked(ctx, t)
}

func (el *EventListener) addTriggerLocked(ctx context.Context, t *domain.Trigger) error {
	if t.Type != domain.TriggerTypeEvent {
		return nil
	}

	eventType, ok := t.Config["eventType"].(string)
	if !ok || eventType == "" {
		return fmt.Errorf("eventType not found in trigger config")
	}

	el.triggers[eventType] = append(el.triggers[eventType], t)

	if el.pubsub != nil {
		channel := el.getEventChannel(eventType)
		if err := el.pubsub.Subscribe(ctx, channel); err != nil {
			return fmt.Errorf("subscribe to channel %s: %w", channel, err)
		}
	}

	return nil
}

// RemoveTrigger unregisters an event trigger.
func (el *EventListener) RemoveTrigger(ctx context.Context, triggerID string) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	for eventType, triggers := range el.triggers {
		for i, t := range triggers {
			if t.ID != triggerID {
				continue
			}
			el.triggers[eventType] = append(triggers[:i], triggers[i+1:]...)
			if len(el.triggers[eventType]) == 0 {
				delete(el.triggers, eventType)
				if el.pubsub != nil {
					channel := el.getEventChannel(eventType)
					if err := el.pubsub.Unsubscribe(ctx, channel); err != nil {
						el.logger.Error("failed to unsubscribe", "channel", channel, "error", err)
					}
				}
			}
			return nil
		}
	}

	return nil
}

func (el *EventListener) listen(ctx context.Context) {
	defer close(el.stoppedChan)

	ch := el.pubsub.Channel()
	for {
		select {
		case <-el.stopChan:
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var event InternalEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				el.logger.Error("failed to parse internal event", "error", err)
				continue
			}
			el.handleEvent(ctx, event)
		}
	}
}

func (el *EventListener) handleEvent(ctx context.Context, event InternalEvent) {
	el.mu.RLock()
	triggers := el.triggers[event.Type]
	el.mu.RUnlock()

	for _, t := range triggers {
		if !el.matchesFilter(event, t) {
			continue
		}
		go func(t *domain.Trigger) {
			execCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			if err := el.fire(execCtx, t, event.Data); err != nil {
				el.logger.Error("trigger execution failed", "triggerId", t.ID, "error", err)
			}
		}(t)
	}
}

func (el *EventListener) matchesFilter(event InternalEvent, t *domain.Trigger) bool {
	filter, ok := t.Config["filter"].(map[string]any)
	if !ok || len(filter) == 0 {
		return true
	}

	if source, ok := filter["source"].(string); ok && source != "" && event.Source != source {
		return false
	}

	for key, expected := range filter {
		if key == "source" {
			continue
		}
		actual, exists := event.Data[key]
		if !exists || actual != expected {
			return false
		}
	}

	return true
}

func (el *EventListener) fire(ctx context.Context, t *domain.Trigger, eventData map[string]any) error {
	input := make(map[string]any)
	if defaultInput, ok := t.Config["input"].(map[string]any); ok {
		for k, v := range defaultInput {
			input[k] = v
		}
	}
	for k, v := range eventData {
		input[k] = v
	}

	req := queue.RunRequest{
		OrgID:        t.OrgID,
		WorkflowID:   t.WorkflowID,
		Environment:  t.Environment,
		Trigger:      domain.TriggerScheduled,
		InitialInput: input,
	}
	if _, err := el.admitter.Enqueue(ctx, req, queue.Limits{}); err != nil {
		return fmt.Errorf("enqueue run: %w", err)
	}

	state, err := LoadTriggerState(ctx, el.cache, t.ID)
	if err != nil {
		state = NewTriggerState(t.ID)
	}
	state.MarkExecuted()
	if err := state.Save(ctx, el.cache); err != nil {
		el.logger.Error("failed to save trigger state", "triggerId", t.ID, "error", err)
	}

	if err := el.triggerRepo.MarkTriggered(ctx, t.ID); err != nil {
		el.logger.Error("failed to mark trigger as triggered", "triggerId", t.ID, "error", err)
	}

	return nil
}

func (el *EventListener) getChannels() []string {
	channels := make([]string, 0, len(el.triggers))
	for eventType := range el.triggers {
		channels = append(channels, el.getEventChannel(eventType))
	}
	return channels
}

func (el *EventListener) getEventChannel(eventType string) string {
	return fmt.Sprintf("engine:events:%s", eventType)
}

// InternalEvent is a signal relayed over Redis pub/sub that an event-type
// trigger may fire on. It has no relation to the C6 domain.Event wire
// format; InternalEvent never becomes part of a run's history.
type InternalEvent struct {
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// PublishInternalEvent publishes an InternalEvent for any subscribed
// event-type triggers to pick up.
func PublishInternalEvent(ctx context.Context, c *cache.RedisCache, event InternalEvent) error {
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal internal event: %w", err)
	}

	channel := fmt.Sprintf("engine:events:%s", event.Type)
	if err := c.Client().Publish(ctx, channel, string(data)).Err(); err != nil {
		return fmt.Errorf("publish internal event: %w", err)
	}

	return nil
}
