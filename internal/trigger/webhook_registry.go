package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/domain/repository"
	"github.com/fluxgraph/engine/internal/infrastructure/cache"
	"github.com/fluxgraph/engine/internal/queue"
)

// webhookRateLimit is the fixed per-trigger ceiling enforced independent of
// any org-level usage quota; it protects against a single misbehaving
// webhook caller starving the per-connector in-flight cap for everyone
// else, and is intentionally simple (no burst/leak shaping).
const webhookRateLimit = 100

// WebhookRegistry holds the in-memory set of enabled webhook triggers and
// turns inbound HTTP deliveries into admitted runs.
type WebhookRegistry struct {
	triggerRepo repository.TriggerRepository
	admitter    *queue.Admitter
	cache       *cache.RedisCache
	logger      *slog.Logger

	webhooks map[string]*domain.Trigger // triggerID -> trigger
	mu       sync.RWMutex
}

// WebhookRegistryConfig holds the registry's collaborators.
type WebhookRegistryConfig struct {
	TriggerRepo repository.TriggerRepository
	Admitter    *queue.Admitter
	Cache       *cache.RedisCache
	Logger      *slog.Logger
}

// NewWebhookRegistry creates a webhook registry.
func NewWebhookRegistry(cfg WebhookRegistryConfig) *WebhookRegistry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookRegistry{
		triggerRepo: cfg.TriggerRepo,
		admitter:    cfg.Admitter,
		cache:       cfg.Cache,
		logger:      logger.With("component", "trigger.webhook"),
		webhooks:    make(map[string]*domain.Trigger),
	}
}

// RegisterAll seeds the registry from the set of enabled triggers loaded at
// startup.
func (wr *WebhookRegistry) RegisterAll(ctx context.Context, triggers []*domain.Trigger) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	for _, t := range triggers {
		if t.Type == domain.TriggerTypeWebhook {
			wr.webhooks[t.ID] = t
		}
	}
	return nil
}

// RegisterWebhook registers a single webhook trigger at runtime.
func (wr *WebhookRegistry) RegisterWebhook(ctx context.Context, t *domain.Trigger) error {
	if t.Type != domain.TriggerTypeWebhook {
		return nil
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.webhooks[t.ID] = t
	return nil
}

// UnregisterWebhook removes a webhook trigger.
func (wr *WebhookRegistry) UnregisterWebhook(ctx context.Context, triggerID string) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	delete(wr.webhooks, triggerID)
	return nil
}

// GetWebhook looks a trigger up by ID, for the REST layer's webhook
// delivery handler to check existence before reading the request body.
func (wr *WebhookRegistry) GetWebhook(triggerID string) (*domain.Trigger, bool) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()
	t, ok := wr.webhooks[triggerID]
	return t, ok
}

// ExecuteWebhook validates an inbound delivery and, if it passes signature,
// IP whitelist, and rate-limit checks, admits a new run. It returns the
// admitted run's ID.
func (wr *WebhookRegistry) ExecuteWebhook(ctx context.Context, triggerID string, payload map[string]any, headers map[string]string, sourceIP string) (string, error) {
	t, exists := wr.GetWebhook(triggerID)
	if !exists {
		return "", domain.ErrTriggerNotFound
	}
	if !t.Enabled {
		return "", fmt.Errorf("webhook trigger is disabled")
	}

	if err := wr.validateSignature(t, payload, headers); err != nil {
		return "", fmt.Errorf("signature validation failed: %w", err)
	}
	if err := wr.checkIPWhitelist(t, sourceIP); err != nil {
		return "", fmt.Errorf("IP not whitelisted: %w", err)
	}
	if err := wr.checkRateLimit(ctx, triggerID); err != nil {
		return "", fmt.Errorf("rate limit exceeded: %w", err)
	}

	input := make(map[string]any)
	if defaultInput, ok := t.Config["input"].(map[string]any); ok {
		for k, v := range defaultInput {
			input[k] = v
		}
	}
	for k, v := range payload {
		input[k] = v
	}
	input["_webhook"] = map[string]any{
		"triggerId": triggerID,
		"headers":   headers,
		"sourceIp":  sourceIP,
		"timestamp": time.Now().Unix(),
	}

	req := queue.RunRequest{
		OrgID:        t.OrgID,
		WorkflowID:   t.WorkflowID,
		Environment:  t.Environment,
		Trigger:      domain.TriggerWebhook,
		InitialInput: input,
	}
	runID, err := wr.admitter.Enqueue(ctx, req, queue.Limits{})
	if err != nil {
		return "", fmt.Errorf("enqueue run: %w", err)
	}

	state, err := LoadTriggerState(ctx, wr.cache, triggerID)
	if err != nil {
		state = NewTriggerState(triggerID)
	}
	state.MarkExecuted()
	if err := state.Save(ctx, wr.cache); err != nil {
		wr.logger.Error("failed to save trigger state", "triggerId", triggerID, "error", err)
	}

	if err := wr.triggerRepo.MarkTriggered(ctx, triggerID); err != nil {
		wr.logger.Error("failed to mark trigger as triggered", "triggerId", triggerID, "error", err)
	}

	return runID, nil
}

func (wr *WebhookRegistry) validateSignature(t *domain.Trigger, payload map[string]any, headers map[string]string) error {
	secret, ok := t.Config["secret"].(string)
	if !ok || secret == "" {
		return nil
	}

	signature := headers["X-Webhook-Signature"]
	if signature == "" {
		return fmt.Errorf("missing signature header")
	}

	expected, err := wr.computeSignature(secret, payload)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// computeSignature hashes the canonical JSON encoding of payload rather
// than fmt.Sprintf("%v", ...), since map iteration order would otherwise
// make the signature non-reproducible across deliveries of identical data.
func (wr *WebhookRegistry) computeSignature(secret string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload for signing: %w", err)
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (wr *WebhookRegistry) checkIPWhitelist(t *domain.Trigger, sourceIP string) error {
	whitelist, ok := t.Config["ipWhitelist"].([]any)
	if !ok || len(whitelist) == 0 {
		return nil
	}

	ip := net.ParseIP(sourceIP)
	if ip == nil {
		return fmt.Errorf("invalid source IP: %s", sourceIP)
	}

	for _, allowed := range whitelist {
		allowedStr, ok := allowed.(string)
		if !ok {
			continue
		}
		if _, ipNet, err := net.ParseCIDR(allowedStr); err == nil {
			if ipNet.Contains(ip) {
				return nil
			}
			continue
		}
		if sourceIP == allowedStr {
			return nil
		}
	}

	return fmt.Errorf("IP %s not in whitelist", sourceIP)
}

func (wr *WebhookRegistry) checkRateLimit(ctx context.Context, triggerID string) error {
	key := fmt.Sprintf("engine:trigger:%s:ratelimit", triggerID)

	count, err := wr.cache.Increment(ctx, key)
	if err != nil {
		// Fail open: a Redis hiccup should not block webhook delivery.
		return nil
	}
	if count == 1 {
		if err := wr.cache.Expire(ctx, key, time.Minute); err != nil {
			wr.logger.Error("failed to set rate limit expiration", "triggerId", triggerID, "error", err)
		}
	}
	if count > webhookRateLimit {
		return fmt.Errorf("rate limit exceeded: %d requests in last minute", count)
	}

	return nil
}
