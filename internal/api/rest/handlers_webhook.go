package rest

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fluxgraph/engine/internal/platform/logger"
	"github.com/fluxgraph/engine/internal/trigger"
)

// WebhookHandlers serves the inbound webhook endpoints that let an external
// caller fire a webhook-type Trigger directly, bypassing the scheduler.
type WebhookHandlers struct {
	webhookRegistry *trigger.WebhookRegistry
	logger          *logger.Logger
}

func NewWebhookHandlers(webhookRegistry *trigger.WebhookRegistry, log *logger.Logger) *WebhookHandlers {
	return &WebhookHandlers{
		webhookRegistry: webhookRegistry,
		logger:          log,
	}
}

// HandleWebhook handles POST /api/webhooks/{trigger_id}
func (h *WebhookHandlers) HandleWebhook(c *gin.Context) {
	triggerID, ok := getParam(c, "trigger_id")
	if !ok {
		return
	}

	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Error("failed to bind webhook payload", "error", err, "trigger_id", triggerID)
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for key, values := range c.Request.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	sourceIP := getSourceIP(c)

	executionID, err := h.webhookRegistry.ExecuteWebhook(
		c.Request.Context(),
		triggerID,
		payload,
		headers,
		sourceIP,
	)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := err.Error()

		switch {
		case strings.Contains(errorMsg, "not found"):
			statusCode = http.StatusNotFound
		case strings.Contains(errorMsg, "disabled"):
			statusCode = http.StatusForbidden
		case strings.Contains(errorMsg, "signature validation failed"):
			statusCode = http.StatusUnauthorized
		case strings.Contains(errorMsg, "IP not whitelisted"):
			statusCode = http.StatusForbidden
		case strings.Contains(errorMsg, "rate limit exceeded"):
			statusCode = http.StatusTooManyRequests
		}

		h.logger.Error("failed to execute webhook", "error", err, "trigger_id", triggerID, "source_ip", sourceIP, "status_code", statusCode)
		respondError(c, statusCode, errorMsg)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"execution_id": executionID,
		"message":      "workflow execution started",
	})
}

// HandleWebhookGet handles GET /api/webhooks/{trigger_id}, returning the
// webhook's configuration and status with secrets redacted.
func (h *WebhookHandlers) HandleWebhookGet(c *gin.Context) {
	triggerID, ok := getParam(c, "trigger_id")
	if !ok {
		return
	}

	t, exists := h.webhookRegistry.GetWebhook(triggerID)
	if !exists {
		respondAPIError(c, NewAPIError("TRIGGER_NOT_FOUND", "webhook trigger not found", http.StatusNotFound))
		return
	}

	webhookInfo := gin.H{
		"trigger_id":  t.ID,
		"workflow_id": t.WorkflowID,
		"enabled":     t.Enabled,
		"created_at":  t.CreatedAt,
		"updated_at":  t.UpdatedAt,
	}

	if t.LastTriggeredAt != nil {
		webhookInfo["last_triggered_at"] = t.LastTriggeredAt
	}

	config := make(map[string]interface{})
	if ipWhitelist, ok := t.Config["ip_whitelist"]; ok {
		config["ip_whitelist_enabled"] = true
		config["ip_whitelist"] = ipWhitelist
	}
	if _, ok := t.Config["secret"]; ok {
		config["signature_validation_enabled"] = true
	}
	webhookInfo["config"] = config

	c.JSON(http.StatusOK, webhookInfo)
}

func getSourceIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return xri
	}
	return c.ClientIP()
}
