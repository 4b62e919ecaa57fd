package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxgraph/engine/internal/capability"
	"github.com/fluxgraph/engine/internal/eventstream"
	"github.com/fluxgraph/engine/internal/platform/logger"
	"github.com/fluxgraph/engine/internal/queue"
	"github.com/fluxgraph/engine/internal/service"
	"github.com/fluxgraph/engine/internal/trigger"
)

// Dependencies bundles everything the router needs to construct every
// handler group. A host builds one of these at process start once C1-C8,
// the trigger manager and the operations layer are all wired.
type Dependencies struct {
	Ops            *service.Operations
	CapIndex       *capability.Index
	Health         *queue.HealthProbe
	Heartbeats     *queue.HeartbeatRegistry
	WebhookManager *trigger.Manager
	Logger         *logger.Logger
	MaxBodyBytes   int64
	CORSOrigins    []string
	JWTSecret      string
	APIKeys        []string
	Streams        *eventstream.Registry
}

// NewRouter builds the gin engine for the whole HTTP surface: the spec's
// abbreviated endpoint list plus the supplemented trigger management
// surface, behind the recovery/logging/body-size middleware chain.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()

	recoveryMW := NewRecoveryMiddleware(deps.Logger)
	loggingMW := NewLoggingMiddleware(deps.Logger)
	router.Use(recoveryMW.Recovery())
	router.Use(loggingMW.RequestLogger())

	if deps.MaxBodyBytes > 0 {
		bodyMW := NewBodySizeMiddleware(deps.Logger, deps.MaxBodyBytes)
		router.Use(bodyMW.LimitBodySize())
	}

	if len(deps.CORSOrigins) > 0 {
		router.Use(corsMiddleware(deps.CORSOrigins))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	workflowHandlers := NewWorkflowHandlers(deps.Ops)
	executionHandlers := NewExecutionHandlers(deps.Ops)
	triggerHandlers := NewTriggerHandlers(deps.Ops)
	registryHandlers := NewRegistryHandlers(deps.CapIndex)
	metadataHandlers := NewMetadataHandlers(deps.Ops)
	healthHandlers := NewHealthHandlers(deps.Health, deps.Heartbeats)

	api := router.Group("/api")

	// Webhooks authenticate themselves via a per-trigger signature
	// (handlers_webhook.go), so they sit outside the bearer-token group.
	if deps.WebhookManager != nil {
		webhookHandlers := NewWebhookHandlers(deps.WebhookManager.WebhookRegistry(), deps.Logger)
		api.POST("/webhooks/:trigger_id", webhookHandlers.HandleWebhook)
		api.GET("/webhooks/:trigger_id", webhookHandlers.HandleWebhookGet)
	}

	authMW := NewAuthMiddleware(deps.JWTSecret, deps.APIKeys, deps.Logger)
	protected := api.Group("")
	if authMW.Enabled() {
		protected.Use(authMW.Authenticate())
	}
	{
		protected.POST("/workflows/validate", workflowHandlers.HandleValidate)
		protected.POST("/flows/save", workflowHandlers.HandleSave)
		protected.GET("/workflows", workflowHandlers.HandleList)
		protected.GET("/workflows/:id", workflowHandlers.HandleGet)
		protected.DELETE("/workflows/:id", workflowHandlers.HandleDelete)
		protected.GET("/workflows/:id/diff/prod", workflowHandlers.HandleDiffProd)
		protected.POST("/workflows/:id/publish", workflowHandlers.HandlePublish)
		protected.POST("/workflows/:id/execute", executionHandlers.HandleExecute)
		protected.GET("/workflows/:id/executions", executionHandlers.HandleList)
		protected.GET("/workflows/:id/triggers", triggerHandlers.HandleListByWorkflow)
		protected.POST("/workflows/metadata/refresh", metadataHandlers.HandleRefresh)

		protected.POST("/executions", executionHandlers.HandleStart)
		protected.GET("/executions/:id", executionHandlers.HandleGet)

		protected.POST("/triggers", triggerHandlers.HandleCreate)
		protected.GET("/triggers/:id", triggerHandlers.HandleGet)
		protected.PATCH("/triggers/:id", triggerHandlers.HandleUpdate)
		protected.DELETE("/triggers/:id", triggerHandlers.HandleDelete)
		protected.POST("/triggers/:id/enable", triggerHandlers.HandleEnable)
		protected.POST("/triggers/:id/disable", triggerHandlers.HandleDisable)

		protected.GET("/registry/catalog", registryHandlers.HandleCatalog)
		protected.GET("/registry/op-schema", registryHandlers.HandleOpSchema)

		protected.GET("/health/queue", healthHandlers.HandleQueueHealth)
		protected.GET("/workers/heartbeat", healthHandlers.HandleWorkerHeartbeat)
	}

	if deps.Streams != nil {
		eventsHandlers := NewEventStreamHandlers(deps.Streams, deps.Logger)
		protected.GET("/executions/:id/stream", eventsHandlers.HandleWebSocket)
	}

	return router
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
