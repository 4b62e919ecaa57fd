package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/eventstream"
	"github.com/fluxgraph/engine/internal/graph"
	"github.com/fluxgraph/engine/internal/service"
)

// ExecutionHandlers serves the execution surface: POST /api/executions
// (queued, admission-gated), GET /api/executions/{id}, and
// POST /api/workflows/{id}/execute (ephemeral, streamed as NDJSON).
type ExecutionHandlers struct {
	ops *service.Operations
}

func NewExecutionHandlers(ops *service.Operations) *ExecutionHandlers {
	return &ExecutionHandlers{ops: ops}
}

type startExecutionRequest struct {
	WorkflowID   string             `json:"workflowId" binding:"required"`
	Environment  domain.Environment `json:"environment"`
	TriggerType  domain.TriggerKind `json:"triggerType"`
	InitialData  map[string]any     `json:"initialData"`
	ConnectorApp string             `json:"connectorApp"`
	OrgID        string             `json:"orgId"`
}

// HandleStart handles POST /api/executions.
func (h *ExecutionHandlers) HandleStart(c *gin.Context) {
	var req startExecutionRequest
	if bindJSON(c, &req) != nil {
		return
	}

	env := req.Environment
	if env == "" {
		env = domain.EnvironmentProduction
	}

	runID, err := h.ops.StartExecution(c.Request.Context(), service.StartExecutionParams{
		OrgID:        req.OrgID,
		WorkflowID:   req.WorkflowID,
		Environment:  env,
		Trigger:      req.TriggerType,
		InitialInput: req.InitialData,
		ConnectorApp: req.ConnectorApp,
	})
	if err != nil {
		respondAPIError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "executionId": runID})
}

// HandleGet handles GET /api/executions/{id}.
func (h *ExecutionHandlers) HandleGet(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}

	result, err := h.ops.GetExecution(c.Request.Context(), id)
	if err != nil {
		respondAPIError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"run":            result.Run,
		"nodeExecutions": result.NodeExecutions,
	})
}

// HandleList handles GET /api/workflows/{id}/executions.
func (h *ExecutionHandlers) HandleList(c *gin.Context) {
	workflowID, ok := getParam(c, "id")
	if !ok {
		return
	}
	limit := getQueryInt(c, "limit", 50)
	offset := getQueryInt(c, "offset", 0)

	runs, err := h.ops.ListExecutions(c.Request.Context(), service.ListExecutionsParams{
		WorkflowID: workflowID,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondList(c, http.StatusOK, runs, len(runs), limit, offset)
}

type executeEphemeralRequest struct {
	Graph       graph.RawGraph `json:"graph"`
	InitialData map[string]any `json:"initialData"`
}

// HandleExecute handles POST /api/workflows/{id}/execute, streaming every
// dispatch event as it is produced over an NDJSON response body.
func (h *ExecutionHandlers) HandleExecute(c *gin.Context) {
	var req executeEphemeralRequest
	if bindJSON(c, &req) != nil {
		return
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	enc := eventstream.NewNDJSONEncoder(c.Writer)
	emit := func(event domain.Event) {
		_ = enc.Encode(event)
	}

	status, err := h.ops.ExecuteEphemeral(c.Request.Context(), service.ExecuteEphemeralParams{
		Graph:        req.Graph,
		InitialInput: req.InitialData,
	}, emit)
	if err != nil {
		emit(domain.Event{
			Type:      domain.EventRunEnd,
			Timestamp: time.Now(),
			Payload:   map[string]any{"error": err.Error(), "status": string(status)},
		})
		return
	}
}
