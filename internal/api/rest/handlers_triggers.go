package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/service"
)

// TriggerHandlers serves trigger CRUD. Triggers are a supplemented
// scheduling feature layered on top of the execution engine; this surface
// is how a caller attaches a cron, interval, event or webhook trigger to a
// workflow and manages its lifecycle.
type TriggerHandlers struct {
	ops *service.Operations
}

func NewTriggerHandlers(ops *service.Operations) *TriggerHandlers {
	return &TriggerHandlers{ops: ops}
}

type createTriggerRequest struct {
	OrgID       string              `json:"orgId"`
	WorkflowID  string              `json:"workflowId" binding:"required"`
	Environment domain.Environment  `json:"environment"`
	Type        domain.TriggerType  `json:"type" binding:"required"`
	Config      map[string]any      `json:"config"`
	Enabled     bool                `json:"enabled"`
}

// HandleCreate handles POST /api/triggers.
func (h *TriggerHandlers) HandleCreate(c *gin.Context) {
	var req createTriggerRequest
	if bindJSON(c, &req) != nil {
		return
	}

	env := req.Environment
	if env == "" {
		env = domain.EnvironmentProduction
	}

	trig, err := h.ops.CreateTrigger(c.Request.Context(), service.CreateTriggerParams{
		OrgID:       req.OrgID,
		WorkflowID:  req.WorkflowID,
		Environment: env,
		Type:        req.Type,
		Config:      req.Config,
		Enabled:     req.Enabled,
	})
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, trig)
}

// HandleGet handles GET /api/triggers/{id}.
func (h *TriggerHandlers) HandleGet(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	trig, err := h.ops.GetTrigger(c.Request.Context(), id)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, trig)
}

// HandleListByWorkflow handles GET /api/workflows/{id}/triggers.
func (h *TriggerHandlers) HandleListByWorkflow(c *gin.Context) {
	workflowID, ok := getParam(c, "id")
	if !ok {
		return
	}
	triggers, err := h.ops.ListTriggersByWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, triggers)
}

type updateTriggerRequest struct {
	Config  map[string]any `json:"config"`
	Enabled bool           `json:"enabled"`
}

// HandleUpdate handles PATCH /api/triggers/{id}.
func (h *TriggerHandlers) HandleUpdate(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	var req updateTriggerRequest
	if bindJSON(c, &req) != nil {
		return
	}

	trig, err := h.ops.UpdateTrigger(c.Request.Context(), service.UpdateTriggerParams{
		ID:      id,
		Config:  req.Config,
		Enabled: req.Enabled,
	})
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, trig)
}

// HandleDelete handles DELETE /api/triggers/{id}.
func (h *TriggerHandlers) HandleDelete(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	if err := h.ops.DeleteTrigger(c.Request.Context(), id); err != nil {
		respondAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleEnable handles POST /api/triggers/{id}/enable.
func (h *TriggerHandlers) HandleEnable(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	trig, err := h.ops.EnableTrigger(c.Request.Context(), id)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, trig)
}

// HandleDisable handles POST /api/triggers/{id}/disable.
func (h *TriggerHandlers) HandleDisable(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	trig, err := h.ops.DisableTrigger(c.Request.Context(), id)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, trig)
}
