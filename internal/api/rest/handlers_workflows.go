package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/graph"
	"github.com/fluxgraph/engine/internal/service"
	"github.com/fluxgraph/engine/internal/validator"
)

// WorkflowHandlers serves the workflow draft, validation, diff and publish
// surface: POST /api/workflows/validate, POST /api/flows/save,
// GET /api/workflows/{id}/diff/prod, POST /api/workflows/{id}/publish, plus
// the list/get/delete companions a complete editor needs.
type WorkflowHandlers struct {
	ops *service.Operations
}

func NewWorkflowHandlers(ops *service.Operations) *WorkflowHandlers {
	return &WorkflowHandlers{ops: ops}
}

type validateGraphRequest struct {
	Graph   graph.RawGraph    `json:"graph"`
	Options validator.Options `json:"options"`
}

type validationResponse struct {
	Valid    bool              `json:"valid"`
	Errors   []validator.Issue `json:"errors"`
	Warnings []validator.Issue `json:"warnings"`
}

// HandleValidate handles POST /api/workflows/validate.
func (h *WorkflowHandlers) HandleValidate(c *gin.Context) {
	var req validateGraphRequest
	if bindJSON(c, &req) != nil {
		return
	}

	res, err := h.ops.ValidateGraph(c.Request.Context(), service.ValidateGraphParams{
		Graph:   req.Graph,
		Options: req.Options,
	})
	if err != nil {
		respondAPIError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"validation": validationResponse{
			Valid:    res.Valid(),
			Errors:   res.Errors,
			Warnings: res.Warnings,
		},
	})
}

type saveFlowRequest struct {
	ID       string         `json:"id"`
	Name     string         `json:"name" binding:"required"`
	Graph    graph.RawGraph `json:"graph"`
	Metadata map[string]any `json:"metadata"`
}

// HandleSave handles POST /api/flows/save.
func (h *WorkflowHandlers) HandleSave(c *gin.Context) {
	var req saveFlowRequest
	if bindJSON(c, &req) != nil {
		return
	}

	wf, err := h.ops.SaveWorkflow(c.Request.Context(), service.SaveWorkflowParams{
		ID:       req.ID,
		Name:     req.Name,
		Graph:    req.Graph,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondAPIError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "workflowId": wf.ID})
}

// HandleList handles GET /api/workflows.
func (h *WorkflowHandlers) HandleList(c *gin.Context) {
	limit := getQueryInt(c, "limit", 50)
	offset := getQueryInt(c, "offset", 0)

	workflows, err := h.ops.ListWorkflows(c.Request.Context(), service.ListWorkflowsParams{Limit: limit, Offset: offset})
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondList(c, http.StatusOK, workflows, len(workflows), limit, offset)
}

// HandleGet handles GET /api/workflows/{id}.
func (h *WorkflowHandlers) HandleGet(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	wf, err := h.ops.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, wf)
}

// HandleDelete handles DELETE /api/workflows/{id}.
func (h *WorkflowHandlers) HandleDelete(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}
	if err := h.ops.DeleteWorkflow(c.Request.Context(), id); err != nil {
		respondAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleDiffProd handles GET /api/workflows/{id}/diff/prod.
func (h *WorkflowHandlers) HandleDiffProd(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}

	diff, err := h.ops.Diff(c.Request.Context(), service.DiffParams{
		WorkflowID:  id,
		Environment: domain.EnvironmentProduction,
	})
	if err != nil {
		respondAPIError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"diff":    gin.H{"summary": diff},
	})
}

type publishRequest struct {
	Environment domain.Environment `json:"environment" binding:"required"`
	Metadata    map[string]any     `json:"metadata"`
}

// HandlePublish handles POST /api/workflows/{id}/publish. A breaking diff
// without a complete migration plan in metadata["migration"] surfaces as
// MIGRATION_PLAN_REQUIRED via TranslateError.
func (h *WorkflowHandlers) HandlePublish(c *gin.Context) {
	id, ok := getParam(c, "id")
	if !ok {
		return
	}

	var req publishRequest
	if bindJSON(c, &req) != nil {
		return
	}

	_, err := h.ops.Publish(c.Request.Context(), service.PublishParams{
		WorkflowID:  id,
		Environment: req.Environment,
		Metadata:    req.Metadata,
	})
	if err != nil {
		respondAPIError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
