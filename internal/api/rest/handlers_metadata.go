package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxgraph/engine/internal/service"
)

// MetadataHandlers serves the structural metadata resolver surface: node
// column/sample-row/schema enrichment run on demand against each node's
// connection.
type MetadataHandlers struct {
	ops *service.Operations
}

func NewMetadataHandlers(ops *service.Operations) *MetadataHandlers {
	return &MetadataHandlers{ops: ops}
}

type refreshMetadataRequest struct {
	WorkflowID string `json:"workflowId" binding:"required"`
}

// HandleRefresh handles POST /api/workflows/metadata/refresh.
func (h *MetadataHandlers) HandleRefresh(c *gin.Context) {
	var req refreshMetadataRequest
	if bindJSON(c, &req) != nil {
		return
	}

	result, err := h.ops.RefreshMetadata(c.Request.Context(), req.WorkflowID)
	if err != nil {
		respondAPIError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"diagnostics": result.Diagnostics,
	})
}
