package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxgraph/engine/internal/capability"
)

// RegistryHandlers serves the capability catalog and per-operation schema
// surface the workflow editor and validator both read from.
type RegistryHandlers struct {
	index *capability.Index
}

func NewRegistryHandlers(index *capability.Index) *RegistryHandlers {
	return &RegistryHandlers{index: index}
}

// HandleCatalog handles GET /api/registry/catalog?implemented=true.
func (h *RegistryHandlers) HandleCatalog(c *gin.Context) {
	connectors := h.index.List()

	if c.Query("implemented") == "true" {
		filtered := make([]capability.Connector, 0, len(connectors))
		for _, conn := range connectors {
			ops := make(map[string]capability.Operation, len(conn.Operations))
			for id, op := range conn.Operations {
				if op.Implemented {
					ops[id] = op
				}
			}
			if len(ops) == 0 {
				continue
			}
			conn.Operations = ops
			filtered = append(filtered, conn)
		}
		connectors = filtered
	}

	respondJSON(c, http.StatusOK, connectors)
}

// HandleOpSchema handles GET /api/registry/op-schema?app=&op=&kind=.
func (h *RegistryHandlers) HandleOpSchema(c *gin.Context) {
	app := c.Query("app")
	op := c.Query("op")
	if app == "" || op == "" {
		respondAPIError(c, NewAPIError("MISSING_PARAMETER", "app and op are required", http.StatusBadRequest))
		return
	}

	role := capability.RoleAuto
	switch c.Query("kind") {
	case "trigger":
		role = capability.RoleTrigger
	case "action":
		role = capability.RoleAction
	}

	handle, miss := h.index.Resolve(app, op, role)
	if handle == nil {
		respondAPIError(c, NewAPIError("UNKNOWN_OPERATION", string(miss), http.StatusNotFound))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"paramSchema":    handle.Operation.ParamSchema,
		"defaults":       handle.Operation.Defaults,
		"requiredScopes": handle.Operation.RequiredScopes,
		"implemented":    handle.Operation.Implemented,
	})
}
