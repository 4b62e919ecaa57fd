// Package diff implements structural diffing between two canonical graphs
// and the breaking-change classification and promotion policy gating a
// publish call (C4).
package diff

import (
	"sort"

	"github.com/fluxgraph/engine/internal/capability"
	"github.com/fluxgraph/engine/internal/domain"
)

// Compute diffs `from` (the currently published graph, or nil if this is
// the first publish) against `to` (the graph being promoted), classifying
// breaking changes using the capability index for output schema lookups.
func Compute(from, to *domain.Graph, index *capability.Index) *domain.WorkflowDiff {
	d := &domain.WorkflowDiff{}
	if from == nil {
		from = &domain.Graph{}
	}

	fromNodes := nodeMap(from)
	toNodes := nodeMap(to)
	fromEdges := edgeMap(from)
	toEdges := edgeMap(to)

	for id := range toNodes {
		if _, ok := fromNodes[id]; !ok {
			d.AddedNodes = append(d.AddedNodes, id)
		}
	}
	for id := range fromNodes {
		if _, ok := toNodes[id]; !ok {
			d.RemovedNodes = append(d.RemovedNodes, id)
			d.BreakingChanges = append(d.BreakingChanges, outputRemovedIfConsumed(id, from, to)...)
		}
	}
	for id, toNode := range toNodes {
		fromNode, ok := fromNodes[id]
		if !ok {
			continue
		}
		if nodeStructurallyDiffers(fromNode, toNode) {
			d.ModifiedNodes = append(d.ModifiedNodes, id)
		}
		d.BreakingChanges = append(d.BreakingChanges, classifyNodeChange(fromNode, toNode, from, to, index)...)
	}

	for id := range toEdges {
		if _, ok := fromEdges[id]; !ok {
			d.AddedEdges = append(d.AddedEdges, id)
		}
	}
	for id := range fromEdges {
		if _, ok := toEdges[id]; !ok {
			d.RemovedEdges = append(d.RemovedEdges, id)
		}
	}

	sort.Strings(d.AddedNodes)
	sort.Strings(d.RemovedNodes)
	sort.Strings(d.ModifiedNodes)
	sort.Strings(d.AddedEdges)
	sort.Strings(d.RemovedEdges)
	return d
}

func nodeMap(g *domain.Graph) map[string]*domain.Node {
	m := make(map[string]*domain.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		m[n.ID] = n
	}
	return m
}

func edgeMap(g *domain.Graph) map[string]*domain.Edge {
	m := make(map[string]*domain.Edge, len(g.Edges))
	for _, e := range g.Edges {
		m[e.ID] = e
	}
	return m
}

// nodeStructurallyDiffers compares app, operation, and parameter key set —
// the node-level structural compare named by spec section 4.4.
func nodeStructurallyDiffers(from, to *domain.Node) bool {
	if from.App != to.App || from.Operation != to.Operation {
		return true
	}
	return !sameKeySet(from.Params, to.Params)
}

func sameKeySet(a, b map[string]domain.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// classifyNodeChange detects the breaking conditions that apply to a node
// present in both graphs: app/operation change, a required parameter
// addition, or a condition node's handle set shrinking. Any app/operation
// change is reported as an output type change, whether or not a
// downstream ref reads the node.
func classifyNodeChange(from, to *domain.Node, fromGraph, toGraph *domain.Graph, index *capability.Index) []domain.BreakingChange {
	var out []domain.BreakingChange

	if from.App != to.App || from.Operation != to.Operation {
		out = append(out, domain.BreakingChange{
			NodeID: to.ID, Type: domain.BreakingOutputTypeChanged,
			Description: "node app/operation changed",
		})
	}

	for key := range to.Params {
		if _, existedBefore := from.Params[key]; existedBefore {
			continue
		}
		if index == nil {
			continue
		}
		if handle, miss := index.Resolve(to.App, to.Operation, capability.RoleAuto); miss == "" {
			if required, ok := handle.Operation.ParamSchema["required"].([]any); ok {
				for _, r := range required {
					if s, _ := r.(string); s == key {
						out = append(out, domain.BreakingChange{
							NodeID: to.ID, Type: domain.BreakingRequiredInputAdded,
							Description: "required parameter " + key + " added",
						})
					}
				}
			}
		}
	}

	if from.Role == domain.RoleCondition && to.Role == domain.RoleCondition {
		before := handleSet(fromGraph.OutEdges(from.ID))
		after := handleSet(toGraph.OutEdges(to.ID))
		for h := range before {
			if !after[h] {
				out = append(out, domain.BreakingChange{
					NodeID: to.ID, Type: domain.BreakingHandleRemoved,
					Description: "condition handle " + h + " removed",
				})
			}
		}
	}

	return out
}

func handleSet(edges []*domain.Edge) map[string]bool {
	m := make(map[string]bool, len(edges))
	for _, e := range edges {
		if e.SourceHandle != "" {
			m[e.SourceHandle] = true
		}
	}
	return m
}

// outputRemovedIfConsumed reports a breaking change when a node removed in
// `to` is still referenced by a ref() in the new graph (a dangling
// consumer), per "an output handle used by a downstream consumer in `from`
// is removed in `to`".
func outputRemovedIfConsumed(removedID string, from, to *domain.Graph) []domain.BreakingChange {
	var out []domain.BreakingChange
	for _, n := range to.Nodes {
		for _, v := range n.Params {
			if ref, ok := v.(domain.RefValue); ok && ref.NodeID == removedID {
				out = append(out, domain.BreakingChange{
					NodeID: n.ID, Type: domain.BreakingOutputRemoved,
					Description: "node " + removedID + " removed but still referenced",
				})
			}
		}
	}
	return out
}

// RequiresMigrationPlan reports whether promoting with this diff requires a
// complete migration plan in the publish call's metadata.
func RequiresMigrationPlan(d *domain.WorkflowDiff) bool {
	return d.HasBreakingChanges()
}
