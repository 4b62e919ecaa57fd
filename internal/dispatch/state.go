package dispatch

import "github.com/fluxgraph/engine/internal/domain"

// runState is written only by the dispatcher goroutine of one Run call,
// per spec section 5's single-writer rule for the artifact store and run
// status row; worker goroutines read the artifact store to resolve a
// node's inputs but never write to it.
type runState struct {
	graph       *domain.Graph
	artifacts   *domain.ArtifactStore
	status      map[string]domain.NodeExecStatus
	executions  map[string]*domain.NodeExecution
	incoming    map[string][]*domain.Edge // nodeID -> edges targeting it
	pendingDeps map[string]int            // nodeID -> predecessors not yet terminal
}

func newRunState(graph *domain.Graph) *runState {
	rs := &runState{
		graph:       graph,
		artifacts:   domain.NewArtifactStore(),
		status:      make(map[string]domain.NodeExecStatus, len(graph.Nodes)),
		executions:  make(map[string]*domain.NodeExecution, len(graph.Nodes)),
		incoming:    make(map[string][]*domain.Edge, len(graph.Nodes)),
		pendingDeps: make(map[string]int, len(graph.Nodes)),
	}
	for _, n := range graph.Nodes {
		rs.status[n.ID] = domain.NodeExecPending
	}
	for _, e := range graph.Edges {
		rs.incoming[e.Target] = append(rs.incoming[e.Target], e)
	}
	for _, n := range graph.Nodes {
		rs.pendingDeps[n.ID] = len(rs.incoming[n.ID])
	}
	return rs
}

// terminal reports whether a node's status ends its involvement in the run.
func terminal(s domain.NodeExecStatus) bool {
	switch s {
	case domain.NodeExecSucceeded, domain.NodeExecFailed, domain.NodeExecSkipped, domain.NodeExecCanceled:
		return true
	default:
		return false
	}
}

// initialReady returns the nodes with no incoming edges: the first wave.
func (rs *runState) initialReady() []*domain.Node {
	var ready []*domain.Node
	for _, n := range rs.graph.Nodes {
		if len(rs.incoming[n.ID]) == 0 {
			ready = append(ready, n)
		}
	}
	return ready
}

// successors returns the node ids targeted by an edge sourced at nodeID.
func (rs *runState) successors(nodeID string) []string {
	var out []string
	for _, e := range rs.graph.OutEdges(nodeID) {
		out = append(out, e.Target)
	}
	return out
}

// evaluate decides whether a node (all of whose predecessors are now
// terminal) should run or be skipped, per spec section 4.5 steps 8-9: a
// node executes if at least one incoming edge has a source that
// succeeded and, for a condition-node source, whose emitted branch
// matches the edge's sourceHandle. With no incoming edges it always runs.
func (rs *runState) evaluate(node *domain.Node) (run bool, reason string) {
	edges := rs.incoming[node.ID]
	if len(edges) == 0 {
		return true, ""
	}

	for _, e := range edges {
		srcStatus := rs.status[e.Source]
		if srcStatus != domain.NodeExecSucceeded {
			continue
		}
		srcNode, err := rs.graph.NodeByID(e.Source)
		if err != nil {
			continue
		}
		if srcNode.Role == domain.RoleCondition && e.SourceHandle != "" {
			branch, _ := rs.artifacts.Get(e.Source)
			if !branchMatches(branch, e.SourceHandle) {
				continue
			}
		}
		return true, ""
	}
	return false, "no valid incoming path"
}

func branchMatches(output any, handle string) bool {
	m, ok := output.(map[string]any)
	if !ok {
		return false
	}
	branch, _ := m["branch"].(string)
	return branch == handle
}
