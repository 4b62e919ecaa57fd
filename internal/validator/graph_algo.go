// Package validator implements the pure structural/semantic validator (C3):
// validate(graph, capabilityIndex, options) -> {errors, warnings}. It is
// deterministic and does no I/O.
//
// graph_algo.go holds the cycle-detection and topological-sort primitives
// shared with internal/dispatch, so the validator and the dispatcher can
// never disagree about what constitutes a DAG.
package validator

import (
	"sort"

	"github.com/fluxgraph/engine/internal/domain"
)

// StronglyConnectedComponents returns the graph's SCCs via iterative
// Tarjan, in O(V+E). Components are returned in discovery order; only
// components with more than one member indicate a cycle (a single node with
// a self-loop is a one-member component and is not reported here; the
// normalizer keeps self-loop edges, and Validate rejects them through its
// G3 fan-in, G4 trigger-predecessor or G5 trigger-ancestry checks).
func StronglyConnectedComponents(g *domain.Graph) [][]string {
	adj := adjacency(g)

	var (
		index     int
		indices   = make(map[string]int)
		lowlink   = make(map[string]int)
		onStack   = make(map[string]bool)
		stack     []string
		sccs      [][]string
	)

	type frame struct {
		node     string
		childIdx int
	}

	var nodeIDs []string
	for _, n := range g.Nodes {
		nodeIDs = append(nodeIDs, n.ID)
	}
	sort.Strings(nodeIDs)

	for _, start := range nodeIDs {
		if _, seen := indices[start]; seen {
			continue
		}

		// Iterative Tarjan using an explicit work stack to avoid recursion
		// depth limits on large graphs.
		var work []*frame
		push := func(id string) {
			indices[id] = index
			lowlink[id] = index
			index++
			stack = append(stack, id)
			onStack[id] = true
			work = append(work, &frame{node: id})
		}
		push(start)

		for len(work) > 0 {
			top := work[len(work)-1]
			v := top.node
			neighbors := adj[v]

			if top.childIdx < len(neighbors) {
				w := neighbors[top.childIdx]
				top.childIdx++
				if _, seen := indices[w]; !seen {
					push(w)
				} else if onStack[w] {
					if lowlink[w] < lowlink[v] {
						lowlink[v] = lowlink[w]
					}
				}
				continue
			}

			// Done with v's neighbors; pop and propagate lowlink upward.
			work = work[:len(work)-1]
			if len(work) > 0 {
				parent := work[len(work)-1].node
				if lowlink[v] < lowlink[parent] {
					lowlink[parent] = lowlink[v]
				}
			}

			if lowlink[v] == indices[v] {
				var comp []string
				for {
					n := len(stack) - 1
					w := stack[n]
					stack = stack[:n]
					onStack[w] = false
					comp = append(comp, w)
					if w == v {
						break
					}
				}
				sort.Strings(comp)
				sccs = append(sccs, comp)
			}
		}
	}

	return sccs
}

// HasCycle reports whether the graph contains any strongly connected
// component with more than one member.
func HasCycle(g *domain.Graph) bool {
	for _, comp := range StronglyConnectedComponents(g) {
		if len(comp) > 1 {
			return true
		}
	}
	return false
}

// TopoSort computes a topological order via Kahn's algorithm, breaking ties
// deterministically by ascending node id. ok is false if the graph has a
// cycle, in which case order is nil.
func TopoSort(g *domain.Graph) (order []string, ok bool) {
	inDegree := make(map[string]int, len(g.Nodes))
	adj := adjacency(g)
	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		inDegree[e.Target]++
	}

	ready := make([]string, 0, len(g.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order = make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		var newlyReady []string
		for _, w := range adj[n] {
			inDegree[w]--
			if inDegree[w] == 0 {
				newlyReady = append(newlyReady, w)
			}
		}
		sort.Strings(newlyReady)
		ready = append(ready, newlyReady...)
	}

	if len(order) != len(g.Nodes) {
		return nil, false
	}
	return order, true
}

func adjacency(g *domain.Graph) map[string][]string {
	adj := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		adj[n.ID] = nil
	}
	for _, e := range g.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	return adj
}
