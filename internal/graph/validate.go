package graph

import (
	"errors"
	"fmt"
	"log"
)

// ErrGraphRejected wraps every synchronous submission rejection.
var ErrGraphRejected = errors.New("graph rejected")

// buildState validates a submitted spec and constructs the initial graph
// state. Rejections: duplicate task id, cyclic edge relation. Edges naming
// an unknown task id are silently dropped (logged, not rejected), matching
// the documented validation policy.
func buildState(graphID string, spec Spec) (*graphState, error) {
	g := &graphState{
		id:     graphID,
		nodes:  make(map[string]*node, len(spec.Nodes)),
		out:    make(map[string][]string),
		in:     make(map[string][]string),
		budget: spec.Budget,
		ledger: make(map[string]bool),
	}

	for _, ns := range spec.Nodes {
		if ns.ID == "" {
			return nil, fmt.Errorf("%w: node with empty id", ErrGraphRejected)
		}
		if _, exists := g.nodes[ns.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrGraphRejected, ns.ID)
		}
		g.nodes[ns.ID] = &node{spec: ns, status: StatusPending}
		g.order = append(g.order, ns.ID)
	}

	for _, e := range spec.Edges {
		if _, ok := g.nodes[e.From]; !ok {
			log.Printf("[Orchestrator] event=edge_dropped graph=%s from=%q to=%q reason=unknown_from", graphID, e.From, e.To)
			continue
		}
		if _, ok := g.nodes[e.To]; !ok {
			log.Printf("[Orchestrator] event=edge_dropped graph=%s from=%q to=%q reason=unknown_to", graphID, e.From, e.To)
			continue
		}
		g.addEdge(e.From, e.To)
	}

	if hasCycle(g.order, g.out) {
		return nil, fmt.Errorf("%w: cycle detected", ErrGraphRejected)
	}

	// In-degree-zero nodes start Ready, the rest Pending.
	for _, id := range g.order {
		if len(g.in[id]) == 0 {
			g.nodes[id].status = StatusReady
		}
	}

	return g, nil
}

// hasCycle runs Kahn's algorithm over the edge relation.
func hasCycle(order []string, out map[string][]string) bool {
	indegree := make(map[string]int, len(order))
	for _, id := range order {
		indegree[id] = 0
	}
	for _, tos := range out {
		for _, to := range tos {
			indegree[to]++
		}
	}

	queue := make([]string, 0, len(order))
	for _, id := range order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, to := range out[id] {
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	return visited != len(order)
}

// edgeCount returns the number of retained edges.
func (g *graphState) edgeCount() int {
	count := 0
	for _, tos := range g.out {
		count += len(tos)
	}
	return count
}
