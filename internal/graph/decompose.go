package graph

import (
	"fmt"

	"github.com/dyluth/warren/internal/message"
)

// validateSubplan checks a decomposition proposal against the caps.
// Preconditions are evaluated in a fixed order; the first failure's reason
// is reported and the parent stays Dispatched.
func validateSubplan(g *graphState, parent *node, subplan *message.ProposedSubplan, caps Caps) error {
	if parent.depth+1 > caps.MaxDepth {
		return fmt.Errorf("decomposition depth %d exceeds max depth %d", parent.depth+1, caps.MaxDepth)
	}
	if len(subplan.Subtasks) == 0 {
		return fmt.Errorf("subplan has no subtasks")
	}
	if len(subplan.Subtasks) > caps.MaxSubtasks {
		return fmt.Errorf("subplan has %d subtasks, max is %d", len(subplan.Subtasks), caps.MaxSubtasks)
	}
	if len(g.nodes)+len(subplan.Subtasks) > caps.MaxTotalNodes {
		return fmt.Errorf("graph would grow to %d nodes, max is %d", len(g.nodes)+len(subplan.Subtasks), caps.MaxTotalNodes)
	}
	// Dependency indices may only reference earlier positions, which makes
	// the proposal list a DAG by construction.
	for i, sub := range subplan.Subtasks {
		for _, dep := range sub.DependsOn {
			if dep < 0 || dep >= i {
				return fmt.Errorf("subtask %d has invalid dependency index %d", i, dep)
			}
		}
	}
	switch subplan.StopCondition {
	case "", message.StopAllSubtasksComplete, message.StopFirstSuccess, message.StopUserDecision:
	default:
		return fmt.Errorf("unknown stop condition %q", subplan.StopCondition)
	}
	return nil
}

// insertSubplan expands an accepted proposal into graph nodes. Subtask ids
// are <parentId>/sub-<N> with N the 0-based proposal index. Internal
// dependencies become edges, and every tail subtask (no outgoing internal
// edge) gets an edge to the parent. The parent transitions to
// WaitingForSubtasks. Returns the ids of immediately-Ready subtasks.
func insertSubplan(g *graphState, parentID string, subplan *message.ProposedSubplan, proposer string) []string {
	parent := g.nodes[parentID]

	subIDs := make([]string, len(subplan.Subtasks))
	hasOutgoing := make([]bool, len(subplan.Subtasks))

	for i, sub := range subplan.Subtasks {
		subID := fmt.Sprintf("%s/sub-%d", parentID, i)
		subIDs[i] = subID
		g.nodes[subID] = &node{
			spec: NodeSpec{
				ID:           subID,
				Description:  sub.Description,
				Capabilities: sub.Capabilities,
				Budget:       sub.Budget,
			},
			status: StatusPending,
			depth:  parent.depth + 1,
			parent: parentID,
		}
		g.order = append(g.order, subID)
		parent.children = append(parent.children, subID)
	}

	for i, sub := range subplan.Subtasks {
		for _, dep := range sub.DependsOn {
			g.addEdge(subIDs[dep], subIDs[i])
			hasOutgoing[dep] = true
		}
	}
	for i := range subplan.Subtasks {
		if !hasOutgoing[i] {
			g.addEdge(subIDs[i], parentID)
		}
	}

	parent.status = StatusWaitingForSubtasks
	parent.proposer = proposer
	parent.stop = subplan.StopCondition
	if parent.stop == "" {
		parent.stop = message.StopAllSubtasksComplete
	}

	var ready []string
	for i, subID := range subIDs {
		if len(subplan.Subtasks[i].DependsOn) == 0 {
			g.nodes[subID].status = StatusReady
			ready = append(ready, subID)
		}
	}
	return ready
}
