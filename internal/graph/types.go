// Package graph owns the task-graph state: DAG validation at submission,
// ready-set scheduling, runtime decomposition, synthesis triggering,
// cancellation propagation and graph completion. The Orchestrator actor in
// this package is the only component that mutates graph state.
package graph

import (
	"fmt"

	"github.com/dyluth/warren/internal/message"
)

// Status is a task node's lifecycle state.
type Status string

const (
	StatusPending            Status = "Pending"
	StatusReady              Status = "Ready"
	StatusDispatched         Status = "Dispatched"
	StatusWaitingForSubtasks Status = "WaitingForSubtasks"
	StatusSynthesizing       Status = "Synthesizing"
	StatusCompleted          Status = "Completed"
	StatusFailed             Status = "Failed"
	StatusCancelled          Status = "Cancelled"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// NodeSpec describes one task in a submitted graph.
type NodeSpec struct {
	ID           string              `json:"id"`
	Description  string              `json:"description"`
	Capabilities []string            `json:"capabilities"`
	Budget       *message.TaskBudget `json:"budget,omitempty"`
}

// EdgeSpec is a directed dependency: To cannot become Ready until From is
// Completed.
type EdgeSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Spec is a task graph as submitted. ID may be empty; the orchestrator
// assigns one on acceptance.
type Spec struct {
	ID     string              `json:"id,omitempty"`
	Nodes  []NodeSpec          `json:"nodes"`
	Edges  []EdgeSpec          `json:"edges"`
	Budget *message.TaskBudget `json:"budget,omitempty"`
}

// Accepted is the synchronous result of a successful Submit.
type Accepted struct {
	GraphID   string
	NodeCount int
	EdgeCount int
}

// Caps bounds runtime decomposition.
type Caps struct {
	MaxDepth      int
	MaxSubtasks   int
	MaxTotalNodes int
}

// DefaultCaps returns the standard decomposition bounds.
func DefaultCaps() Caps {
	return Caps{MaxDepth: 3, MaxSubtasks: 10, MaxTotalNodes: 100}
}

// node is the orchestrator's mutable record for one task.
type node struct {
	spec   NodeSpec
	status Status
	depth  int

	// agentID is the agent the task was awarded to, once Dispatched.
	agentID string

	// parent and children track runtime decomposition. proposer is the
	// agent that proposed the subplan and later performs synthesis.
	parent   string
	children []string
	proposer string
	stop     message.StopCondition

	// waitingUser marks a UserDecision parent whose subtasks have all
	// finished; synthesis is held until the external message arrives.
	waitingUser bool

	// userDecided records a decision that arrived while the subtasks were
	// still running; synthesis then starts as soon as they finish.
	userDecided bool

	// summary of the final completion, used in synthesis collation.
	summary string
}

// graphState is one accepted graph's full mutable state.
type graphState struct {
	id     string
	order  []string
	nodes  map[string]*node
	out    map[string][]string
	in     map[string][]string
	budget *message.TaskBudget

	ledger        map[string]bool
	deadlineFired bool
	done          bool
}

func (g *graphState) node(taskID string) (*node, error) {
	n, ok := g.nodes[taskID]
	if !ok {
		return nil, fmt.Errorf("unknown task %q in graph %s", taskID, g.id)
	}
	return n, nil
}

// depsSatisfied reports whether every dependency of taskID is Completed.
func (g *graphState) depsSatisfied(taskID string) bool {
	for _, dep := range g.in[taskID] {
		if g.nodes[dep].status != StatusCompleted {
			return false
		}
	}
	return true
}

// allTerminal reports whether every node holds a terminal status.
func (g *graphState) allTerminal() bool {
	for _, id := range g.order {
		if !g.nodes[id].status.Terminal() {
			return false
		}
	}
	return true
}

// addEdge records a dependency in both adjacency maps.
func (g *graphState) addEdge(from, to string) {
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)
}
