// Package viewport defines the outbound bridge the core uses to notify a
// rendering surface. The core never renders; it invokes the bridge and moves
// on. Implementations must never panic back into the caller.
package viewport

// Visual is the render metadata an agent carries for the viewport.
type Visual struct {
	Archetype string `json:"archetype,omitempty"`
	Color     string `json:"color,omitempty"`
	Label     string `json:"label,omitempty"`
}

// Bridge receives state notifications from the orchestrator and agents.
// All methods are fire-and-forget; implementations own their error handling.
type Bridge interface {
	PublishAgentSpawned(agentID string, visual Visual)
	PublishAgentStateChanged(agentID string, activity string)
	PublishAgentDespawned(agentID string)

	PublishTaskGraphSubmitted(graphID string, nodes, edges int)
	PublishTaskNodeStatusChanged(graphID, taskID, status, agentID string)
	PublishTaskGraphCompleted(graphID string, results map[string]bool)

	PublishRuntimeStarted(agentID, runtimeID string)
	PublishRuntimeExited(agentID, runtimeID string, exitCode int)
	PublishRuntimeOutput(agentID, line string)
}
