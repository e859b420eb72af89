package metrics

import (
	"github.com/dyluth/warren/internal/viewport"
)

// Bridge decorates another viewport bridge with metric updates, so every
// fleet event counted is also rendered (or logged) exactly as before.
type Bridge struct {
	next viewport.Bridge
	m    *Metrics
}

// NewBridge wraps next with metric recording. A nil next discards events
// after counting.
func NewBridge(next viewport.Bridge, m *Metrics) *Bridge {
	if next == nil {
		next = viewport.NopBridge{}
	}
	return &Bridge{next: next, m: m}
}

func (b *Bridge) PublishAgentSpawned(agentID string, visual viewport.Visual) {
	b.m.AgentsSpawned.Inc()
	b.next.PublishAgentSpawned(agentID, visual)
}

func (b *Bridge) PublishAgentStateChanged(agentID, activity string) {
	b.next.PublishAgentStateChanged(agentID, activity)
}

func (b *Bridge) PublishAgentDespawned(agentID string) {
	b.m.AgentsDespawned.Inc()
	b.next.PublishAgentDespawned(agentID)
}

func (b *Bridge) PublishTaskGraphSubmitted(graphID string, nodes, edges int) {
	b.m.GraphsSubmitted.Inc()
	b.next.PublishTaskGraphSubmitted(graphID, nodes, edges)
}

func (b *Bridge) PublishTaskNodeStatusChanged(graphID, taskID, status, agentID string) {
	b.m.TaskStatusChanges.WithLabelValues(status).Inc()
	b.next.PublishTaskNodeStatusChanged(graphID, taskID, status, agentID)
}

func (b *Bridge) PublishTaskGraphCompleted(graphID string, results map[string]bool) {
	b.m.GraphsCompleted.Inc()
	b.m.GraphTasks.Observe(float64(len(results)))
	b.next.PublishTaskGraphCompleted(graphID, results)
}

func (b *Bridge) PublishRuntimeStarted(agentID, runtimeID string) {
	b.m.RuntimeRuns.Inc()
	b.next.PublishRuntimeStarted(agentID, runtimeID)
}

func (b *Bridge) PublishRuntimeExited(agentID, runtimeID string, exitCode int) {
	outcome := "success"
	if exitCode != 0 {
		outcome = "failure"
	}
	b.m.RuntimeExits.WithLabelValues(outcome).Inc()
	b.next.PublishRuntimeExited(agentID, runtimeID, exitCode)
}

func (b *Bridge) PublishRuntimeOutput(agentID, line string) {
	b.m.RuntimeOutputLines.Inc()
	b.next.PublishRuntimeOutput(agentID, line)
}
