package viewport

import (
	"encoding/json"
	"log"
)

// LogBridge is the default Bridge: it renders nothing and emits each
// notification as a structured JSON log event. A real rendering host
// replaces it without the core noticing.
type LogBridge struct{}

// NewLogBridge creates a LogBridge.
func NewLogBridge() *LogBridge {
	return &LogBridge{}
}

func (b *LogBridge) PublishAgentSpawned(agentID string, visual Visual) {
	b.logEvent("agent_spawned", map[string]interface{}{"agent_id": agentID, "visual": visual})
}

func (b *LogBridge) PublishAgentStateChanged(agentID string, activity string) {
	b.logEvent("agent_state_changed", map[string]interface{}{"agent_id": agentID, "activity": activity})
}

func (b *LogBridge) PublishAgentDespawned(agentID string) {
	b.logEvent("agent_despawned", map[string]interface{}{"agent_id": agentID})
}

func (b *LogBridge) PublishTaskGraphSubmitted(graphID string, nodes, edges int) {
	b.logEvent("task_graph_submitted", map[string]interface{}{"graph_id": graphID, "nodes": nodes, "edges": edges})
}

func (b *LogBridge) PublishTaskNodeStatusChanged(graphID, taskID, status, agentID string) {
	fields := map[string]interface{}{"graph_id": graphID, "task_id": taskID, "status": status}
	if agentID != "" {
		fields["agent_id"] = agentID
	}
	b.logEvent("task_node_status_changed", fields)
}

func (b *LogBridge) PublishTaskGraphCompleted(graphID string, results map[string]bool) {
	b.logEvent("task_graph_completed", map[string]interface{}{"graph_id": graphID, "results": results})
}

func (b *LogBridge) PublishRuntimeStarted(agentID, runtimeID string) {
	b.logEvent("runtime_started", map[string]interface{}{"agent_id": agentID, "runtime_id": runtimeID})
}

func (b *LogBridge) PublishRuntimeExited(agentID, runtimeID string, exitCode int) {
	b.logEvent("runtime_exited", map[string]interface{}{"agent_id": agentID, "runtime_id": runtimeID, "exit_code": exitCode})
}

func (b *LogBridge) PublishRuntimeOutput(agentID, line string) {
	b.logEvent("runtime_output", map[string]interface{}{"agent_id": agentID, "line": line})
}

func (b *LogBridge) logEvent(event string, fields map[string]interface{}) {
	payload := map[string]interface{}{"event": event}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Viewport] event=%s (marshal failed: %v)", event, err)
		return
	}
	log.Printf("[Viewport] %s", data)
}

// NopBridge discards every notification. Used in tests.
type NopBridge struct{}

func (NopBridge) PublishAgentSpawned(string, Visual)                       {}
func (NopBridge) PublishAgentStateChanged(string, string)                  {}
func (NopBridge) PublishAgentDespawned(string)                             {}
func (NopBridge) PublishTaskGraphSubmitted(string, int, int)               {}
func (NopBridge) PublishTaskNodeStatusChanged(string, string, string, string) {}
func (NopBridge) PublishTaskGraphCompleted(string, map[string]bool)        {}
func (NopBridge) PublishRuntimeStarted(string, string)                     {}
func (NopBridge) PublishRuntimeExited(string, string, int)                 {}
func (NopBridge) PublishRuntimeOutput(string, string)                      {}
