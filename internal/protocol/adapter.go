package protocol

import (
	"fmt"
	"strings"
)

// Raw-line markers. The runtimes Warren drives emit a JSON object per line;
// rather than requiring every runtime to be strictly well-formed, the
// adapter matches these substrings and tolerates everything else as plain
// text. extractToolName is the single place that digs further into a line.
const (
	toolUseMarker    = `"tool_use"`
	toolResultMarker = `"tool_result"`
	exitMarker       = `"type":"result"`
	thinkingMarker   = "thinking"
)

// unknownToolName is reported when a tool_use line carries no parseable name.
const unknownToolName = "unknown_tool"

// Adapter converts one agent's raw runtime lines into normalized lifecycle
// events. It is stateful and not safe for concurrent use; each agent owns
// exactly one and feeds it from its runtime read loop.
type Adapter struct {
	agentID string

	runActive  bool
	runID      string
	msgActive  bool
	msgID      string
	toolActive bool
	toolID     string

	runCount  int
	msgCount  int
	toolCount int
}

// NewAdapter creates an adapter for one agent.
func NewAdapter(agentID string) *Adapter {
	return &Adapter{agentID: agentID}
}

// ProcessLine consumes one raw runtime line and returns the lifecycle events
// it produces, possibly none. Rules are evaluated in a fixed order: tool
// invocation, tool result, exit, suppression, tool-output suppression, text
// content. After a run finishes, the next non-suppressed line starts a fresh
// run with an incremented counter.
func (a *Adapter) ProcessLine(line string) []Event {
	hasToolUse := strings.Contains(line, toolUseMarker)
	hasToolResult := strings.Contains(line, toolResultMarker)
	hasExit := strings.Contains(line, exitMarker) ||
		strings.Contains(line, `"type": "result"`)
	suppressed := strings.TrimSpace(line) == "" || strings.Contains(line, thinkingMarker)

	var events []Event

	if !a.runActive {
		// A line that would only be suppressed does not start a run.
		if suppressed && !hasToolUse && !hasExit {
			return nil
		}
		a.runCount++
		a.runID = fmt.Sprintf("%s-run-%d", a.agentID, a.runCount)
		a.runActive = true
		events = append(events, Event{
			Type:     RunStarted,
			ThreadID: a.agentID + "-thread",
			RunID:    a.runID,
		})
	}

	switch {
	case hasToolUse:
		events = a.endMessage(events)
		a.toolCount++
		a.toolID = fmt.Sprintf("%s-tc-%d", a.agentID, a.toolCount)
		a.toolActive = true
		events = append(events, Event{
			Type:       ToolCallStart,
			ToolCallID: a.toolID,
			ToolName:   extractToolName(line),
		})
		return events

	case hasToolResult && a.toolActive:
		events = append(events, Event{Type: ToolCallEnd, ToolCallID: a.toolID})
		a.toolActive = false
		return events

	case hasExit:
		events = a.endMessage(events)
		events = a.endToolCall(events)
		events = append(events, Event{Type: RunFinished, RunID: a.runID})
		a.runActive = false
		return events

	case suppressed:
		return events

	case a.toolActive:
		// Tool output is not surfaced as text.
		return events
	}

	if !a.msgActive {
		a.msgCount++
		a.msgID = fmt.Sprintf("%s-msg-%d", a.agentID, a.msgCount)
		a.msgActive = true
		events = append(events, Event{Type: TextMessageStart, MessageID: a.msgID})
	}
	events = append(events, Event{Type: TextMessageContent, MessageID: a.msgID, Delta: line})
	return events
}

// Flush ends any open message, tool call and run, returning the closing
// events. Called when the runtime's line stream ends without an exit marker.
func (a *Adapter) Flush() []Event {
	if !a.runActive {
		return nil
	}
	var events []Event
	events = a.endMessage(events)
	events = a.endToolCall(events)
	events = append(events, Event{Type: RunFinished, RunID: a.runID})
	a.runActive = false
	return events
}

func (a *Adapter) endMessage(events []Event) []Event {
	if a.msgActive {
		events = append(events, Event{Type: TextMessageEnd, MessageID: a.msgID})
		a.msgActive = false
	}
	return events
}

func (a *Adapter) endToolCall(events []Event) []Event {
	if a.toolActive {
		events = append(events, Event{Type: ToolCallEnd, ToolCallID: a.toolID})
		a.toolActive = false
	}
	return events
}

// extractToolName pulls the tool name out of a tool_use line by locating the
// first "name" field after the marker and extracting its quoted value.
// Returns unknownToolName when no name can be found.
//
// This is deliberately substring-based for compatibility with runtimes that
// emit almost-JSON; swap this helper for a structured parser if a runtime
// guarantees well-formed output.
func extractToolName(line string) string {
	after := line
	if idx := strings.Index(line, toolUseMarker); idx >= 0 {
		after = line[idx+len(toolUseMarker):]
	}

	nameIdx := strings.Index(after, `"name"`)
	if nameIdx < 0 {
		return unknownToolName
	}
	rest := after[nameIdx+len(`"name"`):]

	// Skip the colon and any whitespace to the opening quote.
	rest = strings.TrimLeft(rest, " \t:")
	if len(rest) == 0 || rest[0] != '"' {
		return unknownToolName
	}
	rest = rest[1:]

	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return unknownToolName
	}
	name := rest[:end]
	if name == "" {
		return unknownToolName
	}
	return name
}
