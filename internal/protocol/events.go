// Package protocol normalizes raw runtime output lines into a lifecycle
// event stream. Each agent owns one Adapter; the adapter owns the run,
// message and tool-call bookkeeping so downstream consumers (viewport,
// activity classifier) see a clean start/content/end structure regardless of
// how chatty the underlying runtime is.
package protocol

// EventType identifies a normalized lifecycle event.
type EventType string

const (
	RunStarted         EventType = "RunStarted"
	TextMessageStart   EventType = "TextMessageStart"
	TextMessageContent EventType = "TextMessageContent"
	TextMessageEnd     EventType = "TextMessageEnd"
	ToolCallStart      EventType = "ToolCallStart"
	ToolCallEnd        EventType = "ToolCallEnd"
	RunFinished        EventType = "RunFinished"
)

// Event is one normalized lifecycle event. Only the fields relevant to the
// event's type are populated.
type Event struct {
	Type EventType

	// ThreadID and RunID are set on RunStarted and RunFinished.
	ThreadID string
	RunID    string

	// MessageID is set on the TextMessage* events; Delta only on
	// TextMessageContent.
	MessageID string
	Delta     string

	// ToolCallID is set on ToolCallStart and ToolCallEnd; ToolName only on
	// ToolCallStart.
	ToolCallID string
	ToolName   string
}
