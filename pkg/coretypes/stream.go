package coretypes

// StreamEventType identifies the kind of envelope relayed over a chat
// channel's SSE stream. Adapted from the teacher's RuntimeEventType
// lifecycle-observability enum, generalized from tool-call-loop
// telemetry to the full set of envelopes a subscriber needs: streamed
// content, tool lifecycle, human-in-the-loop pauses, and the two
// terminal kinds.
type StreamEventType string

const (
	StreamThinkingStart    StreamEventType = "thinking_start"
	StreamThinkingEnd      StreamEventType = "thinking_end"
	StreamContentDelta     StreamEventType = "content_delta"
	StreamToolCallStart    StreamEventType = "tool_call_start"
	StreamToolCallResult   StreamEventType = "tool_call_result"
	StreamApprovalRequired StreamEventType = "approval_required"
	StreamToolRejected     StreamEventType = "tool_rejected"
	StreamDone             StreamEventType = "done"
	StreamError            StreamEventType = "error"
)

// StreamEvent is one envelope published on a chat channel's stream.
type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	Message    string          `json:"message,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Meta       map[string]any  `json:"meta,omitempty"`
}

// NewStreamEvent creates a bare event of the given type, ready for the
// With* chaining methods below — the same builder idiom the teacher's
// RuntimeEvent uses.
func NewStreamEvent(t StreamEventType) *StreamEvent {
	return &StreamEvent{Type: t}
}

// WithMessage sets a human-readable description.
func (e *StreamEvent) WithMessage(msg string) *StreamEvent {
	e.Message = msg
	return e
}

// WithDelta sets streamed content for a content_delta event.
func (e *StreamEvent) WithDelta(delta string) *StreamEvent {
	e.Delta = delta
	return e
}

// WithTool sets the tool identity for a tool lifecycle event.
func (e *StreamEvent) WithTool(toolName, toolCallID string) *StreamEvent {
	e.ToolName = toolName
	e.ToolCallID = toolCallID
	return e
}

// WithMeta attaches event-specific metadata.
func (e *StreamEvent) WithMeta(key string, value any) *StreamEvent {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}
