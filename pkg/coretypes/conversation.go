package coretypes

import (
	"encoding/json"
	"time"
)

// Role indicates the author of a Message. Mirrors the provider-neutral
// roles every LLMProvider adapter maps onto its own wire shape.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Chat is a conversation thread bound to one agent. agent_ref and
// agent_input are frozen at creation time so a chat replays
// deterministically even if the agent definition later changes.
type Chat struct {
	ChatID    string         `json:"chat_id"`
	UserID    string         `json:"user_id"`
	AgentRef  string         `json:"agent_ref"`
	AgentInput map[string]any `json:"agent_input"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolCall represents an LLM's request to execute a tool, identified by
// its flattened namespace__name and a stable id used to correlate the
// eventual tool-role Message.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of dispatching one ToolCall.
type ToolResult struct {
	ToolCallID string     `json:"tool_call_id"`
	Content    string     `json:"content"`
	IsError    bool       `json:"is_error,omitempty"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
}

// Artifact is a file or media object produced by a tool execution.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ContentPart is one element of a Message's multimodal content. Exactly
// one of the typed fields is populated; this is the universal shape
// persisted on the Message row, converted to each LLMProvider's own
// content representation at send time.
type ContentPart struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
	DocURL   string `json:"document_url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message is one entry in a Chat. If Role == RoleTool, ToolCallID MUST be
// set and reference a prior assistant message's ToolCalls[*].ID. If
// Role == RoleAssistant and ToolCalls is set, Content MAY be empty.
type Message struct {
	ID         string        `json:"id"`
	ChatID     string        `json:"chat_id"`
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Text is a convenience accessor returning the concatenation of the
// message's plain-text content parts.
func (m Message) Text() string {
	out := ""
	for _, p := range m.Content {
		out += p.Text
	}
	return out
}

// ApprovalDecision is the terminal outcome recorded against a
// PendingApproval.
type ApprovalDecision string

const (
	ApprovalApproved ApprovalDecision = "approved"
	ApprovalRejected ApprovalDecision = "rejected"
)

// ConversationSnapshot freezes everything AgentEngine needs to resume a
// paused turn: the message history at the moment of the pause, plus the
// model/provider/tool configuration that produced it.
type ConversationSnapshot struct {
	Messages     []Message       `json:"messages"`
	Model        string          `json:"model"`
	ProviderRef  string          `json:"provider_ref"`
	Temperature  float64         `json:"temperature"`
	MaxTokens    int             `json:"max_tokens,omitempty"`
	ToolsJSON    json.RawMessage `json:"tools_json"`
}

// PendingApproval is the parked state when an agent tool call requires
// human consent. There is at most one PendingApproval per tool_call_id;
// AgentEngine may only resume after Decision is set.
type PendingApproval struct {
	ApprovalID          string               `json:"approval_id"`
	ChatID              string               `json:"chat_id"`
	AssistantMessageID  string               `json:"assistant_message_id"`
	UserID              string               `json:"user_id"`
	ToolCallID          string               `json:"tool_call_id"`
	FunctionRef         string               `json:"function_ref"`
	Arguments           json.RawMessage      `json:"arguments"`
	AllToolCalls        []ToolCall           `json:"all_tool_calls"`
	ConversationSnapshot ConversationSnapshot `json:"conversation_snapshot"`
	CreatedAt           time.Time            `json:"created_at"`
	Decision            ApprovalDecision     `json:"decision,omitempty"`
}
