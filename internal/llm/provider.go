// Package llm defines the provider-neutral chat-completion contract
// AgentEngine drives, plus the concrete Anthropic and OpenAI adapters.
package llm

import (
	"context"

	"github.com/nexora-ai/core/pkg/coretypes"
)

// Message is one entry of the conversation sent to a provider. It mirrors
// coretypes.Message but drops persistence-only fields (ID, ChatID,
// CreatedAt) that providers never need.
type Message struct {
	Role       coretypes.Role        `json:"role"`
	Content    []coretypes.ContentPart `json:"content,omitempty"`
	ToolCalls  []coretypes.ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Name       string                 `json:"name,omitempty"`
}

// ToolDef is a provider-facing tool definition, already flattened
// (namespace__name) and stripped of any synthesiser-private metadata.
type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  []byte `json:"parameters"`
}

// CompletionRequest is the input to both Complete and Stream.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDef
	Temperature float64
	MaxTokens   int
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the result of a non-streaming Complete call.
type CompletionResponse struct {
	Content      string
	ToolCalls    []coretypes.ToolCall
	FinishReason string
	Usage        Usage
}

// StreamChunk is one element of a Stream iterator. Exactly one of Content,
// a (possibly partial) tool call fragment, or a terminal signal is set per
// chunk — see ToolCallIndex/ToolCallArgsDelta for the index-keyed delta case
// some providers (OpenAI) use instead of whole tool-call entries.
type StreamChunk struct {
	Content string

	// ToolCall is set when the provider emits a complete tool call entry
	// in one chunk (Anthropic's input_json_delta accumulation resolves to
	// this shape by the time the agent loop sees it).
	ToolCall *coretypes.ToolCall

	// ToolCallIndex/ToolCallID/ToolCallName/ToolCallArgsDelta are set when
	// the provider streams index-keyed argument fragments instead
	// (OpenAI's function-call streaming shape). The agent's
	// ToolCallAccumulator keys these fragments on ToolCallIndex; whole
	// ToolCall entries are keyed on their ID instead.
	ToolCallIndex     int
	ToolCallID        string
	ToolCallName      string
	ToolCallArgsDelta string

	FinishReason string
	Usage        *Usage
	Done         bool
	Err          error
}

// Provider is the four-method contract every LLM backend implements:
// complete, stream, format_tool_calls, extract_usage from spec §4.9.
// FormatToolCalls and ExtractUsage are folded into Complete/Stream's
// return shapes here — Go's stronger typing makes a separate "raw
// response" intermediate unnecessary, but the same four responsibilities
// are present.
type Provider interface {
	// Name identifies the provider for provider-resolution and logging.
	Name() string

	// Complete runs one blocking completion.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream runs one completion, delivering StreamChunks as they arrive.
	// The channel is closed after a chunk with Done=true or Err set.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *StreamChunk, error)

	// SupportsTools reports whether this provider can be sent ToolDefs.
	SupportsTools() bool
}

// Registry resolves a provider by name, the "no inheritance hierarchy,
// concrete types selected at factory time" pattern called for by spec
// Design Note "Polymorphism over LLM providers".
type Registry struct {
	providers map[string]Provider
	defaultID string
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// SetDefault marks which registered provider name is used when a message,
// agent, and system default all fail to name one.
func (r *Registry) SetDefault(name string) { r.defaultID = name }

// Resolve implements the message override > agent setting > default
// precedence spec §4.6 calls for in provider/model resolution.
func (r *Registry) Resolve(messageOverride, agentSetting string) (Provider, error) {
	name := messageOverride
	if name == "" {
		name = agentSetting
	}
	if name == "" {
		name = r.defaultID
	}
	if name == "" {
		return nil, ErrNoProviderConfigured
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, &UnknownProviderError{Name: name}
	}
	return p, nil
}
