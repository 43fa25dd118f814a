package toolsynth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexora-ai/core/pkg/coretypes"
)

// FunctionQueue is the slice of jobqueue.Queue this package drives to run
// a default function tool call through the sandboxed worker runtime and
// wait for its result, kept as an interface so dispatch can be unit
// tested without a real Redis-backed queue.
type FunctionQueue interface {
	EnqueueAndWait(ctx context.Context, payload coretypes.FunctionJobPayload, timeout time.Duration) (*coretypes.DoneEnvelope, error)
}

// PermissionChecker authorizes a dispatch against the caller's resource
// grants, e.g. "resource.function/<namespace>/<name>.execute:{own|all}".
type PermissionChecker interface {
	Allowed(ctx context.Context, userID, resource, action string) (bool, error)
}

// SkillReader fetches the markdown content of an on-demand skill. It is
// the dispatch-time counterpart of Synthesiser.PreloadedSkillContent.
type SkillReader func(ctx context.Context, namespace, name string) (string, error)

// StateStore is the state-tool slice of resources.Store.
type StateStore interface {
	GetState(ctx context.Context, namespace, key string) ([]byte, bool, error)
	SetState(ctx context.Context, namespace, key string, value []byte) error
	DeleteState(ctx context.Context, namespace, key string) error
}

// SubAgentInvoker runs a sub-agent turn to completion and returns the
// text an LLM tool result should carry. It is supplied by the engine
// package, which is the only place that can recurse into another
// AgentEngine turn without an import cycle back into this package.
type SubAgentInvoker func(ctx context.Context, userID, agentRef string, args json.RawMessage) (content string, isError bool, err error)

// ContinuationInvoker resumes a paused execution identified by
// executionID, feeding it resumeData, and is likewise supplied by the
// engine package.
type ContinuationInvoker func(ctx context.Context, executionID string, resumeData json.RawMessage) (content string, isError bool, err error)

// ErrPermissionDenied is returned when PermissionChecker rejects a call.
type ErrPermissionDenied struct {
	Resource string
	Action   string
}

func (e *ErrPermissionDenied) Error() string {
	return fmt.Sprintf("toolsynth: permission denied for %s.%s", e.Resource, e.Action)
}

// Dispatcher routes one validated LLM tool call to its destination and
// returns the coretypes.ToolResult to splice back into the conversation,
// per the six-step procedure spec §4.8 describes.
type Dispatcher struct {
	State           StateStore
	Queue           FunctionQueue
	MCP             MCPClient
	Skills          SkillReader
	Permissions     PermissionChecker
	SubAgents       SubAgentInvoker
	Continuations   ContinuationInvoker
	FunctionTimeout time.Duration
	Logger          *slog.Logger
}

// Request is one LLM tool call awaiting dispatch.
type Request struct {
	ToolCall    coretypes.ToolCall
	UserID      string
	ChatID      string
	ExecutionID string
}

// Lookup finds a synthesised tool by its flat LLM-facing name.
func Lookup(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Dispatch executes req.ToolCall against the matching tool in tools.
func (d *Dispatcher) Dispatch(ctx context.Context, tools []Tool, req Request) coretypes.ToolResult {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tool, ok := Lookup(tools, req.ToolCall.Name)
	if !ok {
		logger.WarnContext(ctx, "dispatch rejected unknown tool", "tool_name", req.ToolCall.Name, "chat_id", req.ChatID)
		return errorResult(req.ToolCall.ID, fmt.Sprintf("unknown tool %q", req.ToolCall.Name))
	}

	rawArgs := req.ToolCall.Input
	if len(rawArgs) == 0 {
		rawArgs = json.RawMessage(`{}`)
	}
	var llmArgs map[string]json.RawMessage
	if err := json.Unmarshal(rawArgs, &llmArgs); err != nil {
		return errorResult(req.ToolCall.ID, fmt.Sprintf("invalid tool arguments: %v", err))
	}

	merged, overridden := mergeParams(llmArgs, tool.Meta.Locked)
	if len(overridden) > 0 {
		logger.WarnContext(ctx, "dispatch ignored llm attempt to override locked parameter",
			"tool_name", req.ToolCall.Name, "fields", overridden, "chat_id", req.ChatID)
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return errorResult(req.ToolCall.ID, fmt.Sprintf("re-encode arguments: %v", err))
	}

	resource, action := permissionFor(tool)
	if d.Permissions != nil && resource != "" {
		allowed, err := d.Permissions.Allowed(ctx, req.UserID, resource, action)
		if err != nil {
			return errorResult(req.ToolCall.ID, fmt.Sprintf("permission check failed: %v", err))
		}
		if !allowed {
			return errorResult(req.ToolCall.ID, (&ErrPermissionDenied{Resource: resource, Action: action}).Error())
		}
	}

	switch tool.Meta.Kind {
	case KindFunction:
		return d.dispatchFunction(ctx, tool, req, mergedJSON)
	case KindSubAgent:
		return d.dispatchSubAgent(ctx, tool, req, mergedJSON)
	case KindSkill:
		return d.dispatchSkill(ctx, tool, req.ToolCall.ID)
	case KindMCP:
		return d.dispatchMCP(ctx, tool, mergedJSON, req.ToolCall.ID)
	case KindState:
		return d.dispatchState(ctx, req.ToolCall.Name, req.ToolCall.ID, merged)
	case KindContinuation:
		return d.dispatchContinuation(ctx, req.ToolCall.ID, merged)
	default:
		return errorResult(req.ToolCall.ID, fmt.Sprintf("unroutable tool kind %q", tool.Meta.Kind))
	}
}

func (d *Dispatcher) dispatchFunction(ctx context.Context, tool Tool, req Request, args json.RawMessage) coretypes.ToolResult {
	if d.Queue == nil {
		return errorResult(req.ToolCall.ID, "function dispatch unavailable: no queue configured")
	}
	timeout := d.FunctionTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	env, err := d.Queue.EnqueueAndWait(ctx, coretypes.FunctionJobPayload{
		FunctionNamespace: tool.Meta.Namespace,
		FunctionName:      tool.Meta.Name,
		InputData:         args,
		ExecutionID:       req.ExecutionID,
		TriggerType:       coretypes.TriggerAgent,
		UserID:            req.UserID,
		ChatID:            req.ChatID,
	}, timeout)
	if err != nil {
		return errorResult(req.ToolCall.ID, fmt.Sprintf("function execution failed: %v", err))
	}
	if env.Status != coretypes.ExecutionCompleted {
		return errorResult(req.ToolCall.ID, env.Error)
	}
	return coretypes.ToolResult{ToolCallID: req.ToolCall.ID, Content: string(env.Result)}
}

func (d *Dispatcher) dispatchSubAgent(ctx context.Context, tool Tool, req Request, args json.RawMessage) coretypes.ToolResult {
	if d.SubAgents == nil {
		return errorResult(req.ToolCall.ID, "sub-agent dispatch unavailable: no invoker configured")
	}
	content, isError, err := d.SubAgents(ctx, req.UserID, tool.Meta.SubAgentRef, args)
	if err != nil {
		return errorResult(req.ToolCall.ID, fmt.Sprintf("sub-agent invocation failed: %v", err))
	}
	return coretypes.ToolResult{ToolCallID: req.ToolCall.ID, Content: content, IsError: isError}
}

func (d *Dispatcher) dispatchSkill(ctx context.Context, tool Tool, toolCallID string) coretypes.ToolResult {
	if d.Skills == nil {
		return errorResult(toolCallID, "skill dispatch unavailable: no skill reader configured")
	}
	content, err := d.Skills(ctx, tool.Meta.Namespace, tool.Meta.Name)
	if err != nil {
		return errorResult(toolCallID, fmt.Sprintf("skill lookup failed: %v", err))
	}
	return coretypes.ToolResult{ToolCallID: toolCallID, Content: content}
}

func (d *Dispatcher) dispatchMCP(ctx context.Context, tool Tool, args json.RawMessage, toolCallID string) coretypes.ToolResult {
	if d.MCP == nil {
		return errorResult(toolCallID, "mcp dispatch unavailable: no client configured")
	}
	out, err := d.MCP.CallTool(ctx, tool.Meta.MCPServer, tool.Meta.MCPToolName, args)
	if err != nil {
		return coretypes.ToolResult{ToolCallID: toolCallID, Content: out, IsError: true}
	}
	return coretypes.ToolResult{ToolCallID: toolCallID, Content: out}
}

// dispatchState routes the four state verbs that all share KindState,
// distinguished by the LLM-facing tool name rather than Meta, since a
// single Meta.StateNamespace* pair backs all four.
func (d *Dispatcher) dispatchState(ctx context.Context, name, toolCallID string, args map[string]json.RawMessage) coretypes.ToolResult {
	if d.State == nil {
		return errorResult(toolCallID, "state dispatch unavailable: no store configured")
	}
	namespace, err := stringField(args, "namespace")
	if err != nil {
		return errorResult(toolCallID, err.Error())
	}
	key, err := stringField(args, "key")
	if err != nil {
		return errorResult(toolCallID, err.Error())
	}

	switch name {
	case "retrieve_state":
		value, found, err := d.State.GetState(ctx, namespace, key)
		if err != nil {
			return errorResult(toolCallID, fmt.Sprintf("retrieve_state failed: %v", err))
		}
		if !found {
			return coretypes.ToolResult{ToolCallID: toolCallID, Content: "null"}
		}
		return coretypes.ToolResult{ToolCallID: toolCallID, Content: string(value)}
	case "save_state", "update_state":
		value, ok := args["value"]
		if !ok {
			return errorResult(toolCallID, `missing required field "value"`)
		}
		if err := d.State.SetState(ctx, namespace, key, value); err != nil {
			return errorResult(toolCallID, fmt.Sprintf("%s failed: %v", name, err))
		}
		return coretypes.ToolResult{ToolCallID: toolCallID, Content: "ok"}
	case "delete_state":
		if err := d.State.DeleteState(ctx, namespace, key); err != nil {
			return errorResult(toolCallID, fmt.Sprintf("delete_state failed: %v", err))
		}
		return coretypes.ToolResult{ToolCallID: toolCallID, Content: "ok"}
	default:
		return errorResult(toolCallID, fmt.Sprintf("unrecognized state tool %q", name))
	}
}

func (d *Dispatcher) dispatchContinuation(ctx context.Context, toolCallID string, args map[string]json.RawMessage) coretypes.ToolResult {
	if d.Continuations == nil {
		return errorResult(toolCallID, "continuation dispatch unavailable: no invoker configured")
	}
	executionID, err := stringField(args, "execution_id")
	if err != nil {
		return errorResult(toolCallID, err.Error())
	}
	resumeData := args["resume_data"]
	content, isError, err := d.Continuations(ctx, executionID, resumeData)
	if err != nil {
		return errorResult(toolCallID, fmt.Sprintf("continuation failed: %v", err))
	}
	return coretypes.ToolResult{ToolCallID: toolCallID, Content: content, IsError: isError}
}

func stringField(args map[string]json.RawMessage, field string) (string, error) {
	raw, ok := args[field]
	if !ok {
		return "", fmt.Errorf("missing required field %q", field)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q must be a string", field)
	}
	return s, nil
}

func permissionFor(tool Tool) (resource, action string) {
	switch tool.Meta.Kind {
	case KindFunction:
		return fmt.Sprintf("resource.function/%s/%s", tool.Meta.Namespace, tool.Meta.Name), "execute:own"
	case KindSubAgent:
		return fmt.Sprintf("resource.agent/%s", tool.Meta.SubAgentRef), "execute:own"
	default:
		return "", ""
	}
}

func errorResult(toolCallID, message string) coretypes.ToolResult {
	return coretypes.ToolResult{ToolCallID: toolCallID, Content: message, IsError: true}
}
