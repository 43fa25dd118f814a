// Package agent implements AgentEngine: the tool-calling conversation
// loop that assembles context, calls an LLMProvider (streaming),
// dispatches tool calls via internal/toolsynth, and pauses for human
// approval when a function requires it.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexora-ai/core/internal/llm"
	"github.com/nexora-ai/core/internal/resources"
	"github.com/nexora-ai/core/internal/stream"
	"github.com/nexora-ai/core/internal/toolsynth"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// DefaultMaxToolDepth bounds the tool-calling loop per spec §4.6's
// depth-limit requirement.
const DefaultMaxToolDepth = 25

// ErrDepthExceeded is returned (and published as a terminal error
// envelope) when a single turn exceeds MaxToolDepth loop iterations.
var ErrDepthExceeded = fmt.Errorf("agent: tool-calling depth limit exceeded")

// Engine runs AgentEngine turns for any chat, resolving its agent,
// tools, and provider fresh on every call — it holds no per-chat state
// of its own beyond what ResourceStore and PendingApprovalStore persist.
// Engine resolves a fresh llm.Provider per turn via Store.ResolveLLMProvider
// (itself backed by an llm.Registry at the resources-store layer), so it
// holds no registry reference of its own.
type Engine struct {
	Store        resources.Store
	Synth        *toolsynth.Synthesiser
	Dispatch     *toolsynth.Dispatcher
	Stream       *stream.Relay
	Approvals    PendingApprovalStore
	MaxToolDepth int
	Logger       *slog.Logger
}

// NewEngine constructs an Engine with DefaultMaxToolDepth, using
// slog.Default() if no logger is supplied.
func NewEngine(store resources.Store, synth *toolsynth.Synthesiser, dispatch *toolsynth.Dispatcher, relay *stream.Relay, approvals PendingApprovalStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:        store,
		Synth:        synth,
		Dispatch:     dispatch,
		Stream:       relay,
		Approvals:    approvals,
		MaxToolDepth: DefaultMaxToolDepth,
		Logger:       logger,
	}
}

// turnContext bundles everything context assembly (§4.6 steps 1-6)
// resolves once per turn, to avoid re-fetching across loop iterations.
type turnContext struct {
	chat     *coretypes.Chat
	agent    *coretypes.Agent
	provider llm.Provider
	tools    []toolsynth.Tool
	system   string
}

// SendMessage appends userContent as a user message on chatID, then
// runs the tool-calling loop to completion or to a human-approval
// pause, publishing chunks to the chat's StreamRelay channel.
// providerOverride implements the message-level override in the
// provider-resolution precedence (message > agent > default).
func (e *Engine) SendMessage(ctx context.Context, chatID, userID, channelID, userContent, providerOverride string) error {
	chat, err := e.Store.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("agent: load chat: %w", err)
	}

	userMsg := &coretypes.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      coretypes.RoleUser,
		Content:   []coretypes.ContentPart{{Text: userContent}},
		CreatedAt: time.Now(),
	}
	if err := e.Store.AppendMessage(ctx, chatID, userMsg); err != nil {
		return fmt.Errorf("agent: persist user message: %w", err)
	}

	tc, err := e.assembleTurn(ctx, chat, providerOverride)
	if err != nil {
		e.publishError(ctx, channelID, err)
		return err
	}

	return e.runLoop(ctx, tc, channelID, userID)
}

// ResumeAgent implements the resume path spec §4.6 describes for
// resume_agent(approval_id, approved).
func (e *Engine) ResumeAgent(ctx context.Context, approvalID string, approved bool, channelID string) error {
	approval, err := e.Approvals.Get(ctx, approvalID)
	if err != nil {
		return fmt.Errorf("agent: load approval: %w", err)
	}
	if approval.Decision != "" {
		return fmt.Errorf("agent: approval %q already decided", approvalID)
	}

	chat, err := e.Store.GetChat(ctx, approval.ChatID)
	if err != nil {
		return fmt.Errorf("agent: load chat: %w", err)
	}

	if !approved {
		approval.Decision = coretypes.ApprovalRejected
		if err := e.Approvals.Update(ctx, approval); err != nil {
			return fmt.Errorf("agent: persist approval decision: %w", err)
		}
		if e.Stream != nil {
			_ = e.Stream.Publish(ctx, channelID, coretypes.NewStreamEvent(coretypes.StreamToolRejected).WithTool("", approval.ToolCallID))
		}
		rejection := &coretypes.Message{
			ID:         uuid.NewString(),
			ChatID:     approval.ChatID,
			Role:       coretypes.RoleTool,
			ToolCallID: approval.ToolCallID,
			Content:    []coretypes.ContentPart{{Text: "the human reviewer rejected this tool call"}},
			CreatedAt:  time.Now(),
		}
		if err := e.Store.AppendMessage(ctx, approval.ChatID, rejection); err != nil {
			return fmt.Errorf("agent: persist rejection message: %w", err)
		}

		tc, err := e.assembleTurn(ctx, chat, approval.ConversationSnapshot.ProviderRef)
		if err != nil {
			e.publishError(ctx, channelID, err)
			return err
		}
		return e.runLoop(ctx, tc, channelID, approval.UserID)
	}

	approval.Decision = coretypes.ApprovalApproved
	if err := e.Approvals.Update(ctx, approval); err != nil {
		return fmt.Errorf("agent: persist approval decision: %w", err)
	}

	tc, err := e.assembleTurn(ctx, chat, approval.ConversationSnapshot.ProviderRef)
	if err != nil {
		e.publishError(ctx, channelID, err)
		return err
	}

	if err := e.executeAndAppendToolCalls(ctx, tc, approval.AllToolCalls, approval.UserID, approval.ChatID, channelID); err != nil {
		e.publishError(ctx, channelID, err)
		return err
	}

	return e.runLoop(ctx, tc, channelID, approval.UserID)
}

// assembleTurn performs context-assembly steps 1, 2-4 (system prompt +
// state + skill preload), 6 (provider/model resolution) and tool
// synthesis, ready for runLoop to drive the main loop.
func (e *Engine) assembleTurn(ctx context.Context, chat *coretypes.Chat, providerOverride string) (*turnContext, error) {
	agentNamespace, agentName := namespaceName(chat.AgentRef)
	agent, err := e.Store.GetAgent(ctx, agentNamespace, agentName)
	if err != nil {
		return nil, fmt.Errorf("agent: load agent %q: %w", chat.AgentRef, err)
	}

	providerRef := providerOverride
	if providerRef == "" {
		providerRef = agent.LLMProviderRef
	}
	provider, found, err := e.Store.ResolveLLMProvider(ctx, providerRef)
	if err != nil {
		return nil, fmt.Errorf("agent: resolve llm provider %q: %w", providerRef, err)
	}
	if !found {
		return nil, fmt.Errorf("agent: llm provider %q is not configured", providerRef)
	}

	pausedIDs, err := e.pausedExecutionIDs(ctx, chat.ChatID)
	if err != nil {
		return nil, fmt.Errorf("agent: list paused executions: %w", err)
	}

	tools, err := e.Synth.Synthesize(ctx, agent, pausedIDs)
	if err != nil {
		return nil, fmt.Errorf("agent: synthesize tools: %w", err)
	}

	preloaded, err := e.Synth.PreloadedSkillContent(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("agent: load preloaded skills: %w", err)
	}

	system, err := renderSystemPrompt(ctx, e.Store, agent, chat, preloaded)
	if err != nil {
		return nil, err
	}

	return &turnContext{chat: chat, agent: agent, provider: provider, tools: tools, system: system}, nil
}

// pausedExecutionIDs lists this chat's approvals still awaiting a
// decision, which is the continuation tool's source per spec §4.7.
func (e *Engine) pausedExecutionIDs(ctx context.Context, chatID string) ([]string, error) {
	if e.Approvals == nil {
		return nil, nil
	}
	pending, err := e.Approvals.ListPending(ctx, chatID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ApprovalID)
	}
	return ids, nil
}

// runLoop drives spec §4.6's main loop: stream a completion, accumulate
// tool calls, persist the assistant message, then either pause for
// approval or dispatch and continue.
func (e *Engine) runLoop(ctx context.Context, tc *turnContext, channelID, userID string) error {
	toolDefs := toProviderToolDefs(tc.tools)

	for depth := 0; ; depth++ {
		if depth >= e.MaxToolDepth {
			err := ErrDepthExceeded
			e.Logger.WarnContext(ctx, "tool-calling depth limit exceeded", "chat_id", tc.chat.ChatID, "max_depth", e.MaxToolDepth)
			e.publishError(ctx, channelID, err)
			return err
		}

		history, err := e.Store.ListMessages(ctx, tc.chat.ChatID, 0)
		if err != nil {
			return fmt.Errorf("agent: load message history: %w", err)
		}

		req := &llm.CompletionRequest{
			Model:    tc.agent.Model,
			System:   tc.system,
			Messages: toProviderMessages(history),
			Tools:    toolDefs,
		}

		assistantMsg, toolCalls, err := e.streamCompletion(ctx, tc.provider, req, channelID)
		if err != nil {
			e.publishError(ctx, channelID, err)
			return err
		}

		assistantMsg.ID = uuid.NewString()
		assistantMsg.ChatID = tc.chat.ChatID
		assistantMsg.Role = coretypes.RoleAssistant
		assistantMsg.CreatedAt = time.Now()
		if err := e.Store.AppendMessage(ctx, tc.chat.ChatID, assistantMsg); err != nil {
			return fmt.Errorf("agent: persist assistant message: %w", err)
		}

		if len(toolCalls) == 0 {
			if e.Stream != nil {
				_ = e.Stream.PublishDone(ctx, channelID)
			}
			return nil
		}

		approvalNeeded, err := e.pauseForApprovalIfNeeded(ctx, tc, assistantMsg, toolCalls, history, userID, channelID)
		if err != nil {
			return err
		}
		if approvalNeeded {
			return nil
		}

		if err := e.executeAndAppendToolCalls(ctx, tc, toolCalls, userID, tc.chat.ChatID, channelID); err != nil {
			e.publishError(ctx, channelID, err)
			return err
		}
	}
}

// pauseForApprovalIfNeeded creates a PendingApproval and publishes
// approval_required for every tool call targeting a function with
// requires_approval=true, then publishes done and returns true so the
// caller stops the loop. If no call needs approval it returns false.
func (e *Engine) pauseForApprovalIfNeeded(ctx context.Context, tc *turnContext, assistantMsg *coretypes.Message, toolCalls []coretypes.ToolCall, history []coretypes.Message, userID, channelID string) (bool, error) {
	var needsApproval []coretypes.ToolCall
	for _, call := range toolCalls {
		tool, ok := toolsynth.Lookup(tc.tools, call.Name)
		if ok && tool.Meta.Kind == toolsynth.KindFunction && tool.Meta.RequiresApproval {
			needsApproval = append(needsApproval, call)
		}
	}
	if len(needsApproval) == 0 {
		return false, nil
	}

	snapshot := coretypes.ConversationSnapshot{
		Messages:    append(append([]coretypes.Message{}, history...), *assistantMsg),
		Model:       tc.agent.Model,
		ProviderRef: tc.provider.Name(),
		Temperature: tc.agent.Temperature,
		MaxTokens:   tc.agent.MaxTokens,
	}
	if toolsJSON, err := json.Marshal(toProviderToolDefs(tc.tools)); err == nil {
		snapshot.ToolsJSON = toolsJSON
	}

	for _, call := range needsApproval {
		tool, _ := toolsynth.Lookup(tc.tools, call.Name)
		approval := &coretypes.PendingApproval{
			ApprovalID:           uuid.NewString(),
			ChatID:               tc.chat.ChatID,
			AssistantMessageID:   assistantMsg.ID,
			UserID:               userID,
			ToolCallID:           call.ID,
			FunctionRef:          tool.Meta.Namespace + "/" + tool.Meta.Name,
			Arguments:            call.Input,
			AllToolCalls:         toolCalls,
			ConversationSnapshot: snapshot,
			CreatedAt:            time.Now(),
		}
		if err := e.Approvals.Create(ctx, approval); err != nil {
			return false, fmt.Errorf("agent: persist pending approval: %w", err)
		}
		if e.Stream != nil {
			event := coretypes.NewStreamEvent(coretypes.StreamApprovalRequired).
				WithTool(call.Name, call.ID).
				WithMeta("function_ref", approval.FunctionRef).
				WithMeta("arguments", json.RawMessage(call.Input)).
				WithMeta("approval_id", approval.ApprovalID)
			_ = e.Stream.Publish(ctx, channelID, event)
		}
	}

	if e.Stream != nil {
		_ = e.Stream.PublishDone(ctx, channelID)
	}
	return true, nil
}

// executeAndAppendToolCalls dispatches every call via toolsynth and
// appends a tool-role message per result, publishing lifecycle events.
func (e *Engine) executeAndAppendToolCalls(ctx context.Context, tc *turnContext, toolCalls []coretypes.ToolCall, userID, chatID, channelID string) error {
	for _, call := range toolCalls {
		if e.Stream != nil {
			_ = e.Stream.Publish(ctx, channelID, coretypes.NewStreamEvent(coretypes.StreamToolCallStart).WithTool(call.Name, call.ID))
		}

		result := e.Dispatch.Dispatch(ctx, tc.tools, toolsynth.Request{
			ToolCall:    call,
			UserID:      userID,
			ChatID:      chatID,
			ExecutionID: uuid.NewString(),
		})

		if e.Stream != nil {
			event := coretypes.NewStreamEvent(coretypes.StreamToolCallResult).WithTool(call.Name, call.ID).WithMeta("is_error", result.IsError)
			_ = e.Stream.Publish(ctx, channelID, event)
		}

		toolMsg := &coretypes.Message{
			ID:         uuid.NewString(),
			ChatID:     chatID,
			Role:       coretypes.RoleTool,
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    []coretypes.ContentPart{{Text: result.Content}},
			CreatedAt:  time.Now(),
		}
		if err := e.Store.AppendMessage(ctx, chatID, toolMsg); err != nil {
			return fmt.Errorf("agent: persist tool result message: %w", err)
		}
	}
	return nil
}

// streamCompletion drives provider.Stream, publishing content_delta
// chunks to the StreamRelay and accumulating the assistant message and
// any tool calls via ToolCallAccumulator.
func (e *Engine) streamCompletion(ctx context.Context, provider llm.Provider, req *llm.CompletionRequest, channelID string) (*coretypes.Message, []coretypes.ToolCall, error) {
	chunks, err := provider.Stream(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("agent: start provider stream: %w", err)
	}

	var content string
	acc := NewToolCallAccumulator()

	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, nil, fmt.Errorf("agent: provider stream: %w", chunk.Err)
		}
		if chunk.Content != "" {
			content += chunk.Content
			if e.Stream != nil {
				_ = e.Stream.Publish(ctx, channelID, coretypes.NewStreamEvent(coretypes.StreamContentDelta).WithDelta(chunk.Content))
			}
		}
		acc.Add(chunk)
		if chunk.Done {
			break
		}
	}

	msg := &coretypes.Message{}
	if content != "" {
		msg.Content = []coretypes.ContentPart{{Text: content}}
	}
	toolCalls := acc.ToolCalls()
	msg.ToolCalls = toolCalls
	return msg, toolCalls, nil
}

func (e *Engine) publishError(ctx context.Context, channelID string, cause error) {
	if e.Stream == nil {
		return
	}
	_ = e.Stream.PublishError(ctx, channelID, cause)
}

func toProviderToolDefs(tools []toolsynth.Tool) []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, llm.ToolDef{Name: t.Name, Description: t.Description, Parameters: t.Schema})
	}
	return out
}

func namespaceName(ref string) (string, string) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' {
			return ref[:i], ref[i+1:]
		}
	}
	return "", ref
}
