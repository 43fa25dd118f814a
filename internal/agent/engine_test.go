package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/core/internal/llm"
	"github.com/nexora-ai/core/internal/resources"
	"github.com/nexora-ai/core/internal/toolsynth"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// fakeProvider replays a scripted sequence of stream responses, one per
// call to Stream, so a test can script a multi-turn tool-calling loop.
type fakeProvider struct {
	name      string
	responses [][]*llm.StreamChunk
	calls     int
}

func (f *fakeProvider) Name() string           { return f.name }
func (f *fakeProvider) SupportsTools() bool    { return true }
func (f *fakeProvider) Complete(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, nil
}

func (f *fakeProvider) Stream(context.Context, *llm.CompletionRequest) (<-chan *llm.StreamChunk, error) {
	idx := f.calls
	f.calls++
	var chunks []*llm.StreamChunk
	if idx < len(f.responses) {
		chunks = f.responses[idx]
	}
	ch := make(chan *llm.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func contentOnlyResponse(text string) []*llm.StreamChunk {
	return []*llm.StreamChunk{
		{Content: text},
		{Done: true},
	}
}

func toolCallResponse(id, name string, input json.RawMessage) []*llm.StreamChunk {
	return []*llm.StreamChunk{
		{ToolCall: &coretypes.ToolCall{ID: id, Name: name, Input: input}},
		{Done: true},
	}
}

type fakeFunctionQueue struct {
	result json.RawMessage
}

func (f *fakeFunctionQueue) EnqueueAndWait(context.Context, coretypes.FunctionJobPayload, time.Duration) (*coretypes.DoneEnvelope, error) {
	return &coretypes.DoneEnvelope{Status: coretypes.ExecutionCompleted, Result: f.result}, nil
}

// testRig bundles everything needed for an Engine with no live Redis
// relay: every e.Stream.Publish* call site is already nil-guarded, so
// Stream is left unset and these tests exercise the loop's persistence
// and dispatch behavior directly.
type testRig struct {
	store    *resources.MemoryStore
	approvals *MemoryPendingApprovalStore
	provider *fakeProvider
	engine   *Engine
}

func newTestRig(t *testing.T, responses [][]*llm.StreamChunk) *testRig {
	t.Helper()

	store := resources.NewMemoryStore()
	provider := &fakeProvider{name: "test-provider", responses: responses}
	store.PutProvider("test-provider", provider, false)

	agentDef := &coretypes.Agent{
		Namespace:      "support",
		Name:           "assistant",
		SystemPrompt:   "You are a helpful assistant for {{.customer_name}}.",
		LLMProviderRef: "test-provider",
		Model:          "test-model",
		EnabledFunctions: []string{"billing/charge_card"},
	}
	store.PutAgent(agentDef)
	store.PutFunction(&coretypes.Function{
		Namespace:        "billing",
		Name:             "charge_card",
		InputSchema:      json.RawMessage(`{"type":"object","properties":{"amount":{"type":"number"}}}`),
		RequiresApproval: false,
	})

	chat := &coretypes.Chat{
		ChatID:     "chat-1",
		UserID:     "user-1",
		AgentRef:   "support/assistant",
		AgentInput: map[string]any{"customer_name": "Dana"},
		CreatedAt:  time.Now(),
	}
	store.PutChat(chat)

	synth := toolsynth.New(store, nil)
	dispatch := &toolsynth.Dispatcher{
		Queue: &fakeFunctionQueue{result: json.RawMessage(`{"charged":true}`)},
		State: store,
	}
	approvals := NewMemoryPendingApprovalStore()

	engine := NewEngine(store, synth, dispatch, nil, approvals, nil)

	return &testRig{store: store, approvals: approvals, provider: provider, engine: engine}
}

func TestSendMessageNoToolCallsPersistsAssistantReply(t *testing.T) {
	rig := newTestRig(t, [][]*llm.StreamChunk{contentOnlyResponse("hello there")})

	err := rig.engine.SendMessage(context.Background(), "chat-1", "user-1", "channel-1", "hi", "")
	require.NoError(t, err)

	history, err := rig.store.ListMessages(context.Background(), "chat-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, coretypes.RoleUser, history[0].Role)
	require.Equal(t, coretypes.RoleAssistant, history[1].Role)
	require.Equal(t, "hello there", history[1].Text())
	require.Equal(t, 1, rig.provider.calls)
}

func TestSendMessageDispatchesFunctionToolAndLoops(t *testing.T) {
	rig := newTestRig(t, [][]*llm.StreamChunk{
		toolCallResponse("call-1", "billing__charge_card", json.RawMessage(`{"amount":10}`)),
		contentOnlyResponse("your card was charged"),
	})

	err := rig.engine.SendMessage(context.Background(), "chat-1", "user-1", "channel-1", "charge me $10", "")
	require.NoError(t, err)

	history, err := rig.store.ListMessages(context.Background(), "chat-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 4) // user, assistant(tool_call), tool, assistant(final)
	require.Equal(t, coretypes.RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls, 1)
	require.Equal(t, coretypes.RoleTool, history[2].Role)
	require.JSONEq(t, `{"charged":true}`, history[2].Text())
	require.Equal(t, coretypes.RoleAssistant, history[3].Role)
	require.Equal(t, "your card was charged", history[3].Text())
	require.Equal(t, 2, rig.provider.calls)
}

func TestSendMessagePausesForApprovalOnRequiresApprovalFunction(t *testing.T) {
	rig := newTestRig(t, [][]*llm.StreamChunk{
		toolCallResponse("call-1", "billing__charge_card", json.RawMessage(`{"amount":999}`)),
		contentOnlyResponse("should never be reached"),
	})
	fn, err := rig.store.GetFunction(context.Background(), "billing", "charge_card")
	require.NoError(t, err)
	fn.RequiresApproval = true
	rig.store.PutFunction(fn)

	err = rig.engine.SendMessage(context.Background(), "chat-1", "user-1", "channel-1", "charge me $999", "")
	require.NoError(t, err)

	require.Equal(t, 1, rig.provider.calls, "loop must pause before a second completion call")

	pending, err := rig.approvals.ListPending(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "billing/charge_card", pending[0].FunctionRef)
	require.Equal(t, "call-1", pending[0].ToolCallID)
	require.Equal(t, "test-provider", pending[0].ConversationSnapshot.ProviderRef)

	history, err := rig.store.ListMessages(context.Background(), "chat-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2, "no tool-result message should be appended while paused")
}

func TestResumeAgentApprovedExecutesToolAndContinues(t *testing.T) {
	rig := newTestRig(t, [][]*llm.StreamChunk{
		toolCallResponse("call-1", "billing__charge_card", json.RawMessage(`{"amount":999}`)),
		contentOnlyResponse("charged after approval"),
	})
	fn, err := rig.store.GetFunction(context.Background(), "billing", "charge_card")
	require.NoError(t, err)
	fn.RequiresApproval = true
	rig.store.PutFunction(fn)

	err = rig.engine.SendMessage(context.Background(), "chat-1", "user-1", "channel-1", "charge me $999", "")
	require.NoError(t, err)

	pending, err := rig.approvals.ListPending(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	err = rig.engine.ResumeAgent(context.Background(), pending[0].ApprovalID, true, "channel-1")
	require.NoError(t, err)

	history, err := rig.store.ListMessages(context.Background(), "chat-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 4) // user, assistant(tool_call), tool, assistant(final)
	require.Equal(t, coretypes.RoleTool, history[2].Role)
	require.JSONEq(t, `{"charged":true}`, history[2].Text())
	require.Equal(t, "charged after approval", history[3].Text())

	approval, err := rig.approvals.Get(context.Background(), pending[0].ApprovalID)
	require.NoError(t, err)
	require.Equal(t, coretypes.ApprovalApproved, approval.Decision)
}

func TestResumeAgentRejectedPersistsRejectionMessage(t *testing.T) {
	rig := newTestRig(t, [][]*llm.StreamChunk{
		toolCallResponse("call-1", "billing__charge_card", json.RawMessage(`{"amount":999}`)),
		contentOnlyResponse("understood, not charging"),
	})
	fn, err := rig.store.GetFunction(context.Background(), "billing", "charge_card")
	require.NoError(t, err)
	fn.RequiresApproval = true
	rig.store.PutFunction(fn)

	err = rig.engine.SendMessage(context.Background(), "chat-1", "user-1", "channel-1", "charge me $999", "")
	require.NoError(t, err)

	pending, err := rig.approvals.ListPending(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	err = rig.engine.ResumeAgent(context.Background(), pending[0].ApprovalID, false, "channel-1")
	require.NoError(t, err)

	history, err := rig.store.ListMessages(context.Background(), "chat-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 4) // user, assistant(tool_call), rejection(tool), assistant(final)
	require.Equal(t, coretypes.RoleTool, history[2].Role)
	require.Contains(t, history[2].Text(), "rejected")
	require.Equal(t, "understood, not charging", history[3].Text())

	approval, err := rig.approvals.Get(context.Background(), pending[0].ApprovalID)
	require.NoError(t, err)
	require.Equal(t, coretypes.ApprovalRejected, approval.Decision)
}
