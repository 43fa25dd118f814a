package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/core/internal/llm"
	"github.com/nexora-ai/core/pkg/coretypes"
)

func TestDispatchJobAgentMessageRunsSendMessage(t *testing.T) {
	rig := newTestRig(t, [][]*llm.StreamChunk{contentOnlyResponse("hi back")})
	payload := coretypes.AgentMessageJobPayload{ChatID: "chat-1", UserID: "user-1", Content: "hello", ChannelID: "chan-1"}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	job := &coretypes.Job{Kind: coretypes.JobAgentMessage, Payload: raw}
	require.NoError(t, dispatchJob(context.Background(), rig.engine, job))

	history, err := rig.store.ListMessages(context.Background(), "chat-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "hi back", history[1].Text())
}

func TestDispatchJobAgentResumeRunsResumeAgent(t *testing.T) {
	rig := newTestRig(t, [][]*llm.StreamChunk{
		toolCallResponse("call-1", "billing__charge_card", json.RawMessage(`{"amount":999}`)),
		contentOnlyResponse("resumed via worker"),
	})
	fn, err := rig.store.GetFunction(context.Background(), "billing", "charge_card")
	require.NoError(t, err)
	fn.RequiresApproval = true
	rig.store.PutFunction(fn)

	require.NoError(t, rig.engine.SendMessage(context.Background(), "chat-1", "user-1", "channel-1", "charge me $999", ""))

	pending, err := rig.approvals.ListPending(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	payload := coretypes.AgentResumeJobPayload{ApprovalID: pending[0].ApprovalID, Approved: true, ChannelID: "channel-1"}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	job := &coretypes.Job{Kind: coretypes.JobAgentResume, Payload: raw}
	require.NoError(t, dispatchJob(context.Background(), rig.engine, job))

	history, err := rig.store.ListMessages(context.Background(), "chat-1", 0)
	require.NoError(t, err)
	require.Equal(t, "resumed via worker", history[len(history)-1].Text())
}

func TestDispatchJobUnknownKindReturnsError(t *testing.T) {
	rig := newTestRig(t, nil)
	job := &coretypes.Job{Kind: coretypes.JobKind("bogus")}
	err := dispatchJob(context.Background(), rig.engine, job)
	require.Error(t, err)
}
