package toolsynth

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/core/pkg/coretypes"
)

type fakeFunctionQueue struct {
	envelope *coretypes.DoneEnvelope
	err      error
	lastPayload coretypes.FunctionJobPayload
}

func (f *fakeFunctionQueue) EnqueueAndWait(_ context.Context, payload coretypes.FunctionJobPayload, _ time.Duration) (*coretypes.DoneEnvelope, error) {
	f.lastPayload = payload
	if f.err != nil {
		return nil, f.err
	}
	return f.envelope, nil
}

type fakeStateStore struct {
	values map[string][]byte
}

func newFakeStateStore() *fakeStateStore { return &fakeStateStore{values: map[string][]byte{}} }

func (f *fakeStateStore) key(namespace, k string) string { return namespace + "/" + k }

func (f *fakeStateStore) GetState(_ context.Context, namespace, key string) ([]byte, bool, error) {
	v, ok := f.values[f.key(namespace, key)]
	return v, ok, nil
}

func (f *fakeStateStore) SetState(_ context.Context, namespace, key string, value []byte) error {
	f.values[f.key(namespace, key)] = value
	return nil
}

func (f *fakeStateStore) DeleteState(_ context.Context, namespace, key string) error {
	delete(f.values, f.key(namespace, key))
	return nil
}

type denyAllPermissions struct{}

func (denyAllPermissions) Allowed(_ context.Context, _, _, _ string) (bool, error) { return false, nil }

func functionTool() Tool {
	return Tool{
		Name:   "billing__charge_card",
		Schema: json.RawMessage(`{"type":"object"}`),
		Meta:   Meta{Kind: KindFunction, Namespace: "billing", Name: "charge_card"},
	}
}

func TestDispatchUnknownToolNameIsRejected(t *testing.T) {
	d := &Dispatcher{}
	result := d.Dispatch(context.Background(), nil, Request{ToolCall: coretypes.ToolCall{ID: "tc1", Name: "nope"}})
	require.True(t, result.IsError)
	require.Contains(t, result.Content, "unknown tool")
}

func TestDispatchFunctionRunsThroughQueueAndMergesLockedParams(t *testing.T) {
	queue := &fakeFunctionQueue{envelope: &coretypes.DoneEnvelope{Status: coretypes.ExecutionCompleted, Result: json.RawMessage(`{"ok":true}`)}}
	tool := functionTool()
	tool.Meta.Locked = map[string]coretypes.ParamLock{"currency": {Locked: true, Value: json.RawMessage(`"usd"`)}}

	d := &Dispatcher{Queue: queue}
	result := d.Dispatch(context.Background(), []Tool{tool}, Request{
		ToolCall: coretypes.ToolCall{ID: "tc1", Name: "billing__charge_card", Input: json.RawMessage(`{"amount":10,"currency":"eur"}`)},
		UserID:   "user-1",
		ChatID:   "chat-1",
	})

	require.False(t, result.IsError)
	require.JSONEq(t, `{"ok":true}`, result.Content)

	var sent map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(queue.lastPayload.InputData, &sent))
	require.Equal(t, json.RawMessage(`"usd"`), sent["currency"], "locked value must win over the llm-supplied one")
}

func TestDispatchFunctionDeniedByPermissionChecker(t *testing.T) {
	d := &Dispatcher{Queue: &fakeFunctionQueue{}, Permissions: denyAllPermissions{}}
	result := d.Dispatch(context.Background(), []Tool{functionTool()}, Request{
		ToolCall: coretypes.ToolCall{ID: "tc1", Name: "billing__charge_card", Input: json.RawMessage(`{}`)},
	})
	require.True(t, result.IsError)
	require.Contains(t, result.Content, "permission denied")
}

func TestDispatchFunctionPropagatesExecutionFailure(t *testing.T) {
	queue := &fakeFunctionQueue{envelope: &coretypes.DoneEnvelope{Status: coretypes.ExecutionFailed, Error: "boom"}}
	d := &Dispatcher{Queue: queue}
	result := d.Dispatch(context.Background(), []Tool{functionTool()}, Request{
		ToolCall: coretypes.ToolCall{ID: "tc1", Name: "billing__charge_card", Input: json.RawMessage(`{}`)},
	})
	require.True(t, result.IsError)
	require.Equal(t, "boom", result.Content)
}

func TestDispatchStateRoundTrip(t *testing.T) {
	store := newFakeStateStore()
	d := &Dispatcher{State: store}
	stateTool := Tool{Name: "save_state", Meta: Meta{Kind: KindState, StateNamespaceReadwrite: []string{"cart"}}}
	retrieveTool := Tool{Name: "retrieve_state", Meta: Meta{Kind: KindState, StateNamespaceReadwrite: []string{"cart"}}}
	tools := []Tool{stateTool, retrieveTool}

	saveResult := d.Dispatch(context.Background(), tools, Request{
		ToolCall: coretypes.ToolCall{ID: "tc1", Name: "save_state", Input: json.RawMessage(`{"namespace":"cart","key":"k1","value":"v1"}`)},
	})
	require.False(t, saveResult.IsError)

	getResult := d.Dispatch(context.Background(), tools, Request{
		ToolCall: coretypes.ToolCall{ID: "tc2", Name: "retrieve_state", Input: json.RawMessage(`{"namespace":"cart","key":"k1"}`)},
	})
	require.False(t, getResult.IsError)
	require.Equal(t, `"v1"`, getResult.Content)
}

func TestDispatchContinuationInvokesInjectedResumer(t *testing.T) {
	var gotExecID string
	d := &Dispatcher{Continuations: func(_ context.Context, executionID string, _ json.RawMessage) (string, bool, error) {
		gotExecID = executionID
		return "resumed", false, nil
	}}
	tool := Tool{Name: "continue_execution", Meta: Meta{Kind: KindContinuation, PausedExecutionIDs: []string{"exec-1"}}}

	result := d.Dispatch(context.Background(), []Tool{tool}, Request{
		ToolCall: coretypes.ToolCall{ID: "tc1", Name: "continue_execution", Input: json.RawMessage(`{"execution_id":"exec-1","resume_data":{"ok":true}}`)},
	})

	require.False(t, result.IsError)
	require.Equal(t, "resumed", result.Content)
	require.Equal(t, "exec-1", gotExecID)
}
