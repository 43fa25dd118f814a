package execution

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/core/pkg/coretypes"
)

type fakeResolver struct {
	fn *coretypes.Function
}

func (r *fakeResolver) GetFunction(_ context.Context, namespace, name string) (*coretypes.Function, error) {
	return r.fn, nil
}

type fakeNotifier struct {
	executionID string
	env         coretypes.DoneEnvelope
	calls       int
}

func (n *fakeNotifier) PublishDone(_ context.Context, executionID string, env coretypes.DoneEnvelope) error {
	n.executionID = executionID
	n.env = env
	n.calls++
	return nil
}

func TestDispatchJobRunsFunctionAndPublishesDone(t *testing.T) {
	e, _ := newExecutorWithRunner(t, nil, false)
	e = e.withRunner(&fakeRunner{results: map[string]*coretypes.ExecResult{}})

	fn := &coretypes.Function{Namespace: "billing", Name: "charge_card", InputSchema: json.RawMessage(`{"type":"object"}`)}
	resolver := &fakeResolver{fn: fn}
	notifier := &fakeNotifier{}

	payload := coretypes.FunctionJobPayload{
		FunctionNamespace: "billing",
		FunctionName:      "charge_card",
		InputData:         json.RawMessage(`{}`),
		ExecutionID:       "exec-1",
		TriggerType:       coretypes.TriggerManual,
		UserID:            "user-1",
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	job := &coretypes.Job{Kind: coretypes.JobFunction, Payload: raw}
	require.NoError(t, dispatchJob(context.Background(), e, resolver, notifier, job))

	require.Equal(t, 1, notifier.calls)
	require.Equal(t, "exec-1", notifier.executionID)
	require.Equal(t, coretypes.ExecutionCompleted, notifier.env.Status)
	require.JSONEq(t, `{"ok":true}`, string(notifier.env.Result))
}

func TestDispatchJobFailurePublishesFailedEnvelope(t *testing.T) {
	e, _ := newExecutorWithRunner(t, nil, false)
	e = e.withRunner(&fakeRunner{results: map[string]*coretypes.ExecResult{
		"charge_card": {Status: "failed", Error: "card declined"},
	}})

	fn := &coretypes.Function{Namespace: "billing", Name: "charge_card", InputSchema: json.RawMessage(`{"type":"object"}`)}
	resolver := &fakeResolver{fn: fn}
	notifier := &fakeNotifier{}

	payload := coretypes.FunctionJobPayload{
		FunctionNamespace: "billing",
		FunctionName:      "charge_card",
		InputData:         json.RawMessage(`{}`),
		ExecutionID:       "exec-2",
		TriggerType:       coretypes.TriggerManual,
		UserID:            "user-1",
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	job := &coretypes.Job{Kind: coretypes.JobFunction, Payload: raw}
	err = dispatchJob(context.Background(), e, resolver, notifier, job)
	require.Error(t, err)

	require.Equal(t, 1, notifier.calls)
	require.Equal(t, coretypes.ExecutionFailed, notifier.env.Status)
	require.Contains(t, notifier.env.Error, "card declined")
}

func TestDispatchJobUnknownKindReturnsError(t *testing.T) {
	e, _ := newExecutorWithRunner(t, nil, false)
	job := &coretypes.Job{Kind: coretypes.JobKind("bogus")}
	err := dispatchJob(context.Background(), e, &fakeResolver{}, &fakeNotifier{}, job)
	require.Error(t, err)
}
