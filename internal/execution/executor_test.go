package execution

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/core/pkg/coretypes"
)

type fakeRunner struct {
	results map[string]*coretypes.ExecResult
	calls   int
}

func (f *fakeRunner) Execute(ctx context.Context, spec coretypes.FunctionSpec, input []byte, executionID string) (*coretypes.ExecResult, error) {
	f.calls++
	if r, ok := f.results[spec.Name]; ok {
		return r, nil
	}
	return &coretypes.ExecResult{Status: "completed", Result: json.RawMessage(`{"ok":true}`)}, nil
}

func newExecutorWithRunner(t *testing.T, runner Runner, sharedPool bool) (*Executor, Store) {
	t.Helper()
	store := NewMemoryStore()
	e := &Executor{store: store, validator: NewSchemaValidator()}
	if sharedPool {
		// exercised indirectly via runnerFor's nil checks in other tests;
		// here we bypass routing entirely by injecting the runner through
		// a thin wrapper function below.
	}
	return e, store
}

// withRunner lets tests substitute Executor.runnerFor without requiring a
// live sandbox/worker pool, since both are unexported fields.
func (e *Executor) withRunner(r Runner) *Executor {
	e.sandboxPool = nil
	e.workerPool = nil
	e.forcedRunner = r
	return e
}

func TestExecuteFunctionRejectsInvalidInput(t *testing.T) {
	e, _ := newExecutorWithRunner(t, nil, false)
	fn := coretypes.Function{
		Namespace: "ns", Name: "fn",
		InputSchema: json.RawMessage(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`),
	}
	_, err := e.ExecuteFunction(context.Background(), fn, json.RawMessage(`{}`), "", coretypes.TriggerAPI, "", "user-1", "")
	require.Error(t, err)
}

func TestExecuteFunctionCompletesAndPersists(t *testing.T) {
	runner := &fakeRunner{}
	e, store := newExecutorWithRunner(t, runner, false)
	e = e.withRunner(runner)

	fn := coretypes.Function{Namespace: "ns", Name: "fn"}
	rec, err := e.ExecuteFunction(context.Background(), fn, json.RawMessage(`{"x":1}`), "", coretypes.TriggerAPI, "", "user-1", "")
	require.NoError(t, err)
	require.Equal(t, coretypes.ExecutionCompleted, rec.Status)
	require.Equal(t, 1, runner.calls)

	stored, err := store.Get(context.Background(), rec.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, coretypes.ExecutionCompleted, stored.Status)
}

func TestExecuteFunctionPausesThenResumes(t *testing.T) {
	runner := &fakeRunner{results: map[string]*coretypes.ExecResult{
		"fn": {Status: "awaiting_input", Pause: &coretypes.PauseResult{Prompt: "more?", Cursor: json.RawMessage(`{"step":1}`)}},
	}}
	e, store := newExecutorWithRunner(t, runner, false)
	e = e.withRunner(runner)

	fn := coretypes.Function{Namespace: "ns", Name: "fn"}
	rec, err := e.ExecuteFunction(context.Background(), fn, json.RawMessage(`{}`), "", coretypes.TriggerAPI, "", "user-1", "")
	require.NoError(t, err)
	require.Equal(t, coretypes.ExecutionAwaitingInput, rec.Status)
	require.Equal(t, "more?", rec.AwaitingPrompt)

	runner.results["fn"] = &coretypes.ExecResult{Status: "completed", Result: json.RawMessage(`{"done":true}`)}

	resumed, err := e.ResumeFunction(context.Background(), fn, rec.ExecutionID, json.RawMessage(`{"answer":"yes"}`))
	require.NoError(t, err)
	require.Equal(t, coretypes.ExecutionCompleted, resumed.Status)

	stored, err := store.Get(context.Background(), rec.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, coretypes.ExecutionCompleted, stored.Status)
	require.Empty(t, stored.AwaitingPrompt)
}

func TestResumeFunctionRejectsNonPausedExecution(t *testing.T) {
	runner := &fakeRunner{}
	e, store := newExecutorWithRunner(t, runner, false)
	e = e.withRunner(runner)

	fn := coretypes.Function{Namespace: "ns", Name: "fn"}
	rec, err := e.ExecuteFunction(context.Background(), fn, json.RawMessage(`{}`), "", coretypes.TriggerAPI, "", "user-1", "")
	require.NoError(t, err)
	require.Equal(t, coretypes.ExecutionCompleted, rec.Status)

	_, err = e.ResumeFunction(context.Background(), fn, rec.ExecutionID, json.RawMessage(`{}`))
	require.Error(t, err)

	_ = store
}

func TestExecuteFunctionFailsWhenNoRunnerConfigured(t *testing.T) {
	e, _ := newExecutorWithRunner(t, nil, false)
	fn := coretypes.Function{Namespace: "ns", Name: "fn"}
	rec, err := e.ExecuteFunction(context.Background(), fn, json.RawMessage(`{}`), "", coretypes.TriggerAPI, "", "user-1", "")
	require.Error(t, err)
	require.NotNil(t, rec)
	require.Equal(t, coretypes.ExecutionFailed, rec.Status)
}
