package execution

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexora-ai/core/internal/nexerr"
	"github.com/nexora-ai/core/internal/sandbox"
	"github.com/nexora-ai/core/internal/worker"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// Runner is the narrow contract shared by sandbox.Pool and worker.Pool
// that the Executor needs: run a spec against input data and return the
// container's result envelope.
type Runner interface {
	Execute(ctx context.Context, spec coretypes.FunctionSpec, input []byte, executionID string) (*coretypes.ExecResult, error)
}

// Executor runs functions end to end: validates input against the
// function's input_schema, routes to the shared worker pool or the
// sandbox pool depending on Function.SharedPool, persists an
// ExecutionRecord across the call, and exposes the pause/resume cursor
// protocol for resumable functions.
type Executor struct {
	sandboxPool *sandbox.Pool
	workerPool  *worker.Pool
	store       Store
	validator   *SchemaValidator
	logger      *slog.Logger

	// forcedRunner overrides pool-based routing entirely. Tests use this
	// to substitute a fake Runner without standing up real pools; it is
	// never set in production wiring.
	forcedRunner Runner
}

// New constructs an Executor. Either pool may be nil if this deployment
// only runs one kind of function, though SharedPool-routed invocations
// will fail with nexerr.Infrastructure if workerPool is nil and vice
// versa.
func New(sandboxPool *sandbox.Pool, workerPool *worker.Pool, store Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{sandboxPool: sandboxPool, workerPool: workerPool, store: store, validator: NewSchemaValidator(), logger: logger}
}

// ExecuteFunction validates input, runs the function to completion or
// pause, and persists the resulting ExecutionRecord. The returned record
// reflects the terminal (or paused) state; callers needing the raw
// container envelope should inspect rec.OutputData / rec.AwaitingPrompt.
func (e *Executor) ExecuteFunction(ctx context.Context, fn coretypes.Function, input json.RawMessage, executionID string, trigger coretypes.TriggerType, triggerID, userID, chatID string) (*coretypes.ExecutionRecord, error) {
	if err := e.validator.Validate(fn.InputSchema, input); err != nil {
		return nil, err
	}

	if executionID == "" {
		executionID = uuid.New().String()
	} else if prior, err := e.store.Get(ctx, executionID); err == nil && prior != nil && prior.Status == coretypes.ExecutionCompleted {
		// A retry of an already-completed execution returns the stored
		// record without running the function again.
		return prior, nil
	}
	rec := &coretypes.ExecutionRecord{
		ExecutionID:       executionID,
		FunctionNamespace: fn.Namespace,
		FunctionName:      fn.Name,
		TriggerType:       trigger,
		TriggerID:         triggerID,
		UserID:            userID,
		ChatID:            chatID,
		Status:            coretypes.ExecutionPending,
		InputData:         input,
	}
	if err := e.store.Create(ctx, rec); err != nil {
		return nil, nexerr.Wrap(nexerr.Infrastructure, "execution", err)
	}

	return e.run(ctx, fn, rec, input, nil)
}

// ResumeFunction feeds resumeData back into a paused execution's cursor
// and continues running it to completion or another pause.
func (e *Executor) ResumeFunction(ctx context.Context, fn coretypes.Function, executionID string, resumeData json.RawMessage) (*coretypes.ExecutionRecord, error) {
	rec, err := e.store.Get(ctx, executionID)
	if err != nil {
		return nil, nexerr.Wrap(nexerr.Infrastructure, "execution", err)
	}
	if rec == nil {
		return nil, nexerr.New(nexerr.NotFound, "execution", "execution not found: "+executionID)
	}
	if rec.Status != coretypes.ExecutionAwaitingInput {
		return nil, nexerr.New(nexerr.ValidationError, "execution", "execution is not awaiting input")
	}
	return e.run(ctx, fn, rec, resumeData, rec.GeneratorState)
}

func (e *Executor) run(ctx context.Context, fn coretypes.Function, rec *coretypes.ExecutionRecord, data, cursor json.RawMessage) (*coretypes.ExecutionRecord, error) {
	if !rec.CanTransitionTo(coretypes.ExecutionRunning) {
		return nil, nexerr.New(nexerr.ValidationError, "execution", "invalid state transition to running")
	}
	rec.Status = coretypes.ExecutionRunning
	startedAt := time.Now()
	rec.StartedAt = &startedAt
	if err := e.store.Update(ctx, rec); err != nil {
		e.logger.Warn("execution status update failed", "execution_id", rec.ExecutionID, "error", err)
	}

	runner, err := e.runnerFor(fn)
	if err != nil {
		return e.fail(ctx, rec, err)
	}

	spec := coretypes.FunctionSpec{
		Namespace: fn.Namespace, Name: fn.Name, Language: fn.Language, Code: fn.Code, SharedPool: fn.SharedPool,
	}

	result, err := runner.Execute(ctx, spec, buildInputPayload(data, cursor), rec.ExecutionID)
	if err != nil {
		return e.fail(ctx, rec, err)
	}
	if result.Error != "" {
		rec.Traceback = result.Traceback
		return e.fail(ctx, rec, nexerr.New(nexerr.ExecutionFailure, "execution", result.Error))
	}

	rec.DurationMS = result.DurationMS
	if result.Pause != nil {
		if !rec.CanTransitionTo(coretypes.ExecutionAwaitingInput) {
			return e.fail(ctx, rec, nexerr.New(nexerr.Infrastructure, "execution", "unexpected pause from terminal state"))
		}
		rec.Status = coretypes.ExecutionAwaitingInput
		rec.AwaitingPrompt = result.Pause.Prompt
		rec.AwaitingSchema = result.Pause.Schema
		rec.GeneratorState = result.Pause.Cursor
		if err := e.store.Update(ctx, rec); err != nil {
			e.logger.Warn("execution pause update failed", "execution_id", rec.ExecutionID, "error", err)
		}
		return rec, nil
	}

	rec.Status = coretypes.ExecutionCompleted
	rec.OutputData = result.Result
	completedAt := time.Now()
	rec.CompletedAt = &completedAt
	rec.AwaitingPrompt = ""
	rec.AwaitingSchema = nil
	rec.GeneratorState = nil
	if err := e.store.Update(ctx, rec); err != nil {
		e.logger.Warn("execution completion update failed", "execution_id", rec.ExecutionID, "error", err)
	}
	return rec, nil
}

func (e *Executor) fail(ctx context.Context, rec *coretypes.ExecutionRecord, cause error) (*coretypes.ExecutionRecord, error) {
	rec.Status = coretypes.ExecutionFailed
	rec.Error = cause.Error()
	completedAt := time.Now()
	rec.CompletedAt = &completedAt
	if err := e.store.Update(ctx, rec); err != nil {
		e.logger.Warn("execution failure update failed", "execution_id", rec.ExecutionID, "error", err)
	}
	return rec, cause
}

func (e *Executor) runnerFor(fn coretypes.Function) (Runner, error) {
	if e.forcedRunner != nil {
		return e.forcedRunner, nil
	}
	if fn.SharedPool {
		if e.workerPool == nil {
			return nil, nexerr.New(nexerr.Infrastructure, "execution", "shared worker pool not configured")
		}
		return e.workerPool, nil
	}
	if e.sandboxPool == nil {
		return nil, nexerr.New(nexerr.Infrastructure, "execution", "sandbox pool not configured")
	}
	return e.sandboxPool, nil
}

// buildInputPayload wraps fresh input or a resume cursor into the IPC
// request's input_data field. On first run data is the caller's input
// and cursor is nil; on resume data is the resume payload and cursor is
// the opaque generator state handed back unchanged to the function.
func buildInputPayload(data, cursor json.RawMessage) []byte {
	if cursor == nil {
		return data
	}
	env := struct {
		ResumeData json.RawMessage `json:"resume_data"`
		Cursor     json.RawMessage `json:"cursor"`
	}{ResumeData: data, Cursor: cursor}
	b, _ := json.Marshal(env)
	return b
}
