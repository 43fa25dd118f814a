package execution

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nexora-ai/core/internal/jobqueue"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// DefaultDequeueBlock bounds how long one RunWorker iteration blocks
// waiting for a job before checking ctx again.
const DefaultDequeueBlock = 5 * time.Second

// FunctionResolver looks up the function definition a job's namespace/name
// pair refers to. resources.Store satisfies this directly.
type FunctionResolver interface {
	GetFunction(ctx context.Context, namespace, name string) (*coretypes.Function, error)
}

// DoneNotifier publishes an execution's terminal envelope so any
// EnqueueAndWait caller blocked on it unblocks. jobqueue.Queue satisfies
// this directly.
type DoneNotifier interface {
	PublishDone(ctx context.Context, executionID string, env coretypes.DoneEnvelope) error
}

// RunWorker pops jobs off the functions queue and drives them through
// Executor, one at a time, until ctx is cancelled — the "FunctionWorker
// pops job" half of spec.md §2's data-flow diagram, mirroring
// internal/agent.RunWorker for the agents queue.
func RunWorker(ctx context.Context, executor *Executor, resolver FunctionResolver, queue *jobqueue.Queue, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := queue.Dequeue(ctx, coretypes.QueueFunctions, DefaultDequeueBlock)
		if err != nil {
			logger.ErrorContext(ctx, "function worker: dequeue failed", "error", err)
			continue
		}
		if job == nil {
			continue
		}

		if err := dispatchJob(ctx, executor, resolver, queue, job); err != nil {
			logger.ErrorContext(ctx, "function worker: job failed", "job_id", job.JobID, "error", err)
			if ackErr := queue.Fail(ctx, job, err); ackErr != nil {
				logger.ErrorContext(ctx, "function worker: fail bookkeeping failed", "job_id", job.JobID, "error", ackErr)
			}
			continue
		}
		if err := queue.Ack(ctx, job, ""); err != nil {
			logger.ErrorContext(ctx, "function worker: ack failed", "job_id", job.JobID, "error", err)
		}
	}
}

func dispatchJob(ctx context.Context, executor *Executor, resolver FunctionResolver, notifier DoneNotifier, job *coretypes.Job) error {
	if job.Kind != coretypes.JobFunction {
		return &unknownJobKindError{Kind: job.Kind}
	}

	var payload coretypes.FunctionJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return err
	}

	fn, err := resolver.GetFunction(ctx, payload.FunctionNamespace, payload.FunctionName)
	if err != nil {
		return err
	}

	var rec *coretypes.ExecutionRecord
	if len(payload.ResumeData) > 0 {
		rec, err = executor.ResumeFunction(ctx, *fn, payload.ExecutionID, payload.ResumeData)
	} else {
		rec, err = executor.ExecuteFunction(ctx, *fn, payload.InputData, payload.ExecutionID, payload.TriggerType, payload.TriggerID, payload.UserID, payload.ChatID)
	}

	env := doneEnvelopeFor(rec, err)
	executionID := payload.ExecutionID
	if executionID == "" && rec != nil {
		executionID = rec.ExecutionID
	}
	if pubErr := notifier.PublishDone(ctx, executionID, env); pubErr != nil {
		if err == nil {
			return pubErr
		}
	}
	return err
}

// doneEnvelopeFor maps an ExecutionRecord (and any execution error) onto
// the wire envelope EnqueueAndWait callers receive. A paused (awaiting
// input) record is not terminal; a synchronous waiter still unblocks on
// it so callers can surface the pause rather than hang until timeout.
func doneEnvelopeFor(rec *coretypes.ExecutionRecord, err error) coretypes.DoneEnvelope {
	if rec == nil {
		env := coretypes.DoneEnvelope{Status: coretypes.ExecutionFailed}
		if err != nil {
			env.Error = err.Error()
		}
		return env
	}
	env := coretypes.DoneEnvelope{Status: rec.Status, Result: rec.OutputData}
	if rec.Status == coretypes.ExecutionFailed {
		env.Error = rec.Error
	}
	return env
}

type unknownJobKindError struct{ Kind coretypes.JobKind }

func (e *unknownJobKindError) Error() string {
	return "function worker: unrecognized job kind " + string(e.Kind)
}
