package agent

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

// RunWorker pops jobs off the agents queue and drives them through
// Engine, one at a time, until ctx is cancelled — the "AgentWorker pops
// job" half of spec.md §2's data-flow diagram. One goroutine per worker;
// callers wanting concurrency run several.
func RunWorker(ctx context.Context, engine *Engine, queue *jobqueue.Queue, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := queue.Dequeue(ctx, coretypes.QueueAgents, DefaultDequeueBlock)
		if err != nil {
			logger.ErrorContext(ctx, "agent worker: dequeue failed", "error", err)
			continue
		}
		if job == nil {
			continue
		}

		if err := dispatchJob(ctx, engine, job); err != nil {
			logger.ErrorContext(ctx, "agent worker: job failed", "job_id", job.JobID, "kind", job.Kind, "error", err)
			if ackErr := queue.Fail(ctx, job, err); ackErr != nil {
				logger.ErrorContext(ctx, "agent worker: fail bookkeeping failed", "job_id", job.JobID, "error", ackErr)
			}
			continue
		}
		if err := queue.Ack(ctx, job, ""); err != nil {
			logger.ErrorContext(ctx, "agent worker: ack failed", "job_id", job.JobID, "error", err)
		}
	}
}

func dispatchJob(ctx context.Context, engine *Engine, job *coretypes.Job) error {
	switch job.Kind {
	case coretypes.JobAgentMessage:
		var payload coretypes.AgentMessageJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		return engine.SendMessage(ctx, payload.ChatID, payload.UserID, payload.ChannelID, payload.Content, "")
	case coretypes.JobAgentResume:
		var payload coretypes.AgentResumeJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		return engine.ResumeAgent(ctx, payload.ApprovalID, payload.Approved, payload.ChannelID)
	default:
		return &unknownJobKindError{Kind: job.Kind}
	}
}

type unknownJobKindError struct{ Kind coretypes.JobKind }

func (e *unknownJobKindError) Error() string {
	return "agent worker: unrecognized job kind " + string(e.Kind)
}
