// Package jobqueue implements the durable, at-least-once job queue and
// worker dispatch backbone: two named queues (functions, agents) backed
// by Redis lists, a delayed-retry sorted set promoted by a background
// loop, a dead-letter sink for exhausted retries, and pub/sub-based
// status/result delivery for EnqueueAndWait callers.
//
// Reliability follows the standard Redis "reliable queue" idiom: queue
// and processing lists carry only a job_id, with the job body stored
// once under its own key, so Dequeue's BRPOPLPUSH move is a stable,
// repeatable value regardless of how many times the job's status or
// attempt count changes afterward. A crash between dequeue and Ack
// never loses the job; a reaper loop promotes delayed entries whose
// backoff has elapsed back onto the live queue.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nexora-ai/core/internal/backoff"
	"github.com/nexora-ai/core/internal/nexerr"
	"github.com/nexora-ai/core/pkg/coretypes"
)

const keyPrefix = "nexora"

func queueKey(q coretypes.QueueName) string      { return fmt.Sprintf("%s:queue:%s", keyPrefix, q) }
func processingKey(q coretypes.QueueName) string { return fmt.Sprintf("%s:queue:%s:processing", keyPrefix, q) }
func delayedKey(q coretypes.QueueName) string    { return fmt.Sprintf("%s:queue:%s:delayed", keyPrefix, q) }
func dlqKey(q coretypes.QueueName) string        { return fmt.Sprintf("%s:dlq:%s", keyPrefix, q) }
func statusKey(jobID string) string              { return fmt.Sprintf("%s:job:status:%s", keyPrefix, jobID) }
func jobDataKey(jobID string) string             { return fmt.Sprintf("%s:job:data:%s", keyPrefix, jobID) }
func doneChannel(executionID string) string      { return fmt.Sprintf("%s:job:done:%s", keyPrefix, executionID) }
func streamChannel(channelID string) string      { return fmt.Sprintf("%s:stream:%s", keyPrefix, channelID) }

// Config tunes retry behavior and status visibility.
type Config struct {
	MaxRetries        int
	StatusTTL         time.Duration
	VisibilityTimeout time.Duration
	ReaperInterval    time.Duration
	Backoff           backoff.BackoffPolicy
}

// DefaultConfig matches the configuration table's queue_max_retries
// and status visibility defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		StatusTTL:         24 * time.Hour,
		VisibilityTimeout: 2 * time.Minute,
		ReaperInterval:    30 * time.Second,
		Backoff:           backoff.DefaultPolicy(),
	}
}

// Queue is the durable job queue and dispatch backbone.
type Queue struct {
	rdb    *redis.Client
	cfg    Config
	logger *slog.Logger
}

// New constructs a Queue over an existing redis client.
func New(rdb *redis.Client, cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{rdb: rdb, cfg: cfg, logger: logger}
}

func (q *Queue) enqueue(ctx context.Context, queue coretypes.QueueName, kind coretypes.JobKind, channelID string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", nexerr.Wrap(nexerr.ValidationError, "jobqueue", err)
	}
	jobID := uuid.New().String()
	job := coretypes.Job{
		JobID:      jobID,
		Queue:      queue,
		Kind:       kind,
		Payload:    raw,
		Attempt:    0,
		Status:     coretypes.JobQueued,
		ChannelID:  channelID,
		EnqueuedAt: time.Now(),
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, jobDataKey(jobID), mustJSON(job), q.cfg.StatusTTL)
	pipe.LPush(ctx, queueKey(queue), jobID)
	pipe.Set(ctx, statusKey(jobID), mustJSON(coretypes.StatusRecord{
		Status: coretypes.JobQueued, Queue: queue, Kind: kind, EnqueuedAt: job.EnqueuedAt, ChannelID: channelID,
	}), q.cfg.StatusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
	}
	return jobID, nil
}

// EnqueueFunction pushes a function invocation job onto the functions queue.
func (q *Queue) EnqueueFunction(ctx context.Context, payload coretypes.FunctionJobPayload) (string, error) {
	return q.enqueue(ctx, coretypes.QueueFunctions, coretypes.JobFunction, payload.ChatID, payload)
}

// EnqueueAgentMessage pushes a new chat turn onto the agents queue.
func (q *Queue) EnqueueAgentMessage(ctx context.Context, payload coretypes.AgentMessageJobPayload) (string, error) {
	return q.enqueue(ctx, coretypes.QueueAgents, coretypes.JobAgentMessage, payload.ChannelID, payload)
}

// EnqueueAgentResume pushes an approval decision onto the agents queue to
// resume a paused conversation turn.
func (q *Queue) EnqueueAgentResume(ctx context.Context, payload coretypes.AgentResumeJobPayload) (string, error) {
	return q.enqueue(ctx, coretypes.QueueAgents, coretypes.JobAgentResume, payload.ChannelID, payload)
}

// EnqueueAndWait enqueues a function job and blocks until its
// job:done:<execution_id> envelope arrives or timeout elapses, mirroring
// the teacher pack's result-stream subscribe-then-publish rendezvous
// (goa-ai's ResultStreamManager.WaitForResult): subscribe first so the
// publish can never race ahead of the subscriber.
func (q *Queue) EnqueueAndWait(ctx context.Context, payload coretypes.FunctionJobPayload, timeout time.Duration) (*coretypes.DoneEnvelope, error) {
	sub := q.rdb.Subscribe(ctx, doneChannel(payload.ExecutionID))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return nil, nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
	}

	if _, err := q.EnqueueFunction(ctx, payload); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-waitCtx.Done():
		return nil, nexerr.New(nexerr.Timeout, "jobqueue", "timed out waiting for job result")
	case msg, ok := <-sub.Channel():
		if !ok {
			return nil, nexerr.New(nexerr.Infrastructure, "jobqueue", "result channel closed unexpectedly")
		}
		var env coretypes.DoneEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			return nil, nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
		}
		return &env, nil
	}
}

// PublishDone publishes the terminal result of an execution so any
// EnqueueAndWait caller subscribed to it unblocks.
func (q *Queue) PublishDone(ctx context.Context, executionID string, env coretypes.DoneEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return nexerr.Wrap(nexerr.ValidationError, "jobqueue", err)
	}
	if err := q.rdb.Publish(ctx, doneChannel(executionID), body).Err(); err != nil {
		return nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
	}
	return nil
}

// PublishStream fans a StreamRelay envelope out to a chat channel's
// subscribers. The jobqueue package owns the wire-level publish; the
// stream package owns subscription bookkeeping and backpressure.
func (q *Queue) PublishStream(ctx context.Context, channelID string, payload []byte) error {
	if err := q.rdb.Publish(ctx, streamChannel(channelID), payload).Err(); err != nil {
		return nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
	}
	return nil
}

// SubscribeStream returns a raw redis subscription for a chat channel;
// the stream package wraps this in its bounded-buffer relay.
func (q *Queue) SubscribeStream(ctx context.Context, channelID string) *redis.PubSub {
	return q.rdb.Subscribe(ctx, streamChannel(channelID))
}

// Dequeue blocks up to blockTimeout for a job_id on queue, atomically
// moving it into the processing list for crash-safe at-least-once
// delivery, then loads the job body.
func (q *Queue) Dequeue(ctx context.Context, queue coretypes.QueueName, blockTimeout time.Duration) (*coretypes.Job, error) {
	jobID, err := q.rdb.BRPopLPush(ctx, queueKey(queue), processingKey(queue), blockTimeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
	}

	raw, err := q.rdb.Get(ctx, jobDataKey(jobID)).Result()
	if err != nil {
		// job data expired or vanished underneath us; drop the orphaned
		// processing-list entry rather than spinning on it forever.
		_ = q.rdb.LRem(ctx, processingKey(queue), 1, jobID).Err()
		return nil, nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
	}
	var job coretypes.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
	}

	job.Status = coretypes.JobRunning
	if err := q.rdb.Set(ctx, jobDataKey(jobID), mustJSON(job), q.cfg.StatusTTL).Err(); err != nil {
		q.logger.Warn("job data update failed", "job_id", jobID, "error", err)
	}
	if err := q.rdb.Set(ctx, statusKey(jobID), mustJSON(coretypes.StatusRecord{
		Status: coretypes.JobRunning, Queue: job.Queue, Kind: job.Kind, EnqueuedAt: job.EnqueuedAt, ChannelID: job.ChannelID,
	}), q.cfg.StatusTTL).Err(); err != nil {
		q.logger.Warn("status update failed", "job_id", jobID, "error", err)
	}
	return &job, nil
}

// Ack removes a completed job from the processing list and records its
// terminal status.
func (q *Queue) Ack(ctx context.Context, job *coretypes.Job, executionID string) error {
	if err := q.rdb.LRem(ctx, processingKey(job.Queue), 1, job.JobID).Err(); err != nil {
		q.logger.Warn("processing list cleanup failed", "job_id", job.JobID, "error", err)
	}
	_ = q.rdb.Del(ctx, jobDataKey(job.JobID)).Err()
	return q.rdb.Set(ctx, statusKey(job.JobID), mustJSON(coretypes.StatusRecord{
		Status: coretypes.JobCompleted, ExecutionID: executionID, Queue: job.Queue, Kind: job.Kind,
		EnqueuedAt: job.EnqueuedAt, ChannelID: job.ChannelID,
	}), q.cfg.StatusTTL).Err()
}

// Fail records a failed attempt. If the cause is retryable
// (nexerr.Retryable) and retries remain it schedules a backoff-delayed
// redelivery via the delayed sorted set (promoted by RunReaper); a
// non-retryable cause or exhausted attempts move the job to the
// dead-letter sink instead.
func (q *Queue) Fail(ctx context.Context, job *coretypes.Job, cause error) error {
	if err := q.rdb.LRem(ctx, processingKey(job.Queue), 1, job.JobID).Err(); err != nil {
		q.logger.Warn("processing list cleanup failed", "job_id", job.JobID, "error", err)
	}

	job.Attempt++
	job.Error = cause.Error()

	if job.Attempt >= q.cfg.MaxRetries || !nexerr.Retryable(cause) {
		entry := coretypes.DeadLetterEntry{
			JobID: job.JobID, Queue: job.Queue, Spec: job.Payload,
			Error: cause.Error(), Attempts: job.Attempt, FailedAt: time.Now(),
		}
		_ = q.rdb.Del(ctx, jobDataKey(job.JobID)).Err()
		if err := q.rdb.LPush(ctx, dlqKey(job.Queue), mustJSON(entry)).Err(); err != nil {
			return nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
		}
		return q.rdb.Set(ctx, statusKey(job.JobID), mustJSON(coretypes.StatusRecord{
			Status: coretypes.JobFailed, Queue: job.Queue, Kind: job.Kind, EnqueuedAt: job.EnqueuedAt,
			ChannelID: job.ChannelID, Error: cause.Error(),
		}), q.cfg.StatusTTL).Err()
	}

	job.Status = coretypes.JobQueued
	if err := q.rdb.Set(ctx, jobDataKey(job.JobID), mustJSON(job), q.cfg.StatusTTL).Err(); err != nil {
		return nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
	}
	readyAt := time.Now().Add(backoff.ComputeBackoff(q.cfg.Backoff, job.Attempt))
	return q.rdb.ZAdd(ctx, delayedKey(job.Queue), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.JobID}).Err()
}

// GetStatus returns the current StatusRecord for a job, or nil if it has
// expired past its TTL.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (*coretypes.StatusRecord, error) {
	raw, err := q.rdb.Get(ctx, statusKey(jobID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
	}
	var rec coretypes.StatusRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
	}
	return &rec, nil
}

// ListDeadLetters returns up to limit entries from a queue's dead-letter
// sink, most recently failed first.
func (q *Queue) ListDeadLetters(ctx context.Context, queue coretypes.QueueName, limit int64) ([]coretypes.DeadLetterEntry, error) {
	raws, err := q.rdb.LRange(ctx, dlqKey(queue), 0, limit-1).Result()
	if err != nil {
		return nil, nexerr.Wrap(nexerr.Infrastructure, "jobqueue", err)
	}
	out := make([]coretypes.DeadLetterEntry, 0, len(raws))
	for _, raw := range raws {
		var e coretypes.DeadLetterEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
