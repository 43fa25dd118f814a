package coretypes

import (
	"encoding/json"
	"time"
)

// QueueName identifies one of the two durable queues, each with its own
// concurrency limit.
type QueueName string

const (
	QueueFunctions QueueName = "functions"
	QueueAgents    QueueName = "agents"
)

// JobKind distinguishes the payload shape carried by a Job.
type JobKind string

const (
	JobFunction     JobKind = "function"
	JobAgentMessage JobKind = "agent_message"
	JobAgentResume  JobKind = "agent_resume"
)

// JobStatus is the lifecycle state of a queued Job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is a unit of queued work. Exactly one worker may transition a job
// from queued to running at a time; after queue_max_retries failed
// attempts, or after one non-retryable failure, the payload is pushed to
// the dead-letter sink.
type Job struct {
	JobID       string          `json:"job_id"`
	Queue       QueueName       `json:"queue"`
	Kind        JobKind         `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	Status      JobStatus       `json:"status"`
	ChannelID   string          `json:"channel_id,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	DeferUntil  *time.Time      `json:"defer_until,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// FunctionJobPayload is the payload shape for JobFunction.
type FunctionJobPayload struct {
	FunctionNamespace string          `json:"function_namespace"`
	FunctionName      string          `json:"function_name"`
	InputData         json.RawMessage `json:"input_data"`
	ExecutionID       string          `json:"execution_id"`
	TriggerType       TriggerType     `json:"trigger_type"`
	TriggerID         string          `json:"trigger_id,omitempty"`
	UserID            string          `json:"user_id"`
	ChatID            string          `json:"chat_id,omitempty"`
	ResumeData        json.RawMessage `json:"resume_data,omitempty"`
}

// AgentMessageJobPayload is the payload shape for JobAgentMessage.
type AgentMessageJobPayload struct {
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	UserToken string `json:"user_token"`
	Content   string `json:"content"`
	ChannelID string `json:"channel_id"`
}

// AgentResumeJobPayload is the payload shape for JobAgentResume.
type AgentResumeJobPayload struct {
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
	ChannelID  string `json:"channel_id"`
}

// DeadLetterEntry is one row in the dead-letter sink.
type DeadLetterEntry struct {
	JobID    string          `json:"job_id"`
	Queue    QueueName       `json:"queue"`
	Spec     json.RawMessage `json:"spec"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failed_at"`
}

// StatusRecord is the wire shape stored at job:status:<job_id>.
type StatusRecord struct {
	Status      JobStatus `json:"status"`
	ExecutionID string    `json:"execution_id,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
	Queue       QueueName `json:"queue"`
	Kind        JobKind   `json:"kind"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Error       string    `json:"error,omitempty"`
}

// DoneEnvelope is published once per execution on job:done:<execution_id>.
type DoneEnvelope struct {
	Status ExecutionStatus `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
