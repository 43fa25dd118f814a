// Package coretypes holds the wire-level domain types shared across the
// sandbox, job queue, and agent packages. Types here carry no behavior;
// they are plain JSON-tagged structs, mirroring how the rest of the
// codebase keeps domain shapes free of storage or transport coupling.
package coretypes

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the lifecycle state of an ExecutionRecord.
type ExecutionStatus string

const (
	ExecutionPending       ExecutionStatus = "pending"
	ExecutionRunning       ExecutionStatus = "running"
	ExecutionAwaitingInput ExecutionStatus = "awaiting_input"
	ExecutionCompleted     ExecutionStatus = "completed"
	ExecutionFailed        ExecutionStatus = "failed"
)

// TriggerType identifies what caused a function invocation.
type TriggerType string

const (
	TriggerAPI      TriggerType = "api"
	TriggerAgent    TriggerType = "agent"
	TriggerSchedule TriggerType = "schedule"
	TriggerWebhook  TriggerType = "webhook"
	TriggerManual   TriggerType = "manual"
)

// ExecutionRecord is the durable row tracking one function invocation from
// pending through to a terminal state. execution_id is stable across
// retries: the executor is idempotent for repeated attempts against the
// same id.
type ExecutionRecord struct {
	ExecutionID       string          `json:"execution_id"`
	FunctionNamespace string          `json:"function_namespace"`
	FunctionName      string          `json:"function_name"`
	TriggerType       TriggerType     `json:"trigger_type"`
	TriggerID         string          `json:"trigger_id,omitempty"`
	UserID            string          `json:"user_id"`
	ChatID            string          `json:"chat_id,omitempty"`
	Status            ExecutionStatus `json:"status"`
	InputData         json.RawMessage `json:"input_data"`
	OutputData        json.RawMessage `json:"output_data,omitempty"`
	Error             string          `json:"error,omitempty"`
	Traceback         string          `json:"traceback,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	DurationMS        int64           `json:"duration_ms,omitempty"`

	// GeneratorState is an opaque cursor for a paused, resumable function.
	// It is never interpreted by the executor itself; it is handed back to
	// the function on resume.
	GeneratorState json.RawMessage `json:"generator_state,omitempty"`

	// AwaitingPrompt/AwaitingSchema hold the pause payload while
	// Status == ExecutionAwaitingInput.
	AwaitingPrompt string          `json:"awaiting_prompt,omitempty"`
	AwaitingSchema json.RawMessage `json:"awaiting_schema,omitempty"`
}

// CanTransitionTo reports whether the FSM in the data model section allows
// moving from the record's current status to next.
func (r *ExecutionRecord) CanTransitionTo(next ExecutionStatus) bool {
	switch r.Status {
	case ExecutionPending:
		return next == ExecutionRunning
	case ExecutionRunning:
		return next == ExecutionCompleted || next == ExecutionFailed || next == ExecutionAwaitingInput
	case ExecutionAwaitingInput:
		return next == ExecutionRunning
	default:
		return false
	}
}

// PauseResult is what a resumable function returns to suspend execution
// instead of completing. The function author opts into resumability by
// accepting a cursor parameter and returning this shape when more input is
// needed; see the Executor pause/resume algorithm.
type PauseResult struct {
	Prompt string          `json:"prompt"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Cursor json.RawMessage `json:"cursor"`
}

// FunctionResult is the normal (non-paused) return shape from a sandboxed
// or shared-worker function invocation.
type FunctionResult struct {
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Traceback   string          `json:"traceback,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	Pause       *PauseResult    `json:"pause,omitempty"`
	TimedOut    bool            `json:"timed_out,omitempty"`
}
