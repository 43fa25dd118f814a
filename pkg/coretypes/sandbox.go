package coretypes

import (
	"encoding/json"
	"time"
)

// ContainerState is where a PooledContainer sits in the pool FSM:
// (none) -> idle -> in_use -> idle, with a side exit to destroying from
// either idle (failed health check) or in_use (tainted release / budget
// exhausted).
type ContainerState string

const (
	ContainerIdle       ContainerState = "idle"
	ContainerInUse      ContainerState = "in_use"
	ContainerDestroying ContainerState = "destroying"
)

// PooledContainer is one entry managed by the sandbox ContainerPool or the
// trusted SharedWorkerPool.
type PooledContainer struct {
	Name        string         `json:"name"`
	ContainerID string         `json:"container_id"`
	Executions  int            `json:"executions"`
	CreatedAt   time.Time      `json:"created_at"`
	State       ContainerState `json:"state"`
	Tainted     bool           `json:"tainted"`
}

// FunctionSpec is the minimal shape the sandbox and worker pools need to
// run a function: its source, target language, and resource caps. It is
// sourced from a resources.Function record by the Executor.
type FunctionSpec struct {
	Namespace   string `json:"namespace"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	Code        string `json:"code"`
	SharedPool  bool   `json:"shared_pool"`
	TimeoutSec  int    `json:"timeout_sec"`
	CPULimit    int    `json:"cpu_limit"`
	MemLimitMB  int    `json:"mem_limit_mb"`
}

// IPCAction is the action field of an exec_request.json envelope.
type IPCAction string

const (
	IPCExecuteInline  IPCAction = "execute_inline"
	IPCExecute        IPCAction = "execute"
	IPCLoadFunctions  IPCAction = "load_functions"
)

// ExecRequest is the host-to-container envelope written to
// exec_request.json before the trigger file is dropped.
type ExecRequest struct {
	Action            IPCAction       `json:"action"`
	ExecutionID       string          `json:"execution_id"`
	FunctionCode      string          `json:"function_code,omitempty"`
	FunctionNamespace string          `json:"function_namespace"`
	FunctionName      string          `json:"function_name"`
	InputData         json.RawMessage `json:"input_data"`
	ResumeData        json.RawMessage `json:"resume_data,omitempty"`
	Cursor            json.RawMessage `json:"cursor,omitempty"`
	Context           json.RawMessage `json:"context,omitempty"`
}

// ExecResult is the container-to-host envelope written to
// exec_result.json once the in-container executor finishes.
type ExecResult struct {
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Traceback   string          `json:"traceback,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	ExecutionID string          `json:"execution_id"`
	Pause       *PauseResult    `json:"pause,omitempty"`
}

// PoolStats is returned by ContainerPool.Stats / SharedWorkerPool list ops.
type PoolStats struct {
	Idle       int `json:"idle"`
	InUse      int `json:"in_use"`
	MaxSize    int `json:"max_size"`
	MinIdle    int `json:"min_idle"`
	Destroyed  int `json:"destroyed_total"`
}
