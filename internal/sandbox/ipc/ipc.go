// Package ipc implements the host/container handshake used by both the
// ContainerPool and the SharedWorkerPool: three files under the
// container's /tmp (exec_request.json, exec_trigger, exec_result.json).
// The protocol is language-neutral — any in-container executor that
// polls for the trigger and writes the result file works, mirroring how
// the sandbox executor in the teacher repo shells a driver rather than
// speaking a bespoke RPC wire format.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nexora-ai/core/pkg/coretypes"
)

const (
	requestFile = "exec_request.json"
	triggerFile = "exec_trigger"
	resultFile  = "exec_result.json"

	pollInterval = 100 * time.Millisecond
)

// Paths returns the three IPC file paths rooted at a container's host-side
// mounted tmp directory.
type Paths struct {
	Request string
	Trigger string
	Result  string
}

// NewPaths builds the IPC file paths for a container whose host-visible
// tmp directory is root.
func NewPaths(root string) Paths {
	return Paths{
		Request: filepath.Join(root, requestFile),
		Trigger: filepath.Join(root, triggerFile),
		Result:  filepath.Join(root, resultFile),
	}
}

// WriteRequest writes the host-to-container envelope, then drops the
// trigger file. Order matters: the in-container executor only starts
// reading once it observes the trigger.
func WriteRequest(p Paths, req *coretypes.ExecRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal exec request: %w", err)
	}
	if err := os.WriteFile(p.Request, data, 0o600); err != nil {
		return fmt.Errorf("write exec request: %w", err)
	}
	if err := os.WriteFile(p.Trigger, []byte{}, 0o600); err != nil {
		return fmt.Errorf("write exec trigger: %w", err)
	}
	return nil
}

// WaitForResult polls for the result file until it appears or ctx is
// done. The host-side deadline is the caller's function_timeout,
// expressed as ctx's deadline.
func WaitForResult(ctx context.Context, p Paths) (*coretypes.ExecResult, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if data, err := os.ReadFile(p.Result); err == nil {
			var res coretypes.ExecResult
			if err := json.Unmarshal(data, &res); err != nil {
				return nil, fmt.Errorf("unmarshal exec result: %w", err)
			}
			return &res, nil
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read exec result: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Clear removes all three IPC files, ignoring not-exist errors. Called
// after every execution regardless of outcome so the next caller to
// acquire this container starts from a clean handshake.
func Clear(p Paths) error {
	for _, f := range []string{p.Request, p.Trigger, p.Result} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear %s: %w", f, err)
		}
	}
	return nil
}

// WaitForTrigger is the in-container side of the handshake: block in a
// 100ms poll loop until the trigger file appears, then return. Provided
// for in-container executor implementations built against this module;
// the host-side driver never calls it.
func WaitForTrigger(ctx context.Context, p Paths) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(p.Trigger); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
