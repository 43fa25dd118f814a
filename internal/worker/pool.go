// Package worker implements the SharedWorkerPool: a small, fixed set of
// long-running trusted containers picked round-robin for functions
// marked shared_pool=true. Unlike sandbox.Pool, workers are never
// scrubbed or recycled between calls — only by an explicit admin Scale
// or process restart — because they host platform-owned code that does
// not need post-call isolation.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexora-ai/core/internal/nexerr"
	"github.com/nexora-ai/core/internal/sandbox/driver"
	"github.com/nexora-ai/core/internal/sandbox/ipc"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// Config holds the worker count and per-call timeout.
type Config struct {
	NamePrefix      string
	WorkerCount     int
	FunctionTimeout time.Duration
}

// DefaultConfig mirrors the configuration table's default_worker_count.
func DefaultConfig() Config {
	return Config{NamePrefix: "worker", WorkerCount: 3, FunctionTimeout: 30 * time.Second}
}

// Pool is the SharedWorkerPool.
type Pool struct {
	cfg    Config
	driver driver.Driver
	logger *slog.Logger

	mu      sync.RWMutex
	workers []string
	next    uint64
}

// New constructs a worker Pool. Call Initialize to provision workers.
func New(cfg Config, d driver.Driver, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{cfg: cfg, driver: d, logger: logger}
}

// Initialize discovers existing workers and creates any missing up to
// WorkerCount, reusing live containers across a leader restart the same
// way sandbox.Pool.Initialize does.
func (p *Pool) Initialize(ctx context.Context) error {
	names, err := p.driver.List(ctx, p.cfg.NamePrefix+"-")
	if err != nil {
		return nexerr.Wrap(nexerr.Infrastructure, "worker", err)
	}

	p.mu.Lock()
	for _, name := range names {
		if running, _ := p.driver.Running(ctx, name); running {
			p.workers = append(p.workers, name)
		}
	}
	existing := len(p.workers)
	p.mu.Unlock()

	for i := existing; i < p.cfg.WorkerCount; i++ {
		name := fmt.Sprintf("%s-%d", p.cfg.NamePrefix, i)
		if _, err := p.driver.Create(ctx, name); err != nil {
			return nexerr.Wrap(nexerr.Infrastructure, "worker", err)
		}
		p.mu.Lock()
		p.workers = append(p.workers, name)
		p.mu.Unlock()
	}
	return nil
}

// ListWorkers returns the current worker container names.
func (p *Pool) ListWorkers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.workers))
	copy(out, p.workers)
	return out
}

// Scale grows or shrinks the worker set to n, creating or destroying
// containers as needed.
func (p *Pool) Scale(ctx context.Context, n int) error {
	p.mu.Lock()
	current := len(p.workers)
	p.mu.Unlock()

	if n > current {
		for i := current; i < n; i++ {
			name := fmt.Sprintf("%s-%d", p.cfg.NamePrefix, i)
			if _, err := p.driver.Create(ctx, name); err != nil {
				return nexerr.Wrap(nexerr.Infrastructure, "worker", err)
			}
			p.mu.Lock()
			p.workers = append(p.workers, name)
			p.mu.Unlock()
		}
		return nil
	}

	p.mu.Lock()
	toRemove := p.workers[n:]
	p.workers = p.workers[:n]
	p.mu.Unlock()
	for _, name := range toRemove {
		if err := p.driver.Destroy(ctx, name); err != nil {
			p.logger.Warn("scale down: destroy failed", "name", name, "error", err)
		}
	}
	return nil
}

// ReloadPackages installs the full approved package set into every
// worker. Package provisioning mechanics are a driver/image concern;
// this just fans the callback out to every managed worker.
func (p *Pool) ReloadPackages(ctx context.Context, reload func(ctx context.Context, workerName string) error) error {
	for _, name := range p.ListWorkers() {
		if err := reload(ctx, name); err != nil {
			return nexerr.Wrap(nexerr.Infrastructure, "worker", err)
		}
	}
	return nil
}

// Execute picks the next worker round-robin and runs the same file-based
// IPC handshake as sandbox.Pool.Execute, but does not release or scrub
// the container afterward.
func (p *Pool) Execute(ctx context.Context, spec coretypes.FunctionSpec, input []byte, executionID string) (*coretypes.ExecResult, error) {
	p.mu.RLock()
	n := len(p.workers)
	p.mu.RUnlock()
	if n == 0 {
		return nil, nexerr.New(nexerr.Infrastructure, "worker", "no workers provisioned")
	}
	idx := atomic.AddUint64(&p.next, 1) % uint64(n)
	p.mu.RLock()
	name := p.workers[idx]
	p.mu.RUnlock()

	timeout := p.cfg.FunctionTimeout
	if spec.TimeoutSec > 0 {
		timeout = time.Duration(spec.TimeoutSec) * time.Second
	}

	paths := ipc.NewPaths(p.driver.HostTmpDir(name))
	req := &coretypes.ExecRequest{
		Action:            coretypes.IPCExecute,
		ExecutionID:       executionID,
		FunctionCode:      spec.Code,
		FunctionNamespace: spec.Namespace,
		FunctionName:      spec.Name,
		InputData:         input,
	}
	if err := ipc.WriteRequest(paths, req); err != nil {
		return nil, nexerr.Wrap(nexerr.Infrastructure, "worker", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := ipc.WaitForResult(execCtx, paths)
	_ = ipc.Clear(paths)
	if err != nil {
		if execCtx.Err() != nil {
			return nil, nexerr.New(nexerr.Timeout, "worker", "execution timed out")
		}
		return nil, nexerr.Wrap(nexerr.Infrastructure, "worker", err)
	}
	return result, nil
}
