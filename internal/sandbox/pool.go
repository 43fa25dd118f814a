// Package sandbox implements the pooled ContainerPool described in the
// execution core: a warm pool of generic, language-neutral sandbox
// containers that run untrusted code on demand and are recycled when
// tainted or past their execution budget.
//
// The teacher's Pool kept one buffered-channel pool per language and grew
// it lazily on Get. This pool is deliberately different: a single
// generic pool (sandboxes carry no cached user code — see the
// per-call-code-injection design note) guarded by a mutex+condvar pair
// instead of a channel semaphore, so acquire can implement true FIFO
// fairness and the replenisher can broadcast instead of relying on
// buffer slack.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nexora-ai/core/internal/nexerr"
	"github.com/nexora-ai/core/internal/sandbox/driver"
	"github.com/nexora-ai/core/internal/sandbox/ipc"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// Config holds the pool sizing and timing knobs from the configuration
// table (§6.6): pool_min_size, pool_max_size, pool_min_idle,
// pool_max_executions, pool_acquire_timeout, function_timeout.
type Config struct {
	NamePrefix         string
	MinSize            int
	MaxSize            int
	MinIdle            int
	MaxExecutions      int
	AcquireTimeout     time.Duration
	FunctionTimeout    time.Duration
	ReplenishInterval  time.Duration
	HealthInterval     time.Duration
}

// DefaultConfig returns sane defaults matching the teacher's
// executor.Config baseline, resized for the generic-pool semantics.
func DefaultConfig() Config {
	return Config{
		NamePrefix:        "pool",
		MinSize:           2,
		MaxSize:           10,
		MinIdle:           1,
		MaxExecutions:     50,
		AcquireTimeout:    10 * time.Second,
		FunctionTimeout:   30 * time.Second,
		ReplenishInterval: 30 * time.Second,
		HealthInterval:    60 * time.Second,
	}
}

type container struct {
	coretypes.PooledContainer
}

// Pool is the ContainerPool: a warm set of generic sandbox containers
// with blocking acquire/release, background replenishment, and health
// checking.
type Pool struct {
	cfg    Config
	driver driver.Driver
	logger *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*container // FIFO: index 0 is the oldest idle container
	inUse    map[string]*container
	nextID   int
	closed   bool
	replenishSignal chan struct{}

	destroyedTotal int
}

// New constructs a Pool. It does not create any containers; call
// Initialize to discover/seed them.
func New(cfg Config, d driver.Driver, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:             cfg,
		driver:          d,
		logger:          logger,
		inUse:           make(map[string]*container),
		replenishSignal: make(chan struct{}, 1),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Initialize is idempotent: it discovers pre-existing containers whose
// names match the pool's naming scheme, destroys stopped ones (they are
// not restarted), seeds the idle queue with the running ones, then
// scales up to MinSize. It starts the replenish and
// health background loops. Safe to call again after a leader restart —
// existing containers are reused, never recreated.
func (p *Pool) Initialize(ctx context.Context) error {
	names, err := p.driver.List(ctx, p.cfg.NamePrefix+"-")
	if err != nil {
		return nexerr.Wrap(nexerr.Infrastructure, "sandbox", err)
	}

	p.mu.Lock()
	maxSeen := -1
	for _, name := range names {
		suffix := strings.TrimPrefix(name, p.cfg.NamePrefix+"-")
		if n, err := strconv.Atoi(suffix); err == nil && n > maxSeen {
			maxSeen = n
		}
		running, err := p.driver.Running(ctx, name)
		if err != nil {
			p.logger.Warn("discovery: failed to check container status", "name", name, "error", err)
			continue
		}
		if !running {
			// Stopped containers are not restarted: destroy it now and let
			// scaleUp below create a replacement.
			p.logger.Info("discovery: found stopped container, destroying", "name", name)
			p.mu.Unlock()
			p.destroyLocked(ctx, name)
			p.mu.Lock()
			continue
		}
		c := &container{PooledContainer: coretypes.PooledContainer{
			Name: name, CreatedAt: time.Now(), State: coretypes.ContainerIdle,
		}}
		p.idle = append(p.idle, c)
	}
	p.nextID = maxSeen + 1
	p.mu.Unlock()

	if err := p.scaleUp(ctx, p.cfg.MinSize); err != nil {
		p.logger.Warn("initialize: scale up to min size failed", "error", err)
	}

	go p.replenishLoop(ctx)
	go p.healthLoop(ctx)
	return nil
}

func (p *Pool) nextName() string {
	name := fmt.Sprintf("%s-%d", p.cfg.NamePrefix, p.nextID)
	p.nextID++
	return name
}

// scaleUp creates containers until idle+inUse reaches target or MaxSize,
// whichever is smaller.
func (p *Pool) scaleUp(ctx context.Context, target int) error {
	for {
		p.mu.Lock()
		total := len(p.idle) + len(p.inUse)
		if total >= target || total >= p.cfg.MaxSize {
			p.mu.Unlock()
			return nil
		}
		name := p.nextName()
		p.mu.Unlock()

		if _, err := p.driver.Create(ctx, name); err != nil {
			p.logger.Warn("replenish: container creation failed", "name", name, "error", err)
			return nexerr.Wrap(nexerr.Infrastructure, "sandbox", err)
		}

		p.mu.Lock()
		p.idle = append(p.idle, &container{PooledContainer: coretypes.PooledContainer{
			Name: name, CreatedAt: time.Now(), State: coretypes.ContainerIdle,
		}})
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// replenishLoop wakes on a signal or every ReplenishInterval. While
// |idle| < MinIdle and |idle|+|in_use| < MaxSize it creates one container
// at a time, broadcasting after each addition.
func (p *Pool) replenishLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReplenishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.replenishSignal:
		}
		p.replenishOnce(ctx)
	}
}

func (p *Pool) replenishOnce(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		needMore := len(p.idle) < p.cfg.MinIdle && len(p.idle)+len(p.inUse) < p.cfg.MaxSize
		if !needMore {
			p.mu.Unlock()
			return
		}
		name := p.nextName()
		p.mu.Unlock()

		if _, err := p.driver.Create(ctx, name); err != nil {
			p.logger.Warn("replenish loop: creation failed, will retry next wake", "name", name, "error", err)
			return
		}

		p.mu.Lock()
		p.idle = append(p.idle, &container{PooledContainer: coretypes.PooledContainer{
			Name: name, CreatedAt: time.Now(), State: coretypes.ContainerIdle,
		}})
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *Pool) signalReplenish() {
	select {
	case p.replenishSignal <- struct{}{}:
	default:
	}
}

// healthLoop scans idle containers every HealthInterval, destroying any
// the runtime no longer reports as running. in_use containers are never
// health-checked here; a live execution will itself detect failure and
// release tainted.
func (p *Pool) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		candidates := make([]*container, len(p.idle))
		copy(candidates, p.idle)
		p.mu.Unlock()

		for _, c := range candidates {
			running, err := p.driver.Running(ctx, c.Name)
			if err != nil || !running {
				p.mu.Lock()
				p.removeIdleLocked(c.Name)
				p.mu.Unlock()
				p.destroyLocked(ctx, c.Name)
				p.logger.Info("health check: destroyed unhealthy idle container", "name", c.Name)
			}
		}
		p.signalReplenish()
	}
}

func (p *Pool) removeIdleLocked(name string) {
	for i, c := range p.idle {
		if c.Name == name {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}

func (p *Pool) destroyLocked(ctx context.Context, name string) {
	if err := p.driver.Destroy(ctx, name); err != nil {
		p.logger.Warn("destroy container failed", "name", name, "error", err)
	}
	p.mu.Lock()
	p.destroyedTotal++
	p.mu.Unlock()
}

// Acquire removes one container from the idle queue, blocking up to
// timeout while signalling the replenisher if idle is empty. Returns
// PoolExhausted if no container becomes available in time.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*coretypes.PooledContainer, error) {
	deadline := time.Now().Add(timeout)

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.idle) == 0 {
		if p.closed {
			return nil, nexerr.New(nexerr.Infrastructure, "sandbox", "pool closed")
		}
		p.signalReplenish()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nexerr.New(nexerr.PoolExhausted, "sandbox", "acquire timed out waiting for an idle container")
		}

		waitCh := make(chan struct{})
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
			close(waitCh)
		})
		p.cond.Wait()
		timer.Stop()
		select {
		case <-waitCh:
		default:
		}
	}

	c := p.idle[0]
	p.idle = p.idle[1:]
	c.State = coretypes.ContainerInUse
	p.inUse[c.Name] = c

	if len(p.idle) < p.cfg.MinIdle {
		p.signalReplenish()
	}

	cp := c.PooledContainer
	return &cp, nil
}

// Release returns a container to the pool. A tainted container or one
// past MaxExecutions is destroyed instead of being returned to idle; if
// scrubbing its IPC files fails it is treated as tainted.
func (p *Pool) Release(ctx context.Context, name string, tainted bool) {
	p.mu.Lock()
	c, ok := p.inUse[name]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inUse, name)
	p.mu.Unlock()

	mustDestroy := tainted || c.Executions >= p.cfg.MaxExecutions
	if !mustDestroy {
		if err := ipc.Clear(ipc.NewPaths(p.driver.HostTmpDir(name))); err != nil {
			p.logger.Warn("release: scrub failed, tainting", "name", name, "error", err)
			mustDestroy = true
		}
	}

	if mustDestroy {
		p.destroyLocked(ctx, name)
		p.signalReplenish()
		return
	}

	p.mu.Lock()
	c.State = coretypes.ContainerIdle
	p.idle = append(p.idle, c)
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Execute acquires a container, runs the IPC handshake for one function
// invocation, clears the IPC files, and releases — tainted on any error.
func (p *Pool) Execute(ctx context.Context, spec coretypes.FunctionSpec, input []byte, executionID string) (*coretypes.ExecResult, error) {
	timeout := p.cfg.FunctionTimeout
	if spec.TimeoutSec > 0 {
		timeout = time.Duration(spec.TimeoutSec) * time.Second
	}

	c, err := p.Acquire(ctx, p.cfg.AcquireTimeout)
	if err != nil {
		return nil, err
	}

	tainted := true
	defer func() {
		p.mu.Lock()
		if ic, ok := p.inUse[c.Name]; ok {
			ic.Executions++
		}
		p.mu.Unlock()
		p.Release(context.Background(), c.Name, tainted)
	}()

	paths := ipc.NewPaths(p.driver.HostTmpDir(c.Name))
	req := &coretypes.ExecRequest{
		Action:            coretypes.IPCExecute,
		ExecutionID:       executionID,
		FunctionCode:      spec.Code,
		FunctionNamespace: spec.Namespace,
		FunctionName:      spec.Name,
		InputData:         input,
	}
	if err := ipc.WriteRequest(paths, req); err != nil {
		return nil, nexerr.Wrap(nexerr.Infrastructure, "sandbox", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := ipc.WaitForResult(execCtx, paths)
	_ = ipc.Clear(paths)
	if err != nil {
		if execCtx.Err() != nil {
			return nil, nexerr.New(nexerr.Timeout, "sandbox", "execution timed out")
		}
		return nil, nexerr.Wrap(nexerr.Infrastructure, "sandbox", err)
	}

	tainted = false
	return result, nil
}

// Scale adjusts the pool toward target size, creating or destroying idle
// containers as needed.
func (p *Pool) Scale(ctx context.Context, target int) (added, removed int, err error) {
	p.mu.Lock()
	total := len(p.idle) + len(p.inUse)
	p.mu.Unlock()

	if target > total {
		before := total
		if scaleErr := p.scaleUp(ctx, target); scaleErr != nil {
			err = scaleErr
		}
		p.mu.Lock()
		added = len(p.idle) + len(p.inUse) - before
		p.mu.Unlock()
		return added, 0, err
	}

	toRemove := total - target
	for i := 0; i < toRemove; i++ {
		p.mu.Lock()
		if len(p.idle) == 0 {
			p.mu.Unlock()
			break
		}
		c := p.idle[0]
		p.idle = p.idle[1:]
		p.mu.Unlock()
		p.destroyLocked(ctx, c.Name)
		removed++
	}
	return 0, removed, nil
}

// ReloadPackages is an admin operation that re-provisions every idle
// container's approved package set. The core's contract only requires
// that every idle container observe the reload; how packages land inside
// a container is a driver/image concern this pool does not own.
func (p *Pool) ReloadPackages(ctx context.Context, reload func(ctx context.Context, containerName string) error) error {
	p.mu.Lock()
	names := make([]string, len(p.idle))
	for i, c := range p.idle {
		names[i] = c.Name
	}
	p.mu.Unlock()

	for _, name := range names {
		if err := reload(ctx, name); err != nil {
			return nexerr.Wrap(nexerr.Infrastructure, "sandbox", err)
		}
	}
	return nil
}

// Stats reports the current pool occupancy.
func (p *Pool) Stats() coretypes.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return coretypes.PoolStats{
		Idle:      len(p.idle),
		InUse:     len(p.inUse),
		MaxSize:   p.cfg.MaxSize,
		MinIdle:   p.cfg.MinIdle,
		Destroyed: p.destroyedTotal,
	}
}

// Shutdown destroys every managed container, idle or in use.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	all := append([]*container{}, p.idle...)
	for _, c := range p.inUse {
		all = append(all, c)
	}
	p.idle = nil
	p.inUse = make(map[string]*container)
	p.cond.Broadcast()
	p.mu.Unlock()

	var firstErr error
	for _, c := range all {
		if err := p.driver.Destroy(ctx, c.Name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
