package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeDriver is an in-memory Driver double: no real containers, just
// bookkeeping, so the pool's own concurrency logic can be exercised
// without docker.
type fakeDriver struct {
	mu        sync.Mutex
	running   map[string]bool
	createErr error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{running: make(map[string]bool)}
}

func (f *fakeDriver) Create(ctx context.Context, name string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = true
	return name, nil
}

func (f *fakeDriver) Running(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name], nil
}

func (f *fakeDriver) HostTmpDir(name string) string {
	return "/tmp/fake-sandbox/" + name
}

func (f *fakeDriver) Destroy(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, name)
	return nil
}

func (f *fakeDriver) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.running {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinSize = 2
	cfg.MaxSize = 2
	cfg.MinIdle = 1
	cfg.AcquireTimeout = 200 * time.Millisecond
	cfg.ReplenishInterval = time.Hour
	cfg.HealthInterval = time.Hour
	return cfg
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	d := newFakeDriver()
	p := New(testConfig(), d, nil)
	require.NoError(t, p.Initialize(context.Background()))

	stats := p.Stats()
	require.Equal(t, 2, stats.Idle)
	require.Equal(t, 0, stats.InUse)

	c, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, c.Name)

	stats = p.Stats()
	require.Equal(t, 1, stats.Idle)
	require.Equal(t, 1, stats.InUse)

	p.Release(context.Background(), c.Name, false)

	stats = p.Stats()
	require.Equal(t, 2, stats.Idle)
	require.Equal(t, 0, stats.InUse)
}

func TestAcquireExhaustionTimesOut(t *testing.T) {
	d := newFakeDriver()
	cfg := testConfig()
	cfg.MaxSize = 1
	cfg.MinSize = 1
	p := New(cfg, d, nil)
	require.NoError(t, p.Initialize(context.Background()))

	c, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), 50*time.Millisecond)
	require.Error(t, err)

	p.Release(context.Background(), c.Name, false)
}

func TestPoolNeverExceedsMaxSize(t *testing.T) {
	d := newFakeDriver()
	cfg := testConfig()
	cfg.MinSize = 3
	cfg.MaxSize = 3
	cfg.MinIdle = 1
	p := New(cfg, d, nil)
	require.NoError(t, p.Initialize(context.Background()))

	var held []string
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background(), time.Second)
		require.NoError(t, err)
		held = append(held, c.Name)
		stats := p.Stats()
		require.LessOrEqual(t, stats.Idle+stats.InUse, cfg.MaxSize)
	}

	for _, name := range held {
		p.Release(context.Background(), name, false)
	}
}

func TestTaintedReleaseDestroysContainer(t *testing.T) {
	d := newFakeDriver()
	p := New(testConfig(), d, nil)
	require.NoError(t, p.Initialize(context.Background()))

	c, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	p.Release(context.Background(), c.Name, true)

	running, err := d.Running(context.Background(), c.Name)
	require.NoError(t, err)
	require.False(t, running, "tainted container must be destroyed, not recycled")
}

func TestExecutionBudgetForcesRecycle(t *testing.T) {
	d := newFakeDriver()
	cfg := testConfig()
	cfg.MaxExecutions = 2
	p := New(cfg, d, nil)
	require.NoError(t, p.Initialize(context.Background()))

	var name string
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background(), time.Second)
		require.NoError(t, err)
		name = c.Name

		p.mu.Lock()
		if ic, ok := p.inUse[c.Name]; ok {
			ic.Executions++
		}
		p.mu.Unlock()

		tainted := false
		p.Release(context.Background(), c.Name, tainted)
	}

	// after two executions on the same name the third release must have
	// destroyed it instead of returning it to idle with executions > max.
	p.mu.Lock()
	var stillIdle bool
	for _, c := range p.idle {
		if c.Name == name && c.Executions > cfg.MaxExecutions {
			stillIdle = true
		}
	}
	p.mu.Unlock()
	require.False(t, stillIdle, "no idle container may exceed pool_max_executions")
}

func TestDiscoveryReusesRunningContainers(t *testing.T) {
	d := newFakeDriver()
	d.running["pool-0"] = true
	d.running["pool-1"] = true

	p := New(testConfig(), d, nil)
	require.NoError(t, p.Initialize(context.Background()))

	stats := p.Stats()
	require.GreaterOrEqual(t, stats.Idle, 2, "pre-existing running containers must be reused on discovery")

	// nextID must continue past the highest discovered suffix.
	require.Equal(t, 2, p.nextID)
}

func TestConcurrentAcquireReleaseRespectsCapacity(t *testing.T) {
	d := newFakeDriver()
	cfg := testConfig()
	cfg.MinSize = 4
	cfg.MaxSize = 4
	cfg.MinIdle = 1
	cfg.AcquireTimeout = 2 * time.Second
	p := New(cfg, d, nil)
	require.NoError(t, p.Initialize(context.Background()))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Acquire(context.Background(), cfg.AcquireTimeout)
			if err != nil {
				errs <- fmt.Errorf("acquire %d: %w", i, err)
				return
			}
			stats := p.Stats()
			if stats.Idle+stats.InUse > cfg.MaxSize {
				errs <- fmt.Errorf("pool exceeded max size: %+v", stats)
			}
			time.Sleep(time.Millisecond)
			p.Release(context.Background(), c.Name, false)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
