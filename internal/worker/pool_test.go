package worker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/core/pkg/coretypes"
)

// fakeDriver mirrors sandbox's test double: in-memory bookkeeping, no
// real containers, so round-robin dispatch and scaling can be verified
// without docker.
type fakeDriver struct {
	mu      sync.Mutex
	running map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{running: make(map[string]bool)}
}

func (f *fakeDriver) Create(ctx context.Context, name string) (string, error) {
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
	return "/tmp/fake-worker/" + name
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

func TestInitializeProvisionsWorkerCount(t *testing.T) {
	d := newFakeDriver()
	cfg := DefaultConfig()
	cfg.WorkerCount = 3
	p := New(cfg, d, nil)
	require.NoError(t, p.Initialize(context.Background()))
	require.Len(t, p.ListWorkers(), 3)
}

func TestInitializeReusesRunningWorkers(t *testing.T) {
	d := newFakeDriver()
	d.running["worker-0"] = true
	cfg := DefaultConfig()
	cfg.WorkerCount = 2
	p := New(cfg, d, nil)
	require.NoError(t, p.Initialize(context.Background()))
	require.Len(t, p.ListWorkers(), 2)

	found := false
	for _, w := range p.ListWorkers() {
		if w == "worker-0" {
			found = true
		}
	}
	require.True(t, found, "pre-existing running worker must be reused, not recreated")
}

func TestScaleGrowsAndShrinks(t *testing.T) {
	d := newFakeDriver()
	cfg := DefaultConfig()
	cfg.WorkerCount = 2
	p := New(cfg, d, nil)
	require.NoError(t, p.Initialize(context.Background()))

	require.NoError(t, p.Scale(context.Background(), 4))
	require.Len(t, p.ListWorkers(), 4)

	require.NoError(t, p.Scale(context.Background(), 1))
	require.Len(t, p.ListWorkers(), 1)
}

func TestExecuteDoesNotRemoveWorkerFromRotation(t *testing.T) {
	d := newFakeDriver()
	cfg := DefaultConfig()
	cfg.WorkerCount = 1
	cfg.FunctionTimeout = 50 * time.Millisecond
	p := New(cfg, d, nil)
	require.NoError(t, p.Initialize(context.Background()))

	// No in-container executor is running in this test, so the IPC
	// handshake never completes; Execute must still time out cleanly
	// and the worker must remain in rotation afterward (no release or
	// recycle step on failure, unlike sandbox.Pool).
	_, err := p.Execute(context.Background(), coretypes.FunctionSpec{Namespace: "ns", Name: "fn"}, []byte(`{}`), "exec-1")
	require.Error(t, err)
	require.Len(t, p.ListWorkers(), 1)
}

func TestReloadPackagesFansOutToEveryWorker(t *testing.T) {
	d := newFakeDriver()
	cfg := DefaultConfig()
	cfg.WorkerCount = 3
	p := New(cfg, d, nil)
	require.NoError(t, p.Initialize(context.Background()))

	var mu sync.Mutex
	seen := make(map[string]bool)
	err := p.ReloadPackages(context.Background(), func(ctx context.Context, name string) error {
		mu.Lock()
		seen[name] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
}
