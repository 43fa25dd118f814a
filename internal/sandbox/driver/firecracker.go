//go:build linux

package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"
)

// firecrackerAvailable is checked once per process — mirrors the teacher's
// InitFirecrackerBackend/sync.Once seam so the firecracker-go-sdk import
// stays isolated to this file and a missing binary never blocks pool
// startup (microVM isolation is strictly additive to docker).
var (
	firecrackerOnce      sync.Once
	firecrackerAvailable bool
)

// NewFirecrackerDriver returns a Driver backed by Firecracker microVMs
// when the firecracker binary is on PATH, falling back to the docker
// driver otherwise.
func NewFirecrackerDriver(image, hostRoot string, limits Limits) Driver {
	firecrackerOnce.Do(func() {
		_, err := exec.LookPath("firecracker")
		firecrackerAvailable = err == nil
	})
	if !firecrackerAvailable {
		return NewDockerDriver(image, hostRoot, limits)
	}
	return &firecrackerDriver{
		rootfsImage: image,
		hostRoot:    hostRoot,
		limits:      limits,
		machines:    make(map[string]*firecracker.Machine),
	}
}

// firecrackerDriver adapts github.com/firecracker-microvm/firecracker-go-sdk's
// Machine lifecycle to the pool's narrow Driver contract, the same shape the
// teacher's MicroVM type adapts the SDK to its own RuntimeExecutor.
type firecrackerDriver struct {
	rootfsImage string
	hostRoot    string
	limits      Limits

	mu       sync.Mutex
	machines map[string]*firecracker.Machine
}

func (f *firecrackerDriver) vmDir(name string) string {
	return filepath.Join(f.hostRoot, name)
}

func (f *firecrackerDriver) Create(ctx context.Context, name string) (string, error) {
	workDir := f.vmDir(name)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("firecracker: create work dir: %w", err)
	}
	socketPath := filepath.Join(workDir, "api.sock")

	cfg := firecracker.Config{
		SocketPath:      socketPath,
		LogPath:         filepath.Join(workDir, "vm.log"),
		LogLevel:        "Warning",
		KernelImagePath: filepath.Join(f.rootfsImage, "vmlinux"),
		KernelArgs:      "console=ttyS0 reboot=k panic=1 pci=off",
		Drives: []models.Drive{
			{
				DriveID:      firecracker.String("rootfs"),
				PathOnHost:   firecracker.String(filepath.Join(f.rootfsImage, "rootfs.ext4")),
				IsRootDevice: firecracker.Bool(true),
				IsReadOnly:   firecracker.Bool(false),
			},
		},
		MachineCfg: models.MachineConfiguration{
			VcpuCount:  firecracker.Int64(cpusFromMillicores(f.limits.CPUMillicores)),
			MemSizeMib: firecracker.Int64(int64(f.limits.MemoryMB)),
			Smt:        firecracker.Bool(false),
		},
		VsockDevices: []firecracker.VsockDevice{
			{Path: filepath.Join(workDir, "vsock.sock"), CID: 3},
		},
	}

	cmd := firecracker.VMCommandBuilder{}.
		WithSocketPath(socketPath).
		Build(ctx)

	machine, err := firecracker.NewMachine(ctx, cfg, firecracker.WithProcessRunner(cmd))
	if err != nil {
		return "", fmt.Errorf("firecracker: build machine: %w", err)
	}
	if err := machine.Start(ctx); err != nil {
		return "", fmt.Errorf("firecracker: start machine: %w", err)
	}

	f.mu.Lock()
	f.machines[name] = machine
	f.mu.Unlock()

	return name, nil
}

func (f *firecrackerDriver) Running(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	machine, ok := f.machines[name]
	f.mu.Unlock()
	if !ok {
		return false, nil
	}
	pid, err := machine.PID()
	if err != nil {
		return false, nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	return proc.Signal(syscall.Signal(0)) == nil, nil
}

func (f *firecrackerDriver) HostTmpDir(name string) string {
	return filepath.Join(f.vmDir(name), "rootfs-tmp")
}

func (f *firecrackerDriver) Destroy(ctx context.Context, name string) error {
	f.mu.Lock()
	machine, ok := f.machines[name]
	delete(f.machines, name)
	f.mu.Unlock()
	if !ok {
		return os.RemoveAll(f.vmDir(name))
	}
	if err := machine.StopVMM(); err != nil {
		return fmt.Errorf("firecracker: stop vmm %s: %w", name, err)
	}
	return os.RemoveAll(f.vmDir(name))
}

func (f *firecrackerDriver) List(ctx context.Context, namePrefix string) ([]string, error) {
	entries, err := os.ReadDir(f.hostRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("firecracker: list work dirs: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) >= len(namePrefix) && e.Name()[:len(namePrefix)] == namePrefix {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// cpusFromMillicores rounds millicore CPU limits up to whole vCPUs, the
// smallest unit Firecracker's MachineConfiguration accepts.
func cpusFromMillicores(millicores int) int64 {
	if millicores <= 0 {
		return 1
	}
	cpus := int64((millicores + 999) / 1000)
	if cpus < 1 {
		return 1
	}
	return cpus
}
