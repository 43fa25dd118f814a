package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DockerDriver runs each pool container as a long-lived `docker run -d`
// process idling on a sleep loop, with its /tmp bind-mounted to a
// host-side scratch directory so the IPC protocol files are visible to
// both sides of the handshake. Grounded on the teacher's os/exec-shelled
// dockerExecutor: no Docker SDK dependency, same resource-limit flags.
type DockerDriver struct {
	image     string
	limits    Limits
	hostRoot  string
}

// NewDockerDriver builds a docker driver. hostRoot is where per-container
// tmp directories are created on the host filesystem.
func NewDockerDriver(image, hostRoot string, limits Limits) *DockerDriver {
	return &DockerDriver{image: image, limits: limits, hostRoot: hostRoot}
}

func (d *DockerDriver) HostTmpDir(name string) string {
	return filepath.Join(d.hostRoot, name)
}

func (d *DockerDriver) Create(ctx context.Context, name string) (string, error) {
	tmpDir := d.HostTmpDir(name)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create host tmp dir: %w", err)
	}

	args := []string{"run", "-d", "--name", name}
	if d.limits.NetworkMode == "" || d.limits.NetworkMode == "none" {
		args = append(args, "--network", "none")
	} else {
		args = append(args, "--network", d.limits.NetworkMode)
	}
	args = append(args,
		"--cpus", fmt.Sprintf("%.2f", float64(d.limits.CPUMillicores)/1000.0),
		"--memory", fmt.Sprintf("%dm", d.limits.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", d.limits.MemoryMB),
		"--pids-limit", "256",
		"--ulimit", "nofile=1024:1024",
		"-v", fmt.Sprintf("%s:/tmp", tmpDir),
	)
	args = append(args, d.image, "sleep", "infinity")

	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker run: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (d *DockerDriver) Running(ctx context.Context, name string) (bool, error) {
	out, err := exec.CommandContext(ctx, "docker", "inspect", "-f", "{{.State.Running}}", name).CombinedOutput()
	if err != nil {
		return false, nil // container gone or inspect failed: treat as not running
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

func (d *DockerDriver) Destroy(ctx context.Context, name string) error {
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", name).Run()
	return os.RemoveAll(d.HostTmpDir(name))
}

func (d *DockerDriver) List(ctx context.Context, namePrefix string) ([]string, error) {
	out, err := exec.CommandContext(ctx, "docker", "ps", "-a",
		"--filter", fmt.Sprintf("name=^%s", namePrefix),
		"--format", "{{.Names}}").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("docker ps: %w: %s", err, strings.TrimSpace(string(out)))
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
