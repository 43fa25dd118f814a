// Package driver implements the container runtime clients backing the
// sandbox pool: a default docker driver that shells out to the docker
// CLI (no SDK dependency, matching the teacher's dockerExecutor), and an
// optional firecracker driver for microVM isolation.
package driver

import (
	"context"
	"time"
)

// Driver is the container runtime client the ContainerPool and
// SharedWorkerPool use to create, run, inspect, and destroy containers.
// It knows nothing about pooling semantics — that lives in the pool.
type Driver interface {
	// Create starts a new long-lived container named name and returns its
	// runtime-assigned container id. The container must stay alive polling
	// for IPC triggers until Destroy is called.
	Create(ctx context.Context, name string) (containerID string, err error)

	// Running reports whether the named container is alive and responsive.
	// Used by the health loop; a false return or error causes the pool to
	// destroy the container.
	Running(ctx context.Context, name string) (bool, error)

	// HostTmpDir returns the host-visible path mounted at the container's
	// /tmp, where the IPC handshake files live.
	HostTmpDir(name string) string

	// Destroy stops and removes the named container.
	Destroy(ctx context.Context, name string) error

	// List returns the names of all containers matching the pool's naming
	// scheme, for startup discovery.
	List(ctx context.Context, namePrefix string) ([]string, error)
}

// Limits caps the resources a created container may consume.
type Limits struct {
	CPUMillicores int
	MemoryMB      int
	NetworkMode   string // "none" or a named docker network
}

// Config is shared configuration passed to driver constructors.
type Config struct {
	Limits        Limits
	CreateTimeout time.Duration
	Image         string
}
