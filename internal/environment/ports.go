package environment

import (
	"context"
	"time"
)

// ContainerRuntime is the subset of the container engine the tool drives.
type ContainerRuntime interface {
	ContainerList(ctx context.Context, filter ContainerFilter) ([]ContainerSummary, error)
	ContainerInspect(ctx context.Context, name string) (ContainerInfo, error)
	ContainerRun(ctx context.Context, spec ContainerSpec) error
	ContainerStart(ctx context.Context, name string) error
	ContainerStop(ctx context.Context, name string) error
	// ContainerLogs returns the last tail lines of combined output; tail <= 0
	// returns the whole log.
	ContainerLogs(ctx context.Context, name string, tail int) (string, error)
	ContainerExec(ctx context.Context, name string, cmd []string) (ExecResult, error)

	Close() error
}

// ContainerFilter selects containers. Name matches exactly.
type ContainerFilter struct {
	Name  string
	Label string
	All   bool
}

// ContainerSummary is one row of a container listing.
type ContainerSummary struct {
	ID      string
	Name    string
	Image   string
	ImageID string
	State   string
	Status  string
	Labels  map[string]string
	Created time.Time
}

// ContainerInfo describes the state of a single container.
type ContainerInfo struct {
	Exists    bool
	Running   bool
	ID        string
	StartedAt time.Time
	// Gateway is the bridge network gateway address of the container.
	Gateway string
}

// ExecResult is the outcome of a command run inside a container.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Clock abstracts time for polling loops. clock.WallClock from
// github.com/juju/clock satisfies it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}
