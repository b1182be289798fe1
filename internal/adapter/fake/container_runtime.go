package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/containerd/errdefs"

	"grape/internal/environment"
)

var _ environment.ContainerRuntime = (*ContainerRuntime)(nil)

// DefaultGateway is the bridge gateway reported for every fake container.
const DefaultGateway = "172.17.0.1"

type containerState struct {
	Spec    environment.ContainerSpec
	ID      string
	Running bool
	Created int
}

// ContainerRuntime is an in-memory implementation of environment.ContainerRuntime.
// Containers launched with Remove set disappear when stopped.
type ContainerRuntime struct {
	CallRecorder
	mu         sync.Mutex
	clock      *Clock
	seq        int
	containers map[string]*containerState
	logs       map[string][]string
	logCalls   map[string]int

	// Gateway is reported by ContainerInspect. Defaults to DefaultGateway.
	Gateway string
	// ExecFunc answers ContainerExec. When nil every command exits 0.
	ExecFunc func(ctx context.Context, name string, cmd []string) (environment.ExecResult, error)

	ContainerListErr    func(ctx context.Context, filter environment.ContainerFilter) error
	ContainerInspectErr func(ctx context.Context, name string) error
	ContainerRunErr     func(ctx context.Context, spec environment.ContainerSpec) error
	ContainerStartErr   func(ctx context.Context, name string) error
	ContainerStopErr    func(ctx context.Context, name string) error
	ContainerLogsErr    func(ctx context.Context, name string, tail int) error
}

// NewContainerRuntime creates an empty ContainerRuntime. clock may be nil;
// when set, it stamps container start times.
func NewContainerRuntime(clock *Clock) *ContainerRuntime {
	return &ContainerRuntime{
		clock:      clock,
		containers: make(map[string]*containerState),
		logs:       make(map[string][]string),
		logCalls:   make(map[string]int),
		Gateway:    DefaultGateway,
	}
}

func notFound(name string) error {
	return fmt.Errorf("container %q: %w", name, errdefs.ErrNotFound)
}

// SetLogs scripts the output of ContainerLogs for name. Each call returns the
// next output; the last one repeats.
func (r *ContainerRuntime) SetLogs(name string, outputs ...string) {
	r.mu.Lock()
	r.logs[name] = outputs
	r.logCalls[name] = 0
	r.mu.Unlock()
}

// Seed adds a container without going through ContainerRun.
func (r *ContainerRuntime) Seed(spec environment.ContainerSpec, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.containers[spec.Name] = &containerState{
		Spec:    spec,
		ID:      fmt.Sprintf("fake%04d", r.seq),
		Running: running,
		Created: r.seq,
	}
}

// Running reports whether name exists and runs.
func (r *ContainerRuntime) Running(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.containers[name]
	return ok && cs.Running
}

// Exists reports whether name exists.
func (r *ContainerRuntime) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.containers[name]
	return ok
}

func (r *ContainerRuntime) ContainerList(ctx context.Context, filter environment.ContainerFilter) ([]environment.ContainerSummary, error) {
	r.record("ContainerList", filter)
	if r.ContainerListErr != nil {
		if err := r.ContainerListErr(ctx, filter); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]environment.ContainerSummary, 0, len(r.containers))
	for name, cs := range r.containers {
		if filter.Name != "" && filter.Name != name {
			continue
		}
		if filter.Label != "" && !hasLabel(cs.Spec.Labels, filter.Label) {
			continue
		}
		if !filter.All && !cs.Running {
			continue
		}
		state, status := "exited", "Exited (0)"
		if cs.Running {
			state, status = "running", "Up"
		}
		labels := make(map[string]string, len(cs.Spec.Labels))
		for k, v := range cs.Spec.Labels {
			labels[k] = v
		}
		out = append(out, environment.ContainerSummary{
			ID:      cs.ID,
			Name:    name,
			Image:   cs.Spec.Image,
			ImageID: "sha256:" + strings.Repeat("0", 60) + fmt.Sprintf("%04d", cs.Created),
			State:   state,
			Status:  status,
			Labels:  labels,
		})
	}
	return out, nil
}

// hasLabel matches "key" or "key=value".
func hasLabel(labels map[string]string, filter string) bool {
	key, value, withValue := strings.Cut(filter, "=")
	got, ok := labels[key]
	if !ok {
		return false
	}
	return !withValue || got == value
}

func (r *ContainerRuntime) ContainerInspect(ctx context.Context, name string) (environment.ContainerInfo, error) {
	r.record("ContainerInspect", name)
	if r.ContainerInspectErr != nil {
		if err := r.ContainerInspectErr(ctx, name); err != nil {
			return environment.ContainerInfo{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.containers[name]
	if !ok {
		return environment.ContainerInfo{Exists: false}, nil
	}
	info := environment.ContainerInfo{Exists: true, Running: cs.Running, ID: cs.ID, Gateway: r.Gateway}
	if r.clock != nil {
		info.StartedAt = r.clock.Now()
	}
	return info, nil
}

func (r *ContainerRuntime) ContainerRun(ctx context.Context, spec environment.ContainerSpec) error {
	r.record("ContainerRun", spec)
	if r.ContainerRunErr != nil {
		if err := r.ContainerRunErr(ctx, spec); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.containers[spec.Name]; ok {
		return fmt.Errorf("container %q: %w", spec.Name, errdefs.ErrConflict)
	}
	r.seq++
	r.containers[spec.Name] = &containerState{
		Spec:    spec,
		ID:      fmt.Sprintf("fake%04d", r.seq),
		Running: true,
		Created: r.seq,
	}
	return nil
}

func (r *ContainerRuntime) ContainerStart(ctx context.Context, name string) error {
	r.record("ContainerStart", name)
	if r.ContainerStartErr != nil {
		if err := r.ContainerStartErr(ctx, name); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.containers[name]
	if !ok {
		return notFound(name)
	}
	cs.Running = true
	return nil
}

func (r *ContainerRuntime) ContainerStop(ctx context.Context, name string) error {
	r.record("ContainerStop", name)
	if r.ContainerStopErr != nil {
		if err := r.ContainerStopErr(ctx, name); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.containers[name]
	if !ok {
		return notFound(name)
	}
	if cs.Spec.Remove {
		delete(r.containers, name)
		return nil
	}
	cs.Running = false
	return nil
}

func (r *ContainerRuntime) ContainerLogs(ctx context.Context, name string, tail int) (string, error) {
	r.record("ContainerLogs", name, tail)
	if r.ContainerLogsErr != nil {
		if err := r.ContainerLogsErr(ctx, name, tail); err != nil {
			return "", err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.containers[name]; !ok {
		return "", notFound(name)
	}
	outputs := r.logs[name]
	if len(outputs) == 0 {
		return "", nil
	}
	i := r.logCalls[name]
	r.logCalls[name]++
	if i >= len(outputs) {
		i = len(outputs) - 1
	}
	return tailLines(outputs[i], tail), nil
}

func tailLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n") + "\n"
}

func (r *ContainerRuntime) ContainerExec(ctx context.Context, name string, cmd []string) (environment.ExecResult, error) {
	r.record("ContainerExec", name, cmd)
	r.mu.Lock()
	cs, ok := r.containers[name]
	running := ok && cs.Running
	r.mu.Unlock()
	if !running {
		return environment.ExecResult{}, notFound(name)
	}
	if r.ExecFunc != nil {
		return r.ExecFunc(ctx, name, cmd)
	}
	return environment.ExecResult{}, nil
}

func (r *ContainerRuntime) Close() error {
	r.record("Close")
	return nil
}
