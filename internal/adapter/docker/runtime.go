package docker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"grape/internal/environment"
)

var _ environment.ContainerRuntime = (*Runtime)(nil)

// bridgeNetwork is the default network containers are attached to.
const bridgeNetwork = "bridge"

// Runtime implements environment.ContainerRuntime using the Docker Engine API.
type Runtime struct {
	cli client.APIClient
	log *slog.Logger
}

// NewRuntime creates a Runtime with a new Docker client from the environment.
func NewRuntime(log *slog.Logger) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return NewRuntimeFromClient(cli, log), nil
}

// NewRuntimeFromClient wraps an existing Docker client.
func NewRuntimeFromClient(cli client.APIClient, log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runtime{cli: cli, log: log.With("component", "docker")}
}

// WaitReady blocks until the daemon answers or ctx ends.
func (r *Runtime) WaitReady(ctx context.Context) error {
	return WaitReady(ctx, r.cli, r.log)
}

// nameFilter matches a container name exactly; the engine matches name
// filters as unanchored regular expressions against "/<name>".
func nameFilter(name string) string {
	return "^/" + name + "$"
}

func (r *Runtime) ContainerList(ctx context.Context, filter environment.ContainerFilter) ([]environment.ContainerSummary, error) {
	args := filters.NewArgs()
	if filter.Name != "" {
		args.Add("name", nameFilter(filter.Name))
	}
	if filter.Label != "" {
		args.Add("label", filter.Label)
	}
	list, err := r.cli.ContainerList(ctx, container.ListOptions{All: filter.All, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	out := make([]environment.ContainerSummary, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = trimSlash(c.Names[0])
		}
		out = append(out, environment.ContainerSummary{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			ImageID: c.ImageID,
			State:   string(c.State),
			Status:  c.Status,
			Labels:  c.Labels,
			Created: time.Unix(c.Created, 0),
		})
	}
	return out, nil
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}

func (r *Runtime) ContainerInspect(ctx context.Context, name string) (environment.ContainerInfo, error) {
	info, err := r.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return environment.ContainerInfo{Exists: false}, nil
		}
		return environment.ContainerInfo{}, fmt.Errorf("inspect container %q: %w", name, err)
	}
	out := environment.ContainerInfo{Exists: true}
	if info.ContainerJSONBase != nil {
		out.ID = info.ID
		if info.State != nil {
			out.Running = info.State.Running
			if ts, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
				out.StartedAt = ts
			}
		}
	}
	if info.NetworkSettings != nil {
		if ep, ok := info.NetworkSettings.Networks[bridgeNetwork]; ok && ep != nil {
			out.Gateway = ep.Gateway
		} else {
			for _, ep := range info.NetworkSettings.Networks {
				if ep != nil && ep.Gateway != "" {
					out.Gateway = ep.Gateway
					break
				}
			}
		}
	}
	return out, nil
}

func (r *Runtime) ContainerRun(ctx context.Context, spec environment.ContainerSpec) error {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		port, err := nat.NewPort(p.Protocol, strconv.Itoa(p.Container))
		if err != nil {
			return fmt.Errorf("container %q port %d: %w", spec.Name, p.Container, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: strconv.Itoa(p.Host)})
	}
	cc := &container.Config{
		Hostname:     spec.Hostname,
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}
	hc := &container.HostConfig{
		AutoRemove:   spec.Remove,
		PortBindings: bindings,
	}
	for _, v := range spec.Volumes {
		hc.Mounts = append(hc.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.Mode == "ro",
		})
	}
	r.log.Debug("run container", "name", spec.Name, "image", spec.Image)
	return CreateAndStart(ctx, r.cli, r.log, spec.Name, spec.Image, cc, hc, nil)
}

func (r *Runtime) ContainerStart(ctx context.Context, name string) error {
	if err := r.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %q: %w", name, err)
	}
	return nil
}

func (r *Runtime) ContainerStop(ctx context.Context, name string) error {
	if err := r.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return fmt.Errorf("stop container %q: %w", name, err)
	}
	return nil
}

func (r *Runtime) ContainerLogs(ctx context.Context, name string, tail int) (string, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "all",
	}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	rc, err := r.cli.ContainerLogs(ctx, name, opts)
	if err != nil {
		return "", fmt.Errorf("container logs %q: %w", name, err)
	}
	defer rc.Close()
	// Both streams go to one buffer so lines keep their order.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("container logs %q: %w", name, err)
	}
	return buf.String(), nil
}

func (r *Runtime) ContainerExec(ctx context.Context, name string, cmd []string) (environment.ExecResult, error) {
	created, err := r.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return environment.ExecResult{}, fmt.Errorf("exec in %q: %w", name, err)
	}
	attach, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return environment.ExecResult{}, fmt.Errorf("attach exec in %q: %w", name, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return environment.ExecResult{}, fmt.Errorf("read exec output in %q: %w", name, err)
	}
	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return environment.ExecResult{}, fmt.Errorf("inspect exec in %q: %w", name, err)
	}
	r.log.Debug("exec finished", "container", name, "cmd", cmd[0], "exit", inspect.ExitCode)
	return environment.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}
