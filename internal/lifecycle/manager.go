// Package lifecycle creates and deletes the container pair of a project.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/containerd/errdefs"
	"github.com/juju/clock"
	jujuerrors "github.com/juju/errors"

	"grape/internal/environment"
	"grape/internal/grafana"
	"grape/pkg/defaults"
)

// Action is what a lifecycle call did to one container.
type Action string

const (
	ActionCreated Action = "created"
	ActionStarted Action = "started"
	ActionExists  Action = "exists"
	ActionStopped Action = "stopped"
	ActionAbsent  Action = "absent"
)

// ServiceResult reports the outcome for one service.
type ServiceResult struct {
	Kind       environment.Kind
	Name       string
	Action     Action
	ReadyAfter time.Duration
}

// Manager drives the container runtime for one project at a time.
type Manager struct {
	Runtime environment.ContainerRuntime
	Clock   environment.Clock
	Log     *slog.Logger
	HTTP    *http.Client

	// StopGrace is waited after stopping containers.
	StopGrace time.Duration
	// RemoveAll removes a directory tree. Defaults to os.RemoveAll.
	RemoveAll func(path string) error
	// RemovePrivileged is tried once when RemoveAll is denied.
	RemovePrivileged func(ctx context.Context, path string) error
}

// NewManager returns a Manager on the wall clock.
func NewManager(rt environment.ContainerRuntime, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		Runtime:          rt,
		Clock:            clock.WallClock,
		Log:              log.With("component", "lifecycle"),
		StopGrace:        defaults.StopGrace,
		RemoveAll:        os.RemoveAll,
		RemovePrivileged: RemovePrivileged,
	}
}

// Create brings up both services of d. Running containers are left alone;
// stopped ones are started. Containers that were created or started are
// probed for readiness when maxWait > 0. The project's database datasource is
// then registered with the dashboard server; a datasource that already
// exists counts as registered.
func (m *Manager) Create(ctx context.Context, d environment.Descriptor, maxWait time.Duration) ([]ServiceResult, error) {
	results := make([]ServiceResult, 0, 2)
	for _, kind := range []environment.Kind{environment.Visualization, environment.Database} {
		res, err := m.Ensure(ctx, d, kind)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	if err := m.WriteCompose(ctx, d); err != nil {
		m.Log.Warn("write compose file", "err", err)
	}
	if maxWait > 0 {
		for i := range results {
			if results[i].Action == ActionExists {
				continue
			}
			after, err := m.WaitReady(ctx, d, results[i].Kind, maxWait)
			if err != nil {
				return results, err
			}
			results[i].ReadyAfter = after
		}
	}
	if err := m.RegisterDatasource(ctx, d); err != nil {
		return results, err
	}
	return results, nil
}

// Ensure makes sure the container for kind exists and runs.
func (m *Manager) Ensure(ctx context.Context, d environment.Descriptor, kind environment.Kind) (ServiceResult, error) {
	spec := d.Spec(kind)
	res := ServiceResult{Kind: kind, Name: spec.Name}

	info, err := m.Runtime.ContainerInspect(ctx, spec.Name)
	if err != nil {
		return res, fmt.Errorf("inspect %q: %w", spec.Name, err)
	}
	if info.Exists && info.Running {
		m.Log.Info("container already exists", "name", spec.Name)
		res.Action = ActionExists
		return res, nil
	}
	if info.Exists {
		m.Log.Info("starting stopped container", "name", spec.Name)
		if err := m.Runtime.ContainerStart(ctx, spec.Name); err != nil {
			return res, err
		}
		res.Action = ActionStarted
		return res, nil
	}

	if err := MakeVolumeDirs(spec.Volumes); err != nil {
		return res, err
	}
	m.Log.Info("creating container", "name", spec.Name, "image", spec.Image, "port", spec.Ports[0].Host)
	if err := m.Runtime.ContainerRun(ctx, spec); err != nil {
		return res, fmt.Errorf("run %q: %w", spec.Name, err)
	}
	res.Action = ActionCreated
	return res, nil
}

// WaitReady runs the readiness probe for kind.
func (m *Manager) WaitReady(ctx context.Context, d environment.Descriptor, kind environment.Kind, maxWait time.Duration) (time.Duration, error) {
	p := Probe{Runtime: m.Runtime, Clock: m.Clock, Log: m.Log}
	return p.Wait(ctx, d.Service(kind).Name, environment.Readiness(kind, maxWait))
}

// GrafanaTarget is the project's own dashboard server.
func GrafanaTarget(d environment.Descriptor) grafana.Target {
	return grafana.Target{URL: d.GrafanaURL(), Username: d.Grafana.Username, Password: d.Grafana.Password}
}

// Resolver returns the datasource resolver for d with optional overrides.
func (m *Manager) Resolver(d environment.Descriptor, overrides grafana.Overrides) DatasourceResolver {
	return DatasourceResolver{Runtime: m.Runtime, Descriptor: d, Overrides: overrides}
}

// RegisterDatasource uploads the project's database datasource.
func (m *Manager) RegisterDatasource(ctx context.Context, d environment.Descriptor) error {
	client := grafana.NewClient(GrafanaTarget(d), m.HTTP, m.Log)
	mig := grafana.NewMigrator(client, m.Log)
	ds := []grafana.Datasource{DefaultDatasource(d)}
	if err := mig.ApplyDatasources(ctx, ds, m.Resolver(d, nil)); err != nil {
		return fmt.Errorf("register datasource: %w", err)
	}
	return nil
}

// Delete stops both containers of d and removes the project's data
// directory. Containers that are already gone are not an error.
func (m *Manager) Delete(ctx context.Context, d environment.Descriptor) ([]ServiceResult, error) {
	results := make([]ServiceResult, 0, 2)
	stopped := false
	for _, svc := range d.Services() {
		res := ServiceResult{Kind: svc.Kind, Name: svc.Name, Action: ActionAbsent}
		list, err := m.Runtime.ContainerList(ctx, environment.ContainerFilter{Name: svc.Name, All: true})
		if err != nil {
			return results, err
		}
		for _, c := range list {
			m.Log.Info("stopping container", "name", c.Name, "id", c.ID)
			if err := m.Runtime.ContainerStop(ctx, c.Name); err != nil {
				if errdefs.IsNotFound(err) {
					continue
				}
				return results, err
			}
			res.Action = ActionStopped
			stopped = true
		}
		results = append(results, res)
	}
	if stopped && m.StopGrace > 0 {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case <-m.Clock.After(m.StopGrace):
		}
	}
	return results, m.RemoveTree(ctx, d.DataDir)
}

// RemoveTree removes path recursively. A permission failure is retried once
// through RemovePrivileged.
func (m *Manager) RemoveTree(ctx context.Context, path string) error {
	removeAll := m.RemoveAll
	if removeAll == nil {
		removeAll = os.RemoveAll
	}
	err := removeAll(path)
	if err == nil {
		m.Log.Info("removed data directory", "path", path)
		return nil
	}
	if !errors.Is(err, fs.ErrPermission) || m.RemovePrivileged == nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	m.Log.Warn("permission denied, retrying removal with privileges", "path", path)
	if perr := m.RemovePrivileged(ctx, path); perr != nil {
		return fmt.Errorf("remove %s: %w", path, jujuerrors.NewForbidden(perr, "privileged removal failed"))
	}
	return nil
}
