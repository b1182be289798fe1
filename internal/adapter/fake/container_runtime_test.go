package fake

import (
	"context"
	"testing"

	"github.com/containerd/errdefs"

	"grape/internal/environment"
)

func TestContainerRuntime_Lifecycle(t *testing.T) {
	ctx := t.Context()
	rt := NewContainerRuntime(nil)

	spec := environment.ContainerSpec{Name: "test-container", Image: "alpine:latest"}
	if err := rt.ContainerRun(ctx, spec); err != nil {
		t.Fatal(err)
	}

	info, err := rt.ContainerInspect(ctx, "test-container")
	if err != nil {
		t.Fatal(err)
	}
	if !info.Exists || !info.Running {
		t.Errorf("expected exists=true running=true, got exists=%v running=%v", info.Exists, info.Running)
	}
	if info.Gateway != DefaultGateway {
		t.Errorf("expected gateway %q, got %q", DefaultGateway, info.Gateway)
	}

	if err := rt.ContainerRun(ctx, spec); !errdefs.IsConflict(err) {
		t.Errorf("expected conflict running a duplicate, got %v", err)
	}

	if err := rt.ContainerStop(ctx, "test-container"); err != nil {
		t.Fatal(err)
	}
	info, _ = rt.ContainerInspect(ctx, "test-container")
	if !info.Exists || info.Running {
		t.Error("expected stopped container to remain")
	}

	if err := rt.ContainerStart(ctx, "test-container"); err != nil {
		t.Fatal(err)
	}
	if !rt.Running("test-container") {
		t.Error("expected running after start")
	}
}

func TestContainerRuntime_AutoRemoveOnStop(t *testing.T) {
	ctx := t.Context()
	rt := NewContainerRuntime(nil)

	_ = rt.ContainerRun(ctx, environment.ContainerSpec{Name: "c1", Remove: true})
	if err := rt.ContainerStop(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if rt.Exists("c1") {
		t.Error("expected auto-remove container to be gone after stop")
	}
	if err := rt.ContainerStop(ctx, "c1"); !errdefs.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestContainerRuntime_ScriptedLogs(t *testing.T) {
	ctx := t.Context()
	rt := NewContainerRuntime(nil)
	_ = rt.ContainerRun(ctx, environment.ContainerSpec{Name: "c1"})
	rt.SetLogs("c1", "booting\n", "a\nb\nc\nready\n")

	first, _ := rt.ContainerLogs(ctx, "c1", 2)
	if first != "booting\n" {
		t.Errorf("first call: got %q", first)
	}
	second, _ := rt.ContainerLogs(ctx, "c1", 2)
	if second != "c\nready\n" {
		t.Errorf("second call: got %q", second)
	}
	third, _ := rt.ContainerLogs(ctx, "c1", 0)
	if third != "a\nb\nc\nready\n" {
		t.Errorf("third call: got %q", third)
	}
	if got := rt.Count("ContainerLogs"); got != 3 {
		t.Errorf("expected 3 ContainerLogs calls, got %d", got)
	}
}

func TestContainerRuntime_ListFilters(t *testing.T) {
	ctx := t.Context()
	rt := NewContainerRuntime(nil)
	rt.Seed(environment.ContainerSpec{Name: "a", Labels: map[string]string{environment.LabelType: "database"}}, true)
	rt.Seed(environment.ContainerSpec{Name: "b", Labels: map[string]string{environment.LabelType: "visualization"}}, false)
	rt.Seed(environment.ContainerSpec{Name: "c"}, true)

	running, err := rt.ContainerList(ctx, environment.ContainerFilter{Label: environment.LabelType})
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 || running[0].Name != "a" {
		t.Errorf("expected only a, got %+v", running)
	}

	all, _ := rt.ContainerList(ctx, environment.ContainerFilter{Label: environment.LabelType, All: true})
	if len(all) != 2 {
		t.Errorf("expected 2 labelled containers, got %d", len(all))
	}

	byValue, _ := rt.ContainerList(ctx, environment.ContainerFilter{Label: environment.LabelType + "=visualization", All: true})
	if len(byValue) != 1 || byValue[0].Name != "b" {
		t.Errorf("expected only b, got %+v", byValue)
	}
}

func TestContainerRuntime_Exec(t *testing.T) {
	ctx := t.Context()
	rt := NewContainerRuntime(nil)

	if _, err := rt.ContainerExec(ctx, "missing", []string{"true"}); !errdefs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	_ = rt.ContainerRun(ctx, environment.ContainerSpec{Name: "db"})
	rt.ExecFunc = func(_ context.Context, name string, cmd []string) (environment.ExecResult, error) {
		return environment.ExecResult{Stdout: name + ":" + cmd[0], ExitCode: 3}, nil
	}
	res, err := rt.ContainerExec(ctx, "db", []string{"psql"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "db:psql" || res.ExitCode != 3 {
		t.Errorf("unexpected result %+v", res)
	}
}
