package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	jujuerrors "github.com/juju/errors"

	"grape/internal/adapter/fake"
	"grape/internal/environment"
)

func newProbe() (Probe, *fake.ContainerRuntime, *fake.Clock) {
	clk := fake.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	rt := fake.NewContainerRuntime(clk)
	return Probe{Runtime: rt, Clock: clk, Log: slog.New(slog.DiscardHandler)}, rt, clk
}

func testRule(maxWait time.Duration) environment.ReadinessRule {
	rule := environment.Readiness(environment.Database, maxWait)
	rule.PollInterval = 100 * time.Millisecond
	return rule
}

func TestProbe_ReadyAfterLogMatch(t *testing.T) {
	p, rt, _ := newProbe()
	rt.Seed(environment.ContainerSpec{Name: "db"}, true)
	rt.SetLogs("db", "starting\n", "still starting\n", "database system is ready to accept connections\n")

	elapsed, err := p.Wait(t.Context(), "db", testRule(time.Minute))
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed != 200*time.Millisecond {
		t.Errorf("elapsed = %v, want 200ms", elapsed)
	}
}

func TestProbe_TimeoutBoundary(t *testing.T) {
	for _, maxWait := range []time.Duration{0, 250 * time.Millisecond, time.Second, 3 * time.Second} {
		t.Run(maxWait.String(), func(t *testing.T) {
			p, rt, _ := newProbe()
			rt.Seed(environment.ContainerSpec{Name: "db"}, true)
			rt.SetLogs("db", "line one\nline two\n")
			rule := testRule(maxWait)

			_, err := p.Wait(t.Context(), "db", rule)
			var terr *TimeoutError
			if !errors.As(err, &terr) {
				t.Fatalf("Wait() error = %v, want TimeoutError", err)
			}
			if !errors.Is(err, jujuerrors.Timeout) {
				t.Error("TimeoutError does not match Timeout")
			}
			if terr.Waited <= maxWait || terr.Waited > maxWait+rule.PollInterval {
				t.Errorf("waited %v, want in (%v, %v]", terr.Waited, maxWait, maxWait+rule.PollInterval)
			}
			if !strings.Contains(terr.Logs, "line two") {
				t.Errorf("timeout error lacks logs: %q", terr.Logs)
			}
			if last, _ := rt.Last("ContainerLogs"); last.Args[1] != 0 {
				t.Errorf("final log read tail = %v, want full log", last.Args[1])
			}
		})
	}
}

func TestProbe_WaitsForHandle(t *testing.T) {
	p, rt, _ := newProbe()
	rt.SetLogs("db", "database system is ready to accept connections\n")
	inspects := 0
	rt.ContainerInspectErr = func(context.Context, string) error {
		inspects++
		if inspects == 3 {
			rt.Seed(environment.ContainerSpec{Name: "db"}, true)
		}
		return nil
	}

	elapsed, err := p.Wait(t.Context(), "db", testRule(time.Minute))
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed != 200*time.Millisecond {
		t.Errorf("elapsed = %v, want 200ms", elapsed)
	}
}

func TestProbe_HandleNeverAppears(t *testing.T) {
	p, _, _ := newProbe()

	_, err := p.Wait(t.Context(), "db", testRule(time.Second))
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("Wait() error = %v, want TimeoutError", err)
	}
	if terr.Logs != "" {
		t.Errorf("logs = %q, want none", terr.Logs)
	}
}

func TestProbe_ContainerVanishes(t *testing.T) {
	p, rt, _ := newProbe()
	rt.Seed(environment.ContainerSpec{Name: "db", Remove: true}, true)
	rt.ContainerLogsErr = func(ctx context.Context, name string, _ int) error {
		return rt.ContainerStop(ctx, name)
	}

	_, err := p.Wait(t.Context(), "db", testRule(time.Minute))
	if !jujuerrors.Is(err, jujuerrors.NotFound) {
		t.Fatalf("Wait() error = %v, want NotFound", err)
	}
}

func TestProbe_ContextCancelled(t *testing.T) {
	p, rt, _ := newProbe()
	rt.Seed(environment.ContainerSpec{Name: "db"}, true)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := p.Wait(ctx, "db", testRule(time.Minute))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}
