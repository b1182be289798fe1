package lifecyclecmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"grape/cmd/grape/ui"
	"grape/internal/adapter/fake"
	"grape/internal/environment"
	"grape/internal/lifecycle"
	"grape/internal/registry"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{61*time.Second + 500*time.Millisecond, "00:01:01"},
		{25 * time.Hour, "1 day, 01:00:00"},
		{3*24*time.Hour + 5*time.Minute + 7*time.Second, "3 days, 00:05:07"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.in); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatusRows(t *testing.T) {
	ui.ConfigureInteraction(true)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := fake.NewClock(start)
	rt := fake.NewContainerRuntime(clk)
	d, err := environment.New(environment.Options{Name: "demo", GrafanaPort: 4600, Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	rt.Seed(d.Spec(environment.Visualization), true)
	rt.Seed(d.Spec(environment.Database), false)
	rt.Seed(environment.ContainerSpec{Name: "unrelated", Image: "nginx"}, true)

	rows, err := statusRows(t.Context(), rt, start.Add(26*time.Hour+3*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %v, want only labeled containers", rows)
	}

	gr, pg := rows[0], rows[1]
	if gr[0] != "demogr" || gr[1] != string(environment.Visualization) || gr[3] != "running" {
		t.Errorf("grafana row = %v", gr)
	}
	if gr[5] != "1 day, 02:00:03" {
		t.Errorf("elapsed = %q", gr[5])
	}
	if pg[0] != "demopg" || pg[3] != "exited" || pg[4] != "-" || pg[5] != "-" {
		t.Errorf("database row = %v", pg)
	}
	if gr[2] == "" {
		t.Error("version label missing")
	}
}

func TestPrintResults(t *testing.T) {
	ui.ConfigureInteraction(true)
	var buf bytes.Buffer
	printResults(&buf, []lifecycle.ServiceResult{
		{Name: "demogr", Action: lifecycle.ActionCreated, ReadyAfter: 2340 * time.Millisecond},
		{Name: "demopg", Action: lifecycle.ActionExists},
	})
	out := buf.String()
	if !strings.Contains(out, "demogr created ready after 2.3s") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "! demopg exists") {
		t.Errorf("output = %q", out)
	}
}

func TestProjectRows(t *testing.T) {
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := projectRows([]registry.Project{
		{Name: "demo", GrafanaPort: 4600, DatabasePort: 4601, DataDir: "/w/demopg", CreatedAt: now.Add(-24 * time.Hour), LastOp: registry.OpSave, LastOpAt: now.Add(-time.Hour)},
		{Name: "idle", GrafanaPort: 4700, DatabasePort: 4701, CreatedAt: now},
	}, now)
	if rows[0][5] != "save 1 hour ago" {
		t.Errorf("last snapshot = %q", rows[0][5])
	}
	if rows[1][5] != "-" {
		t.Errorf("idle last snapshot = %q", rows[1][5])
	}
}
