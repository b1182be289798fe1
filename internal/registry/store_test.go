package registry

import (
	"path/filepath"
	"testing"
	"time"

	jujuerrors "github.com/juju/errors"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "state.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegisterAndList(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := openStore(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := s.RegisterProject(ctx, Project{Name: "demo", GrafanaPort: 4600, DatabasePort: 4601, DataDir: "/w/demopg", CreatedAt: created}); err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterProject(ctx, Project{Name: "alpha", GrafanaPort: 4700, DatabasePort: 4701, DataDir: "/w/alphapg"}); err != nil {
		t.Fatal(err)
	}
	// Re-registering keeps the creation time.
	if err := s.RegisterProject(ctx, Project{Name: "demo", GrafanaPort: 4610, DatabasePort: 4611, DataDir: "/w/demopg", CreatedAt: created.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	projects, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 2 || projects[0].Name != "alpha" || projects[1].Name != "demo" {
		t.Fatalf("projects = %+v", projects)
	}
	demo := projects[1]
	if demo.GrafanaPort != 4610 || demo.DatabasePort != 4611 {
		t.Errorf("ports not updated: %+v", demo)
	}
	if !demo.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", demo.CreatedAt, created)
	}
	if demo.LastOp != "" || !demo.LastOpAt.IsZero() {
		t.Errorf("unexpected last op %+v", demo)
	}
}

func TestRecordSnapshot(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := openStore(t)
	if err := s.RegisterProject(ctx, Project{Name: "demo", GrafanaPort: 4600, DatabasePort: 4601}); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, op := range []Op{OpSave, OpExport} {
		if err := s.RecordSnapshot(ctx, SnapshotRecord{Project: "demo", Op: op, Archive: "demo.zip", At: at.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}
	p, err := s.Project(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if p.LastOp != OpExport || !p.LastOpAt.Equal(at.Add(time.Minute)) {
		t.Errorf("last op = %s at %v", p.LastOp, p.LastOpAt)
	}

	history, err := s.Snapshots(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Op != OpExport || history[1].Op != OpSave {
		t.Errorf("history = %+v", history)
	}

	if err := s.RecordSnapshot(ctx, SnapshotRecord{Project: "demo", Op: "copy"}); !jujuerrors.Is(err, jujuerrors.NotValid) {
		t.Errorf("unknown op error = %v, want NotValid", err)
	}
}

func TestRemoveProject(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := openStore(t)
	if err := s.RegisterProject(ctx, Project{Name: "demo", GrafanaPort: 4600, DatabasePort: 4601}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSnapshot(ctx, SnapshotRecord{Project: "demo", Op: OpSave, Archive: "demo.zip"}); err != nil {
		t.Fatal(err)
	}

	if err := s.RemoveProject(ctx, "demo"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Project(ctx, "demo"); !jujuerrors.Is(err, jujuerrors.NotFound) {
		t.Errorf("Project() error = %v, want NotFound", err)
	}
	history, err := s.Snapshots(ctx, "demo")
	if err != nil || len(history) != 0 {
		t.Errorf("history after remove = %v, %v", history, err)
	}
	// Removing an unknown project is fine.
	if err := s.RemoveProject(ctx, "ghost"); err != nil {
		t.Errorf("remove unknown: %v", err)
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := openStore(t)
	if _, err := Open(""); err == nil {
		t.Error("expected error for empty path")
	}
	if err := s.RegisterProject(ctx, Project{Name: " "}); err == nil {
		t.Error("expected error for empty project name")
	}
	if err := s.RecordSnapshot(ctx, SnapshotRecord{Op: OpSave}); err == nil {
		t.Error("expected error for empty snapshot project")
	}
}
