package grafana_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"grape/internal/adapter/fake"
	"grape/internal/grafana"
)

func newMigrator(t *testing.T, srv *fake.Grafana) *grafana.Migrator {
	t.Helper()
	return grafana.NewMigrator(grafana.NewClient(srv.Target(), nil, nil), nil)
}

func seedSource(t *testing.T) (*fake.Grafana, int64) {
	t.Helper()
	src := fake.NewGrafana()
	t.Cleanup(src.Close)
	src.AddDatasource(grafana.Datasource{Name: "sales", Type: "postgres", URL: "db:5432", Database: "sales"})
	ops := src.AddFolder("Ops")
	src.AddDashboard(grafana.RootFolderID, "Home", nil)
	src.AddDashboard(ops, "Latency", map[string]any{"panels": []any{map[string]any{"type": "graph"}}})
	return src, ops
}

func TestCollect_IncludesRootAndFolderDashboards(t *testing.T) {
	src, ops := seedSource(t)

	state, err := newMigrator(t, src).Collect(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Datasources) != 1 || state.Datasources[0].Name != "sales" {
		t.Fatalf("unexpected datasources %+v", state.Datasources)
	}
	if len(state.Folders) != 1 || state.Folders[0].Title != "Ops" {
		t.Fatalf("unexpected folders %+v", state.Folders)
	}
	if len(state.Dashboards) != 2 {
		t.Fatalf("expected 2 dashboards, got %d", len(state.Dashboards))
	}
	got := map[string]int64{}
	for _, d := range state.Dashboards {
		h, err := d.Header()
		if err != nil {
			t.Fatal(err)
		}
		got[h.Title] = d.FolderID
	}
	if got["Home"] != grafana.RootFolderID || got["Latency"] != ops {
		t.Errorf("unexpected folder tagging %v", got)
	}
	if err := state.Validate(); err != nil {
		t.Errorf("collected state should validate: %v", err)
	}
}

func TestCollect_EmptyServer(t *testing.T) {
	srv := fake.NewGrafana()
	defer srv.Close()

	state, err := newMigrator(t, srv).Collect(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if state.Datasources == nil || state.Folders == nil || state.Dashboards == nil {
		t.Fatal("expected empty, non-nil collections")
	}
	raw, _ := json.Marshal(state)
	if string(raw) != `{"datasources":[],"folders":[],"dashboards":[]}` {
		t.Errorf("unexpected encoding %s", raw)
	}
}

func TestCollect_ReadFailureIsFatal(t *testing.T) {
	srv := fake.NewGrafana()
	defer srv.Close()
	srv.FailNext("GET /api/folders", http.StatusInternalServerError)

	_, err := newMigrator(t, srv).Collect(t.Context())
	var apiErr *grafana.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected APIError 500, got %v", err)
	}
}

func TestCollect_BadCredentials(t *testing.T) {
	srv := fake.NewGrafana()
	defer srv.Close()
	target := srv.Target()
	target.Password = "wrong"

	_, err := grafana.NewMigrator(grafana.NewClient(target, nil, nil), nil).Collect(t.Context())
	var apiErr *grafana.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected APIError 401, got %v", err)
	}
}

func TestApply_RemapsFolderIDs(t *testing.T) {
	src, _ := seedSource(t)
	state, err := newMigrator(t, src).Collect(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	dst := fake.NewGrafana()
	defer dst.Close()
	// Shift the id sequence so the source and destination ids differ.
	dst.AddFolder("Unrelated")
	dst.AddFolder("Another")

	if err := newMigrator(t, dst).Apply(t.Context(), state, nil); err != nil {
		t.Fatal(err)
	}

	var opsID int64
	for _, f := range dst.Folders() {
		if f.Title == "Ops" {
			opsID = f.ID
		}
	}
	if opsID == 0 {
		t.Fatal("folder Ops not created")
	}
	titles := dst.DashboardTitles()
	if titles["Latency"] != opsID {
		t.Errorf("Latency in folder %d, want %d", titles["Latency"], opsID)
	}
	if titles["Home"] != grafana.RootFolderID {
		t.Errorf("Home in folder %d, want root", titles["Home"])
	}
	if len(dst.Datasources()) != 1 {
		t.Errorf("expected 1 datasource, got %d", len(dst.Datasources()))
	}
}

func TestApply_FolderUIDHeldByUnrelatedFolder(t *testing.T) {
	dst := fake.NewGrafana()
	defer dst.Close()
	unrelated := dst.AddFolder("Unrelated")
	taken := dst.Folders()[0].UID

	state := grafana.State{
		Datasources: []grafana.Datasource{},
		Folders:     []grafana.Folder{{ID: 7, UID: taken, Title: "Ops"}},
		Dashboards: []grafana.Dashboard{{
			Dashboard: json.RawMessage(`{"id":3,"uid":"lat","title":"Latency"}`),
			FolderID:  7,
		}},
	}
	if err := newMigrator(t, dst).Apply(t.Context(), state, nil); err != nil {
		t.Fatal(err)
	}

	var opsID int64
	for _, f := range dst.Folders() {
		if f.Title == "Ops" {
			opsID = f.ID
		}
	}
	if opsID == 0 || opsID == unrelated {
		t.Fatalf("folder Ops not created, folders = %+v", dst.Folders())
	}
	if got := dst.DashboardTitles()["Latency"]; got != opsID {
		t.Errorf("Latency in folder %d, want %d", got, opsID)
	}
}

func TestApply_IsRerunnable(t *testing.T) {
	src, _ := seedSource(t)
	state, err := newMigrator(t, src).Collect(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	dst := fake.NewGrafana()
	defer dst.Close()
	m := newMigrator(t, dst)
	if err := m.Apply(t.Context(), state, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Apply(t.Context(), state, nil); err != nil {
		t.Fatalf("second apply should tolerate conflicts: %v", err)
	}
	if len(dst.Folders()) != 1 || len(dst.DashboardTitles()) != 2 || len(dst.Datasources()) != 1 {
		t.Errorf("second apply duplicated objects")
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	src, _ := seedSource(t)
	state, err := newMigrator(t, src).Collect(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	before, _ := json.Marshal(state)

	dst := fake.NewGrafana()
	defer dst.Close()
	resolver := grafana.NewOverrides([]map[string]string{{"name": "sales", "url": "10.0.0.1:5432"}})
	if err := newMigrator(t, dst).Apply(t.Context(), state, resolver); err != nil {
		t.Fatal(err)
	}
	after, _ := json.Marshal(state)
	if string(before) != string(after) {
		t.Error("apply modified its input")
	}
	if got := dst.Datasources()[0].URL; got != "10.0.0.1:5432" {
		t.Errorf("resolver not applied, url %q", got)
	}
}

func TestApply_StageStatuses(t *testing.T) {
	tests := []struct {
		name    string
		route   string
		status  int
		wantErr bool
	}{
		{"datasource conflict tolerated", "POST /api/datasources", http.StatusConflict, false},
		{"datasource forbidden fatal", "POST /api/datasources", http.StatusForbidden, true},
		{"folder precondition tolerated", "POST /api/folders", http.StatusPreconditionFailed, false},
		{"folder server error tolerated", "POST /api/folders", http.StatusInternalServerError, false},
		{"folder conflict fatal", "POST /api/folders", http.StatusConflict, true},
		{"dashboard bad request tolerated", "POST /api/dashboards/db", http.StatusBadRequest, false},
		{"dashboard precondition tolerated", "POST /api/dashboards/db", http.StatusPreconditionFailed, false},
		{"dashboard server error fatal", "POST /api/dashboards/db", http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, _ := seedSource(t)
			state, err := newMigrator(t, src).Collect(t.Context())
			if err != nil {
				t.Fatal(err)
			}
			dst := fake.NewGrafana()
			defer dst.Close()
			dst.FailNext(tt.route, tt.status)

			err = newMigrator(t, dst).Apply(t.Context(), state, nil)
			if tt.wantErr {
				var apiErr *grafana.APIError
				if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
					t.Fatalf("expected APIError %d, got %v", tt.status, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestApply_FailedDatasourceStopsBeforeFolders(t *testing.T) {
	src, _ := seedSource(t)
	state, err := newMigrator(t, src).Collect(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	dst := fake.NewGrafana()
	defer dst.Close()
	dst.FailNext("POST /api/datasources", http.StatusUnauthorized)

	if err := newMigrator(t, dst).Apply(t.Context(), state, nil); err == nil {
		t.Fatal("expected error")
	}
	if n := dst.Count("POST /api/folders"); n != 0 {
		t.Errorf("folders uploaded after datasource failure: %d calls", n)
	}
}

type failingResolver struct{}

func (failingResolver) ResolveDatasource(context.Context, *grafana.Datasource) error {
	return errors.New("no gateway")
}

func TestApply_ResolverErrorIsFatal(t *testing.T) {
	dst := fake.NewGrafana()
	defer dst.Close()
	state := grafana.State{Datasources: []grafana.Datasource{{Name: "x"}}}

	if err := newMigrator(t, dst).Apply(t.Context(), state, failingResolver{}); err == nil {
		t.Fatal("expected resolver error")
	}
	if len(dst.Datasources()) != 0 {
		t.Error("datasource uploaded despite resolver error")
	}
}

func TestNewDashboardUpload_NullsIdentity(t *testing.T) {
	d := grafana.Dashboard{Dashboard: json.RawMessage(`{"id":7,"uid":"abc","title":"T","panels":[]}`)}
	up, err := grafana.NewDashboardUpload(d, 12)
	if err != nil {
		t.Fatal(err)
	}
	if string(up.Dashboard["id"]) != "null" || string(up.Dashboard["uid"]) != "null" {
		t.Errorf("identity not nulled: id=%s uid=%s", up.Dashboard["id"], up.Dashboard["uid"])
	}
	if up.FolderID != 12 || up.Overwrite {
		t.Errorf("unexpected upload %+v", up)
	}
	if string(up.Dashboard["title"]) != `"T"` {
		t.Errorf("title lost: %s", up.Dashboard["title"])
	}
}
