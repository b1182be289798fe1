package environment

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	jujuerrors "github.com/juju/errors"
)

func TestNewDerivesNamesAndPaths(t *testing.T) {
	d, err := New(Options{Name: "demo", GrafanaPort: 4700, Root: "/work"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if d.Grafana.Name != "demogr" || d.Database.Name != "demopg" {
		t.Fatalf("container names = %q, %q", d.Grafana.Name, d.Database.Name)
	}
	if d.DataDir != filepath.Join("/work", "demopg") {
		t.Fatalf("data dir = %q", d.DataDir)
	}
	if d.MountDir != filepath.Join("/work", "demopg", "mnt") {
		t.Fatalf("mount dir = %q", d.MountDir)
	}
	if d.Archive != "demo.zip" {
		t.Fatalf("archive = %q, want demo.zip", d.Archive)
	}
	if got := d.GrafanaURL(); got != "http://localhost:4700" {
		t.Fatalf("grafana url = %q", got)
	}
}

func TestNewDatabasePortDefaultsToGrafanaPortPlusOne(t *testing.T) {
	for _, port := range []int{1, 3000, 4600, 65534} {
		d, err := New(Options{Name: "p", GrafanaPort: port, Root: "/r"})
		if err != nil {
			t.Fatalf("New(%d) error = %v", port, err)
		}
		if d.Database.ExternalPort != port+1 {
			t.Fatalf("db port for %d = %d, want %d", port, d.Database.ExternalPort, port+1)
		}
	}

	d, err := New(Options{Name: "p", GrafanaPort: 4600, DatabasePort: 5999, Root: "/r"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Database.ExternalPort != 5999 {
		t.Fatalf("explicit db port = %d, want 5999", d.Database.ExternalPort)
	}
}

func TestNewRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "empty name", opts: Options{GrafanaPort: 4600}},
		{name: "slash in name", opts: Options{Name: "a/b", GrafanaPort: 4600}},
		{name: "zero port", opts: Options{Name: "a"}},
		{name: "derived port overflow", opts: Options{Name: "a", GrafanaPort: 65535}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if !errors.Is(err, jujuerrors.NotValid) {
				t.Fatalf("New() error = %v, want NotValid", err)
			}
		})
	}
}

func TestSpecLabelsAndBindings(t *testing.T) {
	d, err := New(Options{Name: "demo", GrafanaPort: 4700, Root: "/work"})
	if err != nil {
		t.Fatal(err)
	}
	specs := d.Specs()
	if len(specs) != 2 {
		t.Fatalf("spec count = %d", len(specs))
	}

	gr, pg := specs[0], specs[1]
	if gr.Labels[LabelType] != string(Visualization) || pg.Labels[LabelType] != string(Database) {
		t.Fatalf("type labels = %q, %q", gr.Labels[LabelType], pg.Labels[LabelType])
	}
	if gr.Labels[LabelVersion] == "" {
		t.Fatal("missing version label")
	}
	if gr.Ports[0].Container != 3000 || gr.Ports[0].Host != 4700 {
		t.Fatalf("grafana binding = %+v", gr.Ports[0])
	}
	if pg.Ports[0].Container != 5432 || pg.Ports[0].Host != 4701 {
		t.Fatalf("database binding = %+v", pg.Ports[0])
	}
	if len(gr.Volumes) != 0 {
		t.Fatalf("grafana volumes = %+v, want none", gr.Volumes)
	}
	if len(pg.Volumes) != 1 || pg.Volumes[0].Target != MountTarget {
		t.Fatalf("database volumes = %+v", pg.Volumes)
	}
	if !gr.Remove || !gr.Detach {
		t.Fatal("containers must be detached and auto-removed")
	}

	// Specs are fresh copies.
	pg.Env[0] = "mutated"
	if strings.Contains(d.Spec(Database).Env[0], "mutated") {
		t.Fatal("spec env aliases descriptor")
	}
}

func TestReadinessMatchesCaseInsensitively(t *testing.T) {
	rule := Readiness(Database, 0)
	if !rule.Matches("LOG:  Database system is READY to accept connections") {
		t.Fatal("expected match")
	}
	if rule.Matches("database system is starting up") {
		t.Fatal("unexpected match")
	}

	gr := Readiness(Visualization, 0)
	if !gr.Matches("logger=http.server msg=\"HTTP Server Listen\"") {
		t.Fatal("expected grafana match")
	}
}

func TestComposeProject(t *testing.T) {
	d, err := New(Options{Name: "demo", GrafanaPort: 4700, Root: "/work"})
	if err != nil {
		t.Fatal(err)
	}
	p := d.ComposeProject()
	if len(p.Services) != 2 {
		t.Fatalf("service count = %d", len(p.Services))
	}
	pg, ok := p.Services["demopg"]
	if !ok {
		t.Fatal("missing database service")
	}
	if pg.Ports[0].Published != "4701" || pg.Ports[0].Target != 5432 {
		t.Fatalf("database port = %+v", pg.Ports[0])
	}
	if pg.Volumes[0].Source != d.MountDir {
		t.Fatalf("database volume = %+v", pg.Volumes[0])
	}
}

func TestComposeRoundTrip(t *testing.T) {
	d, err := New(Options{Name: "Demo", GrafanaPort: 4700, Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	data, err := d.ComposeProject().MarshalYAML()
	if err != nil {
		t.Fatal(err)
	}
	p, err := LoadCompose(t.Context(), data, d.Base)
	if err != nil {
		t.Fatalf("LoadCompose() error = %v\n%s", err, data)
	}
	if p.Name != "demo" {
		t.Fatalf("project name = %q", p.Name)
	}
	gr, ok := p.Services[d.Grafana.Name]
	if !ok {
		t.Fatalf("missing %s in %v", d.Grafana.Name, p.ServiceNames())
	}
	if gr.Image != d.Grafana.Image || gr.Labels[LabelType] != string(Visualization) {
		t.Fatalf("grafana service = %+v", gr)
	}
	if _, ok := p.Services[d.Database.Name]; !ok {
		t.Fatalf("missing %s", d.Database.Name)
	}
}

func TestLoadComposeRejectsEmpty(t *testing.T) {
	if _, err := LoadCompose(t.Context(), []byte("services: {}\n"), "x"); err == nil {
		t.Fatal("expected error for a compose file without services")
	}
}
