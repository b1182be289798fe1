package cmdutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	jujuerrors "github.com/juju/errors"
	"github.com/spf13/cobra"
)

func TestProjectFlagsDefaults(t *testing.T) {
	var f ProjectFlags
	cmd := &cobra.Command{Use: "x"}
	f.Bind(cmd, true, true)
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatal(err)
	}

	d, err := f.Descriptor()
	if err != nil {
		t.Fatal(err)
	}
	if d.Base != "grapex01" || d.Grafana.ExternalPort != 4600 || d.Database.ExternalPort != 4601 {
		t.Errorf("descriptor = %s %d %d", d.Base, d.Grafana.ExternalPort, d.Database.ExternalPort)
	}
	if d.Archive != "grapex01.zip" {
		t.Errorf("archive = %q", d.Archive)
	}
	if f.MaxWait() != 60*time.Second {
		t.Errorf("max wait = %v", f.MaxWait())
	}
}

func TestProjectFlagsShortNames(t *testing.T) {
	var f ProjectFlags
	cmd := &cobra.Command{Use: "x"}
	f.Bind(cmd, true, true)
	if err := cmd.ParseFlags([]string{"-n", "demo", "-g", "5000", "-p", "6000", "-f", "out.zip", "-w", "-3", "-x", "ext.yaml"}); err != nil {
		t.Fatal(err)
	}
	d, err := f.Descriptor()
	if err != nil {
		t.Fatal(err)
	}
	if d.Base != "demo" || d.Database.ExternalPort != 6000 || d.Archive != "out.zip" {
		t.Errorf("descriptor = %+v", d)
	}
	if f.MaxWait() != 0 {
		t.Errorf("negative wait = %v, want 0", f.MaxWait())
	}
	if f.External != "ext.yaml" {
		t.Errorf("external = %q", f.External)
	}
}

func TestProjectFlagsOptionalFlags(t *testing.T) {
	var f ProjectFlags
	cmd := &cobra.Command{Use: "x"}
	f.Bind(cmd, false, false)
	for _, name := range []string{"wait", "external-conf"} {
		if cmd.Flags().Lookup(name) != nil {
			t.Errorf("unexpected flag %q", name)
		}
	}
}

func TestExternalAccess(t *testing.T) {
	if _, err := (ProjectFlags{}).ExternalAccess(); err == nil {
		t.Fatal("expected error without -x")
	}

	path := filepath.Join(t.TempDir(), "ext.yaml")
	if _, err := (ProjectFlags{External: path}).ExternalAccess(); !jujuerrors.Is(err, jujuerrors.NotFound) {
		t.Fatalf("missing document error = %v, want NotFound", err)
	}
	doc := "url: https://g.example/\nusername: u\npassword: p\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	access, err := (ProjectFlags{External: path}).ExternalAccess()
	if err != nil {
		t.Fatal(err)
	}
	if access.URL != "https://g.example" {
		t.Errorf("url = %q", access.URL)
	}
}

func TestGlobalsSetup(t *testing.T) {
	g := &Globals{Verbose: 2, NoInteraction: true}
	if err := g.Setup(); err != nil {
		t.Fatal(err)
	}
	if !g.Log.Enabled(t.Context(), -4) {
		t.Error("-vv does not enable debug")
	}

	g = &Globals{LogLevel: "loud"}
	if err := g.Setup(); err == nil {
		t.Error("expected error for unknown level")
	}
}
