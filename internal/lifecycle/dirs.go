package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"grape/internal/environment"
)

const volumeDirMode = 0o775

// MakeVolumeDirs creates the host side of every volume. Existing
// directories are fine.
func MakeVolumeDirs(vols []environment.Volume) error {
	for _, v := range vols {
		if err := os.MkdirAll(v.Source, volumeDirMode); err != nil {
			return fmt.Errorf("create volume dir %s: %w", v.Source, err)
		}
		// MkdirAll is subject to the umask.
		if err := os.Chmod(v.Source, volumeDirMode); err != nil {
			return fmt.Errorf("chmod volume dir %s: %w", v.Source, err)
		}
	}
	return nil
}

// WriteCompose writes the compose rendering of d into its data directory
// unless one is already there. An existing file that does not describe the
// project's containers is reported but kept.
func (m *Manager) WriteCompose(ctx context.Context, d environment.Descriptor) error {
	path := filepath.Join(d.DataDir, environment.ComposeFile)
	existing, err := os.ReadFile(path)
	if err == nil {
		return m.checkCompose(ctx, d, existing)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	data, err := d.ComposeProject().MarshalYAML()
	if err != nil {
		return fmt.Errorf("render compose file: %w", err)
	}
	if err := os.MkdirAll(d.DataDir, volumeDirMode); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write compose file: %w", err)
	}
	m.Log.Debug("wrote compose file", "path", path)
	return nil
}

func (m *Manager) checkCompose(ctx context.Context, d environment.Descriptor, data []byte) error {
	project, err := environment.LoadCompose(ctx, data, d.Base)
	if err != nil {
		return err
	}
	for _, svc := range d.Services() {
		if _, ok := project.Services[svc.Name]; !ok {
			m.Log.Warn("compose file does not describe container", "name", svc.Name, "path", filepath.Join(d.DataDir, environment.ComposeFile))
		}
	}
	return nil
}
