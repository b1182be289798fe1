package environment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/compose-spec/compose-go/v2/loader"
	compose "github.com/compose-spec/compose-go/v2/types"
)

// ComposeFile is the name of the compose document written into the data dir.
const ComposeFile = "compose.yaml"

// ComposeProject renders the environment as a compose project so the pair
// can be started by hand with `docker compose up -d`.
func (d Descriptor) ComposeProject() *compose.Project {
	services := compose.Services{}
	for _, spec := range d.Specs() {
		svc := compose.ServiceConfig{
			Name:          spec.Name,
			Image:         spec.Image,
			ContainerName: spec.Name,
			Hostname:      spec.Hostname,
			Environment:   compose.NewMappingWithEquals(spec.Env),
			Labels:        compose.Labels(spec.Labels),
		}
		for _, p := range spec.Ports {
			svc.Ports = append(svc.Ports, compose.ServicePortConfig{
				Target:    uint32(p.Container),
				Published: strconv.Itoa(p.Host),
				Protocol:  p.Protocol,
			})
		}
		for _, v := range spec.Volumes {
			svc.Volumes = append(svc.Volumes, compose.ServiceVolumeConfig{
				Type:     compose.VolumeTypeBind,
				Source:   v.Source,
				Target:   v.Target,
				ReadOnly: v.Mode == "ro",
			})
		}
		services[spec.Name] = svc
	}
	return &compose.Project{
		Name:     loader.NormalizeProjectName(d.Base),
		Services: services,
	}
}

// LoadCompose parses a compose document such as the one written by
// ComposeProject.
func LoadCompose(ctx context.Context, data []byte, name string) (*compose.Project, error) {
	details := compose.ConfigDetails{
		ConfigFiles: []compose.ConfigFile{
			{Filename: ComposeFile, Content: data},
		},
	}
	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		o.SetProjectName(loader.NormalizeProjectName(name), true)
	})
	if err != nil {
		return nil, fmt.Errorf("parse compose file: %w", err)
	}
	if len(project.Services) == 0 {
		return nil, fmt.Errorf("compose file has no services")
	}
	return project, nil
}
