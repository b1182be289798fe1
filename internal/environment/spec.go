package environment

// PortBinding publishes a container port on the host.
type PortBinding struct {
	Container int
	Host      int
	Protocol  string
}

// ContainerSpec is everything needed to launch one service container.
// It is rebuilt from the Descriptor on every invocation.
type ContainerSpec struct {
	Name     string
	Hostname string
	Image    string
	Detach   bool
	Remove   bool
	Labels   map[string]string
	Ports    []PortBinding
	Volumes  []Volume
	Env      []string
}

// Spec returns the container spec for one service of d.
func (d Descriptor) Spec(kind Kind) ContainerSpec {
	svc := d.Service(kind)
	env := make([]string, len(svc.Env))
	copy(env, svc.Env)
	vols := make([]Volume, len(svc.Volumes))
	copy(vols, svc.Volumes)
	return ContainerSpec{
		Name:     svc.Name,
		Hostname: svc.Name,
		Image:    svc.Image,
		Detach:   true,
		Remove:   true,
		Labels: map[string]string{
			LabelType:    string(kind),
			LabelVersion: d.Version,
		},
		Ports: []PortBinding{{
			Container: svc.InternalPort,
			Host:      svc.ExternalPort,
			Protocol:  "tcp",
		}},
		Volumes: vols,
		Env:     env,
	}
}

// Specs returns the specs of both services, visualization first.
func (d Descriptor) Specs() []ContainerSpec {
	return []ContainerSpec{d.Spec(Visualization), d.Spec(Database)}
}
