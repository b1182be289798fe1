// Package environment derives everything the tool needs to know about a
// project from its base name and two ports: container names, images, port
// bindings, host mounts, labels and readiness rules.
//
// A Descriptor is computed once per command invocation and never mutated.
package environment

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	jujuerrors "github.com/juju/errors"

	"grape/internal/support/buildinfo"
)

// Kind identifies one of the two services in an environment.
type Kind string

const (
	Visualization Kind = "visualization"
	Database      Kind = "database"
)

// Container labels applied to every managed container.
const (
	LabelType    = "grape.type"
	LabelVersion = "grape.version"
)

const (
	grafanaImage        = "grafana/grafana:latest"
	grafanaInternalPort = 3000
	grafanaUser         = "admin"
	grafanaPassword     = "admin"

	postgresImage        = "postgres:latest"
	postgresInternalPort = 5432
	postgresUser         = "postgres"
	postgresPassword     = "password"
	postgresDatabase     = "postgres"

	// MountTarget is where the database host mount appears inside its container.
	MountTarget = "/mnt"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Options are the operator supplied inputs a Descriptor is derived from.
type Options struct {
	Name         string
	GrafanaPort  int
	DatabasePort int    // 0 means GrafanaPort + 1
	Archive      string // "" means <Name>.zip
	Root         string // "" means the current working directory
	Host         string // "" means localhost
}

// Volume is a host directory bound into a container.
type Volume struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Mode   string `json:"mode"`
}

// Service describes one container of the pair.
type Service struct {
	Kind         Kind     `json:"kind"`
	Name         string   `json:"name"`
	Image        string   `json:"image"`
	Host         string   `json:"host"`
	ExternalPort int      `json:"xport"`
	InternalPort int      `json:"iport"`
	Username     string   `json:"username"`
	Password     string   `json:"password"`
	Env          []string `json:"env"`
	Volumes      []Volume `json:"volumes"`
}

// Descriptor is the fully derived description of a project.
type Descriptor struct {
	Base     string  `json:"base"`
	Version  string  `json:"version"`
	Archive  string  `json:"file"`
	Root     string  `json:"root"`
	DataDir  string  `json:"share"`
	MountDir string  `json:"mnt"`
	DBName   string  `json:"dbname"`
	Grafana  Service `json:"gr"`
	Database Service `json:"pg"`
}

// New derives a Descriptor from opts.
func New(opts Options) (Descriptor, error) {
	name := strings.TrimSpace(opts.Name)
	if !validName.MatchString(name) {
		return Descriptor{}, fmt.Errorf("project name %q: %w", opts.Name, jujuerrors.NotValid)
	}
	if err := checkPort("grafana port", opts.GrafanaPort); err != nil {
		return Descriptor{}, err
	}
	dbPort := opts.DatabasePort
	if dbPort == 0 {
		dbPort = opts.GrafanaPort + 1
	}
	if err := checkPort("database port", dbPort); err != nil {
		return Descriptor{}, err
	}

	root := opts.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Descriptor{}, fmt.Errorf("resolve working directory: %w", err)
		}
		root = wd
	}
	archive := opts.Archive
	if archive == "" {
		archive = name + ".zip"
	}
	host := opts.Host
	if host == "" {
		host = "localhost"
	}

	grName := name + "gr"
	pgName := name + "pg"
	dataDir := filepath.Join(root, pgName)
	mountDir := filepath.Join(dataDir, "mnt")

	return Descriptor{
		Base:     name,
		Version:  buildinfo.Version,
		Archive:  archive,
		Root:     root,
		DataDir:  dataDir,
		MountDir: mountDir,
		DBName:   postgresDatabase,
		Grafana: Service{
			Kind:         Visualization,
			Name:         grName,
			Image:        grafanaImage,
			Host:         host,
			ExternalPort: opts.GrafanaPort,
			InternalPort: grafanaInternalPort,
			Username:     grafanaUser,
			Password:     grafanaPassword,
			Env:          []string{},
			Volumes:      []Volume{},
		},
		Database: Service{
			Kind:         Database,
			Name:         pgName,
			Image:        postgresImage,
			Host:         host,
			ExternalPort: dbPort,
			InternalPort: postgresInternalPort,
			Username:     postgresUser,
			Password:     postgresPassword,
			Env: []string{
				"PGDATA=" + MountTarget + "/pgdata",
				"POSTGRES_USER=" + postgresUser,
				"POSTGRES_PASSWORD=" + postgresPassword,
			},
			Volumes: []Volume{{Source: mountDir, Target: MountTarget, Mode: "rw"}},
		},
	}, nil
}

func checkPort(what string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s %d out of range: %w", what, port, jujuerrors.NotValid)
	}
	return nil
}

// GrafanaURL is the base URL of the visualization server as seen from the host.
func (d Descriptor) GrafanaURL() string {
	return "http://" + d.Grafana.Host + ":" + strconv.Itoa(d.Grafana.ExternalPort)
}

// Services returns the two services, visualization first.
func (d Descriptor) Services() []Service {
	return []Service{d.Grafana, d.Database}
}

// Service returns the service of the given kind.
func (d Descriptor) Service(kind Kind) Service {
	if kind == Database {
		return d.Database
	}
	return d.Grafana
}
