// Package cmdutil holds the flags and wiring shared by grape's commands.
package cmdutil

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"grape/cmd/grape/ui"
	"grape/config"
	"grape/internal/adapter/docker"
	"grape/internal/environment"
	"grape/internal/logging"
	"grape/internal/migrate"
	"grape/internal/registry"
	"grape/pkg/defaults"
)

// Globals are the root persistent flags and what is derived from them.
type Globals struct {
	Verbose       int
	LogLevel      string
	StateDB       string
	NoInteraction bool

	Log *slog.Logger
}

// Bind registers the persistent flags on root.
func (g *Globals) Bind(root *cobra.Command) {
	root.PersistentFlags().CountVarP(&g.Verbose, "verbose", "v", "Increase logging (-v info, -vv debug)")
	root.PersistentFlags().StringVar(&g.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides -v)")
	root.PersistentFlags().StringVar(&g.StateDB, "state-db", defaults.StateDBPath(), "Project registry database; empty disables it")
	root.PersistentFlags().BoolVar(&g.NoInteraction, "no-interaction", false, "Plain output without colors")
}

// Setup builds the logger and configures terminal output.
func (g *Globals) Setup() error {
	level := strings.TrimSpace(g.LogLevel)
	if level == "" {
		level = logging.LevelFromVerbosity(g.Verbose)
	}
	log, err := logging.Configure(level)
	if err != nil {
		return err
	}
	g.Log = log
	ui.ConfigureInteraction(g.NoInteraction)
	return nil
}

func (g *Globals) logger() *slog.Logger {
	if g.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return g.Log
}

// ProjectFlags select a project and its archive.
type ProjectFlags struct {
	Name         string
	GrafanaPort  int
	DatabasePort int
	File         string
	WaitSeconds  int
	External     string
}

// Bind registers the project flags. wait adds -w, external adds -x.
func (f *ProjectFlags) Bind(cmd *cobra.Command, wait, external bool) {
	cmd.Flags().StringVarP(&f.Name, "name", "n", defaults.ProjectName, "Project base name")
	cmd.Flags().IntVarP(&f.GrafanaPort, "grafana-port", "g", defaults.GrafanaPort, "Host port of the dashboard server")
	cmd.Flags().IntVarP(&f.DatabasePort, "database-port", "p", defaults.DatabasePort, "Host port of the database (0 means grafana port + 1)")
	cmd.Flags().StringVarP(&f.File, "file", "f", "", "Archive file (default <name>.zip)")
	if wait {
		cmd.Flags().IntVarP(&f.WaitSeconds, "wait", "w", int(defaults.MaxWait/time.Second), "Seconds to wait for containers to initialize, 0 to skip")
	}
	if external {
		cmd.Flags().StringVarP(&f.External, "external-conf", "x", "", "YAML access document of an external dashboard server")
	}
}

// Descriptor derives the project descriptor from the flags.
func (f ProjectFlags) Descriptor() (environment.Descriptor, error) {
	return environment.New(environment.Options{
		Name:         f.Name,
		GrafanaPort:  f.GrafanaPort,
		DatabasePort: f.DatabasePort,
		Archive:      f.File,
	})
}

// MaxWait is the readiness wait. Negative values count as zero.
func (f ProjectFlags) MaxWait() time.Duration {
	return time.Duration(max(f.WaitSeconds, 0)) * time.Second
}

// ExternalAccess loads the -x document; it is required.
func (f ProjectFlags) ExternalAccess() (config.ExternalAccess, error) {
	if strings.TrimSpace(f.External) == "" {
		return config.ExternalAccess{}, fmt.Errorf("an external access document is required (-x)")
	}
	access, err := config.LoadExternalAccess(f.External)
	if err != nil {
		return config.ExternalAccess{}, err
	}
	return *access, nil
}

// Env is everything a command needs to talk to docker and the registry.
type Env struct {
	Service  *migrate.Service
	Runtime  *docker.Runtime
	Registry *registry.Store
	Output   *ui.TelemetryOutput
}

// Open connects to docker, opens the registry and wires a migrate.Service
// reporting its steps on stderr. A registry that fails to open is logged
// and left out.
func Open(ctx context.Context, g *Globals) (*Env, error) {
	log := g.logger()
	rt, err := docker.NewRuntime(log)
	if err != nil {
		return nil, err
	}
	if err := rt.WaitReady(ctx); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("docker is not available: %w", err)
	}

	env := &Env{Runtime: rt, Output: ui.NewTelemetryOutput()}
	env.Service = migrate.NewService(rt, log)
	env.Service.Tracer = env.Output.Tracer("grape")

	if path := strings.TrimSpace(g.StateDB); path != "" {
		reg, err := registry.Open(path)
		if err != nil {
			log.Warn("project registry unavailable", "path", path, "err", err)
		} else {
			env.Registry = reg
			env.Service.Registry = reg
		}
	}
	return env, nil
}

func (e *Env) Close() {
	if e == nil {
		return
	}
	e.Output.Close()
	if e.Registry != nil {
		_ = e.Registry.Close()
	}
	if e.Runtime != nil {
		_ = e.Runtime.Close()
	}
}
