// Package migrate composes the lifecycle manager, the dashboard migration
// protocol, the database tools and the snapshot codec into the commands an
// operator runs: create, delete, save, load, import and export.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	jujuerrors "github.com/juju/errors"
	"go.opentelemetry.io/otel/trace"

	"grape/config"
	"grape/internal/database"
	"grape/internal/environment"
	"grape/internal/grafana"
	"grape/internal/lifecycle"
	"grape/internal/registry"
	"grape/internal/snapshot"
	"grape/pkg/telemetry"
)

// Registry records projects and snapshot operations. A nil Registry on the
// Service turns bookkeeping off.
type Registry interface {
	RegisterProject(ctx context.Context, p registry.Project) error
	RemoveProject(ctx context.Context, name string) error
	RecordSnapshot(ctx context.Context, r registry.SnapshotRecord) error
}

type Service struct {
	Lifecycle *lifecycle.Manager
	Database  *database.Postgres
	Registry  Registry
	Tracer    trace.Tracer
	HTTP      *http.Client
	Log       *slog.Logger
	Now       func() time.Time
}

// NewService wires a Service around rt.
func NewService(rt environment.ContainerRuntime, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{
		Lifecycle: lifecycle.NewManager(rt, log),
		Database:  database.NewPostgres(rt, log),
		Log:       log.With("component", "migrate"),
		Now:       time.Now,
	}
}

// ArchivePath resolves the archive of d against its root directory.
func ArchivePath(d environment.Descriptor) string {
	if filepath.IsAbs(d.Archive) {
		return d.Archive
	}
	return filepath.Join(d.Root, d.Archive)
}

const (
	stepContainers = "containers"
	stepDelete     = "delete"
	stepCreate     = "create"
	stepRead       = "read"
	stepCollect    = "collect"
	stepDump       = "dump"
	stepWrite      = "write"
	stepDashboards = "dashboards"
	stepRestore    = "restore"
)

func plan(steps ...telemetry.PlannedStep) telemetry.Plan {
	return telemetry.Plan{Steps: steps}
}

func step(id, title string) telemetry.PlannedStep {
	return telemetry.PlannedStep{ID: id, Title: title}
}

// Create brings up the project's containers and registers the project.
func (s *Service) Create(ctx context.Context, d environment.Descriptor, maxWait time.Duration) (_ []lifecycle.ServiceResult, err error) {
	op, err := telemetry.EmitPlan(ctx, s.Tracer, "create", plan(
		step(stepContainers, "Start "+d.Grafana.Name+" and "+d.Database.Name),
	))
	if err != nil {
		return nil, err
	}
	defer func() { op.End(err) }()

	var results []lifecycle.ServiceResult
	err = op.RunStep(op.Context(), stepContainers, func(ctx context.Context) error {
		var err error
		results, err = s.Lifecycle.Create(ctx, d, maxWait)
		return err
	})
	if err != nil {
		return results, err
	}
	s.register(ctx, d)
	return results, nil
}

// Delete stops the project's containers, removes its data and forgets it.
func (s *Service) Delete(ctx context.Context, d environment.Descriptor) (_ []lifecycle.ServiceResult, err error) {
	op, err := telemetry.EmitPlan(ctx, s.Tracer, "delete", plan(
		step(stepContainers, "Stop "+d.Grafana.Name+" and "+d.Database.Name),
	))
	if err != nil {
		return nil, err
	}
	defer func() { op.End(err) }()

	var results []lifecycle.ServiceResult
	err = op.RunStep(op.Context(), stepContainers, func(ctx context.Context) error {
		var err error
		results, err = s.Lifecycle.Delete(ctx, d)
		return err
	})
	if err != nil {
		return results, err
	}
	if s.Registry != nil {
		if err := s.Registry.RemoveProject(ctx, d.Base); err != nil {
			s.Log.Warn("forget project", "project", d.Base, "err", err)
		}
	}
	return results, nil
}

// Save writes the project's dashboard state and database dump to its
// archive and returns the archive path.
func (s *Service) Save(ctx context.Context, d environment.Descriptor) (_ string, err error) {
	path := ArchivePath(d)
	if err := refuseExisting(path); err != nil {
		return "", err
	}
	op, err := telemetry.EmitPlan(ctx, s.Tracer, "save", plan(
		step(stepCollect, "Read dashboards from "+d.GrafanaURL()),
		step(stepDump, "Dump database "+d.Database.Name),
		step(stepWrite, "Write "+path),
	))
	if err != nil {
		return "", err
	}
	defer func() { op.End(err) }()

	snap := snapshot.Snapshot{Conf: snapshot.NewConf(d, s.now())}
	if err := s.collectAndDump(op, d, lifecycle.GrafanaTarget(d), &snap); err != nil {
		return "", err
	}
	if err := op.RunStep(op.Context(), stepWrite, func(context.Context) error {
		return snapshot.Write(path, snap)
	}); err != nil {
		return "", err
	}
	s.record(ctx, d.Base, registry.OpSave, path)
	return path, nil
}

// Import writes the dashboard state of the external server described by
// access, together with the local project's database dump, to the archive.
// External databases are never dumped.
func (s *Service) Import(ctx context.Context, d environment.Descriptor, access config.ExternalAccess) (_ string, err error) {
	if err := access.Validate(); err != nil {
		return "", err
	}
	path := ArchivePath(d)
	if err := refuseExisting(path); err != nil {
		return "", err
	}
	op, err := telemetry.EmitPlan(ctx, s.Tracer, "import", plan(
		step(stepCollect, "Read dashboards from "+access.URL),
		step(stepDump, "Dump database "+d.Database.Name),
		step(stepWrite, "Write "+path),
	))
	if err != nil {
		return "", err
	}
	defer func() { op.End(err) }()

	conf := snapshot.NewConf(d, s.now())
	conf.Import = &access
	snap := snapshot.Snapshot{Conf: conf}
	if err := s.collectAndDump(op, d, access.Target(), &snap); err != nil {
		return "", err
	}
	if err := op.RunStep(op.Context(), stepWrite, func(context.Context) error {
		return snapshot.Write(path, snap)
	}); err != nil {
		return "", err
	}
	s.record(ctx, d.Base, registry.OpImport, path)
	return path, nil
}

func (s *Service) collectAndDump(op *telemetry.Operation, d environment.Descriptor, target grafana.Target, snap *snapshot.Snapshot) error {
	if err := op.RunStep(op.Context(), stepCollect, func(ctx context.Context) error {
		state, err := s.migrator(target).Collect(ctx)
		if err != nil {
			return fmt.Errorf("read dashboard server %s: %w", target.URL, err)
		}
		snap.State = state
		return nil
	}); err != nil {
		return err
	}
	return op.RunStep(op.Context(), stepDump, func(ctx context.Context) error {
		sql, err := s.Database.Dump(ctx, d)
		if err != nil {
			return err
		}
		snap.SQL = sql
		return nil
	})
}

// Load recreates the project from scratch and restores its archive into
// it. Datasource credentials recorded by an import are applied on upload.
func (s *Service) Load(ctx context.Context, d environment.Descriptor, maxWait time.Duration) (err error) {
	path := ArchivePath(d)
	op, err := telemetry.EmitPlan(ctx, s.Tracer, "load", plan(
		step(stepRead, "Read "+path),
		step(stepDelete, "Remove "+d.Grafana.Name+" and "+d.Database.Name),
		step(stepCreate, "Create "+d.Grafana.Name+" and "+d.Database.Name),
		step(stepDashboards, "Upload dashboards to "+d.GrafanaURL()),
		step(stepRestore, "Restore database "+d.Database.Name),
	))
	if err != nil {
		return err
	}
	defer func() { op.End(err) }()

	var snap snapshot.Snapshot
	if err := op.RunStep(op.Context(), stepRead, func(context.Context) error {
		var err error
		if snap, err = snapshot.Read(path); err != nil {
			return err
		}
		return snap.State.Validate()
	}); err != nil {
		return err
	}
	var overrides grafana.Overrides
	if snap.Conf.Import != nil {
		s.Log.Info("archive was imported, applying its datasource credentials", "from", snap.Conf.Import.URL)
		overrides = grafana.NewOverrides(snap.Conf.Import.Databases)
		for _, f := range overrides.UnknownFields() {
			s.Log.Warn("ignoring unknown datasource field in import credentials", "field", f)
		}
	}

	if err := op.RunStep(op.Context(), stepDelete, func(ctx context.Context) error {
		_, err := s.Lifecycle.Delete(ctx, d)
		return err
	}); err != nil {
		return err
	}
	if err := op.RunStep(op.Context(), stepCreate, func(ctx context.Context) error {
		_, err := s.Lifecycle.Create(ctx, d, maxWait)
		return err
	}); err != nil {
		return err
	}
	s.register(ctx, d)

	if err := op.RunStep(op.Context(), stepDashboards, func(ctx context.Context) error {
		return s.migrator(lifecycle.GrafanaTarget(d)).Apply(ctx, snap.State, s.Lifecycle.Resolver(d, overrides))
	}); err != nil {
		return err
	}
	if strings.TrimSpace(snap.SQL) == database.NoContainerDump {
		s.Log.Info("archive holds no database dump, skipping restore", "archive", path)
		op.SkipStep(op.Context(), stepRestore, "archive has no database dump")
	} else if err := op.RunStep(op.Context(), stepRestore, func(ctx context.Context) error {
		return s.Database.Restore(ctx, d, snap.SQL)
	}); err != nil {
		return err
	}
	s.record(ctx, d.Base, registry.OpLoad, path)
	return nil
}

// Export uploads the archived dashboard state to the external server
// described by access. Blank datasource passwords are filled from
// access.Databases; the project's own database datasource is left out.
func (s *Service) Export(ctx context.Context, d environment.Descriptor, access config.ExternalAccess) (err error) {
	if err := access.Validate(); err != nil {
		return err
	}
	path := ArchivePath(d)
	op, err := telemetry.EmitPlan(ctx, s.Tracer, "export", plan(
		step(stepRead, "Read "+path),
		step(stepDashboards, "Upload dashboards to "+access.URL),
	))
	if err != nil {
		return err
	}
	defer func() { op.End(err) }()

	var snap snapshot.Snapshot
	if err := op.RunStep(op.Context(), stepRead, func(context.Context) error {
		var err error
		if snap, err = snapshot.Read(path); err != nil {
			return err
		}
		return snap.State.Validate()
	}); err != nil {
		return err
	}

	state := ExportState(snap, d, access)
	if err := op.RunStep(op.Context(), stepDashboards, func(ctx context.Context) error {
		return s.migrator(access.Target()).Apply(ctx, state, nil)
	}); err != nil {
		return err
	}
	s.record(ctx, d.Base, registry.OpExport, path)
	return nil
}

// ExportState prepares the archived state for an external server: blank
// passwords are filled from access and the local database datasource is
// dropped.
func ExportState(snap snapshot.Snapshot, d environment.Descriptor, access config.ExternalAccess) grafana.State {
	state := snap.State
	state.Datasources = grafana.NewPasswordTable(access.Databases).Apply(state.Datasources)
	local := snap.Conf.Database.Name
	if local == "" {
		local = d.Database.Name
	}
	return state.WithoutDatasource(local)
}

// Collect reads the state of the dashboard server at target.
func (s *Service) Collect(ctx context.Context, target grafana.Target) (grafana.State, error) {
	return s.migrator(target).Collect(ctx)
}

func (s *Service) migrator(target grafana.Target) *grafana.Migrator {
	return grafana.NewMigrator(grafana.NewClient(target, s.HTTP, s.Log), s.Log)
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func refuseExisting(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("archive %s: %w", path, jujuerrors.AlreadyExists)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("check archive %s: %w", path, err)
	}
	return nil
}

func (s *Service) register(ctx context.Context, d environment.Descriptor) {
	if s.Registry == nil {
		return
	}
	err := s.Registry.RegisterProject(ctx, registry.Project{
		Name:         d.Base,
		GrafanaPort:  d.Grafana.ExternalPort,
		DatabasePort: d.Database.ExternalPort,
		DataDir:      d.DataDir,
	})
	if err != nil {
		s.Log.Warn("register project", "project", d.Base, "err", err)
	}
}

func (s *Service) record(ctx context.Context, project string, op registry.Op, path string) {
	if s.Registry == nil {
		return
	}
	err := s.Registry.RecordSnapshot(ctx, registry.SnapshotRecord{Project: project, Op: op, Archive: path, At: s.now()})
	if err != nil {
		s.Log.Warn("record snapshot", "project", project, "op", op, "err", err)
	}
}
