package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	jujuerrors "github.com/juju/errors"

	"grape/internal/environment"
	"grape/internal/grafana"
)

// DefaultDatasource is the datasource wiring the project's database into
// its dashboard server. URL is a placeholder until resolved.
func DefaultDatasource(d environment.Descriptor) grafana.Datasource {
	return grafana.Datasource{
		Name:     d.Database.Name,
		Type:     "postgres",
		Access:   "proxy",
		URL:      "localhost:" + strconv.Itoa(d.Database.InternalPort),
		User:     d.Database.Username,
		Password: d.Database.Password,
		Database: d.DBName,
		JSONData: json.RawMessage(`{"postgresVersion":1000,"sslmode":"disable"}`),
	}
}

// DatasourceResolver fills in datasource connection details on upload.
// Operator overrides win; otherwise the project's own database datasource
// is pointed at the database container through the bridge gateway, as seen
// from the dashboard container.
type DatasourceResolver struct {
	Runtime    environment.ContainerRuntime
	Descriptor environment.Descriptor
	Overrides  grafana.Overrides
}

var _ grafana.Resolver = DatasourceResolver{}

func (r DatasourceResolver) ResolveDatasource(ctx context.Context, ds *grafana.Datasource) error {
	if r.Overrides.Has(ds.Name) {
		return r.Overrides.ResolveDatasource(ctx, ds)
	}
	if ds.Name != r.Descriptor.Database.Name {
		return nil
	}
	gw, err := r.Gateway(ctx)
	if err != nil {
		return err
	}
	ds.URL = gw + ":" + strconv.Itoa(r.Descriptor.Database.ExternalPort)
	ds.Password = r.Descriptor.Database.Password
	return nil
}

// Gateway returns the bridge gateway address of the database container.
func (r DatasourceResolver) Gateway(ctx context.Context) (string, error) {
	name := r.Descriptor.Database.Name
	info, err := r.Runtime.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("inspect %q: %w", name, err)
	}
	if !info.Exists {
		return "", fmt.Errorf("database container %q: %w", name, jujuerrors.NotFound)
	}
	if info.Gateway == "" {
		return "", fmt.Errorf("bridge gateway of %q: %w", name, jujuerrors.NotFound)
	}
	return info.Gateway, nil
}
