package grafana

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/juju/collections/set"
)

// DefaultFolderLimit bounds the folder listing.
const DefaultFolderLimit = 100

// Statuses accepted as success for each upload stage. Conflicts mean the
// object already exists, which keeps Apply re-runnable against a partially
// populated server. 500 on folder upload is accepted for compatibility with
// servers that report duplicate titles that way.
var (
	datasourceAccepted = []int{http.StatusOK, http.StatusConflict}
	folderAccepted     = []int{http.StatusOK, http.StatusPreconditionFailed, http.StatusInternalServerError}
	dashboardAccepted  = []int{http.StatusOK, http.StatusBadRequest, http.StatusPreconditionFailed}
)

// Resolver fills in connection details of a datasource before upload.
type Resolver interface {
	ResolveDatasource(ctx context.Context, ds *Datasource) error
}

// Migrator collects State from a server and applies State to a server.
type Migrator struct {
	Client      *Client
	FolderLimit int
	Log         *slog.Logger
}

// NewMigrator returns a Migrator over c.
func NewMigrator(c *Client, log *slog.Logger) *Migrator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Migrator{Client: c, FolderLimit: DefaultFolderLimit, Log: log.With("component", "migrate")}
}

func (m *Migrator) folderLimit() int {
	if m.FolderLimit <= 0 {
		return DefaultFolderLimit
	}
	return m.FolderLimit
}

// Collect reads datasources, folders and every dashboard of every folder.
// Dashboards are only reachable per folder, so the root folder is always
// searched in addition to the listed folders.
func (m *Migrator) Collect(ctx context.Context) (State, error) {
	m.Log.Info("reading dashboard server", "url", m.Client.URL())
	datasources, err := m.Client.Datasources(ctx)
	if err != nil {
		return State{}, fmt.Errorf("read datasources: %w", err)
	}
	folders, err := m.Client.Folders(ctx, m.folderLimit())
	if err != nil {
		return State{}, fmt.Errorf("read folders: %w", err)
	}

	seen := set.NewInts(int(RootFolderID))
	ids := []int64{RootFolderID}
	for _, f := range folders {
		if seen.Contains(int(f.ID)) {
			continue
		}
		seen.Add(int(f.ID))
		ids = append(ids, f.ID)
	}

	dashboards := make([]Dashboard, 0)
	for _, fid := range ids {
		hits, err := m.Client.Search(ctx, fid)
		if err != nil {
			return State{}, fmt.Errorf("search folder %d: %w", fid, err)
		}
		for _, hit := range hits {
			if hit.Type == "dash-folder" {
				continue
			}
			dash, err := m.Client.DashboardByUID(ctx, hit.UID)
			if err != nil {
				return State{}, fmt.Errorf("read dashboard %q: %w", hit.UID, err)
			}
			dash.FolderID = fid
			dashboards = append(dashboards, dash)
		}
	}

	if datasources == nil {
		datasources = []Datasource{}
	}
	if folders == nil {
		folders = []Folder{}
	}
	m.Log.Info("read dashboard server", "datasources", len(datasources), "folders", len(folders), "dashboards", len(dashboards))
	return State{Datasources: datasources, Folders: folders, Dashboards: dashboards}, nil
}

// Apply uploads state in dependency order: datasources, folders, then
// dashboards retargeted at the server assigned folder ids. state is not
// modified. A nil resolver uploads datasources as they are.
func (m *Migrator) Apply(ctx context.Context, state State, resolver Resolver) error {
	if err := m.ApplyDatasources(ctx, state.Datasources, resolver); err != nil {
		return err
	}
	if err := m.ApplyFolders(ctx, state.Folders); err != nil {
		return err
	}
	fmap, err := m.FolderMap(ctx, state.Folders)
	if err != nil {
		return err
	}
	return m.ApplyDashboards(ctx, state.Dashboards, fmap)
}

// ApplyDatasources uploads each datasource after resolving it.
func (m *Migrator) ApplyDatasources(ctx context.Context, datasources []Datasource, resolver Resolver) error {
	for _, ds := range datasources {
		if resolver != nil {
			if err := resolver.ResolveDatasource(ctx, &ds); err != nil {
				return fmt.Errorf("resolve datasource %q: %w", ds.Name, err)
			}
		}
		m.Log.Info("uploading datasource", "name", ds.Name)
		resp, err := m.Client.CreateDatasource(ctx, ds)
		if err != nil {
			return fmt.Errorf("upload datasource %q: %w", ds.Name, err)
		}
		m.Log.Debug("datasource uploaded", "name", ds.Name, "status", resp.Status)
		if err := resp.expect(datasourceAccepted...); err != nil {
			return fmt.Errorf("upload datasource %q: %w", ds.Name, err)
		}
	}
	return nil
}

// ApplyFolders uploads each folder by title.
func (m *Migrator) ApplyFolders(ctx context.Context, folders []Folder) error {
	for _, f := range folders {
		m.Log.Info("uploading folder", "title", f.Title)
		resp, err := m.Client.CreateFolder(ctx, f)
		if err != nil {
			return fmt.Errorf("upload folder %q: %w", f.Title, err)
		}
		m.Log.Debug("folder uploaded", "title", f.Title, "status", resp.Status)
		if err := resp.expect(folderAccepted...); err != nil {
			return fmt.Errorf("upload folder %q: %w", f.Title, err)
		}
	}
	return nil
}

// FolderMap lists the server's folders and maps source folder ids to them
// by title.
func (m *Migrator) FolderMap(ctx context.Context, source []Folder) (FolderIDMap, error) {
	target, err := m.Client.Folders(ctx, m.folderLimit())
	if err != nil {
		return nil, fmt.Errorf("read uploaded folders: %w", err)
	}
	fmap := BuildFolderIDMap(source, target)
	for _, f := range source {
		if _, ok := fmap[f.ID]; !ok {
			m.Log.Warn("folder not found after upload, its dashboards go to the root folder", "title", f.Title)
		}
	}
	return fmap, nil
}

// ApplyDashboards uploads each dashboard as a new dashboard in its mapped folder.
func (m *Migrator) ApplyDashboards(ctx context.Context, dashboards []Dashboard, fmap FolderIDMap) error {
	for _, d := range dashboards {
		fid := fmap.Resolve(d.FolderID)
		upload, err := NewDashboardUpload(d, fid)
		if err != nil {
			return err
		}
		m.Log.Info("uploading dashboard", "title", upload.title, "folder", fid)
		resp, err := m.Client.CreateDashboard(ctx, upload)
		if err != nil {
			return fmt.Errorf("upload dashboard %q: %w", upload.title, err)
		}
		m.Log.Debug("dashboard uploaded", "title", upload.title, "status", resp.Status)
		if err := resp.expect(dashboardAccepted...); err != nil {
			return fmt.Errorf("upload dashboard %q: %w", upload.title, err)
		}
	}
	return nil
}

// DashboardUpload is the body of POST /api/dashboards/db.
type DashboardUpload struct {
	Dashboard map[string]json.RawMessage `json:"dashboard"`
	FolderID  int64                      `json:"folderId"`
	Overwrite bool                       `json:"overwrite"`

	title string
}

// NewDashboardUpload prepares d for creation in folderID. The dashboard's id
// and uid are nulled so the server assigns fresh ones.
func NewDashboardUpload(d Dashboard, folderID int64) (DashboardUpload, error) {
	h, err := d.Header()
	if err != nil {
		return DashboardUpload{}, err
	}
	body := make(map[string]json.RawMessage)
	if err := json.Unmarshal(d.Dashboard, &body); err != nil {
		return DashboardUpload{}, fmt.Errorf("decode dashboard %q: %w", h.Title, err)
	}
	body["id"] = json.RawMessage("null")
	body["uid"] = json.RawMessage("null")
	return DashboardUpload{Dashboard: body, FolderID: folderID, title: h.Title}, nil
}
