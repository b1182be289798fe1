// Package grafana reads and writes the datasources, folders and dashboards
// of a dashboard server over its HTTP API and migrates them between servers.
package grafana

import (
	"encoding/json"
	"fmt"

	jujuerrors "github.com/juju/errors"
)

// RootFolderID is the implicit "General" folder every server has.
const RootFolderID int64 = 0

// Datasource is a datasource record as exchanged with the server. The server
// never returns Password; it is filled from operator supplied values.
type Datasource struct {
	ID              int64           `json:"id,omitempty"`
	UID             string          `json:"uid,omitempty"`
	OrgID           int64           `json:"orgId,omitempty"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Access          string          `json:"access"`
	URL             string          `json:"url"`
	User            string          `json:"user,omitempty"`
	Password        string          `json:"password"`
	Database        string          `json:"database,omitempty"`
	BasicAuth       bool            `json:"basicAuth,omitempty"`
	BasicAuthUser   string          `json:"basicAuthUser,omitempty"`
	WithCredentials bool            `json:"withCredentials,omitempty"`
	IsDefault       bool            `json:"isDefault,omitempty"`
	JSONData        json.RawMessage `json:"jsonData,omitempty"`
	ReadOnly        bool            `json:"readOnly"`
}

// Field returns the string value of the field with the given JSON name.
func (d Datasource) Field(key string) (string, bool) {
	switch key {
	case "name":
		return d.Name, true
	case "uid":
		return d.UID, true
	case "type":
		return d.Type, true
	case "access":
		return d.Access, true
	case "url":
		return d.URL, true
	case "user":
		return d.User, true
	case "password":
		return d.Password, true
	case "database":
		return d.Database, true
	case "basicAuthUser":
		return d.BasicAuthUser, true
	}
	return "", false
}

// SetField sets the string field with the given JSON name. Unknown keys are
// reported as NotValid.
func (d *Datasource) SetField(key, value string) error {
	switch key {
	case "name":
		d.Name = value
	case "uid":
		d.UID = value
	case "type":
		d.Type = value
	case "access":
		d.Access = value
	case "url":
		d.URL = value
	case "user":
		d.User = value
	case "password":
		d.Password = value
	case "database":
		d.Database = value
	case "basicAuthUser":
		d.BasicAuthUser = value
	default:
		return fmt.Errorf("datasource field %q: %w", key, jujuerrors.NotValid)
	}
	return nil
}

// Folder is a dashboard folder.
type Folder struct {
	ID    int64  `json:"id"`
	UID   string `json:"uid,omitempty"`
	Title string `json:"title"`
}

// Dashboard is a dashboard as returned by GET /api/dashboards/uid/<uid>,
// tagged with the id of the folder it was found in.
type Dashboard struct {
	Dashboard json.RawMessage `json:"dashboard"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	FolderID  int64           `json:"folderId"`
}

// DashboardHeader is the part of a dashboard body this tool inspects.
type DashboardHeader struct {
	ID     *int64            `json:"id"`
	UID    string            `json:"uid"`
	Title  string            `json:"title"`
	Panels []json.RawMessage `json:"panels"`
}

// Header decodes the dashboard's identifying fields.
func (d Dashboard) Header() (DashboardHeader, error) {
	var h DashboardHeader
	if len(d.Dashboard) == 0 {
		return h, fmt.Errorf("dashboard has no body: %w", jujuerrors.NotValid)
	}
	if err := json.Unmarshal(d.Dashboard, &h); err != nil {
		return h, fmt.Errorf("decode dashboard: %w", err)
	}
	return h, nil
}

// State is the logical content of a dashboard server.
type State struct {
	Datasources []Datasource `json:"datasources"`
	Folders     []Folder     `json:"folders"`
	Dashboards  []Dashboard  `json:"dashboards"`
}

// Validate checks that every dashboard's folder id resolves against the
// folder collection or is the root folder.
func (s State) Validate() error {
	known := make(map[int64]struct{}, len(s.Folders))
	for _, f := range s.Folders {
		known[f.ID] = struct{}{}
	}
	for i, d := range s.Dashboards {
		if d.FolderID == RootFolderID {
			continue
		}
		if _, ok := known[d.FolderID]; !ok {
			return fmt.Errorf("dashboard %d references unknown folder id %d: %w", i, d.FolderID, jujuerrors.NotValid)
		}
	}
	return nil
}

// WithoutDatasource returns a copy of s without datasources named name.
func (s State) WithoutDatasource(name string) State {
	out := s
	out.Datasources = make([]Datasource, 0, len(s.Datasources))
	for _, ds := range s.Datasources {
		if ds.Name == name {
			continue
		}
		out.Datasources = append(out.Datasources, ds)
	}
	return out
}
