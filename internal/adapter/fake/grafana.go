package fake

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"

	"grape/internal/grafana"
)

type fakeDashboard struct {
	body     map[string]any
	folderID int64
}

// Grafana is an in-memory dashboard server speaking the subset of the HTTP
// API the migrator uses. Duplicate datasource names answer 409, duplicate
// folder titles 412 and duplicate dashboard titles in a folder 412.
type Grafana struct {
	CallRecorder
	Username string
	Password string

	mu          sync.Mutex
	server      *httptest.Server
	seq         int64
	datasources []grafana.Datasource
	folders     []grafana.Folder
	dashboards  []*fakeDashboard
	failures    map[string][]int
}

// NewGrafana starts a server accepting admin/admin. Close it when done.
func NewGrafana() *Grafana {
	g := &Grafana{
		Username: "admin",
		Password: "admin",
		failures: make(map[string][]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/datasources", g.listDatasources)
	mux.HandleFunc("POST /api/datasources", g.createDatasource)
	mux.HandleFunc("GET /api/folders", g.listFolders)
	mux.HandleFunc("POST /api/folders", g.createFolder)
	mux.HandleFunc("GET /api/search", g.search)
	mux.HandleFunc("GET /api/dashboards/uid/{uid}", g.getDashboard)
	mux.HandleFunc("POST /api/dashboards/db", g.createDashboard)
	g.server = httptest.NewServer(g.auth(mux))
	return g
}

// URL is the server base URL.
func (g *Grafana) URL() string { return g.server.URL }

// Target returns a target pointing at the server with valid credentials.
func (g *Grafana) Target() grafana.Target {
	return grafana.Target{URL: g.server.URL, Username: g.Username, Password: g.Password}
}

// Close shuts the server down.
func (g *Grafana) Close() { g.server.Close() }

// FailNext makes the next requests to "METHOD /path" answer the given
// statuses, one per request.
func (g *Grafana) FailNext(route string, statuses ...int) {
	g.mu.Lock()
	g.failures[route] = append(g.failures[route], statuses...)
	g.mu.Unlock()
}

func (g *Grafana) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != g.Username || pass != g.Password {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid username or password"})
			return
		}
		route := r.Method + " " + r.URL.Path
		g.record(route, r.URL.RawQuery)

		g.mu.Lock()
		queued := g.failures[route]
		if len(queued) > 0 {
			status := queued[0]
			g.failures[route] = queued[1:]
			g.mu.Unlock()
			writeJSON(w, status, map[string]string{"message": "injected failure"})
			return
		}
		g.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Grafana) nextID() int64 {
	g.seq++
	return g.seq
}

// AddDatasource seeds a datasource and returns its id.
func (g *Grafana) AddDatasource(ds grafana.Datasource) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ds.ID = g.nextID()
	if ds.UID == "" {
		ds.UID = "ds" + strconv.FormatInt(ds.ID, 10)
	}
	g.datasources = append(g.datasources, ds)
	return ds.ID
}

// AddFolder seeds a folder and returns its id.
func (g *Grafana) AddFolder(title string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID()
	g.folders = append(g.folders, grafana.Folder{ID: id, UID: "f" + strconv.FormatInt(id, 10), Title: title})
	return id
}

// AddDashboard seeds a dashboard with the given title in folderID and
// returns its uid.
func (g *Grafana) AddDashboard(folderID int64, title string, extra map[string]any) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID()
	body := map[string]any{}
	for k, v := range extra {
		body[k] = v
	}
	uid := "d" + strconv.FormatInt(id, 10)
	body["id"] = id
	body["uid"] = uid
	body["title"] = title
	g.dashboards = append(g.dashboards, &fakeDashboard{body: body, folderID: folderID})
	return uid
}

// Datasources returns a copy of the stored datasources, passwords included.
func (g *Grafana) Datasources() []grafana.Datasource {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]grafana.Datasource, len(g.datasources))
	copy(out, g.datasources)
	return out
}

// Folders returns a copy of the stored folders.
func (g *Grafana) Folders() []grafana.Folder {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]grafana.Folder, len(g.folders))
	copy(out, g.folders)
	return out
}

// DashboardTitles maps each stored dashboard title to its folder id.
func (g *Grafana) DashboardTitles() map[string]int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int64, len(g.dashboards))
	for _, d := range g.dashboards {
		out[fmt.Sprint(d.body["title"])] = d.folderID
	}
	return out
}

func (g *Grafana) listDatasources(w http.ResponseWriter, _ *http.Request) {
	g.mu.Lock()
	out := make([]grafana.Datasource, len(g.datasources))
	copy(out, g.datasources)
	g.mu.Unlock()
	for i := range out {
		out[i].Password = ""
	}
	writeJSON(w, http.StatusOK, out)
}

func (g *Grafana) createDatasource(w http.ResponseWriter, r *http.Request) {
	var ds grafana.Datasource
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.datasources {
		if existing.Name == ds.Name {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "data source with the same name already exists"})
			return
		}
	}
	ds.ID = g.nextID()
	ds.UID = "ds" + strconv.FormatInt(ds.ID, 10)
	g.datasources = append(g.datasources, ds)
	writeJSON(w, http.StatusOK, map[string]any{"id": ds.ID, "name": ds.Name, "message": "Datasource added"})
}

func (g *Grafana) listFolders(w http.ResponseWriter, r *http.Request) {
	limit := len(g.Folders())
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n < limit {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, g.Folders()[:limit])
}

func (g *Grafana) createFolder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UID   string `json:"uid"`
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, f := range g.folders {
		if f.Title == body.Title || (body.UID != "" && f.UID == body.UID) {
			writeJSON(w, http.StatusPreconditionFailed, map[string]string{"message": "a folder with the same name already exists"})
			return
		}
	}
	id := g.nextID()
	uid := body.UID
	if uid == "" {
		uid = "f" + strconv.FormatInt(id, 10)
	}
	f := grafana.Folder{ID: id, UID: uid, Title: body.Title}
	g.folders = append(g.folders, f)
	writeJSON(w, http.StatusOK, f)
}

func (g *Grafana) search(w http.ResponseWriter, r *http.Request) {
	fid, err := strconv.ParseInt(r.URL.Query().Get("folderIds"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad folderIds"})
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	hits := make([]grafana.SearchHit, 0)
	for _, d := range g.dashboards {
		if d.folderID != fid {
			continue
		}
		hits = append(hits, grafana.SearchHit{
			ID:       toInt64(d.body["id"]),
			UID:      fmt.Sprint(d.body["uid"]),
			Title:    fmt.Sprint(d.body["title"]),
			Type:     "dash-db",
			FolderID: fid,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Title < hits[j].Title })
	writeJSON(w, http.StatusOK, hits)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}

func (g *Grafana) getDashboard(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range g.dashboards {
		if fmt.Sprint(d.body["uid"]) == uid {
			writeJSON(w, http.StatusOK, map[string]any{
				"dashboard": d.body,
				"meta":      map[string]any{"folderId": d.folderID, "slug": d.body["title"]},
			})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Dashboard not found"})
}

func (g *Grafana) createDashboard(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Dashboard map[string]any `json:"dashboard"`
		FolderID  int64          `json:"folderId"`
		Overwrite bool           `json:"overwrite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Dashboard == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad dashboard"})
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if body.Dashboard["id"] != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Dashboard not found"})
		return
	}
	title := fmt.Sprint(body.Dashboard["title"])
	for _, d := range g.dashboards {
		if d.folderID == body.FolderID && fmt.Sprint(d.body["title"]) == title {
			writeJSON(w, http.StatusPreconditionFailed, map[string]string{"status": "name-exists"})
			return
		}
	}
	if body.FolderID != grafana.RootFolderID && !g.hasFolder(body.FolderID) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "folder not found"})
		return
	}
	id := g.nextID()
	uid := "d" + strconv.FormatInt(id, 10)
	body.Dashboard["id"] = id
	body.Dashboard["uid"] = uid
	g.dashboards = append(g.dashboards, &fakeDashboard{body: body.Dashboard, folderID: body.FolderID})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "uid": uid, "status": "success"})
}

func (g *Grafana) hasFolder(id int64) bool {
	for _, f := range g.folders {
		if f.ID == id {
			return true
		}
	}
	return false
}
