package grafana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Target identifies a dashboard server and the credentials to use.
type Target struct {
	URL      string `json:"url" yaml:"url"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// APIError is an HTTP status the caller did not accept.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Status, body)
}

// Response is a raw API response.
type Response struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

// expect returns an *APIError unless the status is one of allowed.
func (r Response) expect(allowed ...int) error {
	for _, code := range allowed {
		if r.Status == code {
			return nil
		}
	}
	return &APIError{Method: r.Method, URL: r.URL, Status: r.Status, Body: string(r.Body)}
}

// SearchHit is one result of GET /api/search.
type SearchHit struct {
	ID       int64  `json:"id"`
	UID      string `json:"uid"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	FolderID int64  `json:"folderId,omitempty"`
}

// Client talks JSON with basic auth to one dashboard server.
type Client struct {
	target Target
	http   *http.Client
	log    *slog.Logger
}

// NewClient returns a client for target. A nil hc uses a client with a 30s
// timeout; a nil log discards records.
func NewClient(target Target, hc *http.Client, log *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	target.URL = strings.TrimRight(target.URL, "/")
	return &Client{target: target, http: hc, log: log.With("component", "grafana")}
}

// URL returns the server base URL.
func (c *Client) URL() string {
	return c.target.URL
}

func (c *Client) do(ctx context.Context, method, path string, body any) (Response, error) {
	u := c.target.URL + path
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("encode %s %s: %w", method, u, err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return Response{}, fmt.Errorf("build %s %s: %w", method, u, err)
	}
	req.SetBasicAuth(c.target.Username, c.target.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: read body: %w", method, u, err)
	}
	c.log.Debug("response", "method", method, "url", u, "status", resp.StatusCode)
	return Response{Method: method, URL: u, Status: resp.StatusCode, Body: data}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := resp.expect(http.StatusOK); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s: %w", resp.URL, err)
	}
	return nil
}

// Datasources lists all datasources.
func (c *Client) Datasources(ctx context.Context) ([]Datasource, error) {
	var out []Datasource
	if err := c.get(ctx, "/api/datasources", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Folders lists up to limit folders.
func (c *Client) Folders(ctx context.Context, limit int) ([]Folder, error) {
	var out []Folder
	if err := c.get(ctx, "/api/folders?limit="+strconv.Itoa(limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Search lists the entries in one folder.
func (c *Client) Search(ctx context.Context, folderID int64) ([]SearchHit, error) {
	var out []SearchHit
	if err := c.get(ctx, "/api/search?folderIds="+strconv.FormatInt(folderID, 10), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DashboardByUID fetches a dashboard with its meta block.
func (c *Client) DashboardByUID(ctx context.Context, uid string) (Dashboard, error) {
	var out Dashboard
	if err := c.get(ctx, "/api/dashboards/uid/"+url.PathEscape(uid), &out); err != nil {
		return Dashboard{}, err
	}
	return out, nil
}

// CreateDatasource posts ds. The caller decides which statuses are fatal.
func (c *Client) CreateDatasource(ctx context.Context, ds Datasource) (Response, error) {
	return c.do(ctx, http.MethodPost, "/api/datasources", ds)
}

// CreateFolder posts a folder by title only. The source uid is left out so
// the target assigns its own and an unrelated folder holding the same uid
// cannot reject the upload.
func (c *Client) CreateFolder(ctx context.Context, f Folder) (Response, error) {
	return c.do(ctx, http.MethodPost, "/api/folders", map[string]string{"title": f.Title})
}

// CreateDashboard posts a prepared dashboard upload body.
func (c *Client) CreateDashboard(ctx context.Context, upload DashboardUpload) (Response, error) {
	return c.do(ctx, http.MethodPost, "/api/dashboards/db", upload)
}
