// Package registry remembers the projects created on this host and the
// snapshot operations run against them.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jujuerrors "github.com/juju/errors"

	_ "modernc.org/sqlite"
)

// Op is a snapshot operation.
type Op string

const (
	OpSave   Op = "save"
	OpLoad   Op = "load"
	OpImport Op = "import"
	OpExport Op = "export"
)

// Project is a registered project.
type Project struct {
	Name         string
	GrafanaPort  int
	DatabasePort int
	DataDir      string
	CreatedAt    time.Time

	// LastOp and LastOpAt describe the most recent snapshot operation, if any.
	LastOp   Op
	LastOpAt time.Time
}

// SnapshotRecord is one snapshot operation.
type SnapshotRecord struct {
	Project string
	Op      Op
	Archive string
	At      time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	name TEXT PRIMARY KEY,
	grafana_port INTEGER NOT NULL,
	database_port INTEGER NOT NULL,
	data_dir TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL,
	op TEXT NOT NULL,
	archive TEXT NOT NULL,
	at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshots_project ON snapshots (project, id);`

// Open opens the registry at path, creating it if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize registry schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RegisterProject records p. Registering a known project updates its ports
// and data directory but keeps the original creation time.
func (s *Store) RegisterProject(ctx context.Context, p Project) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return fmt.Errorf("project name is required")
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, grafana_port, database_port, data_dir, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		 grafana_port = excluded.grafana_port,
		 database_port = excluded.database_port,
		 data_dir = excluded.data_dir`,
		name,
		p.GrafanaPort,
		p.DatabasePort,
		p.DataDir,
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("register project %q: %w", name, err)
	}
	return nil
}

// RemoveProject forgets a project and its snapshot history.
func (s *Store) RemoveProject(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove project %q: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE project = ?`, name); err != nil {
		return fmt.Errorf("remove snapshots of %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name); err != nil {
		return fmt.Errorf("remove project %q: %w", name, err)
	}
	return tx.Commit()
}

// Project returns the registered project name.
func (s *Store) Project(ctx context.Context, name string) (Project, error) {
	projects, err := s.query(ctx, `WHERE p.name = ?`, name)
	if err != nil {
		return Project{}, err
	}
	if len(projects) == 0 {
		return Project{}, fmt.Errorf("project %q: %w", name, jujuerrors.NotFound)
	}
	return projects[0], nil
}

// ListProjects returns all projects ordered by name.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	return s.query(ctx, "")
}

func (s *Store) query(ctx context.Context, where string, args ...any) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT p.name, p.grafana_port, p.database_port, p.data_dir, p.created_at,
	COALESCE(l.op, ''), COALESCE(l.at, '')
FROM projects p
LEFT JOIN snapshots l ON l.id = (SELECT MAX(id) FROM snapshots WHERE project = p.name)
`+where+`
ORDER BY p.name`, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := make([]Project, 0)
	for rows.Next() {
		var p Project
		var created, op, at string
		if err := rows.Scan(&p.Name, &p.GrafanaPort, &p.DatabasePort, &p.DataDir, &created, &op, &at); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("project %q created_at: %w", p.Name, err)
		}
		p.LastOp = Op(op)
		if at != "" {
			if p.LastOpAt, err = parseTime(at); err != nil {
				return nil, fmt.Errorf("project %q snapshot time: %w", p.Name, err)
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project rows: %w", err)
	}
	return out, nil
}

// RecordSnapshot appends a snapshot operation to the history. The project
// does not have to be registered; imports can target unknown projects.
func (s *Store) RecordSnapshot(ctx context.Context, r SnapshotRecord) error {
	if strings.TrimSpace(r.Project) == "" {
		return fmt.Errorf("project name is required")
	}
	switch r.Op {
	case OpSave, OpLoad, OpImport, OpExport:
	default:
		return fmt.Errorf("snapshot op %q: %w", r.Op, jujuerrors.NotValid)
	}
	at := r.At
	if at.IsZero() {
		at = s.now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (project, op, archive, at) VALUES (?, ?, ?, ?)`,
		r.Project, string(r.Op), r.Archive, at.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("record %s of %q: %w", r.Op, r.Project, err)
	}
	return nil
}

// Snapshots returns the history of project, newest first.
func (s *Store) Snapshots(ctx context.Context, project string) ([]SnapshotRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project, op, archive, at FROM snapshots WHERE project = ? ORDER BY id DESC`, project)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]SnapshotRecord, 0)
	for rows.Next() {
		var r SnapshotRecord
		var op, at string
		if err := rows.Scan(&r.Project, &op, &r.Archive, &at); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		r.Op = Op(op)
		if r.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("snapshot time: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return out, nil
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, errors.New("invalid timestamp " + v)
	}
	return t, nil
}
