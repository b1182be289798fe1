// Package snapshot reads and writes the archive holding a project's
// configuration, dashboard server state and database dump.
//
// An archive is a zip file with exactly three members: conf.json, gr.json
// and pg.sql.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	jujuerrors "github.com/juju/errors"
	"github.com/klauspost/compress/zip"

	"grape/config"
	"grape/internal/check"
	"grape/internal/environment"
	"grape/internal/grafana"
)

const (
	ConfMember  = "conf.json"
	StateMember = "gr.json"
	SQLMember   = "pg.sql"
)

var members = []string{ConfMember, StateMember, SQLMember}

// Conf is the project configuration stored in an archive. Import carries
// the credentials of the server the state was imported from, if any.
type Conf struct {
	Timestamp string `json:"timestamp"`
	environment.Descriptor
	Import *config.ExternalAccess `json:"import,omitempty"`
}

// NewConf stamps d with the current UTC time.
func NewConf(d environment.Descriptor, now time.Time) Conf {
	return Conf{Timestamp: now.UTC().Format("2006-01-02T15:04:05"), Descriptor: d}
}

// Snapshot is the decoded content of an archive.
type Snapshot struct {
	Conf  Conf
	State grafana.State
	SQL   string
}

// Write creates the archive at path. An existing file is never replaced.
func Write(path string, s Snapshot) (err error) {
	confJSON, err := encode(s.Conf)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ConfMember, err)
	}
	stateJSON, err := encode(s.State)
	if err != nil {
		return fmt.Errorf("encode %s: %w", StateMember, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("archive %s: %w", path, jujuerrors.AlreadyExists)
		}
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	zw := zip.NewWriter(f)
	payloads := map[string][]byte{
		ConfMember:  confJSON,
		StateMember: stateJSON,
		SQLMember:   []byte(s.SQL),
	}
	check.Assertf(len(payloads) == len(members), "archive has %d payloads for %d members", len(payloads), len(members))
	for _, name := range members {
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
		if _, err := w.Write(payloads[name]); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read decodes the archive at path.
func Read(path string) (Snapshot, error) {
	raw, err := ReadMembers(path)
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw[ConfMember], &s.Conf); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", ConfMember, err)
	}
	if err := json.Unmarshal(raw[StateMember], &s.State); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", StateMember, err)
	}
	s.SQL = string(raw[SQLMember])
	return s, nil
}

// ReadMembers returns the raw bytes of the three members of the archive at
// path. Archives with missing or extra members are not valid.
func ReadMembers(path string) (map[string][]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("archive %s: %w", path, jujuerrors.NotFound)
		}
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer zr.Close()

	out := make(map[string][]byte, len(members))
	var extra []string
	for _, f := range zr.File {
		if !isMember(f.Name) {
			extra = append(extra, f.Name)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		out[f.Name] = data
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, fmt.Errorf("archive %s has unexpected members %s: %w", path, strings.Join(extra, ", "), jujuerrors.NotValid)
	}
	for _, name := range members {
		if _, ok := out[name]; !ok {
			return nil, fmt.Errorf("archive %s is missing %s: %w", path, name, jujuerrors.NotValid)
		}
	}
	return out, nil
}

func isMember(name string) bool {
	for _, m := range members {
		if name == m {
			return true
		}
	}
	return false
}
