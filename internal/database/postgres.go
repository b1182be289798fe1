// Package database dumps and restores the project's database through the
// container runtime.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"grape/internal/environment"
	"grape/pkg/defaults"
)

// NoContainerDump is the dump of a project without a database container.
const NoContainerDump = "-- no pg docker container"

// The superuser role always exists in a fresh container, so creating it
// again would abort the script.
const (
	createSuperuser   = "CREATE ROLE postgres;"
	createSuperuserOK = "-- CREATE ROLE postgres;"
)

// RestoreError is a restore that kept failing until the attempts ran out.
type RestoreError struct {
	Container string
	Attempts  int
	Output    string
	Err       error
}

func (e *RestoreError) Error() string {
	msg := fmt.Sprintf("restore into %q failed after %d attempts: %v", e.Container, e.Attempts, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *RestoreError) Unwrap() error { return e.Err }

// execFailure is a client run that exited non-zero; it may succeed later
// once the server accepts connections.
type execFailure struct {
	code   int
	output string
}

func (e *execFailure) Error() string {
	return "exit status " + strconv.Itoa(e.code)
}

// Postgres runs the postgres client tools inside the database container.
type Postgres struct {
	Runtime  environment.ContainerRuntime
	Clock    clock.Clock
	Log      *slog.Logger
	Attempts int
	Delay    time.Duration
}

// NewPostgres returns a Postgres with the default restore retry policy.
func NewPostgres(rt environment.ContainerRuntime, log *slog.Logger) *Postgres {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Postgres{
		Runtime:  rt,
		Clock:    clock.WallClock,
		Log:      log.With("component", "database"),
		Attempts: defaults.RestoreAttempts,
		Delay:    defaults.RestoreDelay,
	}
}

// Dump returns the full SQL dump of the project's database. A project
// without a database container dumps to NoContainerDump.
func (p *Postgres) Dump(ctx context.Context, d environment.Descriptor) (string, error) {
	name := d.Database.Name
	info, err := p.Runtime.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("inspect %q: %w", name, err)
	}
	if !info.Exists {
		p.Log.Warn("no database container, saving an empty dump", "container", name)
		return NoContainerDump, nil
	}

	p.Log.Info("reading the database", "container", name)
	res, err := p.Runtime.ContainerExec(ctx, name, []string{"pg_dumpall", "-U", d.Database.Username})
	if err != nil {
		return "", fmt.Errorf("dump %q: %w", name, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("dump %q: pg_dumpall exit status %d: %s", name, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	p.Log.Info("read database dump", "container", name, "size", humanize.Bytes(uint64(len(res.Stdout))))
	return res.Stdout, nil
}

// Restore runs sql against the project's database. The script is written
// into the container's host mount and fed to psql, retrying while psql
// fails, which it does until the server accepts connections.
func (p *Postgres) Restore(ctx context.Context, d environment.Descriptor, sql string) error {
	name := d.Database.Name
	sql = strings.ReplaceAll(sql, createSuperuser, createSuperuserOK)

	file := "restore-" + strconv.Itoa(os.Getpid()) + ".sql"
	hostPath := filepath.Join(d.MountDir, file)
	if err := os.MkdirAll(d.MountDir, 0o775); err != nil {
		return fmt.Errorf("create mount dir: %w", err)
	}
	if err := os.WriteFile(hostPath, []byte(sql), 0o644); err != nil {
		return fmt.Errorf("write restore script: %w", err)
	}
	defer func() {
		if err := os.Remove(hostPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.Log.Warn("remove restore script", "path", hostPath, "err", err)
		}
	}()

	cmd := []string{
		"psql",
		"-d", d.DBName,
		"-U", d.Database.Username,
		"-f", path.Join(environment.MountTarget, file),
	}
	p.Log.Info("restoring the database", "container", name, "size", humanize.Bytes(uint64(len(sql))))

	var last *execFailure
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := p.Runtime.ContainerExec(ctx, name, cmd)
			if err != nil {
				return err
			}
			if res.ExitCode != 0 {
				last = &execFailure{code: res.ExitCode, output: res.Stdout + res.Stderr}
				return last
			}
			p.Log.Debug("psql output", "container", name, "stdout", res.Stdout)
			return nil
		},
		IsFatalError: func(err error) bool {
			var ef *execFailure
			return !errors.As(err, &ef)
		},
		NotifyFunc: func(err error, attempt int) {
			p.Log.Warn("restore attempt failed", "container", name, "attempt", attempt, "of", p.Attempts, "err", err)
		},
		Attempts: p.Attempts,
		Delay:    p.Delay,
		Clock:    p.Clock,
	})
	if err == nil {
		p.Log.Info("restored the database", "container", name)
		return nil
	}
	if retry.IsAttemptsExceeded(err) {
		rerr := &RestoreError{Container: name, Attempts: p.Attempts, Err: retry.LastError(err)}
		if last != nil {
			rerr.Output = last.output
		}
		return rerr
	}
	return fmt.Errorf("restore into %q: %w", name, err)
}
