// Package defaults holds the values used when the operator does not pass a flag.
package defaults

import (
	"os"
	"path/filepath"
	"time"
)

const (
	ProjectName = "grapex01"
	GrafanaPort = 4600
	// DatabasePort 0 derives the database port from the grafana port.
	DatabasePort = 0
	MaxWait      = 60 * time.Second

	// RestoreAttempts and RestoreDelay bound the database restore retry.
	RestoreAttempts = 10
	RestoreDelay    = 5 * time.Second

	// StopGrace is the pause after stopping containers before touching
	// their mounted directories.
	StopGrace = 3 * time.Second
)

// StateDBPath returns the project registry location. It respects
// XDG_STATE_HOME, falling back to ~/.local/state/grape/state.db.
func StateDBPath() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "state", "grape", "state.db")
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "grape", "state.db")
}
