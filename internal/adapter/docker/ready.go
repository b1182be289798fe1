package docker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/client"
)

// WaitReady pings the daemon once a second until it answers. Connection
// failures keep waiting; any other error is returned.
func WaitReady(ctx context.Context, cli client.APIClient, log *slog.Logger) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	waiting := false
	for {
		_, err := cli.Ping(ctx)
		if err == nil {
			if waiting {
				log.Debug("daemon reachable")
			}
			return nil
		}
		if !client.IsErrConnectionFailed(err) {
			return fmt.Errorf("connect to docker daemon: %w", err)
		}
		if !waiting {
			waiting = true
			log.Debug("waiting for docker daemon")
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("docker daemon not reachable: %w", err)
		case <-ticker.C:
		}
	}
}
