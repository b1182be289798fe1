package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	jujuerrors "github.com/juju/errors"

	"grape/internal/environment"
)

// ProbeState is a state of the readiness probe.
type ProbeState int

const (
	WaitingForHandle ProbeState = iota
	WaitingForLogMatch
	Ready
	TimedOut
)

func (s ProbeState) String() string {
	switch s {
	case WaitingForHandle:
		return "waiting-for-handle"
	case WaitingForLogMatch:
		return "waiting-for-log-match"
	case Ready:
		return "ready"
	case TimedOut:
		return "timed-out"
	}
	return fmt.Sprintf("ProbeState(%d)", int(s))
}

// TimeoutError reports a container that did not become ready in time. Logs
// holds the container's full log, or is empty when the container never
// appeared.
type TimeoutError struct {
	Container string
	Waited    time.Duration
	Logs      string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("container %q not ready after %s", e.Container, e.Waited.Round(100*time.Millisecond))
	if logs := strings.TrimSpace(e.Logs); logs != "" {
		msg += "\n" + logs
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return jujuerrors.Timeout }

// Probe waits for a container to report readiness in its log.
type Probe struct {
	Runtime environment.ContainerRuntime
	Clock   environment.Clock
	Log     *slog.Logger
}

// Wait polls name until its log tail matches rule, returning the time it
// took. The wait is measured from the first check and bounded by
// rule.MaxWait in both states; a check that fails after MaxWait has elapsed
// ends the probe with a *TimeoutError.
func (p Probe) Wait(ctx context.Context, name string, rule environment.ReadinessRule) (time.Duration, error) {
	log := p.Log.With("container", name)
	log.Info("checking container initialization", "max_wait", rule.MaxWait)

	start := p.Clock.Now()
	state := WaitingForHandle
	var lastReport time.Duration
	for {
		switch state {
		case WaitingForHandle:
			info, err := p.Runtime.ContainerInspect(ctx, name)
			if err != nil {
				return 0, fmt.Errorf("inspect %q: %w", name, err)
			}
			if info.Exists {
				state = WaitingForLogMatch
				log.Debug("probe state", "state", state)
				continue
			}
		case WaitingForLogMatch:
			logs, err := p.Runtime.ContainerLogs(ctx, name, rule.TailLines)
			if err != nil {
				if errdefs.IsNotFound(err) {
					return 0, fmt.Errorf("container %q exited before it was ready: %w", name, jujuerrors.NotFound)
				}
				return 0, fmt.Errorf("read logs of %q: %w", name, err)
			}
			if rule.Matches(logs) {
				elapsed := p.Clock.Now().Sub(start)
				log.Info("container initialized", "after", elapsed)
				return elapsed, nil
			}
		}

		elapsed := p.Clock.Now().Sub(start)
		if elapsed > rule.MaxWait {
			return elapsed, p.timeout(ctx, name, state, elapsed)
		}
		if rule.ReportEvery > 0 && elapsed-lastReport >= rule.ReportEvery {
			lastReport = elapsed
			log.Info("container not initialized yet, will try again", "elapsed", elapsed.Round(100*time.Millisecond))
		}
		if err := ctx.Err(); err != nil {
			return elapsed, err
		}
		select {
		case <-ctx.Done():
			return elapsed, ctx.Err()
		case <-p.Clock.After(rule.PollInterval):
		}
	}
}

func (p Probe) timeout(ctx context.Context, name string, state ProbeState, waited time.Duration) error {
	terr := &TimeoutError{Container: name, Waited: waited}
	if state == WaitingForLogMatch {
		logs, err := p.Runtime.ContainerLogs(ctx, name, 0)
		if err != nil {
			p.Log.Warn("read full log after timeout", "container", name, "err", err)
		}
		terr.Logs = logs
	}
	p.Log.Debug("probe state", "container", name, "state", TimedOut)
	return terr
}
