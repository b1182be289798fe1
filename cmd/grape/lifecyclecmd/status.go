package lifecyclecmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"grape/cmd/grape/cmdutil"
	"grape/cmd/grape/ui"
	"grape/internal/environment"
	"grape/internal/registry"
)

var statusHeaders = []string{"NAME", "TYPE", "VERSION", "STATE", "STARTED", "ELAPSED", "ID", "IMAGE", "CREATED"}

func StatusCmd(g *cmdutil.Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List the containers managed by grape",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Open(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer env.Close()

			rows, err := statusRows(cmd.Context(), env.Runtime, time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, ui.InfoMsg("no grape containers"))
			} else {
				fmt.Fprintln(out, ui.Table(statusHeaders, rows))
			}

			if g.Verbose > 0 && env.Registry != nil {
				projects, err := env.Registry.ListProjects(cmd.Context())
				if err != nil {
					return err
				}
				if len(projects) > 0 {
					fmt.Fprintln(out, ui.Table(projectHeaders, projectRows(projects, time.Now())))
				}
			}
			return nil
		},
	}
}

func statusRows(ctx context.Context, rt environment.ContainerRuntime, now time.Time) ([][]string, error) {
	list, err := rt.ContainerList(ctx, environment.ContainerFilter{Label: environment.LabelType, All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	rows := make([][]string, 0, len(list))
	for _, c := range list {
		started, elapsed := "-", "-"
		if c.State == "running" {
			info, err := rt.ContainerInspect(ctx, c.Name)
			if err != nil {
				return nil, err
			}
			if !info.StartedAt.IsZero() {
				started = info.StartedAt.Local().Format(time.DateTime)
				elapsed = FormatElapsed(now.Sub(info.StartedAt))
			}
		}
		created := "-"
		if !c.Created.IsZero() {
			created = humanize.RelTime(c.Created, now, "ago", "from now")
		}
		rows = append(rows, []string{
			c.Name,
			c.Labels[environment.LabelType],
			c.Labels[environment.LabelVersion],
			ui.State(c.State),
			started,
			elapsed,
			shortID(c.ID),
			c.Image,
			created,
		})
	}
	return rows, nil
}

// FormatElapsed renders d as [N day(s), ]HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	days := secs / 86400
	secs %= 86400
	clock := fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
	switch days {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	}
	return fmt.Sprintf("%d days, %s", days, clock)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var projectHeaders = []string{"PROJECT", "GRAFANA", "DATABASE", "DATA DIR", "CREATED", "LAST SNAPSHOT"}

func projectRows(projects []registry.Project, now time.Time) [][]string {
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		last := "-"
		if p.LastOp != "" {
			last = string(p.LastOp) + " " + humanize.RelTime(p.LastOpAt, now, "ago", "from now")
		}
		rows = append(rows, []string{
			p.Name,
			fmt.Sprint(p.GrafanaPort),
			fmt.Sprint(p.DatabasePort),
			p.DataDir,
			humanize.RelTime(p.CreatedAt, now, "ago", "from now"),
			last,
		})
	}
	return rows
}
